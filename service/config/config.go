package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Supported Solana networks.
const (
	NetworkMainnet = "mainnet"
	NetworkDevnet  = "devnet"
	NetworkTestnet = "testnet"
)

// Session storage backends.
const (
	SessionBackendMemory = "memory"
	SessionBackendNATS   = "nats"
)

// Hard-coded fallbacks used when the corresponding environment variable is unset.
const (
	defaultMainnetRPCURL = "https://api.mainnet-beta.solana.com"
	defaultDevnetRPCURL  = "https://api.devnet.solana.com"
	defaultTestnetRPCURL = "https://api.testnet.solana.com"

	usdcMainnetMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	usdcDevnetMint  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Solana network selection and endpoints
	Network       string
	MainnetRPCURL string
	DevnetRPCURL  string
	TestnetRPCURL string
	RPCTimeout    time.Duration

	// Payment configuration
	USDCMintAddress string
	TreasuryAddress string
	MintPrice       decimal.Decimal
	TokenDecimals   uint8

	// Confirmation polling
	ConfirmMaxAttempts int
	ConfirmInterval    time.Duration

	// Session behavior
	BalanceRefreshInterval time.Duration
	SessionRefreshInterval time.Duration
	SessionDuration        time.Duration

	// Wallet provider backed by a local keypair
	WalletProviderName string
	WalletKeypairPath  string
	WalletTrusted      bool // keypair starts trusted, so silent restore works after a restart

	// Session storage
	SessionBackend string
	NATSURL        string
	SessionBucket  string

	// Hosted backend (optional)
	DatabaseURL string

	// Temporal configuration (optional)
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Solana configuration
	cfg.Network = getEnvOrDefault("SOLANA_NETWORK", NetworkDevnet)
	cfg.MainnetRPCURL = getEnvOrDefault("SOLANA_MAINNET_RPC_URL", defaultMainnetRPCURL)
	cfg.DevnetRPCURL = getEnvOrDefault("SOLANA_DEVNET_RPC_URL", defaultDevnetRPCURL)
	cfg.TestnetRPCURL = getEnvOrDefault("SOLANA_TESTNET_RPC_URL", defaultTestnetRPCURL)

	rpcTimeout, err := parseDuration("RPC_TIMEOUT", "15s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCTimeout = rpcTimeout
	}

	// Payment configuration
	cfg.USDCMintAddress = getEnvOrDefault("USDC_MINT_ADDRESS", defaultUSDCMint(cfg.Network))
	if cfg.USDCMintAddress == "" {
		errs = append(errs, fmt.Errorf("USDC_MINT_ADDRESS is required for network %q", cfg.Network))
	}

	cfg.TreasuryAddress = os.Getenv("MINT_TREASURY_ADDRESS")
	if cfg.TreasuryAddress == "" {
		errs = append(errs, fmt.Errorf("MINT_TREASURY_ADDRESS is required"))
	}

	price, err := decimal.NewFromString(getEnvOrDefault("MINT_PRICE", "10"))
	if err != nil {
		errs = append(errs, fmt.Errorf("MINT_PRICE: invalid decimal: %w", err))
	} else {
		cfg.MintPrice = price
	}

	decimals, err := parseInt("TOKEN_DECIMALS", 6)
	if err != nil {
		errs = append(errs, err)
	} else if decimals < 0 || decimals > 18 {
		errs = append(errs, fmt.Errorf("TOKEN_DECIMALS must be between 0 and 18, got %d", decimals))
	} else {
		cfg.TokenDecimals = uint8(decimals)
	}

	// Confirmation polling
	attempts, err := parseInt("CONFIRM_MAX_ATTEMPTS", 30)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmMaxAttempts = attempts
	}

	confirmInterval, err := parseDuration("CONFIRM_INTERVAL", "2s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmInterval = confirmInterval
	}

	// Session behavior
	balanceInterval, err := parseDuration("BALANCE_REFRESH_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BalanceRefreshInterval = balanceInterval
	}

	sessionInterval, err := parseDuration("SESSION_REFRESH_INTERVAL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SessionRefreshInterval = sessionInterval
	}

	sessionDuration, err := parseDuration("SESSION_DURATION", "24h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SessionDuration = sessionDuration
	}

	// Wallet provider
	cfg.WalletProviderName = getEnvOrDefault("WALLET_PROVIDER_NAME", "keypair")
	cfg.WalletKeypairPath = os.Getenv("WALLET_KEYPAIR_PATH")

	trusted, err := parseBool("WALLET_TRUSTED", true)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.WalletTrusted = trusted
	}

	// Session storage
	cfg.SessionBackend = getEnvOrDefault("SESSION_BACKEND", SessionBackendMemory)
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")
	cfg.SessionBucket = getEnvOrDefault("SESSION_BUCKET", "mintpass-session")

	// Hosted backend
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	// Temporal configuration
	cfg.TemporalHost = os.Getenv("TEMPORAL_HOST")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "mintpass-mints")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	switch c.Network {
	case NetworkMainnet, NetworkDevnet, NetworkTestnet:
	default:
		errs = append(errs, fmt.Errorf("Network must be one of mainnet, devnet, testnet, got %q", c.Network))
	}

	if c.RPCURL() == "" {
		errs = append(errs, fmt.Errorf("RPC URL for network %q is required", c.Network))
	}

	if _, err := solanago.PublicKeyFromBase58(c.USDCMintAddress); err != nil {
		errs = append(errs, fmt.Errorf("USDCMintAddress is not a valid public key: %w", err))
	}

	if _, err := solanago.PublicKeyFromBase58(c.TreasuryAddress); err != nil {
		errs = append(errs, fmt.Errorf("TreasuryAddress is not a valid public key: %w", err))
	}

	if !c.MintPrice.IsPositive() {
		errs = append(errs, fmt.Errorf("MintPrice must be positive"))
	} else if !c.MintPrice.Shift(int32(c.TokenDecimals)).IsInteger() {
		errs = append(errs, fmt.Errorf("MintPrice %s has more precision than %d decimals", c.MintPrice, c.TokenDecimals))
	}

	if c.ConfirmMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("ConfirmMaxAttempts must be at least 1"))
	}

	if c.ConfirmInterval <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmInterval must be positive"))
	}

	if c.BalanceRefreshInterval < time.Second {
		errs = append(errs, fmt.Errorf("BalanceRefreshInterval must be at least 1 second"))
	}

	if c.SessionRefreshInterval < time.Second {
		errs = append(errs, fmt.Errorf("SessionRefreshInterval must be at least 1 second"))
	}

	if c.SessionDuration <= c.SessionRefreshInterval {
		errs = append(errs, fmt.Errorf("SessionDuration (%v) must be greater than SessionRefreshInterval (%v)",
			c.SessionDuration, c.SessionRefreshInterval))
	}

	switch c.SessionBackend {
	case SessionBackendMemory:
	case SessionBackendNATS:
		if c.NATSURL == "" {
			errs = append(errs, fmt.Errorf("NATSURL is required when SessionBackend is nats"))
		}
	default:
		errs = append(errs, fmt.Errorf("SessionBackend must be memory or nats, got %q", c.SessionBackend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// RPCURL returns the JSON-RPC endpoint for the selected network.
func (c *Config) RPCURL() string {
	switch c.Network {
	case NetworkMainnet:
		return c.MainnetRPCURL
	case NetworkDevnet:
		return c.DevnetRPCURL
	case NetworkTestnet:
		return c.TestnetRPCURL
	default:
		return ""
	}
}

// defaultUSDCMint returns the well-known USDC mint for a network, or empty if none exists.
func defaultUSDCMint(network string) string {
	switch network {
	case NetworkMainnet:
		return usdcMainnetMint
	case NetworkDevnet:
		return usdcDevnetMint
	default:
		return ""
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
