package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/mintpass/service/config"
	"github.com/brojonat/mintpass/service/controller"
	"github.com/brojonat/mintpass/service/db"
	"github.com/brojonat/mintpass/service/metrics"
	natspkg "github.com/brojonat/mintpass/service/nats"
	"github.com/brojonat/mintpass/service/server"
	"github.com/brojonat/mintpass/service/session"
	"github.com/brojonat/mintpass/service/solana"
	"github.com/brojonat/mintpass/service/temporal"
	"github.com/brojonat/mintpass/service/wallet"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"network", cfg.Network,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Solana RPC
	solanaClient := solana.NewClient(solana.NewRPCClient(cfg.RPCURL()), endpointLabel(cfg.RPCURL()), cfg.RPCTimeout, metricsCollector, logger)
	poller := solana.NewPoller(solanaClient, solana.PollerConfig{
		MaxAttempts: cfg.ConfirmMaxAttempts,
		Interval:    cfg.ConfirmInterval,
	})
	logger.Info("initialized solana RPC client", "url", cfg.RPCURL())

	// Wallet providers
	providers := wallet.NewRegistry()
	if cfg.WalletKeypairPath != "" {
		provider, err := wallet.LoadKeypairProvider(cfg.WalletProviderName, cfg.WalletKeypairPath, nil, cfg.WalletTrusted)
		if err != nil {
			logger.Error("failed to load wallet keypair", "error", err)
			os.Exit(1)
		}
		providers.Register(provider)
		logger.Info("registered keypair wallet provider", "name", cfg.WalletProviderName, "trusted", cfg.WalletTrusted)
	} else {
		logger.Warn("WALLET_KEYPAIR_PATH not set, no wallet providers registered")
	}

	// Session storage
	var storage session.Storage
	switch cfg.SessionBackend {
	case config.SessionBackendNATS:
		kv, err := natspkg.OpenKVStorage(ctx, cfg.NATSURL, cfg.SessionBucket, logger)
		if err != nil {
			logger.Error("failed to open session storage", "error", err)
			os.Exit(1)
		}
		defer kv.Close()
		storage = kv
	default:
		storage = session.NewMemoryStorage()
	}
	sessionStore := session.NewStore(storage, logger, session.WithSessionDuration(cfg.SessionDuration))

	deps := controller.Deps{
		Providers: providers,
		Store:     sessionStore,
		Balances:  solana.NewBalanceReader(solanaClient),
		Builder:   solana.NewBuilder(solanaClient),
		Poller:    poller,
		Network:   solanaClient,
		Notifier:  controller.LogNotifier{Logger: logger},
		Metrics:   metricsCollector,
		Logger:    logger,
	}

	// Hosted backend: receipts in Postgres, recorded through Temporal when configured
	var receipts server.ReceiptLister
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}

		store := db.NewStore(dbPool, metricsCollector)
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to database")

		receipts = store
		deps.Ownership = controller.OwnershipFunc(func(ctx context.Context, owner string) (bool, error) {
			return store.HasMinted(ctx, owner, cfg.Network)
		})
		deps.Recorder = directRecorder(store, logger)
	}

	if cfg.TemporalHost != "" {
		temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		deps.Recorder = temporalClient
		logger.Info("mint receipts recorded through temporal", "task_queue", cfg.TemporalTaskQueue)
	}

	var stream *server.MintStream
	if cfg.SessionBackend == config.SessionBackendNATS || cfg.TemporalHost != "" {
		s, err := server.NewMintStream(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("mint streaming disabled", "error", err)
		} else {
			stream = s
		}
	}

	ctrl, err := controller.New(controller.Config{
		Network:                cfg.Network,
		TokenMint:              solanago.MustPublicKeyFromBase58(cfg.USDCMintAddress),
		Treasury:               solanago.MustPublicKeyFromBase58(cfg.TreasuryAddress),
		MintPrice:              cfg.MintPrice,
		Decimals:               cfg.TokenDecimals,
		BalanceRefreshInterval: cfg.BalanceRefreshInterval,
		SessionRefreshInterval: cfg.SessionRefreshInterval,
	}, deps)
	if err != nil {
		logger.Error("failed to create session controller", "error", err)
		os.Exit(1)
	}
	defer ctrl.Close()

	// A trusted provider (WALLET_TRUSTED) reconnects silently; anything else
	// waits for an explicit connect.
	if err := ctrl.Restore(ctx); err != nil {
		logger.Info("previous session not restored", "error", err)
	}

	httpServer := server.New(cfg.ServerAddr, cfg, ctrl, receipts, stream, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"session_backend", cfg.SessionBackend,
		"receipts", receipts != nil,
		"temporal_host", cfg.TemporalHost,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// directRecorder writes receipts straight to Postgres when no Temporal worker is configured.
func directRecorder(store *db.Store, logger *slog.Logger) controller.MintRecorder {
	return controller.MintRecorderFunc(func(ctx context.Context, rec controller.MintRecord) error {
		memo := solana.MintMemo(rec.RequestID)
		receipt, err := store.RecordMint(ctx, db.RecordMintParams{
			RequestID:    rec.RequestID,
			OwnerAddress: rec.Owner,
			Network:      rec.Network,
			Signature:    rec.Signature,
			TokenMint:    rec.TokenMint,
			Amount:       int64(rec.Amount),
			Slot:         int64(rec.Slot),
			Memo:         &memo,
			ConfirmedAt:  rec.ConfirmedAt,
		})
		if err != nil {
			return err
		}
		logger.DebugContext(ctx, "mint receipt stored", "request_id", receipt.RequestID)
		return nil
	})
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
