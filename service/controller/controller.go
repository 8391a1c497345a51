// Package controller owns the wallet session lifecycle: connecting and
// restoring a wallet, keeping its balance current, and running mint and
// transfer payments on top of the solana and wallet packages.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/brojonat/mintpass/service/metrics"
	"github.com/brojonat/mintpass/service/session"
	"github.com/brojonat/mintpass/service/solana"
	"github.com/brojonat/mintpass/service/wallet"
)

// State is the session lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// WalletSession describes the connected wallet.
type WalletSession struct {
	ProviderName string             `json:"provider"`
	Address      solanago.PublicKey `json:"address"`
	ConnectedAt  time.Time          `json:"connected_at"`
}

// Snapshot is a consistent view of the controller, delivered to subscribers.
type Snapshot struct {
	State   State                        `json:"state"`
	Session *WalletSession               `json:"session,omitempty"`
	Balance *solana.TokenBalanceSnapshot `json:"balance,omitempty"`
	Minted  *bool                        `json:"minted,omitempty"`
	Busy    bool                         `json:"busy"`
}

// ProviderSource resolves wallet providers by name.
type ProviderSource interface {
	Get(name string) (wallet.Provider, error)
}

// BalanceReader reads SPL token balances.
type BalanceReader interface {
	ReadTokenBalance(ctx context.Context, owner, mint solanago.PublicKey, decimals uint8) (*solana.TokenBalanceSnapshot, error)
}

// TransactionBuilder assembles unsigned payment transactions.
type TransactionBuilder interface {
	BuildTransfer(ctx context.Context, p solana.TransferParams) (*solana.PendingTransaction, error)
	BuildMint(ctx context.Context, p solana.MintParams) (*solana.PendingTransaction, error)
}

// ConfirmationPoller submits a signed transaction and waits for an outcome.
type ConfirmationPoller interface {
	SubmitAndConfirm(ctx context.Context, signed *solana.SignedTransaction) (*solana.TransactionOutcome, error)
}

// NetworkChecker verifies the RPC endpoint serves the expected cluster.
type NetworkChecker interface {
	CheckNetwork(ctx context.Context, network string) error
}

// OwnershipChecker reports whether an address has already minted.
type OwnershipChecker interface {
	HasMinted(ctx context.Context, owner string) (bool, error)
}

// OwnershipFunc adapts a function to OwnershipChecker.
type OwnershipFunc func(ctx context.Context, owner string) (bool, error)

func (f OwnershipFunc) HasMinted(ctx context.Context, owner string) (bool, error) {
	return f(ctx, owner)
}

// Config holds payment and timing settings.
type Config struct {
	Network   string
	TokenMint solanago.PublicKey
	Treasury  solanago.PublicKey
	MintPrice decimal.Decimal
	Decimals  uint8

	BalanceRefreshInterval time.Duration
	SessionRefreshInterval time.Duration
}

// Deps are the collaborators of a Controller. Network, Ownership, Recorder,
// Notifier and Metrics are optional.
type Deps struct {
	Providers ProviderSource
	Store     *session.Store
	Balances  BalanceReader
	Builder   TransactionBuilder
	Poller    ConfirmationPoller
	Network   NetworkChecker
	Ownership OwnershipChecker
	Recorder  MintRecorder
	Notifier  Notifier
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Controller is the wallet session state machine. State is guarded by mu,
// which is never held across provider or RPC calls.
type Controller struct {
	cfg  Config
	deps Deps

	logger *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	storeUnsub func()
	closeOnce  sync.Once

	// spawnMu orders wg.Add against Close; no goroutine starts once closing is set.
	spawnMu sync.Mutex
	closing bool

	// heartbeatMu is held across a session heartbeat write so teardown can
	// wait for it before the store is cleared.
	heartbeatMu sync.Mutex

	mu          sync.Mutex
	state       State
	session     *WalletSession
	adapter     *wallet.Adapter
	adapterSubs []func()
	balance     *solana.TokenBalanceSnapshot
	minted      *bool
	busy        bool
	stopTimers  context.CancelFunc

	// generation changes whenever the session identity changes; results
	// issued under an older generation are dropped.
	generation uint64
	balanceSeq uint64
	appliedSeq uint64

	subMu       sync.Mutex
	subscribers map[int]func(Snapshot)
	nextSub     int
}

// New creates a controller and starts watching the session store for
// changes made by other instances.
func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Providers == nil || deps.Store == nil || deps.Balances == nil || deps.Builder == nil || deps.Poller == nil {
		return nil, errors.New("controller requires providers, store, balances, builder and poller")
	}
	if !cfg.MintPrice.IsPositive() {
		return nil, fmt.Errorf("mint price must be positive, got %s", cfg.MintPrice)
	}
	if cfg.BalanceRefreshInterval <= 0 {
		cfg.BalanceRefreshInterval = 30 * time.Second
	}
	if cfg.SessionRefreshInterval <= 0 {
		cfg.SessionRefreshInterval = 5 * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:         cfg,
		deps:        deps,
		logger:      deps.Logger,
		baseCtx:     ctx,
		baseCancel:  cancel,
		state:       StateDisconnected,
		subscribers: make(map[int]func(Snapshot)),
	}

	unsub, err := deps.Store.Subscribe(c.onStoreChange)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch session store: %w", err)
	}
	c.storeUnsub = unsub

	return c, nil
}

// Close stops timers and store watching. The wallet stays connected in the
// store so a later instance can restore it.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.storeUnsub()

		c.mu.Lock()
		c.stopSessionLocked()
		adapter := c.adapter
		c.adapter = nil
		c.mu.Unlock()

		if adapter != nil {
			adapter.Close()
		}
		c.baseCancel()

		c.spawnMu.Lock()
		c.closing = true
		c.spawnMu.Unlock()
		c.wg.Wait()
	})
}

// spawn runs fn on a tracked goroutine. It reports false, without running fn,
// once Close has started.
func (c *Controller) spawn(fn func()) bool {
	c.spawnMu.Lock()
	defer c.spawnMu.Unlock()
	if c.closing {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the connected wallet, or nil.
func (c *Controller) Session() *WalletSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// Balance returns the last applied balance snapshot, or nil.
func (c *Controller) Balance() *solana.TokenBalanceSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance
}

// Snapshot returns the full controller view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{State: c.state, Balance: c.balance, Busy: c.busy}
	if c.session != nil {
		s := *c.session
		snap.Session = &s
	}
	if c.minted != nil {
		m := *c.minted
		snap.Minted = &m
	}
	return snap
}

// Subscribe registers fn for state changes and returns an unsubscribe func.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subscribers, id)
	}
}

func (c *Controller) emit() {
	snap := c.Snapshot()

	c.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (c *Controller) setStateLocked(to State) {
	if c.state == to {
		return
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordSessionTransition(string(c.state), string(to))
	}
	c.logger.Debug("session state changed", "from", c.state, "to", to)
	c.state = to
}

func (c *Controller) notify(ctx context.Context, level string, err error, msg string) {
	if c.deps.Notifier == nil {
		return
	}
	n := Notification{Level: level, Message: msg}
	if err != nil {
		n.Kind = Kind(err)
		n.Message = fmt.Sprintf("%s: %v", msg, err)
	}
	c.deps.Notifier.Notify(ctx, n)
}

// Connect prompts the named provider for a connection and starts a session.
func (c *Controller) Connect(ctx context.Context, providerName string) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	case StateConnecting, StateReconnecting:
		c.mu.Unlock()
		return ErrBusy
	}
	c.generation++
	gen := c.generation
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	c.emit()

	err := c.connect(ctx, providerName, gen, false)
	if err != nil {
		c.notify(ctx, LevelError, err, "Failed to connect wallet")
		return err
	}
	c.notify(ctx, LevelInfo, nil, "Wallet connected")
	return nil
}

// Restore silently reconnects a remembered wallet. It only acts when
// auto-connect is on, the stored session is still valid and the provider is
// available. An expired session is cleared. Failures are logged, never
// surfaced as notifications.
func (c *Controller) Restore(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	store := c.deps.Store
	prefs, err := store.Preferences(ctx)
	if err != nil {
		return fmt.Errorf("failed to read preferences: %w", err)
	}
	if !prefs.AutoConnect {
		return nil
	}

	name, ok, err := store.SelectedWallet(ctx)
	if err != nil {
		return fmt.Errorf("failed to read selected wallet: %w", err)
	}
	if !ok {
		return nil
	}

	_, hasTimestamp, err := store.ConnectionTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("failed to read connection timestamp: %w", err)
	}
	if !hasTimestamp {
		return nil
	}
	if !store.IsSessionValid(ctx) {
		c.logger.InfoContext(ctx, "stored wallet session expired", "provider", name)
		if err := store.ClearWalletData(ctx); err != nil {
			return fmt.Errorf("failed to clear expired session: %w", err)
		}
		return nil
	}

	if _, err := c.deps.Providers.Get(name); err != nil {
		c.logger.InfoContext(ctx, "remembered wallet provider unavailable", "provider", name, "error", err)
		return nil
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.generation++
	gen := c.generation
	c.setStateLocked(StateReconnecting)
	c.mu.Unlock()
	c.emit()

	if err := c.connect(ctx, name, gen, true); err != nil {
		c.logger.WarnContext(ctx, "silent wallet restore failed", "provider", name, "error", err)
		return err
	}
	c.logger.InfoContext(ctx, "wallet session restored", "provider", name)
	return nil
}

// connect runs the provider handshake for generation gen. The caller has
// already moved the state to connecting or reconnecting.
func (c *Controller) connect(ctx context.Context, name string, gen uint64, silent bool) error {
	fail := func(err error) error {
		c.mu.Lock()
		if c.generation == gen {
			c.setStateLocked(StateDisconnected)
		}
		c.mu.Unlock()
		c.emit()
		return err
	}

	provider, err := c.deps.Providers.Get(name)
	if err != nil {
		return fail(err)
	}

	if c.deps.Network != nil {
		if err := c.deps.Network.CheckNetwork(ctx, c.cfg.Network); err != nil {
			return fail(err)
		}
	}

	adapter := wallet.NewAdapter(provider, c.logger)
	account, err := adapter.Connect(ctx, wallet.ConnectOptions{OnlyIfTrusted: silent})
	if err != nil {
		adapter.Close()
		return fail(err)
	}

	c.mu.Lock()
	if superseded := c.generation != gen; superseded || c.baseCtx.Err() != nil {
		c.mu.Unlock()
		// A disconnect ran while the provider was prompting. Closing the
		// controller leaves the wallet connected for a later restore.
		if superseded {
			if err := adapter.Disconnect(ctx); err != nil {
				c.logger.WarnContext(ctx, "provider disconnect failed", "error", err)
			}
		}
		adapter.Close()
		return fmt.Errorf("connect superseded: %w", context.Canceled)
	}
	c.session = &WalletSession{ProviderName: provider.Name(), Address: account, ConnectedAt: time.Now()}
	c.adapter = adapter
	c.balance = nil
	c.minted = nil
	c.adapterSubs = []func(){
		adapter.OnAccountChanged(c.onAccountChanged),
		adapter.OnDisconnect(c.onProviderDisconnect),
	}
	c.setStateLocked(StateConnected)
	sessCtx := c.startTimersLocked()
	c.mu.Unlock()
	c.emit()

	c.logger.InfoContext(ctx, "wallet connected", "provider", provider.Name(), "address", account.String())

	if err := c.deps.Store.MarkConnected(ctx, provider.Name(), account.String()); err != nil {
		c.logger.WarnContext(ctx, "failed to persist wallet session", "error", err)
	}

	c.spawn(func() { c.syncAccount(sessCtx, "connect") })

	return nil
}

// Disconnect ends the session, tells the provider, and clears the stored
// wallet data.
func (c *Controller) Disconnect(ctx context.Context) error {
	adapter, was := c.teardown()
	if adapter != nil {
		if err := adapter.Disconnect(ctx); err != nil {
			c.logger.WarnContext(ctx, "provider disconnect failed", "error", err)
		}
		adapter.Close()
	}

	if err := c.deps.Store.ClearWalletData(ctx); err != nil {
		c.notify(ctx, LevelError, err, "Failed to clear wallet session")
		return err
	}
	if was {
		c.logger.InfoContext(ctx, "wallet disconnected")
		c.notify(ctx, LevelInfo, nil, "Wallet disconnected")
	}
	return nil
}

// teardown ends the local session and reports whether one existed. The
// returned adapter has not been disconnected.
func (c *Controller) teardown() (*wallet.Adapter, bool) {
	c.mu.Lock()
	was := c.state != StateDisconnected
	adapter := c.adapter
	c.adapter = nil
	c.generation++
	c.stopSessionLocked()
	c.session = nil
	c.balance = nil
	c.minted = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	// The timers are stopped; let an in-flight heartbeat finish so it cannot
	// rewrite the timestamp after the caller clears the store.
	c.heartbeatMu.Lock()
	c.heartbeatMu.Unlock()

	if was {
		c.emit()
	}
	return adapter, was
}

func (c *Controller) stopSessionLocked() {
	if c.stopTimers != nil {
		c.stopTimers()
		c.stopTimers = nil
	}
	for _, fn := range c.adapterSubs {
		fn()
	}
	c.adapterSubs = nil
}

// startTimersLocked starts the balance and heartbeat tickers for the current
// session and returns the session context they run under.
func (c *Controller) startTimersLocked() context.Context {
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.stopTimers = cancel

	c.spawn(func() {
		balanceTicker := time.NewTicker(c.cfg.BalanceRefreshInterval)
		defer balanceTicker.Stop()
		heartbeat := time.NewTicker(c.cfg.SessionRefreshInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-balanceTicker.C:
				if _, err := c.refreshBalance(ctx, "timer"); err != nil && ctx.Err() == nil {
					c.logger.WarnContext(ctx, "periodic balance refresh failed", "error", err)
				}
			case <-heartbeat.C:
				c.heartbeat(ctx)
			}
		}
	})

	return ctx
}

// heartbeat extends the stored session unless ctx has ended.
func (c *Controller) heartbeat(ctx context.Context) {
	c.heartbeatMu.Lock()
	defer c.heartbeatMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if err := c.deps.Store.RefreshSession(ctx); err != nil && ctx.Err() == nil {
		c.logger.WarnContext(ctx, "session heartbeat failed", "error", err)
	}
}

// syncAccount refreshes the balance and mint status for a new account.
func (c *Controller) syncAccount(ctx context.Context, trigger string) {
	if _, err := c.refreshBalance(ctx, trigger); err != nil && ctx.Err() == nil {
		c.logger.WarnContext(ctx, "balance refresh failed", "trigger", trigger, "error", err)
	}
	if _, err := c.CheckOwnership(ctx); err != nil && ctx.Err() == nil {
		c.logger.WarnContext(ctx, "mint status check failed", "trigger", trigger, "error", err)
	}
}

// onAccountChanged follows the provider to a new account. A nil account means
// the wallet revoked access, which is a disconnect.
func (c *Controller) onAccountChanged(account *solanago.PublicKey) {
	ctx := c.baseCtx
	if account == nil {
		c.logger.InfoContext(ctx, "wallet account removed, disconnecting")
		c.spawn(func() {
			if err := c.Disconnect(ctx); err != nil {
				c.logger.WarnContext(ctx, "disconnect after account removal failed", "error", err)
			}
		})
		return
	}

	c.mu.Lock()
	if c.state != StateConnected || c.session == nil || c.session.Address.Equals(*account) {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.session.Address = *account
	c.balance = nil
	c.minted = nil
	if c.stopTimers != nil {
		c.stopTimers()
	}
	sessCtx := c.startTimersLocked()
	c.mu.Unlock()
	c.emit()

	c.logger.InfoContext(ctx, "wallet account changed", "address", account.String())
	if err := c.deps.Store.SetLastAddress(ctx, account.String()); err != nil {
		c.logger.WarnContext(ctx, "failed to persist account change", "error", err)
	}

	c.spawn(func() { c.syncAccount(sessCtx, "account_changed") })
}

// onProviderDisconnect handles a disconnect initiated by the wallet itself.
func (c *Controller) onProviderDisconnect() {
	ctx := c.baseCtx
	c.spawn(func() {
		adapter, was := c.teardown()
		if adapter != nil {
			adapter.Close()
		}
		if !was {
			return
		}
		c.logger.InfoContext(ctx, "wallet disconnected by provider")
		if err := c.deps.Store.ClearWalletData(ctx); err != nil {
			c.logger.WarnContext(ctx, "failed to clear wallet session", "error", err)
		}
	})
}

// onStoreChange treats writes from other instances as hints to re-read the
// store. A cleared wallet ends the local session without touching the store;
// a fresh connection elsewhere triggers a silent restore here.
func (c *Controller) onStoreChange(change session.Change) {
	ctx := c.baseCtx
	if ctx.Err() != nil {
		return
	}

	switch {
	case change.Key == session.KeyWalletName && change.Deleted:
		adapter, was := c.teardown()
		if adapter != nil {
			if err := adapter.Disconnect(ctx); err != nil {
				c.logger.WarnContext(ctx, "provider disconnect failed", "error", err)
			}
			adapter.Close()
		}
		if was {
			c.logger.InfoContext(ctx, "wallet disconnected by another instance")
		}

	case change.Key == session.KeyConnectionTimestamp && !change.Deleted:
		if c.State() != StateDisconnected {
			return
		}
		c.spawn(func() {
			if err := c.Restore(ctx); err != nil {
				c.logger.DebugContext(ctx, "restore after remote connect failed", "error", err)
			}
		})
	}
}
