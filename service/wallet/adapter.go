package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	solanago "github.com/gagliardetto/solana-go"
)

// SignedMessage is the result of signing an arbitrary message.
type SignedMessage struct {
	Signature solanago.Signature
	PublicKey solanago.PublicKey
}

// Adapter wraps one Provider with uniform errors and connection tracking.
type Adapter struct {
	provider Provider
	logger   *slog.Logger

	mu      sync.RWMutex
	account *solanago.PublicKey

	unsubscribe []func()
}

// NewAdapter creates an adapter over provider. provider may be nil, in which
// case every call fails with ErrProviderNotFound.
func NewAdapter(provider Provider, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{provider: provider, logger: logger}
	if provider != nil {
		a.unsubscribe = append(a.unsubscribe,
			provider.On(EventAccountChanged, func(account *solanago.PublicKey) {
				a.setAccount(account)
			}),
			provider.On(EventDisconnect, func(*solanago.PublicKey) {
				a.setAccount(nil)
			}),
		)
	}
	return a
}

// Close removes the adapter's provider subscriptions.
func (a *Adapter) Close() {
	for _, fn := range a.unsubscribe {
		fn()
	}
	a.unsubscribe = nil
}

// Name returns the provider name, or empty if there is no provider.
func (a *Adapter) Name() string {
	if a.provider == nil {
		return ""
	}
	return a.provider.Name()
}

// Available reports whether the provider is present.
func (a *Adapter) Available() bool {
	return a.provider != nil && a.provider.Available()
}

// PublicKey returns the connected account.
func (a *Adapter) PublicKey() (solanago.PublicKey, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.account == nil {
		return solanago.PublicKey{}, false
	}
	return *a.account, true
}

// Connected reports whether the adapter holds an account.
func (a *Adapter) Connected() bool {
	_, ok := a.PublicKey()
	return ok
}

func (a *Adapter) setAccount(account *solanago.PublicKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if account == nil {
		a.account = nil
		return
	}
	pk := *account
	a.account = &pk
}

// Connect asks the provider for an account.
func (a *Adapter) Connect(ctx context.Context, opts ConnectOptions) (solanago.PublicKey, error) {
	if !a.Available() {
		return solanago.PublicKey{}, ErrProviderNotFound
	}

	account, err := a.provider.Connect(ctx, opts)
	if err != nil {
		err = normalize("connect", err)
		a.logger.DebugContext(ctx, "wallet connect failed",
			"provider", a.provider.Name(),
			"only_if_trusted", opts.OnlyIfTrusted,
			"error", err)
		return solanago.PublicKey{}, err
	}

	a.setAccount(&account)
	return account, nil
}

// Disconnect disconnects the provider. The account is forgotten even if the
// provider reports an error.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.setAccount(nil)
	if !a.Available() {
		return nil
	}
	return normalize("disconnect", a.provider.Disconnect(ctx))
}

// SignTransaction asks the provider to sign tx.
func (a *Adapter) SignTransaction(ctx context.Context, tx *solanago.Transaction) (*solanago.Transaction, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	signed, err := a.provider.SignTransaction(ctx, tx)
	if err != nil {
		return nil, normalize("signTransaction", err)
	}
	return signed, nil
}

// SignAllTransactions asks the provider to sign txs in one prompt.
func (a *Adapter) SignAllTransactions(ctx context.Context, txs []*solanago.Transaction) ([]*solanago.Transaction, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	signed, err := a.provider.SignAllTransactions(ctx, txs)
	if err != nil {
		return nil, normalize("signAllTransactions", err)
	}
	if len(signed) != len(txs) {
		return nil, &ProviderError{
			Op:      "signAllTransactions",
			Message: fmt.Sprintf("provider returned %d transactions for %d", len(signed), len(txs)),
		}
	}
	return signed, nil
}

// SignMessage asks the provider to sign an arbitrary message.
func (a *Adapter) SignMessage(ctx context.Context, message []byte) (*SignedMessage, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	sig, pub, err := a.provider.SignMessage(ctx, message)
	if err != nil {
		return nil, normalize("signMessage", err)
	}
	return &SignedMessage{Signature: sig, PublicKey: pub}, nil
}

func (a *Adapter) ready() error {
	if !a.Available() {
		return ErrProviderNotFound
	}
	if !a.Connected() {
		return ErrNotConnected
	}
	return nil
}

// OnConnect registers fn for provider connect events.
func (a *Adapter) OnConnect(fn func(solanago.PublicKey)) (unsubscribe func()) {
	if a.provider == nil {
		return func() {}
	}
	return a.provider.On(EventConnect, func(account *solanago.PublicKey) {
		if account != nil {
			fn(*account)
		}
	})
}

// OnDisconnect registers fn for provider disconnect events.
func (a *Adapter) OnDisconnect(fn func()) (unsubscribe func()) {
	if a.provider == nil {
		return func() {}
	}
	return a.provider.On(EventDisconnect, func(*solanago.PublicKey) { fn() })
}

// OnAccountChanged registers fn for account switches. fn receives nil when
// the wallet no longer exposes an account.
func (a *Adapter) OnAccountChanged(fn func(*solanago.PublicKey)) (unsubscribe func()) {
	if a.provider == nil {
		return func() {}
	}
	return a.provider.On(EventAccountChanged, EventHandler(fn))
}
