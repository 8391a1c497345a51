// Package wallet normalizes wallet providers into a fixed capability surface:
// connect, disconnect, sign, and account events.
package wallet

import (
	"context"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

// Provider events.
const (
	EventConnect        = "connect"
	EventDisconnect     = "disconnect"
	EventAccountChanged = "accountChanged"
)

// Error codes reported by wallet providers.
const (
	CodeUserRejected = 4001
	CodeUnauthorized = 4100
	CodeInternal     = -32603
)

// ConnectOptions controls how a provider handles a connect request.
type ConnectOptions struct {
	// OnlyIfTrusted connects without prompting, and fails instead of
	// prompting when the user has not approved this app before.
	OnlyIfTrusted bool
}

// EventHandler receives the account for connect and accountChanged events.
// The account is nil for disconnect, and for accountChanged when the wallet
// no longer exposes an account.
type EventHandler func(account *solanago.PublicKey)

// Provider is a wallet implementation: a browser extension bridge, a
// hardware wallet, or a local keypair.
type Provider interface {
	Name() string
	Available() bool
	Connect(ctx context.Context, opts ConnectOptions) (solanago.PublicKey, error)
	Disconnect(ctx context.Context) error
	SignTransaction(ctx context.Context, tx *solanago.Transaction) (*solanago.Transaction, error)
	SignAllTransactions(ctx context.Context, txs []*solanago.Transaction) ([]*solanago.Transaction, error)
	SignMessage(ctx context.Context, message []byte) (solanago.Signature, solanago.PublicKey, error)
	// On registers handler for event and returns a function removing it.
	On(event string, handler EventHandler) (unsubscribe func())
}

// RPCError is the error shape providers use to report failures.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}
