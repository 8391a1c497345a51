package controller

import (
	"context"
	"errors"

	"github.com/brojonat/mintpass/service/solana"
	"github.com/brojonat/mintpass/service/wallet"
)

var (
	// ErrNotConnected gates mint and transfer on a connected session.
	ErrNotConnected = wallet.ErrNotConnected

	// ErrInsufficientBalance means the wallet cannot cover the payment. It is
	// checked before any transaction is built.
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// ErrBusy means a connect or payment is already in progress.
	ErrBusy = errors.New("another wallet operation is in progress")

	// ErrAlreadyConnected means connect was called on a connected session.
	ErrAlreadyConnected = errors.New("wallet already connected")
)

// Kind maps an error to its name in the error taxonomy, for notifications
// and API responses.
func Kind(err error) string {
	var providerErr *wallet.ProviderError
	var failedErr *solana.TransactionFailedError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, wallet.ErrProviderNotFound):
		return "provider_not_found"
	case errors.Is(err, wallet.ErrUserRejected):
		return "user_rejected"
	case errors.As(err, &providerErr):
		return "provider_error"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrAlreadyConnected):
		return "already_connected"
	case errors.Is(err, solana.ErrBlockhashFetch):
		return "blockhash_fetch"
	case errors.Is(err, solana.ErrStaleBlockhash):
		return "stale_blockhash"
	case errors.Is(err, solana.ErrTimedOut):
		return "timed_out"
	case errors.As(err, &failedErr):
		return "transaction_failed"
	case errors.Is(err, solana.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, solana.ErrNetworkMismatch):
		return "network_mismatch"
	case errors.Is(err, solana.ErrRPCUnavailable):
		return "rpc_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
