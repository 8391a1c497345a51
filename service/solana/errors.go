package solana

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrRPCUnavailable means the endpoint could not be reached before the call timed out.
	ErrRPCUnavailable = errors.New("rpc endpoint unavailable")

	// ErrBlockhashFetch means no recent blockhash could be fetched while building a transaction.
	ErrBlockhashFetch = errors.New("failed to fetch recent blockhash")

	// ErrStaleBlockhash means the signed bytes do not carry the blockhash the
	// transaction was built with, so confirmation cannot be tracked.
	ErrStaleBlockhash = errors.New("transaction blockhash does not match the pending transaction")

	// ErrTimedOut means confirmation was not observed within the retry budget
	// or before the blockhash expired. The transaction may still land.
	ErrTimedOut = errors.New("confirmation timed out: status unknown, the transaction may still land")

	// ErrInvalidAmount is returned for non-positive amounts or amounts finer than the mint's decimals.
	ErrInvalidAmount = errors.New("invalid token amount")

	// ErrNetworkMismatch means the RPC endpoint serves a different cluster than configured.
	ErrNetworkMismatch = errors.New("rpc endpoint serves a different network")
)

// TransactionFailedError is returned when the chain rejected or reverted a transaction.
type TransactionFailedError struct {
	Signature solana.Signature
	Detail    string
}

func (e *TransactionFailedError) Error() string {
	if e.Signature == (solana.Signature{}) {
		return fmt.Sprintf("transaction rejected: %s", e.Detail)
	}
	return fmt.Sprintf("transaction %s failed: %s", e.Signature, e.Detail)
}
