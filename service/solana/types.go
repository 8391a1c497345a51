package solana

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// TokenBalanceSnapshot is one fresh read of an owner's balance for a mint.
// It is never persisted.
type TokenBalanceSnapshot struct {
	Owner        solana.PublicKey
	Mint         solana.PublicKey
	TokenAccount solana.PublicKey
	Amount       decimal.Decimal // human-scaled: RawAmount / 10^Decimals
	RawAmount    uint64
	Decimals     uint8
	Exists       bool // false when the associated token account has not been created yet
	ReadAt       time.Time
}

// UIAmount returns the balance as a float for display.
func (s *TokenBalanceSnapshot) UIAmount() float64 {
	f, _ := s.Amount.Float64()
	return f
}

// PendingTransaction is an unsigned transaction together with the blockhash
// and last valid block height it was built against.
type PendingTransaction struct {
	Transaction          *solana.Transaction
	FeePayer             solana.PublicKey
	RecentBlockhash      solana.Hash
	LastValidBlockHeight uint64
	RawAmount            uint64
	CreatesTokenAccount  bool
}

// SignedTransaction carries serialized, signed bytes alongside the blockhash
// metadata needed to confirm them. The metadata is copied from the pending
// transaction, never recovered from the bytes.
type SignedTransaction struct {
	Raw                  []byte
	Signature            solana.Signature
	RecentBlockhash      solana.Hash
	LastValidBlockHeight uint64
}

// Seal serializes a transaction returned by the wallet. It fails with
// ErrStaleBlockhash if the wallet re-targeted the transaction at another blockhash.
func (p *PendingTransaction) Seal(signed *solana.Transaction) (*SignedTransaction, error) {
	if signed == nil {
		return nil, fmt.Errorf("signed transaction is nil")
	}
	if signed.Message.RecentBlockhash != p.RecentBlockhash {
		return nil, fmt.Errorf("%w: built with %s, signed with %s",
			ErrStaleBlockhash, p.RecentBlockhash, signed.Message.RecentBlockhash)
	}
	if len(signed.Signatures) == 0 || signed.Signatures[0] == (solana.Signature{}) {
		return nil, fmt.Errorf("transaction is not signed by the fee payer")
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize signed transaction: %w", err)
	}

	return &SignedTransaction{
		Raw:                  raw,
		Signature:            signed.Signatures[0],
		RecentBlockhash:      p.RecentBlockhash,
		LastValidBlockHeight: p.LastValidBlockHeight,
	}, nil
}

// Status is the terminal state of a submit-confirm cycle.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// TransactionOutcome is the ephemeral result of one submit-confirm cycle.
type TransactionOutcome struct {
	Signature solana.Signature
	Status    Status
	Slot      uint64
	Attempts  int
	Err       error
}

// Confirmed reports whether the chain confirmed the transaction.
func (o *TransactionOutcome) Confirmed() bool {
	return o != nil && o.Status == StatusConfirmed
}
