package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/mintpass/service/db"
	natspkg "github.com/brojonat/mintpass/service/nats"
	"github.com/brojonat/mintpass/service/solana"
)

// RecordMintInput describes a confirmed mint payment.
type RecordMintInput struct {
	RequestID    string    `json:"request_id"`
	OwnerAddress string    `json:"owner_address"`
	Network      string    `json:"network"`
	Signature    string    `json:"signature"`
	TokenMint    string    `json:"token_mint"`
	Amount       int64     `json:"amount"` // raw token units
	Slot         int64     `json:"slot"`
	ConfirmedAt  time.Time `json:"confirmed_at"`
}

// Validate checks the fields the receipt table requires.
func (in RecordMintInput) Validate() error {
	var errs []error
	if in.RequestID == "" {
		errs = append(errs, errors.New("request_id is required"))
	}
	if in.OwnerAddress == "" {
		errs = append(errs, errors.New("owner_address is required"))
	}
	if in.Signature == "" {
		errs = append(errs, errors.New("signature is required"))
	}
	if in.Amount <= 0 {
		errs = append(errs, fmt.Errorf("amount must be positive, got %d", in.Amount))
	}
	return errors.Join(errs...)
}

// RecordMintResult contains the result of RecordMintWorkflow.
type RecordMintResult struct {
	RequestID    string    `json:"request_id"`
	Stored       bool      `json:"stored"`
	Published    bool      `json:"published"`
	CreatedAt    time.Time `json:"created_at"`
	PublishError *string   `json:"publish_error,omitempty"`
}

// StoreMintReceiptResult contains the stored receipt.
type StoreMintReceiptResult struct {
	Receipt *db.MintReceipt `json:"receipt"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	RecordMint(ctx context.Context, params db.RecordMintParams) (*db.MintReceipt, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishMint(ctx context.Context, event *natspkg.MintEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	store     StoreInterface
	publisher PublisherInterface // optional
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance.
func NewActivities(store StoreInterface, publisher PublisherInterface, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// StoreMintReceipt writes the receipt. Recording the same request twice
// returns the existing receipt.
func (a *Activities) StoreMintReceipt(ctx context.Context, input RecordMintInput) (*StoreMintReceiptResult, error) {
	a.logger.DebugContext(ctx, "storing mint receipt",
		"request_id", input.RequestID,
		"owner", input.OwnerAddress,
		"signature", input.Signature,
	)

	memo := solana.MintMemo(input.RequestID)
	receipt, err := a.store.RecordMint(ctx, db.RecordMintParams{
		RequestID:    input.RequestID,
		OwnerAddress: input.OwnerAddress,
		Network:      input.Network,
		Signature:    input.Signature,
		TokenMint:    input.TokenMint,
		Amount:       input.Amount,
		Slot:         input.Slot,
		Memo:         &memo,
		ConfirmedAt:  input.ConfirmedAt,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to store mint receipt", "request_id", input.RequestID, "error", err)
		return nil, fmt.Errorf("failed to store mint receipt %s: %w", input.RequestID, err)
	}

	a.logger.InfoContext(ctx, "stored mint receipt", "request_id", receipt.RequestID, "signature", receipt.Signature)
	return &StoreMintReceiptResult{Receipt: receipt}, nil
}

// PublishMintEvent announces a stored receipt. Without a publisher it does nothing.
func (a *Activities) PublishMintEvent(ctx context.Context, receipt *db.MintReceipt) error {
	if a.publisher == nil {
		a.logger.DebugContext(ctx, "no publisher configured, skipping mint event")
		return nil
	}
	if receipt == nil {
		return errors.New("receipt is required")
	}

	event := natspkg.FromMintReceipt(receipt)
	if err := a.publisher.PublishMint(ctx, event); err != nil {
		a.logger.WarnContext(ctx, "failed to publish mint event", "request_id", receipt.RequestID, "error", err)
		return fmt.Errorf("failed to publish mint event %s: %w", receipt.RequestID, err)
	}

	a.logger.DebugContext(ctx, "published mint event", "request_id", receipt.RequestID, "subject", natspkg.Subject(receipt.OwnerAddress))
	return nil
}
