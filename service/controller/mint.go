package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brojonat/mintpass/service/solana"
	"github.com/brojonat/mintpass/service/wallet"
)

// MintRecord is a confirmed mint payment handed to the hosted backend.
type MintRecord struct {
	RequestID   string
	Owner       string
	Signature   string
	Network     string
	TokenMint   string
	Amount      uint64
	Slot        uint64
	ConfirmedAt time.Time
}

// MintRecorder stores confirmed mints.
type MintRecorder interface {
	RecordMint(ctx context.Context, rec MintRecord) error
}

// MintRecorderFunc adapts a function to MintRecorder.
type MintRecorderFunc func(ctx context.Context, rec MintRecord) error

func (f MintRecorderFunc) RecordMint(ctx context.Context, rec MintRecord) error { return f(ctx, rec) }

// PaymentResult is the outcome of a mint or transfer.
type PaymentResult struct {
	RequestID string                     `json:"request_id,omitempty"`
	Outcome   *solana.TransactionOutcome `json:"outcome,omitempty"`
}

// payment is one in-flight payment bound to the session it started under.
type payment struct {
	gen     uint64
	owner   solanago.PublicKey
	adapter *wallet.Adapter
}

// begin claims the single payment slot. It fails unless a session is connected.
func (c *Controller) begin() (*payment, error) {
	c.mu.Lock()
	if c.state != StateConnected || c.session == nil || c.adapter == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	if c.busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.busy = true
	p := &payment{gen: c.generation, owner: c.session.Address, adapter: c.adapter}
	c.mu.Unlock()
	c.emit()
	return p, nil
}

func (c *Controller) end() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
	c.emit()
}

// Mint pays the mint price to the treasury from the connected wallet. The
// balance is checked before anything is built, the user signs in the wallet,
// and the confirmed payment is reported to the recorder.
func (c *Controller) Mint(ctx context.Context) (*PaymentResult, error) {
	p, err := c.begin()
	if err != nil {
		c.recordMint("rejected")
		c.notify(ctx, LevelError, err, "Cannot mint")
		return nil, err
	}
	defer c.end()

	if err := c.requireBalance(ctx, c.cfg.MintPrice); err != nil {
		return nil, c.paymentFailed(ctx, "Cannot mint", err)
	}

	requestID := uuid.NewString()
	pending, err := c.deps.Builder.BuildMint(ctx, solana.MintParams{
		Payer:     p.owner,
		Treasury:  c.cfg.Treasury,
		Mint:      c.cfg.TokenMint,
		Price:     c.cfg.MintPrice,
		Decimals:  c.cfg.Decimals,
		RequestID: requestID,
	})
	if err != nil {
		return nil, c.paymentFailed(ctx, "Failed to build mint transaction", err)
	}

	outcome, err := c.signAndSubmit(ctx, p, pending)
	result := &PaymentResult{RequestID: requestID, Outcome: outcome}
	if err != nil {
		return result, c.paymentFailed(ctx, "Mint payment failed", err)
	}

	c.mu.Lock()
	if p.gen == c.generation {
		minted := true
		c.minted = &minted
	}
	c.mu.Unlock()
	c.emit()

	c.logger.InfoContext(ctx, "mint payment confirmed",
		"request_id", requestID,
		"owner", p.owner.String(),
		"signature", outcome.Signature.String(),
		"slot", outcome.Slot,
	)
	c.recordMint("confirmed")

	if _, err := c.refreshBalance(ctx, "mint"); err != nil {
		c.logger.WarnContext(ctx, "balance refresh after mint failed", "error", err)
	}

	if c.deps.Recorder != nil {
		rec := MintRecord{
			RequestID:   requestID,
			Owner:       p.owner.String(),
			Signature:   outcome.Signature.String(),
			Network:     c.cfg.Network,
			TokenMint:   c.cfg.TokenMint.String(),
			Amount:      pending.RawAmount,
			Slot:        outcome.Slot,
			ConfirmedAt: time.Now().UTC(),
		}
		if err := c.deps.Recorder.RecordMint(ctx, rec); err != nil {
			c.logger.ErrorContext(ctx, "failed to record mint", "request_id", requestID, "error", err)
		}
	}

	c.notify(ctx, LevelInfo, nil, "Mint payment confirmed")
	return result, nil
}

// Transfer sends amount of the payment token from the connected wallet to to.
func (c *Controller) Transfer(ctx context.Context, to solanago.PublicKey, amount decimal.Decimal) (*PaymentResult, error) {
	p, err := c.begin()
	if err != nil {
		c.notify(ctx, LevelError, err, "Cannot transfer")
		return nil, err
	}
	defer c.end()

	if !amount.IsPositive() {
		err := fmt.Errorf("%w: amount must be positive, got %s", solana.ErrInvalidAmount, amount)
		c.notify(ctx, LevelError, err, "Cannot transfer")
		return nil, err
	}

	if err := c.requireBalance(ctx, amount); err != nil {
		c.notify(ctx, LevelError, err, "Cannot transfer")
		return nil, err
	}

	pending, err := c.deps.Builder.BuildTransfer(ctx, solana.TransferParams{
		From:     p.owner,
		To:       to,
		Mint:     c.cfg.TokenMint,
		Amount:   amount,
		Decimals: c.cfg.Decimals,
	})
	if err != nil {
		c.notify(ctx, LevelError, err, "Failed to build transfer")
		return nil, err
	}

	outcome, err := c.signAndSubmit(ctx, p, pending)
	result := &PaymentResult{Outcome: outcome}
	if err != nil {
		c.notifyOutcome(ctx, "Transfer failed", err)
		return result, err
	}

	c.logger.InfoContext(ctx, "transfer confirmed",
		"from", p.owner.String(),
		"to", to.String(),
		"amount", amount.String(),
		"signature", outcome.Signature.String(),
	)
	if _, err := c.refreshBalance(ctx, "transfer"); err != nil {
		c.logger.WarnContext(ctx, "balance refresh after transfer failed", "error", err)
	}
	c.notify(ctx, LevelInfo, nil, "Transfer confirmed")
	return result, nil
}

// requireBalance reads a fresh balance and fails with ErrInsufficientBalance
// when it is below amount.
func (c *Controller) requireBalance(ctx context.Context, amount decimal.Decimal) error {
	snap, err := c.refreshBalance(ctx, "payment")
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}
	if snap.Amount.LessThan(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, snap.Amount, amount)
	}
	return nil
}

// signAndSubmit has the wallet sign pending, then submits and waits for
// confirmation. A confirmed outcome returns a nil error.
func (c *Controller) signAndSubmit(ctx context.Context, p *payment, pending *solana.PendingTransaction) (*solana.TransactionOutcome, error) {
	signed, err := p.adapter.SignTransaction(ctx, pending.Transaction)
	if err != nil {
		return nil, err
	}

	sealed, err := pending.Seal(signed)
	if err != nil {
		return nil, err
	}

	outcome, err := c.deps.Poller.SubmitAndConfirm(ctx, sealed)
	if err != nil {
		return outcome, err
	}
	if !outcome.Confirmed() {
		return outcome, outcome.Err
	}
	return outcome, nil
}

func (c *Controller) paymentFailed(ctx context.Context, msg string, err error) error {
	switch {
	case errors.Is(err, wallet.ErrUserRejected):
		c.recordMint("user_rejected")
	case errors.Is(err, solana.ErrTimedOut):
		c.recordMint("timed_out")
	case errors.Is(err, ErrInsufficientBalance):
		c.recordMint("insufficient_balance")
	default:
		c.recordMint("failed")
	}
	c.notifyOutcome(ctx, msg, err)
	return err
}

// notifyOutcome reports a payment error. A timeout is a warning because the
// transaction may still land.
func (c *Controller) notifyOutcome(ctx context.Context, msg string, err error) {
	switch {
	case errors.Is(err, solana.ErrTimedOut):
		c.notify(ctx, LevelWarning, err, msg+"; status unknown, check the explorer before retrying")
	case errors.Is(err, wallet.ErrUserRejected):
		c.notify(ctx, LevelWarning, err, msg)
	default:
		c.notify(ctx, LevelError, err, msg)
	}
}

func (c *Controller) recordMint(result string) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordMint(result)
	}
}
