package solana

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// PollerConfig bounds confirmation polling.
type PollerConfig struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultPollerConfig returns the standard budget of 30 polls two seconds apart.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		MaxAttempts: 30,
		Interval:    2 * time.Second,
	}
}

// Poller submits signed transactions and polls until they are confirmed,
// fail, or run out of time.
type Poller struct {
	client *Client
	cfg    PollerConfig
}

// NewPoller creates a confirmation poller.
func NewPoller(client *Client, cfg PollerConfig) *Poller {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultPollerConfig().MaxAttempts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollerConfig().Interval
	}
	return &Poller{client: client, cfg: cfg}
}

// Submit broadcasts signed bytes with preflight simulation enabled.
// The bytes must carry the blockhash recorded on the signed transaction.
func (p *Poller) Submit(ctx context.Context, signed *SignedTransaction) (solana.Signature, error) {
	tx, err := DecodeTransaction(signed.Raw)
	if err != nil {
		return solana.Signature{}, err
	}
	if tx.Message.RecentBlockhash != signed.RecentBlockhash {
		return solana.Signature{}, fmt.Errorf("%w: bytes carry %s, expected %s",
			ErrStaleBlockhash, tx.Message.RecentBlockhash, signed.RecentBlockhash)
	}

	callCtx, cancel := p.client.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	sig, err := p.client.rpc.SendRawTransactionWithOpts(callCtx, signed.Raw, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	p.client.record("SendTransaction", start, err)
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) && isPreflightRejection(rpcErr.Code) {
			// Preflight rejected it; nothing was broadcast.
			return solana.Signature{}, &TransactionFailedError{Signature: signed.Signature, Detail: rpcErr.Message}
		}
		return solana.Signature{}, classify("SendTransaction", err)
	}

	p.client.logger.InfoContext(ctx, "transaction submitted",
		"signature", sig.String(),
		"last_valid_block_height", signed.LastValidBlockHeight)

	return sig, nil
}

// Confirm polls the signature status until one of three outcomes:
//   - confirmed: status is confirmed or finalized without an error
//   - failed: status carries an error
//   - timed out: the block height passed LastValidBlockHeight, the attempt
//     budget ran out, or ctx was cancelled
//
// Expiry is checked before status on every attempt, so a transaction whose
// blockhash has expired is never reported as confirmed. The returned error
// is nil only for the confirmed outcome.
func (p *Poller) Confirm(ctx context.Context, signed *SignedTransaction, sig solana.Signature) (*TransactionOutcome, error) {
	outcome := &TransactionOutcome{Signature: sig}

	finish := func(status Status, err error) (*TransactionOutcome, error) {
		outcome.Status = status
		outcome.Err = err
		if p.client.metrics != nil {
			p.client.metrics.RecordConfirmation(string(status), outcome.Attempts)
		}
		p.client.logger.InfoContext(ctx, "confirmation finished",
			"signature", sig.String(),
			"status", string(status),
			"attempts", outcome.Attempts,
			"error", err)
		return outcome, err
	}

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		outcome.Attempts = attempt

		expired, err := p.expired(ctx, signed.LastValidBlockHeight)
		if err != nil {
			p.retry(ctx, "GetBlockHeight", attempt, err)
		} else if expired {
			return finish(StatusTimedOut, fmt.Errorf("%w: blockhash expired at height %d", ErrTimedOut, signed.LastValidBlockHeight))
		}

		status, err := p.status(ctx, sig)
		switch {
		case err != nil:
			p.retry(ctx, "GetSignatureStatuses", attempt, err)
		case status == nil:
			// Not seen by the node yet.
		case status.Err != nil:
			outcome.Slot = status.Slot
			return finish(StatusFailed, &TransactionFailedError{Signature: sig, Detail: fmt.Sprintf("%v", status.Err)})
		case status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			status.ConfirmationStatus == rpc.ConfirmationStatusFinalized:
			outcome.Slot = status.Slot
			return finish(StatusConfirmed, nil)
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return finish(StatusTimedOut, fmt.Errorf("%w: %v", ErrTimedOut, ctx.Err()))
		case <-time.After(p.cfg.Interval):
		}
	}

	return finish(StatusTimedOut, fmt.Errorf("%w: not confirmed after %d attempts", ErrTimedOut, p.cfg.MaxAttempts))
}

// SubmitAndConfirm submits and then confirms. If submission fails nothing
// was broadcast, and the outcome is nil unless preflight rejected it.
func (p *Poller) SubmitAndConfirm(ctx context.Context, signed *SignedTransaction) (*TransactionOutcome, error) {
	sig, err := p.Submit(ctx, signed)
	if err != nil {
		var failed *TransactionFailedError
		if errors.As(err, &failed) {
			outcome := &TransactionOutcome{Signature: failed.Signature, Status: StatusFailed, Err: err}
			if p.client.metrics != nil {
				p.client.metrics.RecordConfirmation(string(StatusFailed), 0)
			}
			return outcome, err
		}
		return nil, err
	}
	return p.Confirm(ctx, signed, sig)
}

func (p *Poller) expired(ctx context.Context, lastValid uint64) (bool, error) {
	callCtx, cancel := p.client.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	height, err := p.client.rpc.GetBlockHeight(callCtx, rpc.CommitmentConfirmed)
	p.client.record("GetBlockHeight", start, err)
	if err != nil {
		return false, err
	}
	return height > lastValid, nil
}

func (p *Poller) status(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	callCtx, cancel := p.client.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	result, err := p.client.rpc.GetSignatureStatuses(callCtx, false, sig)
	p.client.record("GetSignatureStatuses", start, err)
	if err != nil {
		return nil, err
	}
	if result == nil || len(result.Value) == 0 {
		return nil, nil
	}
	return result.Value[0], nil
}

// retry logs a transient poll failure; the next attempt retries it.
func (p *Poller) retry(ctx context.Context, method string, attempt int, err error) {
	if p.client.metrics != nil {
		p.client.metrics.RecordRPCRetry(method, "poll_error")
	}
	p.client.logger.WarnContext(ctx, "confirmation poll failed, will retry",
		"method", method,
		"attempt", attempt,
		"error", err)
}
