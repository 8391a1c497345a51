package solana

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// BalanceReader fetches token and native balances for an owner.
type BalanceReader struct {
	client     *Client
	commitment rpc.CommitmentType
	now        func() time.Time
}

// NewBalanceReader creates a balance reader that reads at confirmed commitment.
func NewBalanceReader(client *Client) *BalanceReader {
	return &BalanceReader{
		client:     client,
		commitment: rpc.CommitmentConfirmed,
		now:        time.Now,
	}
}

// ReadTokenBalance returns the owner's balance of mint held in its associated
// token account. A missing token account is a zero balance, not an error.
// decimals is used for the snapshot when the account does not exist.
func (r *BalanceReader) ReadTokenBalance(ctx context.Context, owner, mint solana.PublicKey, decimals uint8) (*TokenBalanceSnapshot, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive token account: %w", err)
	}

	snapshot := &TokenBalanceSnapshot{
		Owner:        owner,
		Mint:         mint,
		TokenAccount: ata,
		Decimals:     decimals,
		Amount:       FromRawAmount(0, decimals),
	}

	callCtx, cancel := r.client.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	result, err := r.client.rpc.GetTokenAccountBalance(callCtx, ata, r.commitment)
	r.client.record("GetTokenAccountBalance", start, err)

	if err != nil {
		if isAccountNotFound(err) {
			r.client.logger.DebugContext(ctx, "token account does not exist, reporting zero balance",
				"owner", owner.String(),
				"token_account", ata.String())
			snapshot.ReadAt = r.now()
			return snapshot, nil
		}
		return nil, classify("GetTokenAccountBalance", err)
	}

	snapshot.ReadAt = r.now()
	if result == nil || result.Value == nil {
		return snapshot, nil
	}

	raw, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid token amount %q from rpc: %w", result.Value.Amount, err)
	}

	snapshot.Exists = true
	snapshot.RawAmount = raw
	snapshot.Decimals = result.Value.Decimals
	snapshot.Amount = FromRawAmount(raw, result.Value.Decimals)

	return snapshot, nil
}

// ReadNativeBalance returns the owner's SOL balance in lamports.
func (r *BalanceReader) ReadNativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	callCtx, cancel := r.client.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	result, err := r.client.rpc.GetBalance(callCtx, owner, r.commitment)
	r.client.record("GetBalance", start, err)
	if err != nil {
		return 0, classify("GetBalance", err)
	}
	if result == nil {
		return 0, nil
	}
	return result.Value, nil
}
