package controller

import (
	"context"

	"github.com/brojonat/mintpass/service/solana"
)

// RefreshBalance reads the payment token balance of the connected wallet.
func (c *Controller) RefreshBalance(ctx context.Context) (*solana.TokenBalanceSnapshot, error) {
	snap, err := c.refreshBalance(ctx, "manual")
	if err != nil {
		c.notify(ctx, LevelError, err, "Failed to refresh balance")
	}
	return snap, err
}

// refreshBalance issues a numbered read and applies the result only if the
// session is unchanged and no newer read has been applied.
func (c *Controller) refreshBalance(ctx context.Context, trigger string) (*solana.TokenBalanceSnapshot, error) {
	c.mu.Lock()
	if c.state != StateConnected || c.session == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	owner := c.session.Address
	gen := c.generation
	c.balanceSeq++
	seq := c.balanceSeq
	c.mu.Unlock()

	snap, err := c.deps.Balances.ReadTokenBalance(ctx, owner, c.cfg.TokenMint, c.cfg.Decimals)
	if err != nil {
		c.recordRefresh(trigger, "error")
		return nil, err
	}

	c.mu.Lock()
	if gen != c.generation || seq <= c.appliedSeq {
		c.mu.Unlock()
		c.recordRefresh(trigger, "stale")
		c.logger.DebugContext(ctx, "dropping stale balance", "seq", seq, "owner", owner.String())
		return snap, nil
	}
	c.appliedSeq = seq
	c.balance = snap
	c.mu.Unlock()

	c.recordRefresh(trigger, "applied")
	c.emit()
	return snap, nil
}

func (c *Controller) recordRefresh(trigger, result string) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordBalanceRefresh(trigger, result)
	}
}

// CheckOwnership asks the ownership checker whether the connected wallet has
// already minted. Without a checker the status stays unknown.
func (c *Controller) CheckOwnership(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.state != StateConnected || c.session == nil {
		c.mu.Unlock()
		return false, ErrNotConnected
	}
	owner := c.session.Address.String()
	gen := c.generation
	c.mu.Unlock()

	if c.deps.Ownership == nil {
		return false, nil
	}

	minted, err := c.deps.Ownership.HasMinted(ctx, owner)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return minted, nil
	}
	c.minted = &minted
	c.mu.Unlock()

	c.emit()
	return minted, nil
}
