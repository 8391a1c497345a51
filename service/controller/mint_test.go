package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/mintpass/service/solana"
	"github.com/brojonat/mintpass/service/wallet"
)

func TestMint_NotConnected(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctrl.Mint(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, h.builder.mintCount(), "nothing is built without a session")
	assert.Contains(t, h.notes.kinds(), "not_connected")
}

func TestMint_Success(t *testing.T) {
	h := newHarness(t)
	h.balances.set(h.address(0), "25")
	h.connect(t)

	result, err := h.ctrl.Mint(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.RequestID)
	assert.True(t, result.Outcome.Confirmed())
	assert.Equal(t, uint64(42), result.Outcome.Slot)

	require.Equal(t, 1, h.builder.mintCount())
	params := h.builder.mints[0]
	assert.Equal(t, h.address(0), params.Payer)
	assert.Equal(t, testTreasury, params.Treasury)
	assert.Equal(t, testMint, params.Mint)
	assert.True(t, params.Price.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, result.RequestID, params.RequestID)

	require.Equal(t, 1, h.poller.submissions())
	signed := h.poller.submitted[0]
	assert.NotEqual(t, solanago.Signature{}, signed.Signature)
	assert.Equal(t, uint64(1000), signed.LastValidBlockHeight)

	select {
	case rec := <-h.records:
		assert.Equal(t, result.RequestID, rec.RequestID)
		assert.Equal(t, h.address(0).String(), rec.Owner)
		assert.Equal(t, signed.Signature.String(), rec.Signature)
		assert.Equal(t, "devnet", rec.Network)
		assert.Equal(t, uint64(10_000_000), rec.Amount)
		assert.Equal(t, uint64(42), rec.Slot)
	case <-time.After(time.Second):
		t.Fatal("mint was not recorded")
	}

	snap := h.ctrl.Snapshot()
	require.NotNil(t, snap.Minted)
	assert.True(t, *snap.Minted)
	assert.False(t, snap.Busy)
	assert.Equal(t, StateConnected, snap.State)
}

func TestMint_InsufficientBalance(t *testing.T) {
	h := newHarness(t)
	h.balances.set(h.address(0), "9.999999")
	h.connect(t)

	_, err := h.ctrl.Mint(context.Background())
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Zero(t, h.builder.mintCount(), "balance is checked before building")
	assert.Zero(t, h.poller.submissions())
	assert.Contains(t, h.notes.kinds(), "insufficient_balance")
}

func TestMint_ExactBalanceIsEnough(t *testing.T) {
	h := newHarness(t)
	h.balances.set(h.address(0), "10")
	h.connect(t)

	_, err := h.ctrl.Mint(context.Background())
	require.NoError(t, err)
}

func TestMint_UserRejectsSignature(t *testing.T) {
	h := newHarness(t)
	h.balances.set(h.address(0), "25")
	h.connect(t)
	h.rejectSign.Store(true)

	_, err := h.ctrl.Mint(context.Background())
	assert.ErrorIs(t, err, wallet.ErrUserRejected)
	assert.Zero(t, h.poller.submissions())
	assert.Equal(t, StateConnected, h.ctrl.State(), "a rejected signature keeps the session")
	assert.Contains(t, h.notes.kinds(), "user_rejected")
	assert.Empty(t, h.records)
}

func TestMint_TransactionFailed(t *testing.T) {
	h := newHarness(t)
	h.balances.set(h.address(0), "25")
	h.connect(t)
	h.poller.status = solana.StatusFailed

	result, err := h.ctrl.Mint(context.Background())
	var failed *solana.TransactionFailedError
	assert.ErrorAs(t, err, &failed)
	require.NotNil(t, result.Outcome)
	assert.Equal(t, solana.StatusFailed, result.Outcome.Status)
	assert.Empty(t, h.records)
	assert.Nil(t, h.ctrl.Snapshot().Minted)
	assert.Contains(t, h.notes.kinds(), "transaction_failed")
}

func TestMint_TimedOutIsWarning(t *testing.T) {
	h := newHarness(t)
	h.balances.set(h.address(0), "25")
	h.connect(t)
	h.poller.status = solana.StatusTimedOut

	result, err := h.ctrl.Mint(context.Background())
	assert.ErrorIs(t, err, solana.ErrTimedOut)
	assert.Equal(t, solana.StatusTimedOut, result.Outcome.Status)

	var warned bool
	for _, n := range h.notes.all() {
		if n.Kind == "timed_out" {
			warned = n.Level == LevelWarning
		}
	}
	assert.True(t, warned, "timeout is reported as a warning")
	assert.Empty(t, h.records)
}

func TestMint_BuildError(t *testing.T) {
	h := newHarness(t)
	h.balances.set(h.address(0), "25")
	h.connect(t)
	h.builder.err = solana.ErrBlockhashFetch

	_, err := h.ctrl.Mint(context.Background())
	assert.ErrorIs(t, err, solana.ErrBlockhashFetch)
	assert.Zero(t, h.poller.submissions())
}

func TestMint_RecorderErrorDoesNotFailMint(t *testing.T) {
	h := newHarness(t, func(cfg *Config, deps *Deps) {
		deps.Recorder = MintRecorderFunc(func(ctx context.Context, rec MintRecord) error {
			return errors.New("backend down")
		})
	})
	h.balances.set(h.address(0), "25")
	h.connect(t)

	result, err := h.ctrl.Mint(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Outcome.Confirmed())
}

func TestMint_ConcurrentMintIsBusy(t *testing.T) {
	h := newHarness(t)
	h.balances.set(h.address(0), "25")
	h.connect(t)
	waitForBalance(t, h.ctrl, "25")

	started := make(chan struct{})
	release := make(chan struct{})
	h.balances.mu.Lock()
	h.balances.read = func(call int, owner solanago.PublicKey) (*solana.TokenBalanceSnapshot, error) {
		select {
		case <-started:
		default:
			close(started)
			<-release
		}
		return snapshot(owner, decimal.NewFromInt(25)), nil
	}
	h.balances.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Mint(context.Background())
		done <- err
	}()
	<-started

	_, err := h.ctrl.Mint(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	assert.NoError(t, <-done)
}

func TestTransfer_Success(t *testing.T) {
	h := newHarness(t)
	h.balances.set(h.address(0), "5")
	h.connect(t)
	to := solanago.NewWallet().PublicKey()

	result, err := h.ctrl.Transfer(context.Background(), to, decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.True(t, result.Outcome.Confirmed())

	require.Len(t, h.builder.transfers, 1)
	params := h.builder.transfers[0]
	assert.Equal(t, h.address(0), params.From)
	assert.Equal(t, to, params.To)
	assert.True(t, params.Amount.Equal(decimal.RequireFromString("1.5")))
	assert.Empty(t, h.records, "transfers are not recorded as mints")
}

func TestTransfer_InvalidAmount(t *testing.T) {
	h := newHarness(t)
	h.balances.set(h.address(0), "5")
	h.connect(t)

	_, err := h.ctrl.Transfer(context.Background(), solanago.NewWallet().PublicKey(), decimal.Zero)
	assert.ErrorIs(t, err, solana.ErrInvalidAmount)
	assert.Empty(t, h.builder.transfers)
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	h := newHarness(t)
	h.balances.set(h.address(0), "1")
	h.connect(t)

	_, err := h.ctrl.Transfer(context.Background(), solanago.NewWallet().PublicKey(), decimal.NewFromInt(2))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, h.builder.transfers)
}
