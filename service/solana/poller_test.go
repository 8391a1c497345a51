package solana

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signedTransfer builds and signs a transfer valid until lastValid.
func signedTransfer(t *testing.T, lastValid uint64) (*PendingTransaction, *SignedTransaction) {
	t.Helper()
	key := newTestKey(t)
	mock := &mockRPCClient{
		blockhash:   blockhashResult(testBlockhash(9), lastValid),
		accountInfo: &rpc.GetAccountInfoResult{Value: &rpc.Account{}},
	}
	pending, err := NewBuilder(newTestClient(mock)).BuildTransfer(context.Background(), TransferParams{
		From:     key.PublicKey(),
		To:       newTestKey(t).PublicKey(),
		Mint:     newTestKey(t).PublicKey(),
		Amount:   decimal.NewFromInt(1),
		Decimals: 6,
	})
	require.NoError(t, err)

	signWith(t, pending.Transaction, key)
	signed, err := pending.Seal(pending.Transaction)
	require.NoError(t, err)
	return pending, signed
}

func fastPoller(mock *mockRPCClient, attempts int) *Poller {
	return NewPoller(newTestClient(mock), PollerConfig{MaxAttempts: attempts, Interval: time.Millisecond})
}

func confirmedStatus(slot uint64) *rpc.SignatureStatusesResult {
	return &rpc.SignatureStatusesResult{Slot: slot, ConfirmationStatus: rpc.ConfirmationStatusConfirmed}
}

func TestSeal(t *testing.T) {
	pending, signed := signedTransfer(t, 100)

	assert.Equal(t, pending.RecentBlockhash, signed.RecentBlockhash)
	assert.Equal(t, uint64(100), signed.LastValidBlockHeight)
	assert.Equal(t, pending.Transaction.Signatures[0], signed.Signature)
	assert.NotEmpty(t, signed.Raw)

	inspected, err := Inspect(signed.Raw)
	require.NoError(t, err)
	assert.True(t, inspected.Signed)
	assert.Equal(t, pending.RecentBlockhash.String(), inspected.RecentBlockhash)
}

func TestSeal_RejectsRetargetedBlockhash(t *testing.T) {
	pending, _ := signedTransfer(t, 100)

	retargeted := *pending.Transaction
	retargeted.Message.RecentBlockhash = testBlockhash(3)

	_, err := pending.Seal(&retargeted)
	assert.ErrorIs(t, err, ErrStaleBlockhash)
}

func TestSeal_RejectsUnsigned(t *testing.T) {
	pending, _ := signedTransfer(t, 100)

	unsigned := *pending.Transaction
	unsigned.Signatures = nil

	_, err := pending.Seal(&unsigned)
	assert.Error(t, err)
}

func TestSubmitAndConfirm_Confirmed(t *testing.T) {
	_, signed := signedTransfer(t, 100)
	mock := &mockRPCClient{
		sendSig:  signed.Signature,
		heights:  []uint64{10},
		statuses: []*rpc.SignatureStatusesResult{nil, {Slot: 4, ConfirmationStatus: rpc.ConfirmationStatusProcessed}, confirmedStatus(5)},
	}

	outcome, err := fastPoller(mock, 30).SubmitAndConfirm(context.Background(), signed)

	require.NoError(t, err)
	assert.True(t, outcome.Confirmed())
	assert.Equal(t, StatusConfirmed, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, uint64(5), outcome.Slot)
	assert.Equal(t, signed.Signature, outcome.Signature)
	require.Len(t, mock.sent, 1)
	assert.Equal(t, signed.Raw, mock.sent[0])
	assert.Equal(t, 3, mock.count("GetSignatureStatuses"))
}

func TestConfirm_FinalizedCounts(t *testing.T) {
	_, signed := signedTransfer(t, 100)
	mock := &mockRPCClient{
		heights:  []uint64{10},
		statuses: []*rpc.SignatureStatusesResult{{Slot: 8, ConfirmationStatus: rpc.ConfirmationStatusFinalized}},
	}

	outcome, err := fastPoller(mock, 30).Confirm(context.Background(), signed, signed.Signature)

	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestConfirm_FailedStopsPolling(t *testing.T) {
	_, signed := signedTransfer(t, 100)
	mock := &mockRPCClient{
		heights: []uint64{10},
		statuses: []*rpc.SignatureStatusesResult{{
			Slot:               6,
			ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
			Err:                map[string]interface{}{"InstructionError": []interface{}{1, "InsufficientFunds"}},
		}},
	}

	outcome, err := fastPoller(mock, 30).Confirm(context.Background(), signed, signed.Signature)

	var failed *TransactionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, signed.Signature, failed.Signature)
	assert.Contains(t, failed.Detail, "InsufficientFunds")
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, 1, mock.count("GetSignatureStatuses"))
}

func TestConfirm_ExpiredIsNeverConfirmed(t *testing.T) {
	_, signed := signedTransfer(t, 100)
	mock := &mockRPCClient{
		heights:  []uint64{50, 101},
		statuses: []*rpc.SignatureStatusesResult{nil, confirmedStatus(5)},
	}

	outcome, err := fastPoller(mock, 30).Confirm(context.Background(), signed, signed.Signature)

	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Equal(t, StatusTimedOut, outcome.Status)
	assert.False(t, outcome.Confirmed())
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, 1, mock.count("GetSignatureStatuses"))
}

func TestConfirm_AttemptBudgetExhausted(t *testing.T) {
	_, signed := signedTransfer(t, 100)
	mock := &mockRPCClient{heights: []uint64{10}}

	outcome, err := fastPoller(mock, 3).Confirm(context.Background(), signed, signed.Signature)

	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Equal(t, StatusTimedOut, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, mock.count("GetSignatureStatuses"))
}

func TestConfirm_ContextCancelled(t *testing.T) {
	_, signed := signedTransfer(t, 100)
	mock := &mockRPCClient{heights: []uint64{10}}
	poller := NewPoller(newTestClient(mock), PollerConfig{MaxAttempts: 30, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := poller.Confirm(ctx, signed, signed.Signature)

	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Equal(t, StatusTimedOut, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestConfirm_TransientHeightErrorKeepsPolling(t *testing.T) {
	_, signed := signedTransfer(t, 100)
	mock := &mockRPCClient{
		heightErr: errors.New("rate limited"),
		statuses:  []*rpc.SignatureStatusesResult{nil, confirmedStatus(9)},
	}

	outcome, err := fastPoller(mock, 30).Confirm(context.Background(), signed, signed.Signature)

	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, outcome.Status)
	assert.Equal(t, 2, outcome.Attempts)
}

func TestSubmit_StaleBlockhash(t *testing.T) {
	_, signed := signedTransfer(t, 100)
	stale := *signed
	stale.RecentBlockhash = testBlockhash(2)
	mock := &mockRPCClient{sendSig: signed.Signature}

	_, err := fastPoller(mock, 30).Submit(context.Background(), &stale)

	assert.ErrorIs(t, err, ErrStaleBlockhash)
	assert.Equal(t, 0, mock.count("SendTransaction"))
}

func TestSubmitAndConfirm_PreflightRejected(t *testing.T) {
	_, signed := signedTransfer(t, 100)
	mock := &mockRPCClient{
		sendErr: &jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed: insufficient funds"},
	}

	outcome, err := fastPoller(mock, 30).SubmitAndConfirm(context.Background(), signed)

	var failed *TransactionFailedError
	require.ErrorAs(t, err, &failed)
	require.NotNil(t, outcome)
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, 0, mock.count("GetSignatureStatuses"))
}

func TestSubmitAndConfirm_SignatureVerificationRejected(t *testing.T) {
	_, signed := signedTransfer(t, 100)
	mock := &mockRPCClient{
		sendErr: &jsonrpc.RPCError{Code: -32003, Message: "Transaction signature verification failure"},
	}

	outcome, err := fastPoller(mock, 30).SubmitAndConfirm(context.Background(), signed)

	var failed *TransactionFailedError
	require.ErrorAs(t, err, &failed)
	require.NotNil(t, outcome)
	assert.Equal(t, StatusFailed, outcome.Status)
}

func TestSubmitAndConfirm_NodeErrorsAreNotRejections(t *testing.T) {
	tests := []struct {
		name string
		err  *jsonrpc.RPCError
	}{
		{name: "node behind", err: &jsonrpc.RPCError{Code: -32005, Message: "Node is behind by 120 slots"}},
		{name: "rate limited", err: &jsonrpc.RPCError{Code: 429, Message: "Too many requests"}},
		{name: "internal error", err: &jsonrpc.RPCError{Code: -32603, Message: "Internal error"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, signed := signedTransfer(t, 100)
			mock := &mockRPCClient{sendErr: tt.err}

			outcome, err := fastPoller(mock, 30).SubmitAndConfirm(context.Background(), signed)

			assert.Nil(t, outcome)
			assert.ErrorIs(t, err, ErrRPCUnavailable)
			var failed *TransactionFailedError
			assert.False(t, errors.As(err, &failed))
			assert.Equal(t, 0, mock.count("GetSignatureStatuses"))
		})
	}
}

func TestSubmitAndConfirm_Unreachable(t *testing.T) {
	_, signed := signedTransfer(t, 100)
	mock := &mockRPCClient{sendErr: errors.New("dial tcp: i/o timeout")}

	outcome, err := fastPoller(mock, 30).SubmitAndConfirm(context.Background(), signed)

	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, ErrRPCUnavailable)
}

func TestTransactionFailedError_Message(t *testing.T) {
	err := &TransactionFailedError{Detail: "simulation failed"}
	assert.Equal(t, "transaction rejected: simulation failed", err.Error())

	sig := solana.Signature{1}
	err = &TransactionFailedError{Signature: sig, Detail: "boom"}
	assert.Contains(t, err.Error(), sig.String())
}
