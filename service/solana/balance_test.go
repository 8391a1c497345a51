package solana

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTokenBalance_Existing(t *testing.T) {
	mock := &mockRPCClient{
		tokenBalance: &rpc.GetTokenAccountBalanceResult{
			Value: &rpc.UiTokenAmount{Amount: "12500000", Decimals: 6},
		},
	}
	reader := NewBalanceReader(newTestClient(mock))
	owner := newTestKey(t).PublicKey()
	mint := newTestKey(t).PublicKey()

	snapshot, err := reader.ReadTokenBalance(context.Background(), owner, mint, 6)

	require.NoError(t, err)
	assert.True(t, snapshot.Exists)
	assert.Equal(t, uint64(12_500_000), snapshot.RawAmount)
	assert.Equal(t, "12.5", snapshot.Amount.String())
	assert.InDelta(t, 12.5, snapshot.UIAmount(), 1e-9)
	assert.Equal(t, owner, snapshot.Owner)
	assert.False(t, snapshot.ReadAt.IsZero())
}

func TestReadTokenBalance_MissingAccountIsZero(t *testing.T) {
	mock := &mockRPCClient{
		tokenBalanceErr: &jsonrpc.RPCError{Code: -32602, Message: "Invalid param: could not find account"},
	}
	reader := NewBalanceReader(newTestClient(mock))

	snapshot, err := reader.ReadTokenBalance(context.Background(), newTestKey(t).PublicKey(), newTestKey(t).PublicKey(), 6)

	require.NoError(t, err)
	assert.False(t, snapshot.Exists)
	assert.True(t, snapshot.Amount.IsZero())
	assert.Equal(t, uint8(6), snapshot.Decimals)
}

func TestReadTokenBalance_TransportFailure(t *testing.T) {
	mock := &mockRPCClient{tokenBalanceErr: errors.New("dial tcp: connection refused")}
	reader := NewBalanceReader(newTestClient(mock))

	snapshot, err := reader.ReadTokenBalance(context.Background(), newTestKey(t).PublicKey(), newTestKey(t).PublicKey(), 6)

	assert.Nil(t, snapshot)
	assert.ErrorIs(t, err, ErrRPCUnavailable)
}

func TestReadTokenBalance_NodeError(t *testing.T) {
	mock := &mockRPCClient{tokenBalanceErr: &jsonrpc.RPCError{Code: -32602, Message: "Invalid param: not a Token account"}}
	reader := NewBalanceReader(newTestClient(mock))

	_, err := reader.ReadTokenBalance(context.Background(), newTestKey(t).PublicKey(), newTestKey(t).PublicKey(), 6)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRPCUnavailable)
	assert.Contains(t, err.Error(), "not a Token account")
}

func TestReadTokenBalance_NodeUnhealthy(t *testing.T) {
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
			reader := NewBalanceReader(newTestClient(&mockRPCClient{tokenBalanceErr: tt.err}))

			_, err := reader.ReadTokenBalance(context.Background(), newTestKey(t).PublicKey(), newTestKey(t).PublicKey(), 6)

			assert.ErrorIs(t, err, ErrRPCUnavailable)
		})
	}
}

func TestReadNativeBalance(t *testing.T) {
	mock := &mockRPCClient{lamports: 1_500_000_000}
	reader := NewBalanceReader(newTestClient(mock))

	lamports, err := reader.ReadNativeBalance(context.Background(), newTestKey(t).PublicKey())

	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), lamports)
}
