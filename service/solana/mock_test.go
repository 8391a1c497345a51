package solana

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	mu sync.Mutex

	blockhash    *rpc.GetLatestBlockhashResult
	blockhashErr error

	lamports uint64

	tokenBalance    *rpc.GetTokenAccountBalanceResult
	tokenBalanceErr error

	accountInfo    *rpc.GetAccountInfoResult
	accountInfoErr error

	sendSig solana.Signature
	sendErr error
	sent    [][]byte

	// statuses are returned in order, the last one repeating.
	statuses  []*rpc.SignatureStatusesResult
	statusErr error
	statusIdx int

	// heights are returned in order, the last one repeating.
	heights   []uint64
	heightErr error
	heightIdx int

	genesis    solana.Hash
	genesisErr error

	calls map[string]int
}

func (m *mockRPCClient) called(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[method]++
}

func (m *mockRPCClient) count(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *mockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	m.called("GetLatestBlockhash")
	if m.blockhashErr != nil {
		return nil, m.blockhashErr
	}
	return m.blockhash, nil
}

func (m *mockRPCClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	m.called("GetBalance")
	return &rpc.GetBalanceResult{Value: m.lamports}, nil
}

func (m *mockRPCClient) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	m.called("GetTokenAccountBalance")
	if m.tokenBalanceErr != nil {
		return nil, m.tokenBalanceErr
	}
	return m.tokenBalance, nil
}

func (m *mockRPCClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	m.called("GetAccountInfo")
	if m.accountInfoErr != nil {
		return nil, m.accountInfoErr
	}
	return m.accountInfo, nil
}

func (m *mockRPCClient) SendRawTransactionWithOpts(ctx context.Context, raw []byte, opts rpc.TransactionOpts) (solana.Signature, error) {
	m.called("SendTransaction")
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	m.mu.Lock()
	m.sent = append(m.sent, raw)
	m.mu.Unlock()
	return m.sendSig, nil
}

func (m *mockRPCClient) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	m.called("GetSignatureStatuses")
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.statuses) == 0 {
		return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}, nil
	}
	status := m.statuses[min(m.statusIdx, len(m.statuses)-1)]
	m.statusIdx++
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{status}}, nil
}

func (m *mockRPCClient) GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	m.called("GetBlockHeight")
	if m.heightErr != nil {
		return 0, m.heightErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.heights) == 0 {
		return 0, nil
	}
	height := m.heights[min(m.heightIdx, len(m.heights)-1)]
	m.heightIdx++
	return height, nil
}

func (m *mockRPCClient) GetGenesisHash(ctx context.Context) (solana.Hash, error) {
	m.called("GetGenesisHash")
	if m.genesisErr != nil {
		return solana.Hash{}, m.genesisErr
	}
	return m.genesis, nil
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(mock, "test", 0, nil, logger)
}

func newTestKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func testBlockhash(b byte) solana.Hash {
	var h solana.Hash
	h[0] = b
	h[31] = b
	return h
}

func blockhashResult(h solana.Hash, lastValid uint64) *rpc.GetLatestBlockhashResult {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            h,
			LastValidBlockHeight: lastValid,
		},
	}
}

// signWith signs every required signature with key.
func signWith(t *testing.T, tx *solana.Transaction, key solana.PrivateKey) {
	t.Helper()
	_, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(key.PublicKey()) {
			return &key
		}
		return nil
	})
	require.NoError(t, err)
}
