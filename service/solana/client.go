package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/mintpass/service/metrics"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// Client is the shared handle on one JSON-RPC endpoint. The balance reader,
// transaction builder and confirmation poller all borrow it read-only.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string        // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet")
	timeout  time.Duration // per-call timeout, zero means none
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
		timeout:  timeout,
	}
}

// withTimeout bounds a single RPC call.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// record reports one RPC call to metrics.
func (c *Client) record(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

// JSON-RPC error codes returned by Solana nodes.
const (
	codeInternalError         = -32603
	codeSimulationFailed      = -32002
	codeSignatureVerification = -32003
	codeBlockNotAvailable     = -32004
	codeNodeUnhealthy         = -32005
	codeTooManyRequests       = 429
)

// isPreflightRejection reports whether the node refused a transaction
// after simulating or verifying it.
func isPreflightRejection(code int) bool {
	return code == codeSimulationFailed || code == codeSignatureVerification
}

// isNodeUnavailable reports whether the node answered but cannot serve
// requests right now.
func isNodeUnavailable(code int) bool {
	switch code {
	case codeInternalError, codeBlockNotAvailable, codeNodeUnhealthy, codeTooManyRequests:
		return true
	}
	return false
}

// classify maps a failed RPC call onto the error taxonomy. Node health and
// throttling errors, transport failures and timeouts mean the endpoint could
// not serve the call; other node-reported errors keep their message.
func classify(method string, err error) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) && !isNodeUnavailable(rpcErr.Code) {
		return fmt.Errorf("%s: %w", method, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrRPCUnavailable, method, err)
}

// isAccountNotFound reports whether err means the queried account does not exist on-chain.
func isAccountNotFound(err error) bool {
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return strings.Contains(strings.ToLower(rpcErr.Message), "could not find account")
	}
	return false
}
