package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Session is the wallet session state reported by the server.
type Session struct {
	State       string     `json:"state"` // disconnected, connecting, connected, reconnecting
	Provider    string     `json:"provider,omitempty"`
	Address     string     `json:"address,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Balance     *Balance   `json:"balance,omitempty"`
	Minted      *bool      `json:"minted,omitempty"`
	Busy        bool       `json:"busy"`
}

// Balance is a payment token balance read from the chain.
type Balance struct {
	Owner        string          `json:"owner"`
	Mint         string          `json:"mint"`
	TokenAccount string          `json:"token_account"`
	Amount       decimal.Decimal `json:"amount"`
	RawAmount    uint64          `json:"raw_amount"`
	Decimals     uint8           `json:"decimals"`
	Exists       bool            `json:"exists"`
	ReadAt       time.Time       `json:"read_at"`
}

// Payment is the result of a mint or transfer.
type Payment struct {
	RequestID string `json:"request_id,omitempty"`
	Signature string `json:"signature,omitempty"`
	Status    string `json:"status,omitempty"` // confirmed, failed, timed_out
	Slot      uint64 `json:"slot,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
}

// Invoice is a Solana Pay request for one mint.
type Invoice struct {
	ID           string    `json:"id"`
	PayToAddress string    `json:"pay_to_address"`
	Network      string    `json:"network"`
	Amount       string    `json:"amount"`
	RawAmount    uint64    `json:"raw_amount"`
	TokenMint    string    `json:"token_mint"`
	Reference    string    `json:"reference"`
	Memo         string    `json:"memo"`
	PaymentURL   string    `json:"payment_url"`
	QRCodeData   string    `json:"qr_code_data"`
	CreatedAt    time.Time `json:"created_at"`
}

// Receipt is a stored record of a confirmed mint.
type Receipt struct {
	RequestID   string    `json:"request_id"`
	Owner       string    `json:"owner"`
	Network     string    `json:"network"`
	Signature   string    `json:"signature"`
	TokenMint   string    `json:"token_mint"`
	Amount      int64     `json:"amount"`
	Slot        int64     `json:"slot"`
	Memo        *string   `json:"memo,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// APIError is a non-2xx response from the server. For payments the server
// still reports whatever it knows about the transaction, so Payment may be set.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
	Payment    *Payment
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("request failed (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("request failed: %s", e.Message)
}

// Client is the HTTP client for the mintpass session API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new session API client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		// Mint and transfer block until on-chain confirmation.
		httpClient = &http.Client{Timeout: 3 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Health checks the server's liveness endpoint. Any status other than 200 is
// returned as an *APIError.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unhealthy status: %d", resp.StatusCode),
		}
	}
	return nil
}

// Session returns the current session state.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodGet, "/api/v1/session", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Connect connects the named wallet provider.
func (c *Client) Connect(ctx context.Context, provider string) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/session/connect", map[string]string{"provider": provider}, &s); err != nil {
		return nil, err
	}
	c.logger.Debug("wallet connected", "provider", provider, "address", s.Address)
	return &s, nil
}

// Disconnect ends the current session.
func (c *Client) Disconnect(ctx context.Context) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/session/disconnect", nil, &s); err != nil {
		return nil, err
	}
	c.logger.Debug("wallet disconnected")
	return &s, nil
}

// Balance returns the last balance the server read.
func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	var b Balance
	if err := c.do(ctx, http.MethodGet, "/api/v1/balance", nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// RefreshBalance makes the server read the balance from the chain.
func (c *Client) RefreshBalance(ctx context.Context) (*Balance, error) {
	var b Balance
	if err := c.do(ctx, http.MethodPost, "/api/v1/balance/refresh", nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Mint pays the mint price and waits for confirmation.
func (c *Client) Mint(ctx context.Context) (*Payment, error) {
	var p Payment
	if err := c.do(ctx, http.MethodPost, "/api/v1/mint", nil, &p); err != nil {
		return nil, err
	}
	c.logger.Debug("mint confirmed", "request_id", p.RequestID, "signature", p.Signature)
	return &p, nil
}

// Transfer sends amount payment tokens to the recipient and waits for confirmation.
func (c *Client) Transfer(ctx context.Context, to string, amount decimal.Decimal) (*Payment, error) {
	body := map[string]string{
		"to":     to,
		"amount": amount.String(),
	}
	var p Payment
	if err := c.do(ctx, http.MethodPost, "/api/v1/transfer", body, &p); err != nil {
		return nil, err
	}
	c.logger.Debug("transfer confirmed", "to", to, "amount", amount, "signature", p.Signature)
	return &p, nil
}

// Invoice requests a Solana Pay invoice for one mint.
func (c *Client) Invoice(ctx context.Context) (*Invoice, error) {
	var inv Invoice
	if err := c.do(ctx, http.MethodGet, "/api/v1/mint/invoice", nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListMints lists stored mint receipts for an owner. A limit of zero uses the server default.
func (c *Client) ListMints(ctx context.Context, owner string, limit int) ([]*Receipt, error) {
	path := "/api/v1/mints/" + url.PathEscape(owner)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var response struct {
		Mints []*Receipt `json:"mints"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	return response.Mints, nil
}

// do sends a JSON request and decodes a 200 response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Payment
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    errResp.Error,
		Kind:       errResp.Kind,
	}
	if errResp.Signature != "" || errResp.RequestID != "" {
		p := errResp.Payment
		apiErr.Payment = &p
	}
	return apiErr
}
