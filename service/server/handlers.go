package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/brojonat/mintpass/service/controller"
	"github.com/brojonat/mintpass/service/db"
	"github.com/brojonat/mintpass/service/solana"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 100     // Solana addresses are 32-44 chars, give buffer
	defaultListLimit   = 50
	maxListLimit       = 500
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleGetSession returns the current session snapshot.
// GET /api/v1/session
func handleGetSession(ctrl SessionController) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, snapshotToResponse(ctrl.Snapshot()), http.StatusOK)
	})
}

// handleConnect connects a wallet provider.
// POST /api/v1/session/connect {"provider": "keypair"}
func handleConnect(ctrl SessionController, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Provider string `json:"provider"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}
		if strings.TrimSpace(req.Provider) == "" {
			writeError(w, "provider is required", http.StatusBadRequest)
			return
		}

		if err := ctrl.Connect(r.Context(), req.Provider); err != nil {
			logger.InfoContext(r.Context(), "connect failed", "provider", req.Provider, "error", err)
			writeControllerError(w, err)
			return
		}

		writeJSON(w, snapshotToResponse(ctrl.Snapshot()), http.StatusOK)
	})
}

// handleDisconnect ends the session.
// POST /api/v1/session/disconnect
func handleDisconnect(ctrl SessionController, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := ctrl.Disconnect(r.Context()); err != nil {
			logger.ErrorContext(r.Context(), "disconnect failed", "error", err)
			writeControllerError(w, err)
			return
		}
		writeJSON(w, snapshotToResponse(ctrl.Snapshot()), http.StatusOK)
	})
}

// handleGetBalance returns the last applied balance without reading the chain.
// GET /api/v1/balance
func handleGetBalance(ctrl SessionController) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := ctrl.Snapshot()
		if snap.State != controller.StateConnected {
			writeControllerError(w, controller.ErrNotConnected)
			return
		}
		if snap.Balance == nil {
			writeError(w, "balance not loaded yet", http.StatusNotFound)
			return
		}
		writeJSON(w, balanceToResponse(snap.Balance), http.StatusOK)
	})
}

// handleRefreshBalance reads the balance from the chain.
// POST /api/v1/balance/refresh
func handleRefreshBalance(ctrl SessionController, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		balance, err := ctrl.RefreshBalance(r.Context())
		if err != nil {
			logger.InfoContext(r.Context(), "balance refresh failed", "error", err)
			writeControllerError(w, err)
			return
		}
		writeJSON(w, balanceToResponse(balance), http.StatusOK)
	})
}

// handleMint pays the mint price from the connected wallet.
// POST /api/v1/mint
func handleMint(ctrl SessionController, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := ctrl.Mint(r.Context())
		if err != nil {
			logger.InfoContext(r.Context(), "mint failed", "error", err)
			writePaymentError(w, result, err)
			return
		}
		writeJSON(w, paymentToResponse(result), http.StatusOK)
	})
}

// handleTransfer sends payment tokens from the connected wallet.
// POST /api/v1/transfer {"to": "<address>", "amount": "1.5"}
func handleTransfer(ctrl SessionController, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			To     string `json:"to"`
			Amount string `json:"amount"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		if err := validateAddress(req.To); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		to, err := solanago.PublicKeyFromBase58(req.To)
		if err != nil {
			writeError(w, "to is not a valid public key", http.StatusBadRequest)
			return
		}
		amount, err := solana.ParseAmount(req.Amount)
		if err != nil {
			writeControllerError(w, err)
			return
		}

		result, err := ctrl.Transfer(r.Context(), to, amount)
		if err != nil {
			logger.InfoContext(r.Context(), "transfer failed", "to", req.To, "error", err)
			writePaymentError(w, result, err)
			return
		}
		writeJSON(w, paymentToResponse(result), http.StatusOK)
	})
}

// handleListMints lists stored mint receipts for an owner.
// GET /api/v1/mints/{owner}?limit={limit}
func handleListMints(receipts ReceiptLister, network string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.PathValue("owner")
		if err := validateAddress(owner); err != nil {
			logger.Debug("invalid address", "address", owner, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit := int32(defaultListLimit)
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			parsed, err := strconv.Atoi(limitStr)
			if err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsed < 1 || parsed > maxListLimit {
				writeError(w, fmt.Sprintf("limit must be between 1 and %d", maxListLimit), http.StatusBadRequest)
				return
			}
			limit = int32(parsed)
		}

		list, err := receipts.ListMintsByOwner(r.Context(), owner, network, limit)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list mints", "owner", owner, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]receiptResponse, len(list))
		for i, rec := range list {
			resp[i] = receiptToResponse(rec)
		}
		writeJSON(w, map[string]interface{}{
			"owner":   owner,
			"network": network,
			"mints":   resp,
			"count":   len(resp),
		}, http.StatusOK)
	})
}

// decodeBody decodes a size-limited JSON body. An empty body decodes to the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	logger.Debug("failed to decode request", "error", err)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
		return false
	}
	writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
	return false
}

// sessionResponse is the JSON response format for a session snapshot.
type sessionResponse struct {
	State       string           `json:"state"`
	Provider    string           `json:"provider,omitempty"`
	Address     string           `json:"address,omitempty"`
	ConnectedAt *time.Time       `json:"connected_at,omitempty"`
	Balance     *balanceResponse `json:"balance,omitempty"`
	Minted      *bool            `json:"minted,omitempty"`
	Busy        bool             `json:"busy"`
}

func snapshotToResponse(s controller.Snapshot) sessionResponse {
	resp := sessionResponse{State: string(s.State), Minted: s.Minted, Busy: s.Busy}
	if s.Session != nil {
		resp.Provider = s.Session.ProviderName
		resp.Address = s.Session.Address.String()
		connectedAt := s.Session.ConnectedAt
		resp.ConnectedAt = &connectedAt
	}
	if s.Balance != nil {
		b := balanceToResponse(s.Balance)
		resp.Balance = &b
	}
	return resp
}

// balanceResponse is the JSON response format for a token balance.
type balanceResponse struct {
	Owner        string    `json:"owner"`
	Mint         string    `json:"mint"`
	TokenAccount string    `json:"token_account"`
	Amount       string    `json:"amount"`
	RawAmount    uint64    `json:"raw_amount"`
	Decimals     uint8     `json:"decimals"`
	Exists       bool      `json:"exists"`
	ReadAt       time.Time `json:"read_at"`
}

func balanceToResponse(b *solana.TokenBalanceSnapshot) balanceResponse {
	return balanceResponse{
		Owner:        b.Owner.String(),
		Mint:         b.Mint.String(),
		TokenAccount: b.TokenAccount.String(),
		Amount:       b.Amount.String(),
		RawAmount:    b.RawAmount,
		Decimals:     b.Decimals,
		Exists:       b.Exists,
		ReadAt:       b.ReadAt,
	}
}

// paymentResponse is the JSON response format for a mint or transfer.
type paymentResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Signature string `json:"signature,omitempty"`
	Status    string `json:"status,omitempty"`
	Slot      uint64 `json:"slot,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

func paymentToResponse(p *controller.PaymentResult) paymentResponse {
	var resp paymentResponse
	if p == nil {
		return resp
	}
	resp.RequestID = p.RequestID
	if o := p.Outcome; o != nil {
		if o.Signature != (solanago.Signature{}) {
			resp.Signature = o.Signature.String()
		}
		resp.Status = string(o.Status)
		resp.Slot = o.Slot
		resp.Attempts = o.Attempts
	}
	return resp
}

// receiptResponse is the JSON response format for a stored mint receipt.
type receiptResponse struct {
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

func receiptToResponse(r *db.MintReceipt) receiptResponse {
	return receiptResponse{
		RequestID:   r.RequestID,
		Owner:       r.OwnerAddress,
		Network:     r.Network,
		Signature:   r.Signature,
		TokenMint:   r.TokenMint,
		Amount:      r.Amount,
		Slot:        r.Slot,
		Memo:        r.Memo,
		ConfirmedAt: r.ConfirmedAt,
		CreatedAt:   r.CreatedAt,
	}
}

// statusForKind maps an error taxonomy name to an HTTP status.
func statusForKind(kind string) int {
	switch kind {
	case "invalid_amount":
		return http.StatusBadRequest
	case "insufficient_balance":
		return http.StatusPaymentRequired
	case "user_rejected":
		return http.StatusForbidden
	case "provider_not_found":
		return http.StatusNotFound
	case "not_connected", "already_connected", "busy", "stale_blockhash":
		return http.StatusConflict
	case "transaction_failed":
		return http.StatusUnprocessableEntity
	case "provider_error", "network_mismatch":
		return http.StatusBadGateway
	case "rpc_unavailable", "blockhash_fetch", "canceled":
		return http.StatusServiceUnavailable
	case "timed_out":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeControllerError writes an error with its taxonomy kind.
func writeControllerError(w http.ResponseWriter, err error) {
	kind := controller.Kind(err)
	writeJSON(w, map[string]string{
		"error": err.Error(),
		"kind":  kind,
	}, statusForKind(kind))
}

// writePaymentError writes a payment error together with whatever outcome exists,
// so a timed-out payment still reports its signature.
func writePaymentError(w http.ResponseWriter, result *controller.PaymentResult, err error) {
	resp := paymentToResponse(result)
	resp.Kind = controller.Kind(err)
	resp.Error = err.Error()
	writeJSON(w, resp, statusForKind(resp.Kind))
}

// validateAddress validates a wallet address for format.
func validateAddress(address string) error {
	if address == "" {
		return errors.New("address is required")
	}
	if len(address) > maxAddressLength {
		return fmt.Errorf("address too long: maximum length is %d characters", maxAddressLength)
	}
	if !validAddressRegex.MatchString(address) {
		return errors.New("address contains invalid characters: must be base58")
	}
	return nil
}
