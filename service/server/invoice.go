package server

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/brojonat/mintpass/service/config"
	"github.com/brojonat/mintpass/service/solana"
)

const (
	invoiceLabel   = "Mintpass"
	invoiceMessage = "NFT mint payment"
)

// Invoice describes a mint payment that any Solana Pay wallet can complete,
// for payers who are not driving a connected session.
type Invoice struct {
	ID           string    `json:"id"`             // Request ID (UUID)
	PayToAddress string    `json:"pay_to_address"` // Treasury wallet
	Network      string    `json:"network"`
	Amount       string    `json:"amount"`     // Human-scaled token amount
	RawAmount    uint64    `json:"raw_amount"` // Token base units
	TokenMint    string    `json:"token_mint"`
	Reference    string    `json:"reference"` // Solana Pay reference key for locating the payment
	Memo         string    `json:"memo"`
	PaymentURL   string    `json:"payment_url"`  // Solana Pay URL for wallet apps
	QRCodeData   string    `json:"qr_code_data"` // Base64 encoded QR code image
	CreatedAt    time.Time `json:"created_at"`
}

// NewMintInvoice creates an invoice for one mint at the configured price.
func NewMintInvoice(cfg *config.Config) (Invoice, error) {
	raw, err := solana.ToRawAmount(cfg.MintPrice, cfg.TokenDecimals)
	if err != nil {
		return Invoice{}, err
	}

	id := uuid.New().String()
	reference := solanago.NewWallet().PublicKey().String()
	memo := solana.MintMemo(id)
	amount := cfg.MintPrice.StringFixed(int32(cfg.TokenDecimals))

	paymentURL := buildSolanaPayURL(cfg.TreasuryAddress, amount, cfg.USDCMintAddress, reference, memo)

	// QR code is optional
	qrCodeData, err := generateQRCode(paymentURL)
	if err != nil {
		qrCodeData = ""
	}

	return Invoice{
		ID:           id,
		PayToAddress: cfg.TreasuryAddress,
		Network:      cfg.Network,
		Amount:       amount,
		RawAmount:    raw,
		TokenMint:    cfg.USDCMintAddress,
		Reference:    reference,
		Memo:         memo,
		PaymentURL:   paymentURL,
		QRCodeData:   qrCodeData,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// handleMintInvoice returns a fresh mint invoice.
// GET /api/v1/mint/invoice
func handleMintInvoice(cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		invoice, err := NewMintInvoice(cfg)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create invoice", "error", err)
			writeError(w, "failed to create invoice", http.StatusInternalServerError)
			return
		}
		writeJSON(w, invoice, http.StatusOK)
	})
}

// buildSolanaPayURL creates a Solana Pay transfer request URL.
// Format: solana:{recipient}?amount={amount}&spl-token={mint}&reference={ref}&label={label}&message={message}&memo={memo}
func buildSolanaPayURL(recipient, amount, tokenMint, reference, memo string) string {
	params := url.Values{}
	params.Set("amount", amount)
	params.Set("spl-token", tokenMint)
	params.Set("reference", reference)
	params.Set("label", invoiceLabel)
	params.Set("message", invoiceMessage)
	params.Set("memo", memo)

	return fmt.Sprintf("solana:%s?%s", recipient, params.Encode())
}

// generateQRCode creates a QR code image from a payment URL and returns it as base64-encoded PNG.
func generateQRCode(data string) (string, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code as PNG: %w", err)
	}

	return base64.StdEncoding.EncodeToString(png), nil
}
