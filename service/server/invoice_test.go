package server

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"net/url"
	"strings"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/brojonat/mintpass/service/config"
	"github.com/brojonat/mintpass/service/solana"
)

func testConfig() *config.Config {
	return &config.Config{
		Network:         config.NetworkDevnet,
		USDCMintAddress: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		TreasuryAddress: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		MintPrice:       decimal.NewFromInt(10),
		TokenDecimals:   6,
	}
}

// TestNewMintInvoice tests basic invoice generation for the configured mint price.
func TestNewMintInvoice(t *testing.T) {
	cfg := testConfig()

	beforeGeneration := time.Now()
	invoice, err := NewMintInvoice(cfg)
	afterGeneration := time.Now()
	if err != nil {
		t.Fatalf("NewMintInvoice failed: %v", err)
	}

	if invoice.ID == "" {
		t.Error("ID should not be empty")
	}

	// Memo binds the payment to the request ID
	if invoice.Memo != solana.MintMemo(invoice.ID) {
		t.Errorf("Expected Memo %q, got %q", solana.MintMemo(invoice.ID), invoice.Memo)
	}

	if invoice.Amount != "10.000000" {
		t.Errorf("Expected Amount %q, got %q", "10.000000", invoice.Amount)
	}
	if invoice.RawAmount != 10_000_000 {
		t.Errorf("Expected RawAmount %d, got %d", 10_000_000, invoice.RawAmount)
	}

	if invoice.PayToAddress != cfg.TreasuryAddress {
		t.Errorf("Expected PayToAddress %q, got %q", cfg.TreasuryAddress, invoice.PayToAddress)
	}
	if invoice.TokenMint != cfg.USDCMintAddress {
		t.Errorf("Expected TokenMint %q, got %q", cfg.USDCMintAddress, invoice.TokenMint)
	}
	if invoice.Network != "devnet" {
		t.Errorf("Expected Network %q, got %q", "devnet", invoice.Network)
	}

	if _, err := solanago.PublicKeyFromBase58(invoice.Reference); err != nil {
		t.Errorf("Reference should be a public key: %v", err)
	}

	if !strings.Contains(invoice.PaymentURL, cfg.USDCMintAddress) {
		t.Errorf("PaymentURL should contain token mint %q", cfg.USDCMintAddress)
	}
	if !strings.Contains(invoice.PaymentURL, "reference="+invoice.Reference) {
		t.Error("PaymentURL should contain reference parameter")
	}

	if invoice.QRCodeData == "" {
		t.Error("QRCodeData should not be empty")
	}
	if _, err := base64.StdEncoding.DecodeString(invoice.QRCodeData); err != nil {
		t.Errorf("QRCodeData should be valid base64: %v", err)
	}

	if invoice.CreatedAt.Before(beforeGeneration.UTC().Add(-time.Millisecond)) || invoice.CreatedAt.After(afterGeneration.UTC().Add(time.Millisecond)) {
		t.Error("CreatedAt timestamp should be between test start and end")
	}
}

// TestNewMintInvoice_Unique tests that each invoice has its own ID and reference.
func TestNewMintInvoice_Unique(t *testing.T) {
	cfg := testConfig()

	a, err := NewMintInvoice(cfg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewMintInvoice(cfg)
	if err != nil {
		t.Fatal(err)
	}

	if a.ID == b.ID {
		t.Error("invoices should have distinct IDs")
	}
	if a.Reference == b.Reference {
		t.Error("invoices should have distinct references")
	}
}

// TestNewMintInvoice_PriceTooPrecise tests that a price finer than the mint's decimals is rejected.
func TestNewMintInvoice_PriceTooPrecise(t *testing.T) {
	cfg := testConfig()
	cfg.TokenDecimals = 2
	cfg.MintPrice = decimal.RequireFromString("1.005")

	if _, err := NewMintInvoice(cfg); err == nil {
		t.Error("expected an error for a price with more than 2 decimals")
	}
}

// TestBuildSolanaPayURL tests Solana Pay URL generation.
func TestBuildSolanaPayURL(t *testing.T) {
	recipient := "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	usdcMint := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	reference := "82ZJ7nbGpixjeDCmEhUcmwXYfvurzAgGdtSMuHnUgyny"
	memo := "mintpass:test-invoice-123"

	paymentURL := buildSolanaPayURL(recipient, "2.500000", usdcMint, reference, memo)

	if !strings.HasPrefix(paymentURL, "solana:"+recipient+"?") {
		t.Fatalf("Expected URL format solana:recipient?params, got %q", paymentURL)
	}

	parts := strings.SplitN(strings.TrimPrefix(paymentURL, "solana:"), "?", 2)
	params, err := url.ParseQuery(parts[1])
	if err != nil {
		t.Fatalf("Failed to parse URL params: %v", err)
	}

	expected := map[string]string{
		"amount":    "2.500000",
		"spl-token": usdcMint,
		"reference": reference,
		"memo":      memo,
		"label":     invoiceLabel,
		"message":   invoiceMessage,
	}
	for key, want := range expected {
		if got := params.Get(key); got != want {
			t.Errorf("Expected %s=%q, got %q", key, want, got)
		}
	}
}

// TestGenerateQRCode tests QR code generation.
func TestGenerateQRCode(t *testing.T) {
	qrCodeData, err := generateQRCode("solana:TestWallet?amount=1.0&memo=test")
	if err != nil {
		t.Fatalf("generateQRCode failed: %v", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(qrCodeData)
	if err != nil {
		t.Fatalf("QR code should be valid base64: %v", err)
	}

	if _, err := png.Decode(bytes.NewReader(decoded)); err != nil {
		t.Errorf("QR code should be valid PNG image: %v", err)
	}
}

// TestGenerateQRCode_DifferentURLsProduceDifferentCodes tests that different URLs produce different QR codes.
func TestGenerateQRCode_DifferentURLsProduceDifferentCodes(t *testing.T) {
	qr1, err1 := generateQRCode("solana:Wallet1?amount=1.0")
	qr2, err2 := generateQRCode("solana:Wallet2?amount=2.0")

	if err1 != nil || err2 != nil {
		t.Fatalf("QR generation failed: err1=%v, err2=%v", err1, err2)
	}

	if qr1 == qr2 {
		t.Error("Different URLs should produce different QR codes")
	}
}
