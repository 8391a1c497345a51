package nats

import (
	"time"

	"github.com/brojonat/mintpass/service/db"
)

// MintEvent announces a confirmed mint payment.
// This is published to the subject "mints.{owner_address}" in JetStream.
type MintEvent struct {
	RequestID string `json:"request_id"`
	Signature string `json:"signature"`
	Slot      int64  `json:"slot"`

	OwnerAddress string `json:"owner_address"`
	Network      string `json:"network"`

	TokenMint string `json:"token_mint"`
	Amount    int64  `json:"amount"`

	ConfirmedAt time.Time `json:"confirmed_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromMintReceipt converts a stored receipt to a MintEvent for publishing.
func FromMintReceipt(r *db.MintReceipt) *MintEvent {
	return &MintEvent{
		RequestID:    r.RequestID,
		Signature:    r.Signature,
		Slot:         r.Slot,
		OwnerAddress: r.OwnerAddress,
		Network:      r.Network,
		TokenMint:    r.TokenMint,
		Amount:       r.Amount,
		ConfirmedAt:  r.ConfirmedAt,
		PublishedAt:  time.Now().UTC(),
	}
}
