package app

import (
	"time"

	"github.com/google/uuid"
)

// EventExchange is the topic exchange notification events are published to.
// The notification service owns turning these into emails.
const EventExchange = "wallet.events"

type transferEvent struct {
	TxID           string  `json:"tx_id"`
	SenderEmail    string  `json:"sender_email"`
	RecipientEmail string  `json:"recipient_email"`
	Amount         float64 `json:"amount"`
}

type escrowEvent struct {
	EscrowID       uuid.UUID `json:"escrow_id"`
	SenderEmail    string    `json:"sender_email,omitempty"`
	RecipientEmail string    `json:"recipient_email,omitempty"`
	Amount         float64   `json:"amount"`
	Code           string    `json:"code,omitempty"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`
	LedgerTxID     string    `json:"tx_id,omitempty"`
}
