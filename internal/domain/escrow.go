/**
 * @description
 * Escrow domain model: a sender-funded, time-boxed, code-gated pending
 * transfer to a recipient who had no resolvable wallet at creation time.
 * The amount is debited from the sender when the escrow is created and is
 * either credited to the claimant's wallet (Claimed) or refunded to the
 * sender (Expired). Both end states are terminal.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Escrow status values. Pending is the only initial state; Claimed and
// Expired are terminal and an escrow is refunded at most once.
const (
	EscrowStatusPending = "Pending"
	EscrowStatusClaimed = "Claimed"
	EscrowStatusExpired = "Expired"
)

// Escrow holds funds committed to a recipient identified only by email.
type Escrow struct {
	ID             uuid.UUID `json:"id"`
	SenderID       uuid.UUID `json:"sender_id"`
	RecipientEmail string    `json:"recipient_email"`
	Amount         float64   `json:"amount"`
	Code           string    `json:"-"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ExpiredAt reports whether the escrow's claim window has closed at now.
func (e *Escrow) ExpiredAt(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// ClaimEscrowRequest is the payload for claiming an escrow with its one-time
// code. No authentication is required; possession of the code is the gate.
type ClaimEscrowRequest struct {
	Code  string `json:"code"`
	Email string `json:"email"`
}

// EscrowClaimResult reports a successful claim, including the chain
// transaction that backs the credited funds.
type EscrowClaimResult struct {
	EscrowID         uuid.UUID `json:"escrow_id"`
	SenderAddress    string    `json:"sender_address"`
	RecipientAddress string    `json:"recipient_address"`
	Amount           float64   `json:"amount"`
	LedgerTxID       string    `json:"tx_id"`
}

// EscrowRefund reports a single expiry refund, carrying what the notifier
// needs to tell the sender.
type EscrowRefund struct {
	EscrowID      uuid.UUID `json:"escrow_id"`
	SenderID      uuid.UUID `json:"sender_id"`
	SenderEmail   string    `json:"sender_email"`
	SenderAddress string    `json:"sender_address"`
	Amount        float64   `json:"amount"`
}
