/**
 * @description
 * This file defines the core domain models for the wallet-service: users,
 * wallets, and the request/response types exchanged with the HTTP layer.
 * A wallet row is a local, read-optimized cache of the authoritative
 * (balance, stake) pair held by the remote chain node; it may transiently
 * diverge from the chain until the next reconciliation.
 *
 * @dependencies
 * - time: Standard Go library.
 * - github.com/google/uuid: For user ids and wallet addresses.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// GenesisWalletName is the name of the wallet created for every user during
// onboarding. Additional wallets carry user-chosen names, unique per user.
const GenesisWalletName = "Genesis Wallet"

// User represents an account holder. Escrow claims may create a minimal user
// inline (verified, KYC incomplete) when an unknown email claims funds.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Verified     bool      `json:"verified"`
	KYCCompleted bool      `json:"kyc_completed"`
	CreatedAt    time.Time `json:"created_at"`
}

// Eligible reports whether the user can be a direct transfer counterparty on
// the chain. Ineligible recipients are served through escrow instead.
func (u *User) Eligible() bool {
	return u != nil && u.Verified && u.KYCCompleted
}

// Wallet is the local cached record of a chain address. Balance and stake are
// authoritative on the remote ledger; local values are overwritten by the
// reconciler whenever drift is detected.
type Wallet struct {
	ID      uuid.UUID `json:"id"`
	UserID  uuid.UUID `json:"user_id"`
	Name    string    `json:"name"`
	Address string    `json:"address"`
	Balance float64   `json:"balance"`
	Stake   float64   `json:"stake"`
}

// CreateWalletRequest is the payload for creating a new named wallet.
type CreateWalletRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// SendRequest is the payload for a peer transfer. The authenticated caller
// must own the sender email's account.
type SendRequest struct {
	SenderEmail    string  `json:"sender_email"`
	RecipientEmail string  `json:"recipient_email"`
	Amount         float64 `json:"amount"`
}

// SendOutcome distinguishes the two settlement paths of a send: a confirmed
// chain transfer to a resident recipient, or a deferred escrow commitment.
type SendOutcome string

const (
	SendOutcomeTransferred SendOutcome = "transferred"
	SendOutcomeEscrowed    SendOutcome = "escrowed"
)

// SendResult reports what a send actually did.
type SendResult struct {
	Outcome       SendOutcome `json:"outcome"`
	LedgerTxID    string      `json:"tx_id,omitempty"`
	EscrowID      *uuid.UUID  `json:"escrow_id,omitempty"`
	SenderBalance float64     `json:"sender_balance"`
}

// MineRequest is the payload for a mining settlement.
type MineRequest struct {
	WalletAddress string  `json:"wallet_address"`
	Stake         float64 `json:"stake"`
}

// MineResult reports a settled mining operation. Simulated is true only when
// the configured availability fallback produced the reward instead of the
// chain node; callers must be able to tell the two apart.
type MineResult struct {
	WalletAddress string  `json:"wallet_address"`
	Reward        float64 `json:"reward"`
	BlockHash     string  `json:"block_hash"`
	NewBalance    float64 `json:"new_balance"`
	Stake         float64 `json:"stake"`
	Simulated     bool    `json:"simulated"`
}
