/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the wallet-service needs. The interface decouples the settlement and
 * escrow logic from PostgreSQL and lets tests substitute in-memory stubs.
 *
 * The multi-row operations (transfer, mining settlement, escrow claim and
 * expiry) are exposed as single atomic methods rather than as primitive
 * reads and writes: partial application of a paired mutation is the central
 * correctness risk, so atomicity lives at the repository boundary.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For ids.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nilotic/wallet-service/internal/domain"
)

// LedgerSubmit submits the chain transfer that must back an escrow claim.
// It runs inside the claim's storage transaction: an error rolls the whole
// claim back, so a claimant is never credited without a chain transaction.
type LedgerSubmit func(ctx context.Context, senderAddress, recipientAddress string, amount float64) (txID string, err error)

// RemoteRegister introduces a freshly inserted wallet address to the chain.
// It runs inside the wallet creation transaction; an error rolls the insert back.
type RemoteRegister func(ctx context.Context, address string) error

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User methods
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	// CreateClaimant creates a minimal verified user plus a genesis wallet for
	// an email first seen during an escrow claim, as one transaction.
	CreateClaimant(ctx context.Context, email string) (*domain.User, *domain.Wallet, error)

	// Wallet methods
	FindWalletByAddress(ctx context.Context, address string) (*domain.Wallet, error)
	FindOwnedWallet(ctx context.Context, address string, userID uuid.UUID) (*domain.Wallet, error)
	FindGenesisWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	CreateWallet(ctx context.Context, wallet *domain.Wallet, register RemoteRegister) error
	// OverwriteLedgerState replaces the cached (balance, stake) pair with the
	// remote authoritative values. Used only by the reconciler.
	OverwriteLedgerState(ctx context.Context, address string, balance, stake float64) error
	// TransferBalances debits the sender and credits the recipient as one
	// transaction with address-ordered row locks.
	TransferBalances(ctx context.Context, senderAddress, recipientAddress string, amount float64) error
	// ApplyMiningSettlement applies stake += stakeAmount and
	// balance += reward - stakeAmount atomically, re-checking the balance
	// under the row lock.
	ApplyMiningSettlement(ctx context.Context, address string, stakeAmount, reward float64) (*domain.Wallet, error)

	// Escrow methods
	FindEscrowByID(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error)
	// CreateEscrowWithDebit inserts a pending escrow and debits the sender's
	// wallet as one transaction.
	CreateEscrowWithDebit(ctx context.Context, escrow *domain.Escrow, senderAddress string) error
	// ClaimEscrowAtomic performs the full claim under a row lock: validate
	// code/email/status, lazily expire (with refund) when past the deadline,
	// credit the recipient, flip the status to Claimed, and submit the
	// backing chain transfer before commit.
	ClaimEscrowAtomic(ctx context.Context, escrowID uuid.UUID, code, recipientEmail string, recipientWalletID uuid.UUID, now time.Time, submit LedgerSubmit) (*domain.EscrowClaimResult, error)
	// ListExpiredPending returns Pending escrows whose deadline has passed.
	ListExpiredPending(ctx context.Context, now time.Time) ([]domain.Escrow, error)
	// ExpireEscrow transitions Pending -> Expired and refunds the sender as
	// one transaction. Exactly-once: a lost race returns ErrEscrowNotPending.
	ExpireEscrow(ctx context.Context, escrowID uuid.UUID, now time.Time) (*domain.EscrowRefund, error)
}
