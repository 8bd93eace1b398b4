/**
 * @description
 * This file contains the core business logic for the wallet-service. The
 * `Service` struct orchestrates every money movement, coordinating between
 * the database repository, the chain node's ledger API, and the event
 * producer that feeds notifications.
 *
 * Key features:
 * - Peer transfers: the chain transfer is confirmed first, then the local
 *   debit/credit commits as one transaction; a remote failure leaves local
 *   state untouched.
 * - Escrow creation for recipients that cannot yet be chain counterparties.
 * - Mining settlements with an explicit, configuration-gated simulation
 *   fallback for when the chain node is unreachable.
 * - Reconciliation of the affected addresses after every settlement.
 *
 * @dependencies
 * - context, crypto/rand, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For ids and wallet addresses.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/ledgerclient: For the remote ledger result types.
 */

package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nilotic/wallet-service/internal/domain"
	"github.com/nilotic/wallet-service/internal/store"
	"github.com/nilotic/wallet-service/pkg/ledgerclient"
)

const simulatedBlockHash = "simulated-block-hash"

var (
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrNotWalletOwner     = errors.New("caller does not own this account")
	ErrSenderNotEligible  = errors.New("sender is not verified or KYC is incomplete")
	ErrUserNotVerified    = errors.New("user not found or unverified")
	ErrNoReward           = errors.New("no reward issued for mining operation")
	ErrMiningUnavailable  = errors.New("mining unavailable: chain node unreachable")
	ErrClaimRateLimited   = errors.New("too many claim attempts")
	ErrInvalidWalletName  = errors.New("wallet name must not be empty")
	ErrInvalidClaimFields = errors.New("claim code and email are required")
)

// Ledger is the subset of the chain node's ledger API the service depends on.
// *ledgerclient.Client satisfies it; tests substitute stubs.
type Ledger interface {
	GetBalance(ctx context.Context, address string) (*ledgerclient.BalanceResult, error)
	RegisterStake(ctx context.Context, address string, amount float64) error
	SubmitTransaction(ctx context.Context, sender, receiver string, amount float64) (string, error)
	Mine(ctx context.Context, address string, stake float64) (*ledgerclient.MineResult, error)
}

// Notifier publishes notification events for another service to deliver.
// Failures are logged and never roll back a settled operation.
type Notifier interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Config carries the settlement knobs the service depends on.
type Config struct {
	// SimulateMining applies a fixed reward locally when the chain node's
	// mine call fails, instead of rejecting the operation.
	SimulateMining  bool
	SimulatedReward float64
	EscrowLifetime  time.Duration
	EscrowCodeLen   int
	ClaimRatePerMin int
}

// Service provides the core business logic for wallet settlements.
type Service struct {
	repo        store.Repository
	ledger      Ledger
	notifier    Notifier
	cfg         Config
	rateLimiter ClaimRateLimiter

	// overridable in tests
	now func() time.Time
}

// NewService creates a new wallet service instance.
func NewService(repo store.Repository, ledger Ledger, notifier Notifier, cfg Config) *Service {
	if cfg.SimulatedReward <= 0 {
		cfg.SimulatedReward = ledgerclient.DefaultReward
	}
	if cfg.EscrowLifetime <= 0 {
		cfg.EscrowLifetime = 72 * time.Hour
	}
	if cfg.EscrowCodeLen <= 0 {
		cfg.EscrowCodeLen = 6
	}
	return &Service{
		repo:     repo,
		ledger:   ledger,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClaimRateLimiter installs a distributed limiter for escrow claim
// attempts. Without one, claims are not rate limited.
func (s *Service) SetClaimRateLimiter(limiter ClaimRateLimiter) {
	s.rateLimiter = limiter
}

// Send moves funds from the caller's genesis wallet to a recipient identified
// by email. Resident, eligible recipients get a direct chain transfer;
// everyone else gets a pending escrow funded by an immediate local debit.
func (s *Service) Send(ctx context.Context, callerID uuid.UUID, req domain.SendRequest) (*domain.SendResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	sender, err := s.repo.FindUserByEmail(ctx, req.SenderEmail)
	if err != nil {
		return nil, fmt.Errorf("resolve sender: %w", err)
	}
	if sender.ID != callerID {
		return nil, ErrNotWalletOwner
	}
	if !sender.Eligible() {
		return nil, ErrSenderNotEligible
	}

	senderWallet, err := s.repo.FindGenesisWallet(ctx, sender.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve sender wallet: %w", err)
	}
	if senderWallet.Balance < req.Amount {
		return nil, store.ErrInsufficientFunds
	}

	recipient, err := s.repo.FindUserByEmail(ctx, req.RecipientEmail)
	if err != nil && !errors.Is(err, store.ErrUserNotFound) {
		return nil, fmt.Errorf("resolve recipient: %w", err)
	}

	if recipient.Eligible() {
		return s.sendResident(ctx, sender, senderWallet, recipient, req.Amount)
	}
	return s.sendEscrowed(ctx, sender, senderWallet, req.RecipientEmail, req.Amount)
}

// sendResident settles a transfer between two registered chain addresses.
// The chain transfer is confirmed before any local row changes; the local
// debit and credit then commit together or not at all.
func (s *Service) sendResident(ctx context.Context, sender *domain.User, senderWallet *domain.Wallet, recipient *domain.User, amount float64) (*domain.SendResult, error) {
	recipientWallet, err := s.repo.FindGenesisWallet(ctx, recipient.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve recipient wallet: %w", err)
	}

	txID, err := s.ledger.SubmitTransaction(ctx, senderWallet.Address, recipientWallet.Address, amount)
	if err != nil {
		log.Printf("level=warn component=settlement op=send outcome=remote_failed sender=%s recipient=%s amount=%f err=%v",
			senderWallet.Address, recipientWallet.Address, amount, err)
		return nil, err
	}

	if err := s.repo.TransferBalances(ctx, senderWallet.Address, recipientWallet.Address, amount); err != nil {
		// The chain transfer is already settled; the local cache is now
		// stale. Reconciliation folds the drift back in.
		log.Printf("level=error component=settlement op=send msg=\"local apply failed after chain transfer; reconciling\" tx_id=%s err=%v", txID, err)
		s.reconcileQuietly(ctx, senderWallet.Address, recipientWallet.Address)
		return nil, fmt.Errorf("apply transfer locally: %w", err)
	}

	s.reconcileQuietly(ctx, senderWallet.Address, recipientWallet.Address)
	s.publish(ctx, "transfer.sent", transferEvent{
		TxID: txID, SenderEmail: sender.Email, RecipientEmail: recipient.Email, Amount: amount,
	})
	s.publish(ctx, "transfer.received", transferEvent{
		TxID: txID, SenderEmail: sender.Email, RecipientEmail: recipient.Email, Amount: amount,
	})

	updated, err := s.repo.FindWalletByAddress(ctx, senderWallet.Address)
	if err != nil {
		return nil, err
	}
	return &domain.SendResult{
		Outcome:       domain.SendOutcomeTransferred,
		LedgerTxID:    txID,
		SenderBalance: updated.Balance,
	}, nil
}

// sendEscrowed holds the funds off-ledger until the recipient resolves a
// wallet. No chain call is made at creation; the transfer is deferred until
// claim.
func (s *Service) sendEscrowed(ctx context.Context, sender *domain.User, senderWallet *domain.Wallet, recipientEmail string, amount float64) (*domain.SendResult, error) {
	code, err := generateClaimCode(s.cfg.EscrowCodeLen)
	if err != nil {
		return nil, fmt.Errorf("generate claim code: %w", err)
	}

	now := s.now().UTC()
	escrow := &domain.Escrow{
		ID:             uuid.New(),
		SenderID:       sender.ID,
		RecipientEmail: recipientEmail,
		Amount:         amount,
		Code:           code,
		Status:         domain.EscrowStatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.EscrowLifetime),
	}
	if err := s.repo.CreateEscrowWithDebit(ctx, escrow, senderWallet.Address); err != nil {
		return nil, err
	}

	s.reconcileQuietly(ctx, senderWallet.Address)
	s.publish(ctx, "escrow.created", escrowEvent{
		EscrowID:       escrow.ID,
		SenderEmail:    sender.Email,
		RecipientEmail: recipientEmail,
		Amount:         amount,
		Code:           code,
		ExpiresAt:      escrow.ExpiresAt,
	})

	updated, err := s.repo.FindWalletByAddress(ctx, senderWallet.Address)
	if err != nil {
		return nil, err
	}
	return &domain.SendResult{
		Outcome:       domain.SendOutcomeEscrowed,
		EscrowID:      &escrow.ID,
		SenderBalance: updated.Balance,
	}, nil
}

// Mine settles a mining operation: the stake moves from balance to stake and
// the reward is credited, atomically. The chain node is authoritative; the
// simulation fallback only applies when explicitly configured.
func (s *Service) Mine(ctx context.Context, userID uuid.UUID, req domain.MineRequest) (*domain.MineResult, error) {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if !user.Eligible() {
		return nil, ErrSenderNotEligible
	}

	wallet, err := s.repo.FindOwnedWallet(ctx, req.WalletAddress, userID)
	if err != nil {
		return nil, err
	}
	if req.Stake <= 0 {
		return nil, ErrInvalidAmount
	}
	if wallet.Balance < req.Stake {
		return nil, store.ErrInsufficientFunds
	}

	mined, err := s.ledger.Mine(ctx, wallet.Address, req.Stake)
	if err != nil {
		if !s.cfg.SimulateMining {
			log.Printf("level=warn component=settlement op=mine outcome=remote_failed address=%s err=%v", wallet.Address, err)
			return nil, fmt.Errorf("%w: %v", ErrMiningUnavailable, err)
		}
		return s.settleMine(ctx, wallet, req.Stake, s.cfg.SimulatedReward, simulatedBlockHash, true)
	}

	if mined.Reward <= 0 {
		return nil, ErrNoReward
	}
	return s.settleMine(ctx, wallet, req.Stake, mined.Reward, mined.BlockHash, false)
}

// settleMine applies the settlement arithmetic and, for real settlements,
// reconciles afterwards to fold in server-side rounding or fees.
func (s *Service) settleMine(ctx context.Context, wallet *domain.Wallet, stake, reward float64, blockHash string, simulated bool) (*domain.MineResult, error) {
	updated, err := s.repo.ApplyMiningSettlement(ctx, wallet.Address, stake, reward)
	if err != nil {
		return nil, err
	}

	if simulated {
		log.Printf("level=info component=settlement op=mine outcome=simulated address=%s stake=%f reward=%f", wallet.Address, stake, reward)
	} else {
		s.reconcileQuietly(ctx, wallet.Address)
		// Reconciliation may have moved the cached row; serve the fresher one.
		if fresh, err := s.repo.FindWalletByAddress(ctx, wallet.Address); err == nil {
			updated = fresh
		}
	}

	return &domain.MineResult{
		WalletAddress: wallet.Address,
		Reward:        reward,
		BlockHash:     blockHash,
		NewBalance:    updated.Balance,
		Stake:         updated.Stake,
		Simulated:     simulated,
	}, nil
}

// CreateWallet creates a named wallet for a verified user and registers its
// address on the chain. The row insert and the chain registration succeed or
// fail together.
func (s *Service) CreateWallet(ctx context.Context, req domain.CreateWalletRequest) (*domain.Wallet, error) {
	name := req.Name
	if name == "" {
		name = domain.GenesisWalletName
	}

	user, err := s.repo.FindUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if !user.Verified {
		return nil, ErrUserNotVerified
	}

	wallet := &domain.Wallet{
		ID:      uuid.New(),
		UserID:  user.ID,
		Name:    name,
		Address: uuid.NewString(),
	}
	err = s.repo.CreateWallet(ctx, wallet, func(ctx context.Context, address string) error {
		return s.ledger.RegisterStake(ctx, address, 0)
	})
	if err != nil {
		return nil, err
	}

	s.reconcileQuietly(ctx, wallet.Address)
	return wallet, nil
}

// WalletBalance reconciles the address and returns the (possibly corrected)
// local row. A remote failure serves the cached values instead of erroring:
// the cache exists precisely so reads survive chain node outages.
func (s *Service) WalletBalance(ctx context.Context, address string) (*domain.Wallet, error) {
	if _, err := s.repo.FindWalletByAddress(ctx, address); err != nil {
		return nil, err
	}
	if _, err := s.Reconcile(ctx, address); err != nil && !errors.Is(err, store.ErrWalletNotFound) {
		log.Printf("level=warn component=reconciler msg=\"serving cached balance\" address=%s err=%v", address, err)
	}
	return s.repo.FindWalletByAddress(ctx, address)
}

// reconcileQuietly resynchronizes the given addresses, logging failures
// instead of propagating them: the settlement already happened, and the next
// reconciliation will heal any remaining drift.
func (s *Service) reconcileQuietly(ctx context.Context, addresses ...string) {
	for _, address := range addresses {
		if _, err := s.Reconcile(ctx, address); err != nil {
			log.Printf("level=warn component=reconciler msg=\"post-settlement reconcile failed\" address=%s err=%v", address, err)
		}
	}
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, EventExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=notifier msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// generateClaimCode produces an n-digit numeric one-time code.
func generateClaimCode(length int) (string, error) {
	const digits = "0123456789"
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = digits[int(b)%len(digits)]
	}
	return string(buf), nil
}
