/**
 * @description
 * Escrow claim and expiry logic. A claim resolves (or creates) the
 * recipient's wallet, then runs the atomic claim in the store: credit, status
 * flip, and the backing chain transfer commit together or roll back together.
 * Expiry refunds the sender exactly once, whether it is triggered lazily by a
 * stale claim attempt or proactively by the sweep.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For ids.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nilotic/wallet-service/internal/domain"
	"github.com/nilotic/wallet-service/internal/store"
)

// ClaimRateLimiter throttles claim attempts per escrow and claimant. A nil
// limiter disables throttling.
type ClaimRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// ClaimEscrow redeems a pending escrow with its one-time code. Claim is
// all-or-nothing with respect to the chain: if the backing transfer cannot be
// submitted, the escrow stays Pending and no balance moves. A claim past the
// deadline sweeps the escrow instead (refund the sender, mark Expired) and
// reports the expiry.
func (s *Service) ClaimEscrow(ctx context.Context, escrowID uuid.UUID, req domain.ClaimEscrowRequest) (*domain.EscrowClaimResult, error) {
	if req.Code == "" || req.Email == "" {
		return nil, ErrInvalidClaimFields
	}
	if err := s.consumeClaimBudget(ctx, escrowID, req.Email); err != nil {
		return nil, err
	}

	// Resolve or create the recipient before touching the escrow row. Wallet
	// creation commits on its own: an orphaned empty wallet left behind by a
	// later claim failure is harmless, and keeping the claim transaction
	// small keeps the escrow row lock short.
	recipientWallet, recipientEmail, err := s.resolveClaimant(ctx, req.Email)
	if err != nil {
		return nil, err
	}

	result, err := s.repo.ClaimEscrowAtomic(ctx, escrowID, req.Code, req.Email, recipientWallet.ID, s.now().UTC(),
		func(ctx context.Context, senderAddress, recipientAddress string, amount float64) (string, error) {
			return s.ledger.SubmitTransaction(ctx, senderAddress, recipientAddress, amount)
		},
	)
	if err != nil {
		if errors.Is(err, store.ErrEscrowExpired) {
			log.Printf("level=info component=escrow op=claim outcome=lazy_expired escrow_id=%s", escrowID)
			s.notifyExpiry(ctx, escrowID)
		}
		return nil, err
	}

	s.reconcileQuietly(ctx, result.SenderAddress, result.RecipientAddress)
	s.publish(ctx, "escrow.claimed", escrowEvent{
		EscrowID:       result.EscrowID,
		RecipientEmail: recipientEmail,
		Amount:         result.Amount,
		LedgerTxID:     result.LedgerTxID,
	})
	log.Printf("level=info component=escrow op=claim outcome=claimed escrow_id=%s recipient=%s tx_id=%s", escrowID, result.RecipientAddress, result.LedgerTxID)
	return result, nil
}

// SweepExpiredEscrows expires every Pending escrow past its deadline,
// refunding each sender exactly once. Safe to invoke repeatedly and
// concurrently with claims: losing the status race is a skip, not an error.
func (s *Service) SweepExpiredEscrows(ctx context.Context) (expired int, err error) {
	now := s.now().UTC()
	stale, err := s.repo.ListExpiredPending(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired escrows: %w", err)
	}

	for _, escrow := range stale {
		refund, err := s.repo.ExpireEscrow(ctx, escrow.ID, now)
		if err != nil {
			if errors.Is(err, store.ErrEscrowNotPending) || errors.Is(err, store.ErrEscrowNotExpired) {
				continue
			}
			return expired, fmt.Errorf("expire escrow %s: %w", escrow.ID, err)
		}
		expired++
		s.reconcileQuietly(ctx, refund.SenderAddress)
		s.publish(ctx, "escrow.expired", escrowEvent{
			EscrowID:    refund.EscrowID,
			SenderEmail: refund.SenderEmail,
			Amount:      refund.Amount,
		})
		log.Printf("level=info component=escrow op=sweep outcome=expired escrow_id=%s refunded=%f", refund.EscrowID, refund.Amount)
	}
	return expired, nil
}

// resolveClaimant finds the claimant's genesis wallet, creating a minimal
// user and wallet when the email is unknown.
func (s *Service) resolveClaimant(ctx context.Context, email string) (*domain.Wallet, string, error) {
	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			return nil, "", fmt.Errorf("resolve claimant: %w", err)
		}
		newUser, wallet, err := s.repo.CreateClaimant(ctx, email)
		if err != nil {
			return nil, "", fmt.Errorf("create claimant: %w", err)
		}
		log.Printf("level=info component=escrow msg=\"claimant onboarded\" user_id=%s address=%s", newUser.ID, wallet.Address)
		return wallet, newUser.Email, nil
	}

	wallet, err := s.repo.FindGenesisWallet(ctx, user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve claimant wallet: %w", err)
	}
	return wallet, user.Email, nil
}

// notifyExpiry publishes the refund notification for a lazily expired escrow.
func (s *Service) notifyExpiry(ctx context.Context, escrowID uuid.UUID) {
	escrow, err := s.repo.FindEscrowByID(ctx, escrowID)
	if err != nil {
		log.Printf("level=warn component=escrow msg=\"cannot load escrow for expiry notice\" escrow_id=%s err=%v", escrowID, err)
		return
	}
	sender, err := s.repo.FindUserByID(ctx, escrow.SenderID)
	if err != nil {
		log.Printf("level=warn component=escrow msg=\"cannot load sender for expiry notice\" escrow_id=%s err=%v", escrowID, err)
		return
	}
	s.publish(ctx, "escrow.expired", escrowEvent{
		EscrowID:    escrow.ID,
		SenderEmail: sender.Email,
		Amount:      escrow.Amount,
	})
}

// consumeClaimBudget applies the optional per-escrow, per-claimant rate limit.
func (s *Service) consumeClaimBudget(ctx context.Context, escrowID uuid.UUID, email string) error {
	if s.rateLimiter == nil || s.cfg.ClaimRatePerMin <= 0 {
		return nil
	}
	subject := escrowID.String() + ":" + email
	count, _, err := s.rateLimiter.ConsumeRateLimit(ctx, "escrow_claim", subject, s.cfg.ClaimRatePerMin, time.Minute)
	if err != nil {
		log.Printf("level=warn component=escrow msg=\"rate limiter unavailable; allowing claim\" err=%v", err)
		return nil
	}
	if count > s.cfg.ClaimRatePerMin {
		return ErrClaimRateLimited
	}
	return nil
}
