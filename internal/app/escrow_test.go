package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nilotic/wallet-service/internal/domain"
	"github.com/nilotic/wallet-service/internal/store"
)

func (s *walletRepoStub) CreateClaimant(ctx context.Context, email string) (*domain.User, *domain.Wallet, error) {
	user, wallet := s.addUser(email, true, true, 0)
	return user, wallet, nil
}

func (s *walletRepoStub) FindEscrowByID(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error) {
	escrow, ok := s.escrows[escrowID]
	if !ok {
		return nil, store.ErrEscrowNotFound
	}
	copied := *escrow
	return &copied, nil
}

func (s *walletRepoStub) ClaimEscrowAtomic(ctx context.Context, escrowID uuid.UUID, code, recipientEmail string, recipientWalletID uuid.UUID, now time.Time, submit store.LedgerSubmit) (*domain.EscrowClaimResult, error) {
	escrow, ok := s.escrows[escrowID]
	if !ok {
		return nil, store.ErrEscrowNotFound
	}
	if escrow.Status != domain.EscrowStatusPending {
		return nil, store.ErrEscrowNotPending
	}
	senderWallet := s.genesis[escrow.SenderID]
	if escrow.ExpiredAt(now) {
		escrow.Status = domain.EscrowStatusExpired
		senderWallet.Balance += escrow.Amount
		return nil, store.ErrEscrowExpired
	}
	if code != escrow.Code || !strings.EqualFold(recipientEmail, escrow.RecipientEmail) {
		return nil, store.ErrEscrowCodeMismatch
	}

	var recipient *domain.Wallet
	for _, wallet := range s.wallets {
		if wallet.ID == recipientWalletID {
			recipient = wallet
		}
	}
	if recipient == nil {
		return nil, store.ErrWalletNotFound
	}

	txID, err := submit(ctx, senderWallet.Address, recipient.Address, escrow.Amount)
	if err != nil {
		return nil, err
	}
	recipient.Balance += escrow.Amount
	escrow.Status = domain.EscrowStatusClaimed
	return &domain.EscrowClaimResult{
		EscrowID:         escrow.ID,
		SenderAddress:    senderWallet.Address,
		RecipientAddress: recipient.Address,
		Amount:           escrow.Amount,
		LedgerTxID:       txID,
	}, nil
}

func (s *walletRepoStub) ListExpiredPending(ctx context.Context, now time.Time) ([]domain.Escrow, error) {
	var stale []domain.Escrow
	for _, escrow := range s.escrows {
		if escrow.Status == domain.EscrowStatusPending && escrow.ExpiredAt(now) {
			stale = append(stale, *escrow)
		}
	}
	return stale, nil
}

func (s *walletRepoStub) ExpireEscrow(ctx context.Context, escrowID uuid.UUID, now time.Time) (*domain.EscrowRefund, error) {
	escrow, ok := s.escrows[escrowID]
	if !ok {
		return nil, store.ErrEscrowNotFound
	}
	if s.claimDuringSweep == escrowID {
		// A claim landed between the sweep's list and this expiry.
		escrow.Status = domain.EscrowStatusClaimed
		s.claimDuringSweep = uuid.Nil
	}
	if escrow.Status != domain.EscrowStatusPending {
		return nil, store.ErrEscrowNotPending
	}
	if !escrow.ExpiredAt(now) {
		return nil, store.ErrEscrowNotExpired
	}
	escrow.Status = domain.EscrowStatusExpired
	senderWallet := s.genesis[escrow.SenderID]
	senderWallet.Balance += escrow.Amount
	sender := s.usersByID[escrow.SenderID]
	return &domain.EscrowRefund{
		EscrowID:      escrow.ID,
		SenderID:      escrow.SenderID,
		SenderEmail:   sender.Email,
		SenderAddress: senderWallet.Address,
		Amount:        escrow.Amount,
	}, nil
}

func (s *walletRepoStub) addEscrow(senderID uuid.UUID, recipientEmail, code string, amount float64, expiresAt time.Time) *domain.Escrow {
	escrow := &domain.Escrow{
		ID:             uuid.New(),
		SenderID:       senderID,
		RecipientEmail: recipientEmail,
		Amount:         amount,
		Code:           code,
		Status:         domain.EscrowStatusPending,
		CreatedAt:      expiresAt.Add(-72 * time.Hour),
		ExpiresAt:      expiresAt,
	}
	s.escrows[escrow.ID] = escrow
	return escrow
}

type rateLimiterStub struct {
	count int
	err   error
}

func (r *rateLimiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if r.err != nil {
		return 0, 0, r.err
	}
	return r.count, 0, nil
}

func TestClaimEscrow_CreditsKnownRecipient(t *testing.T) {
	repo := newWalletRepoStub()
	sender, senderWallet := repo.addUser("alice@example.com", true, true, 75)
	_, recipientWallet := repo.addUser("carol@example.com", true, true, 0)

	ledger := &ledgerStub{submitTxID: "tx-claim"}
	svc := newTestService(repo, ledger)
	escrow := repo.addEscrow(sender.ID, "carol@example.com", "123456", 25, svc.now().Add(time.Hour))

	result, err := svc.ClaimEscrow(context.Background(), escrow.ID, domain.ClaimEscrowRequest{
		Code:  "123456",
		Email: "carol@example.com",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.LedgerTxID != "tx-claim" {
		t.Fatalf("expected chain tx id, got %q", result.LedgerTxID)
	}
	if got := repo.wallets[recipientWallet.Address].Balance; got != 25 {
		t.Fatalf("expected recipient credited to 25, got %f", got)
	}
	if repo.escrows[escrow.ID].Status != domain.EscrowStatusClaimed {
		t.Fatalf("expected claimed status, got %q", repo.escrows[escrow.ID].Status)
	}
	if !ledger.submitCalled || ledger.submitSender != senderWallet.Address {
		t.Fatal("expected backing chain transfer from the sender's wallet")
	}
}

func TestClaimEscrow_OnboardsUnknownRecipient(t *testing.T) {
	repo := newWalletRepoStub()
	sender, _ := repo.addUser("alice@example.com", true, true, 75)

	ledger := &ledgerStub{submitTxID: "tx-claim"}
	svc := newTestService(repo, ledger)
	escrow := repo.addEscrow(sender.ID, "new@example.com", "654321", 25, svc.now().Add(time.Hour))

	result, err := svc.ClaimEscrow(context.Background(), escrow.ID, domain.ClaimEscrowRequest{
		Code:  "654321",
		Email: "new@example.com",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	claimant, ok := repo.usersByEmail["new@example.com"]
	if !ok {
		t.Fatal("expected claimant user to be created")
	}
	wallet := repo.genesis[claimant.ID]
	if wallet == nil || wallet.Balance != 25 {
		t.Fatalf("expected claimant wallet credited to 25, got %+v", wallet)
	}
	if result.RecipientAddress != wallet.Address {
		t.Fatalf("expected result to name the claimant wallet, got %q", result.RecipientAddress)
	}
}

func TestClaimEscrow_RemoteFailureKeepsEscrowPending(t *testing.T) {
	repo := newWalletRepoStub()
	sender, _ := repo.addUser("alice@example.com", true, true, 75)
	_, recipientWallet := repo.addUser("carol@example.com", true, true, 0)

	ledger := &ledgerStub{submitErr: errors.New("node rejected transfer")}
	svc := newTestService(repo, ledger)
	escrow := repo.addEscrow(sender.ID, "carol@example.com", "123456", 25, svc.now().Add(time.Hour))

	_, err := svc.ClaimEscrow(context.Background(), escrow.ID, domain.ClaimEscrowRequest{
		Code:  "123456",
		Email: "carol@example.com",
	})
	if err == nil {
		t.Fatal("expected failed chain transfer to surface")
	}
	if repo.escrows[escrow.ID].Status != domain.EscrowStatusPending {
		t.Fatalf("expected escrow to stay pending, got %q", repo.escrows[escrow.ID].Status)
	}
	if repo.wallets[recipientWallet.Address].Balance != 0 {
		t.Fatal("did not expect recipient credit after chain failure")
	}
}

func TestClaimEscrow_LazyExpiryRefundsSender(t *testing.T) {
	repo := newWalletRepoStub()
	sender, senderWallet := repo.addUser("alice@example.com", true, true, 75)
	repo.addUser("carol@example.com", true, true, 0)

	svc := newTestService(repo, &ledgerStub{})
	escrow := repo.addEscrow(sender.ID, "carol@example.com", "123456", 25, svc.now().Add(-time.Hour))

	_, err := svc.ClaimEscrow(context.Background(), escrow.ID, domain.ClaimEscrowRequest{
		Code:  "123456",
		Email: "carol@example.com",
	})
	if !errors.Is(err, store.ErrEscrowExpired) {
		t.Fatalf("expected expired rejection, got %v", err)
	}
	if repo.escrows[escrow.ID].Status != domain.EscrowStatusExpired {
		t.Fatalf("expected expired status, got %q", repo.escrows[escrow.ID].Status)
	}
	if got := repo.wallets[senderWallet.Address].Balance; got != 100 {
		t.Fatalf("expected sender refunded to 100, got %f", got)
	}
}

func TestClaimEscrow_RejectsCodeMismatch(t *testing.T) {
	repo := newWalletRepoStub()
	sender, _ := repo.addUser("alice@example.com", true, true, 75)
	repo.addUser("carol@example.com", true, true, 0)

	svc := newTestService(repo, &ledgerStub{})
	escrow := repo.addEscrow(sender.ID, "carol@example.com", "123456", 25, svc.now().Add(time.Hour))

	_, err := svc.ClaimEscrow(context.Background(), escrow.ID, domain.ClaimEscrowRequest{
		Code:  "000000",
		Email: "carol@example.com",
	})
	if !errors.Is(err, store.ErrEscrowCodeMismatch) {
		t.Fatalf("expected code mismatch rejection, got %v", err)
	}
	if repo.escrows[escrow.ID].Status != domain.EscrowStatusPending {
		t.Fatal("expected escrow to stay pending after mismatch")
	}
}

func TestClaimEscrow_RejectsMissingFields(t *testing.T) {
	repo := newWalletRepoStub()
	svc := newTestService(repo, &ledgerStub{})

	_, err := svc.ClaimEscrow(context.Background(), uuid.New(), domain.ClaimEscrowRequest{Code: "123456"})
	if !errors.Is(err, ErrInvalidClaimFields) {
		t.Fatalf("expected field validation rejection, got %v", err)
	}
}

func TestClaimEscrow_RateLimitExceeded(t *testing.T) {
	repo := newWalletRepoStub()
	sender, _ := repo.addUser("alice@example.com", true, true, 75)

	svc := NewService(repo, &ledgerStub{balanceErr: errors.New("down")}, nil, Config{ClaimRatePerMin: 3})
	svc.SetClaimRateLimiter(&rateLimiterStub{count: 4})
	escrow := repo.addEscrow(sender.ID, "carol@example.com", "123456", 25, time.Now().Add(time.Hour))

	_, err := svc.ClaimEscrow(context.Background(), escrow.ID, domain.ClaimEscrowRequest{
		Code:  "123456",
		Email: "carol@example.com",
	})
	if !errors.Is(err, ErrClaimRateLimited) {
		t.Fatalf("expected rate limit rejection, got %v", err)
	}
}

func TestClaimEscrow_LimiterOutageAllowsClaim(t *testing.T) {
	repo := newWalletRepoStub()
	sender, _ := repo.addUser("alice@example.com", true, true, 75)
	repo.addUser("carol@example.com", true, true, 0)

	ledger := &ledgerStub{submitTxID: "tx-claim", balanceErr: errors.New("down")}
	svc := NewService(repo, ledger, nil, Config{ClaimRatePerMin: 3})
	svc.SetClaimRateLimiter(&rateLimiterStub{err: errors.New("redis down")})
	escrow := repo.addEscrow(sender.ID, "carol@example.com", "123456", 25, time.Now().Add(time.Hour))

	if _, err := svc.ClaimEscrow(context.Background(), escrow.ID, domain.ClaimEscrowRequest{
		Code:  "123456",
		Email: "carol@example.com",
	}); err != nil {
		t.Fatalf("expected limiter outage to fail open, got %v", err)
	}
}

func TestSweepExpiredEscrows_RefundsEachSenderOnce(t *testing.T) {
	repo := newWalletRepoStub()
	sender, senderWallet := repo.addUser("alice@example.com", true, true, 50)

	svc := newTestService(repo, &ledgerStub{})
	repo.addEscrow(sender.ID, "one@example.com", "111111", 10, svc.now().Add(-time.Hour))
	repo.addEscrow(sender.ID, "two@example.com", "222222", 15, svc.now().Add(-time.Minute))
	repo.addEscrow(sender.ID, "fresh@example.com", "333333", 5, svc.now().Add(time.Hour))

	expired, err := svc.SweepExpiredEscrows(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if expired != 2 {
		t.Fatalf("expected 2 expired escrows, got %d", expired)
	}
	if got := repo.wallets[senderWallet.Address].Balance; got != 75 {
		t.Fatalf("expected sender refunded 10 + 15 to 75, got %f", got)
	}

	// A second sweep must not refund again.
	expired, err = svc.SweepExpiredEscrows(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected no further expiries, got %d", expired)
	}
	if got := repo.wallets[senderWallet.Address].Balance; got != 75 {
		t.Fatalf("expected balance unchanged on second sweep, got %f", got)
	}
}

func TestSweepExpiredEscrows_SkipsEscrowClaimedMidSweep(t *testing.T) {
	repo := newWalletRepoStub()
	sender, senderWallet := repo.addUser("alice@example.com", true, true, 50)

	svc := newTestService(repo, &ledgerStub{})
	raced := repo.addEscrow(sender.ID, "one@example.com", "111111", 10, svc.now().Add(-time.Hour))
	repo.addEscrow(sender.ID, "two@example.com", "222222", 15, svc.now().Add(-time.Minute))
	repo.claimDuringSweep = raced.ID

	expired, err := svc.SweepExpiredEscrows(context.Background())
	if err != nil {
		t.Fatalf("expected lost race to be skipped, got %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired escrow, got %d", expired)
	}
	if got := repo.wallets[senderWallet.Address].Balance; got != 65 {
		t.Fatalf("expected only the unclaimed escrow refunded, got %f", got)
	}
}
