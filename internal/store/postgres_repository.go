/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL for users, wallets, and escrows, and
 * implements the row-locking discipline the settlement logic depends on:
 * every paired mutation happens inside one transaction, two-wallet moves
 * acquire locks in address order, and escrow status transitions are
 * lock-then-check-and-set so a claim racing a sweep can never double-apply.
 *
 * @dependencies
 * - context, errors, fmt, strings, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nilotic/wallet-service/internal/domain"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrWalletNameTaken    = errors.New("wallet name already taken for this user")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrEscrowNotFound     = errors.New("escrow not found")
	ErrEscrowNotPending   = errors.New("escrow is not pending")
	ErrEscrowCodeMismatch = errors.New("invalid claim code or email")
	ErrEscrowExpired      = errors.New("escrow expired")
	ErrEscrowNotExpired   = errors.New("escrow has not expired")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// FindUserByID retrieves a user from the database by their ID.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, email, verified, kyc_completed, created_at FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&user.ID, &user.Email, &user.Verified, &user.KYCCompleted, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindUserByEmail retrieves a user from the database by their email, case-insensitively.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, email, verified, kyc_completed, created_at FROM users WHERE lower(btrim(email)) = lower(btrim($1))`
	err := r.db.QueryRow(ctx, query, email).Scan(&user.ID, &user.Email, &user.Verified, &user.KYCCompleted, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateClaimant creates a minimal verified user and their genesis wallet as
// one transaction. Used when an unknown email claims an escrow.
func (r *PostgresRepository) CreateClaimant(ctx context.Context, email string) (*domain.User, *domain.Wallet, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin claimant tx: %w", err)
	}
	defer tx.Rollback(ctx)

	user := &domain.User{
		ID:           uuid.New(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Verified:     true,
		KYCCompleted: false,
	}
	insertUser := `
		INSERT INTO users (id, email, verified, kyc_completed, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at
	`
	if err := tx.QueryRow(ctx, insertUser, user.ID, user.Email, user.Verified, user.KYCCompleted).Scan(&user.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, nil, ErrUserAlreadyExists
		}
		return nil, nil, fmt.Errorf("insert claimant user: %w", err)
	}

	wallet := &domain.Wallet{
		ID:      uuid.New(),
		UserID:  user.ID,
		Name:    domain.GenesisWalletName,
		Address: uuid.NewString(),
	}
	insertWallet := `
		INSERT INTO wallets (id, user_id, name, address, balance, stake)
		VALUES ($1, $2, $3, $4, 0, 0)
	`
	if _, err := tx.Exec(ctx, insertWallet, wallet.ID, wallet.UserID, wallet.Name, wallet.Address); err != nil {
		return nil, nil, fmt.Errorf("insert claimant wallet: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return user, wallet, nil
}

// FindWalletByAddress retrieves a wallet by its chain address.
func (r *PostgresRepository) FindWalletByAddress(ctx context.Context, address string) (*domain.Wallet, error) {
	var w domain.Wallet
	query := `SELECT id, user_id, name, address, balance, stake FROM wallets WHERE address = $1`
	err := r.db.QueryRow(ctx, query, address).Scan(&w.ID, &w.UserID, &w.Name, &w.Address, &w.Balance, &w.Stake)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// FindOwnedWallet retrieves a wallet only when it belongs to the given user.
func (r *PostgresRepository) FindOwnedWallet(ctx context.Context, address string, userID uuid.UUID) (*domain.Wallet, error) {
	var w domain.Wallet
	query := `SELECT id, user_id, name, address, balance, stake FROM wallets WHERE address = $1 AND user_id = $2`
	err := r.db.QueryRow(ctx, query, address, userID).Scan(&w.ID, &w.UserID, &w.Name, &w.Address, &w.Balance, &w.Stake)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// FindGenesisWallet retrieves the user's primary (genesis) wallet.
func (r *PostgresRepository) FindGenesisWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	var w domain.Wallet
	query := `SELECT id, user_id, name, address, balance, stake FROM wallets WHERE user_id = $1 AND name = $2`
	err := r.db.QueryRow(ctx, query, userID, domain.GenesisWalletName).Scan(&w.ID, &w.UserID, &w.Name, &w.Address, &w.Balance, &w.Stake)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// CreateWallet inserts a wallet and registers its address on the chain before
// committing. A failed registration rolls the insert back, so the local table
// never holds an address the chain has not seen.
func (r *PostgresRepository) CreateWallet(ctx context.Context, wallet *domain.Wallet, register RemoteRegister) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin wallet tx: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO wallets (id, user_id, name, address, balance, stake)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.Exec(ctx, insert, wallet.ID, wallet.UserID, wallet.Name, wallet.Address, wallet.Balance, wallet.Stake); err != nil {
		if isUniqueViolation(err) {
			return ErrWalletNameTaken
		}
		return fmt.Errorf("insert wallet: %w", err)
	}

	if register != nil {
		if err := register(ctx, wallet.Address); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// OverwriteLedgerState replaces the cached balance and stake with the remote
// authoritative pair. A single UPDATE, so the pair can never be half-applied.
func (r *PostgresRepository) OverwriteLedgerState(ctx context.Context, address string, balance, stake float64) error {
	result, err := r.db.Exec(ctx, `UPDATE wallets SET balance = $1, stake = $2 WHERE address = $3`, balance, stake, address)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// TransferBalances moves amount between two wallets in one transaction.
// Rows are locked in address order to prevent deadlock between two transfers
// running in opposite directions.
func (r *PostgresRepository) TransferBalances(ctx context.Context, senderAddress, recipientAddress string, amount float64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transfer tx: %w", err)
	}
	defer tx.Rollback(ctx)

	first, second := senderAddress, recipientAddress
	if first > second {
		first, second = second, first
	}
	for _, addr := range []string{first, second} {
		var locked float64
		if err := tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE address = $1 FOR UPDATE`, addr).Scan(&locked); err != nil {
			if err == pgx.ErrNoRows {
				return ErrWalletNotFound
			}
			return fmt.Errorf("lock wallet row: %w", err)
		}
	}

	debit := `UPDATE wallets SET balance = balance - $1 WHERE address = $2 AND balance >= $1`
	result, err := tx.Exec(ctx, debit, amount, senderAddress)
	if err != nil {
		return fmt.Errorf("debit sender: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance + $1 WHERE address = $2`, amount, recipientAddress); err != nil {
		return fmt.Errorf("credit recipient: %w", err)
	}

	return tx.Commit(ctx)
}

// ApplyMiningSettlement applies the stake and reward arithmetic of a settled
// mine call under the wallet's row lock. The balance is re-checked under the
// lock because a concurrent send may have spent it since the precondition ran.
func (r *PostgresRepository) ApplyMiningSettlement(ctx context.Context, address string, stakeAmount, reward float64) (*domain.Wallet, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin mining tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance float64
	if err := tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE address = $1 FOR UPDATE`, address).Scan(&balance); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("lock wallet row: %w", err)
	}
	if balance < stakeAmount {
		return nil, ErrInsufficientFunds
	}

	var w domain.Wallet
	update := `
		UPDATE wallets
		SET stake = stake + $1, balance = balance - $1 + $2
		WHERE address = $3
		RETURNING id, user_id, name, address, balance, stake
	`
	if err := tx.QueryRow(ctx, update, stakeAmount, reward, address).Scan(&w.ID, &w.UserID, &w.Name, &w.Address, &w.Balance, &w.Stake); err != nil {
		return nil, fmt.Errorf("apply mining settlement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &w, nil
}

// FindEscrowByID retrieves an escrow, claim code included.
func (r *PostgresRepository) FindEscrowByID(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error) {
	var e domain.Escrow
	query := `SELECT id, sender_id, recipient_email, amount, code, status, created_at, expires_at FROM escrows WHERE id = $1`
	err := r.db.QueryRow(ctx, query, escrowID).Scan(&e.ID, &e.SenderID, &e.RecipientEmail, &e.Amount, &e.Code, &e.Status, &e.CreatedAt, &e.ExpiresAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEscrowNotFound
		}
		return nil, err
	}
	return &e, nil
}

// CreateEscrowWithDebit inserts the pending escrow and debits the sender as
// one transaction. The sender's funds are committed to the escrow from this
// point until Claimed or Expired.
func (r *PostgresRepository) CreateEscrowWithDebit(ctx context.Context, escrow *domain.Escrow, senderAddress string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin escrow tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance float64
	if err := tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE address = $1 FOR UPDATE`, senderAddress).Scan(&balance); err != nil {
		if err == pgx.ErrNoRows {
			return ErrWalletNotFound
		}
		return fmt.Errorf("lock sender wallet: %w", err)
	}
	if balance < escrow.Amount {
		return ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance - $1 WHERE address = $2`, escrow.Amount, senderAddress); err != nil {
		return fmt.Errorf("debit sender: %w", err)
	}

	insert := `
		INSERT INTO escrows (id, sender_id, recipient_email, amount, code, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := tx.Exec(ctx, insert,
		escrow.ID, escrow.SenderID, escrow.RecipientEmail, escrow.Amount,
		escrow.Code, escrow.Status, escrow.CreatedAt, escrow.ExpiresAt,
	); err != nil {
		return fmt.Errorf("insert escrow: %w", err)
	}

	return tx.Commit(ctx)
}

// ClaimEscrowAtomic performs an atomic claim on an escrow. The escrow row is
// locked for the whole operation, which serializes concurrent claims and
// sweeps. The backing chain transfer runs inside the transaction, after the
// local credit and status flip: a remote failure rolls everything back, so a
// claimant is never credited with funds the chain does not back.
//
// A claim arriving past the deadline triggers the expiry transition instead
// (refund the sender, mark Expired, commit) and reports ErrEscrowExpired, so
// stale escrows are swept lazily on first touch.
func (r *PostgresRepository) ClaimEscrowAtomic(ctx context.Context, escrowID uuid.UUID, code, recipientEmail string, recipientWalletID uuid.UUID, now time.Time, submit LedgerSubmit) (*domain.EscrowClaimResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var e domain.Escrow
	lockQuery := `
		SELECT id, sender_id, recipient_email, amount, code, status, created_at, expires_at
		FROM escrows
		WHERE id = $1
		FOR UPDATE
	`
	if err := tx.QueryRow(ctx, lockQuery, escrowID).Scan(&e.ID, &e.SenderID, &e.RecipientEmail, &e.Amount, &e.Code, &e.Status, &e.CreatedAt, &e.ExpiresAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEscrowNotFound
		}
		return nil, fmt.Errorf("lock escrow row: %w", err)
	}

	if e.Status != domain.EscrowStatusPending {
		return nil, ErrEscrowNotPending
	}
	if e.Code != code || !strings.EqualFold(strings.TrimSpace(e.RecipientEmail), strings.TrimSpace(recipientEmail)) {
		return nil, ErrEscrowCodeMismatch
	}

	senderAddress, err := lockedGenesisAddress(ctx, tx, e.SenderID)
	if err != nil {
		return nil, err
	}

	if e.ExpiredAt(now) {
		if err := expireLocked(ctx, tx, e.ID, senderAddress, e.Amount); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return nil, ErrEscrowExpired
	}

	var recipientAddress string
	creditQuery := `
		UPDATE wallets SET balance = balance + $1
		WHERE id = $2
		RETURNING address
	`
	if err := tx.QueryRow(ctx, creditQuery, e.Amount, recipientWalletID).Scan(&recipientAddress); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("credit recipient wallet: %w", err)
	}

	claim, err := tx.Exec(ctx, `UPDATE escrows SET status = $1 WHERE id = $2 AND status = $3`,
		domain.EscrowStatusClaimed, e.ID, domain.EscrowStatusPending)
	if err != nil {
		return nil, fmt.Errorf("mark escrow claimed: %w", err)
	}
	if claim.RowsAffected() == 0 {
		return nil, ErrEscrowNotPending
	}

	txID, err := submit(ctx, senderAddress, recipientAddress, e.Amount)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &domain.EscrowClaimResult{
		EscrowID:         e.ID,
		SenderAddress:    senderAddress,
		RecipientAddress: recipientAddress,
		Amount:           e.Amount,
		LedgerTxID:       txID,
	}, nil
}

// ListExpiredPending returns Pending escrows past their deadline, oldest first.
func (r *PostgresRepository) ListExpiredPending(ctx context.Context, now time.Time) ([]domain.Escrow, error) {
	query := `
		SELECT id, sender_id, recipient_email, amount, code, status, created_at, expires_at
		FROM escrows
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
	`
	rows, err := r.db.Query(ctx, query, domain.EscrowStatusPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []domain.Escrow
	for rows.Next() {
		var e domain.Escrow
		if err := rows.Scan(&e.ID, &e.SenderID, &e.RecipientEmail, &e.Amount, &e.Code, &e.Status, &e.CreatedAt, &e.ExpiresAt); err != nil {
			return nil, err
		}
		escrows = append(escrows, e)
	}
	return escrows, rows.Err()
}

// ExpireEscrow transitions a Pending escrow past its deadline to Expired and
// refunds the sender, all in one transaction. The row lock plus the status
// check-and-set make the refund exactly-once even when a sweep races a claim.
func (r *PostgresRepository) ExpireEscrow(ctx context.Context, escrowID uuid.UUID, now time.Time) (*domain.EscrowRefund, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin expiry tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var e domain.Escrow
	lockQuery := `
		SELECT id, sender_id, amount, status, expires_at
		FROM escrows
		WHERE id = $1
		FOR UPDATE
	`
	if err := tx.QueryRow(ctx, lockQuery, escrowID).Scan(&e.ID, &e.SenderID, &e.Amount, &e.Status, &e.ExpiresAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEscrowNotFound
		}
		return nil, fmt.Errorf("lock escrow row: %w", err)
	}

	if e.Status != domain.EscrowStatusPending {
		return nil, ErrEscrowNotPending
	}
	if !e.ExpiredAt(now) {
		return nil, ErrEscrowNotExpired
	}

	senderAddress, err := lockedGenesisAddress(ctx, tx, e.SenderID)
	if err != nil {
		return nil, err
	}
	if err := expireLocked(ctx, tx, e.ID, senderAddress, e.Amount); err != nil {
		return nil, err
	}

	var senderEmail string
	if err := tx.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, e.SenderID).Scan(&senderEmail); err != nil {
		return nil, fmt.Errorf("load sender email: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &domain.EscrowRefund{
		EscrowID:      e.ID,
		SenderID:      e.SenderID,
		SenderEmail:   senderEmail,
		SenderAddress: senderAddress,
		Amount:        e.Amount,
	}, nil
}

// lockedGenesisAddress locks the sender's genesis wallet row and returns its
// address, so a refund cannot race a concurrent balance mutation.
func lockedGenesisAddress(ctx context.Context, tx pgx.Tx, senderID uuid.UUID) (string, error) {
	var address string
	query := `SELECT address FROM wallets WHERE user_id = $1 AND name = $2 FOR UPDATE`
	if err := tx.QueryRow(ctx, query, senderID, domain.GenesisWalletName).Scan(&address); err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrWalletNotFound
		}
		return "", fmt.Errorf("lock sender wallet: %w", err)
	}
	return address, nil
}

// expireLocked flips the escrow to Expired and refunds the sender. Both rows
// are already locked by the caller's transaction.
func expireLocked(ctx context.Context, tx pgx.Tx, escrowID uuid.UUID, senderAddress string, amount float64) error {
	result, err := tx.Exec(ctx, `UPDATE escrows SET status = $1 WHERE id = $2 AND status = $3`,
		domain.EscrowStatusExpired, escrowID, domain.EscrowStatusPending)
	if err != nil {
		return fmt.Errorf("mark escrow expired: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrEscrowNotPending
	}
	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance + $1 WHERE address = $2`, amount, senderAddress); err != nil {
		return fmt.Errorf("refund sender: %w", err)
	}
	return nil
}
