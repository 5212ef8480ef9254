package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/instantpay/instantpay/internal/money"
	"github.com/instantpay/instantpay/internal/outbox"
)

// Postgres error codes surfaced by the engine.
const (
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
)

// PostgresLedger executes transfers in a single PostgreSQL transaction with
// row-level locks on both accounts.
type PostgresLedger struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresLedger constructs a Postgres-backed transfer engine.
func NewPostgresLedger(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresLedger {
	return &PostgresLedger{db: db, lockTimeout: lockTimeout}
}

type lockedAccount struct {
	userID   uuid.UUID
	balance  decimal.Decimal
	currency string
	version  int64
}

// Transfer moves funds between two accounts. Both accounts are locked in
// ascending id order before either is read; every mutation, the COMPLETED
// transaction record and its outbox event commit atomically.
func (l *PostgresLedger) Transfer(ctx context.Context, cmd Command) (Transaction, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, fmt.Errorf("begin transfer tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Pre-check is an optimization; the unique index on idempotency_key is
	// the race-safe guarantee enforced at insert time below.
	var existing uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM transactions WHERE idempotency_key = $1`, cmd.IdempotencyKey).Scan(&existing)
	if err == nil {
		return Transaction{}, ErrDuplicateTransaction
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, fmt.Errorf("idempotency pre-check: %w", err)
	}

	// Bound the row-lock wait; lock_timeout expiry maps to a Conflict.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.lockTimeout.Milliseconds())); err != nil {
		return Transaction{}, fmt.Errorf("set lock timeout: %w", err)
	}

	locked := make(map[uuid.UUID]*lockedAccount, 2)
	for _, id := range lockOrder(cmd.SenderAccountID, cmd.RecipientAccountID) {
		acc, err := lockAccount(ctx, tx, id)
		if err != nil {
			return Transaction{}, err
		}
		locked[id] = acc
	}

	sender := locked[cmd.SenderAccountID]
	if sender == nil {
		return Transaction{}, fmt.Errorf("sender: %w", ErrAccountNotFound)
	}
	if sender.userID != cmd.CallerUserID {
		return Transaction{}, ErrNotOwner
	}
	recipient := locked[cmd.RecipientAccountID]
	if recipient == nil {
		return Transaction{}, fmt.Errorf("recipient: %w", ErrAccountNotFound)
	}
	if sender.currency != cmd.Currency || recipient.currency != cmd.Currency {
		return Transaction{}, ErrCurrencyMismatch
	}
	if cmd.SenderAccountID == cmd.RecipientAccountID {
		return Transaction{}, ErrSameAccount
	}
	if err := money.ValidateAmount(cmd.Amount, cmd.Currency); err != nil {
		return Transaction{}, err
	}

	newSenderBalance := sender.balance.Sub(cmd.Amount)
	if newSenderBalance.IsNegative() {
		return Transaction{}, ErrInsufficientFunds
	}

	if err := updateBalance(ctx, tx, cmd.SenderAccountID, newSenderBalance); err != nil {
		return Transaction{}, err
	}
	if err := updateBalance(ctx, tx, cmd.RecipientAccountID, recipient.balance.Add(cmd.Amount)); err != nil {
		return Transaction{}, err
	}

	record := Transaction{
		ID:                 uuid.New(),
		SenderAccountID:    cmd.SenderAccountID,
		RecipientAccountID: cmd.RecipientAccountID,
		Amount:             cmd.Amount,
		Currency:           cmd.Currency,
		Status:             StatusCompleted,
		IdempotencyKey:     cmd.IdempotencyKey,
		CreatedAt:          time.Now().UTC(),
	}

	_, err = tx.Exec(ctx, `INSERT INTO transactions
        (id, sender_account_id, recipient_account_id, amount, currency, status, idempotency_key, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID, record.SenderAccountID, record.RecipientAccountID, record.Amount,
		record.Currency, record.Status, record.IdempotencyKey, record.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// A concurrent request with the same key won the race past the
			// pre-check. Same outcome for the caller either way.
			return Transaction{}, ErrDuplicateTransaction
		}
		return Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	event, err := completedOutboxEvent(record)
	if err != nil {
		return Transaction{}, fmt.Errorf("build outbox event: %w", err)
	}
	if err := outbox.Stage(ctx, tx, event); err != nil {
		return Transaction{}, fmt.Errorf("stage outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("commit transfer: %w", err)
	}

	return record, nil
}

// Get fetches a committed transaction record.
func (l *PostgresLedger) Get(ctx context.Context, id uuid.UUID) (Transaction, error) {
	row := l.db.QueryRow(ctx, `SELECT id, sender_account_id, recipient_account_id, amount, currency, status, idempotency_key, created_at
        FROM transactions WHERE id = $1`, id)

	var t Transaction
	if err := row.Scan(&t.ID, &t.SenderAccountID, &t.RecipientAccountID, &t.Amount,
		&t.Currency, &t.Status, &t.IdempotencyKey, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

// lockAccount takes the row lock and returns nil for a missing account.
func lockAccount(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*lockedAccount, error) {
	var acc lockedAccount
	err := tx.QueryRow(ctx, `SELECT user_id, balance, currency, version FROM accounts WHERE id = $1 FOR UPDATE`, id).
		Scan(&acc.userID, &acc.balance, &acc.currency, &acc.version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return nil, ErrLockTimeout
		}
		return nil, fmt.Errorf("lock account %s: %w", id, err)
	}
	return &acc, nil
}

func updateBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance decimal.Decimal) error {
	_, err := tx.Exec(ctx, `UPDATE accounts SET balance = $1, version = version + 1 WHERE id = $2`, balance, id)
	if err != nil {
		return fmt.Errorf("update balance %s: %w", id, err)
	}
	return nil
}
