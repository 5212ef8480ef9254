package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/instantpay/instantpay/internal/money"
	"github.com/instantpay/instantpay/internal/outbox"
)

var (
	// ErrDuplicateTransaction indicates the idempotency key was already used,
	// whether caught by the pre-check or by the unique index at commit time.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrInsufficientFunds occurs when the sender balance cannot cover the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound indicates a referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNotOwner indicates the caller does not own the sender account.
	ErrNotOwner = errors.New("not owner of sender account")

	// ErrCurrencyMismatch indicates the request currency differs from an
	// account currency.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrSameAccount rejects transfers where sender and recipient coincide.
	ErrSameAccount = errors.New("sender and recipient must differ")

	// ErrLockTimeout indicates the bounded wait for an account lock expired.
	ErrLockTimeout = errors.New("account lock wait timed out")

	// ErrMissingIdempotencyKey indicates the client supplied no idempotency key.
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")

	// ErrTransactionNotFound indicates an unknown transaction id.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Transaction statuses. The transfer engine only ever commits COMPLETED
// records; the remaining states exist for interoperability with consumers.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// TopicTransferCompleted is the routing key for completed-transfer events.
const TopicTransferCompleted = "payment.completed"

const aggregateTransaction = "transaction"

// Command describes a requested transfer between two accounts.
type Command struct {
	SenderAccountID    uuid.UUID
	RecipientAccountID uuid.UUID
	Amount             decimal.Decimal
	Currency           string
	IdempotencyKey     string
	CallerUserID       uuid.UUID
}

// Transaction is an immutable, committed transfer record.
type Transaction struct {
	ID                 uuid.UUID
	SenderAccountID    uuid.UUID
	RecipientAccountID uuid.UUID
	Amount             decimal.Decimal
	Currency           string
	Status             string
	IdempotencyKey     string
	CreatedAt          time.Time
}

// Ledger executes transfers as a single atomic unit: both balance mutations,
// the transaction record and its outbox event commit together or not at all.
type Ledger interface {
	Transfer(ctx context.Context, cmd Command) (Transaction, error)
	Get(ctx context.Context, id uuid.UUID) (Transaction, error)
}

// completedEvent is the self-contained payload staged for downstream
// consumers. Consumers dedupe on transaction_id.
type completedEvent struct {
	TransactionID      uuid.UUID `json:"transaction_id"`
	SenderAccountID    uuid.UUID `json:"sender_account_id"`
	RecipientAccountID uuid.UUID `json:"recipient_account_id"`
	Amount             string    `json:"amount"`
	Currency           string    `json:"currency"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

func completedOutboxEvent(record Transaction) (outbox.Event, error) {
	payload, err := json.Marshal(completedEvent{
		TransactionID:      record.ID,
		SenderAccountID:    record.SenderAccountID,
		RecipientAccountID: record.RecipientAccountID,
		Amount:             money.Format(record.Amount, record.Currency),
		Currency:           record.Currency,
		Status:             record.Status,
		CreatedAt:          record.CreatedAt,
	})
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.NewEvent(aggregateTransaction, record.ID, TopicTransferCompleted, payload), nil
}

// lockOrder yields the two account ids in canonical (ascending) order so
// concurrent opposite-direction transfers cannot deadlock. A self-transfer
// collapses to a single lock.
func lockOrder(a, b uuid.UUID) []uuid.UUID {
	switch bytes.Compare(a[:], b[:]) {
	case 0:
		return []uuid.UUID{a}
	case 1:
		return []uuid.UUID{b, a}
	default:
		return []uuid.UUID{a, b}
	}
}
