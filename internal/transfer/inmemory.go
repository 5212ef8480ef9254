package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/instantpay/instantpay/internal/account"
	"github.com/instantpay/instantpay/internal/money"
	"github.com/instantpay/instantpay/internal/outbox"
)

// InMemoryLedger implements the transfer engine over in-memory stores. It
// keeps the semantics of the Postgres engine — canonical lock order, bounded
// lock wait, idempotency-key uniqueness, outbox staging with the transaction —
// and backs unit tests and db-less development.
type InMemoryLedger struct {
	accounts    *account.MemoryRepository
	events      *outbox.MemoryStore
	locks       *lockTable
	lockTimeout time.Duration

	mu    sync.Mutex
	byID  map[uuid.UUID]Transaction
	byKey map[string]uuid.UUID
}

// NewInMemory constructs an in-memory engine over the given stores.
func NewInMemory(accounts *account.MemoryRepository, events *outbox.MemoryStore, lockTimeout time.Duration) *InMemoryLedger {
	return &InMemoryLedger{
		accounts:    accounts,
		events:      events,
		locks:       newLockTable(),
		lockTimeout: lockTimeout,
		byID:        make(map[uuid.UUID]Transaction),
		byKey:       make(map[string]uuid.UUID),
	}
}

// Transfer moves funds between two accounts under per-account locks.
func (l *InMemoryLedger) Transfer(ctx context.Context, cmd Command) (Transaction, error) {
	if l.isDuplicate(cmd.IdempotencyKey) {
		return Transaction{}, ErrDuplicateTransaction
	}

	release, err := l.locks.acquireOrdered(cmd.SenderAccountID, cmd.RecipientAccountID, l.lockTimeout)
	if err != nil {
		return Transaction{}, err
	}
	defer release()

	sender, err := l.accounts.Get(ctx, cmd.SenderAccountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return Transaction{}, ErrAccountNotFound
		}
		return Transaction{}, err
	}
	if sender.UserID != cmd.CallerUserID {
		return Transaction{}, ErrNotOwner
	}
	recipient, err := l.accounts.Get(ctx, cmd.RecipientAccountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return Transaction{}, ErrAccountNotFound
		}
		return Transaction{}, err
	}
	if sender.Currency != cmd.Currency || recipient.Currency != cmd.Currency {
		return Transaction{}, ErrCurrencyMismatch
	}
	if cmd.SenderAccountID == cmd.RecipientAccountID {
		return Transaction{}, ErrSameAccount
	}
	if err := money.ValidateAmount(cmd.Amount, cmd.Currency); err != nil {
		return Transaction{}, err
	}

	newSenderBalance := sender.Balance.Sub(cmd.Amount)
	if newSenderBalance.IsNegative() {
		return Transaction{}, ErrInsufficientFunds
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

	// Claim the key before mutating: the uniqueness claim is the binding
	// idempotency guarantee, as the unique index is for Postgres.
	l.mu.Lock()
	if _, dup := l.byKey[cmd.IdempotencyKey]; dup {
		l.mu.Unlock()
		return Transaction{}, ErrDuplicateTransaction
	}
	l.byKey[cmd.IdempotencyKey] = record.ID
	l.byID[record.ID] = record
	l.mu.Unlock()

	sender.Balance = newSenderBalance
	sender.Version++
	recipient.Balance = recipient.Balance.Add(cmd.Amount)
	recipient.Version++
	if err := l.accounts.Update(ctx, sender); err != nil {
		return Transaction{}, err
	}
	if err := l.accounts.Update(ctx, recipient); err != nil {
		return Transaction{}, err
	}

	event, err := completedOutboxEvent(record)
	if err != nil {
		return Transaction{}, err
	}
	if err := l.events.Stage(ctx, event); err != nil {
		return Transaction{}, err
	}

	return record, nil
}

// Get fetches a committed transaction record.
func (l *InMemoryLedger) Get(_ context.Context, id uuid.UUID) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.byID[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return record, nil
}

func (l *InMemoryLedger) isDuplicate(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, dup := l.byKey[key]
	return dup
}
