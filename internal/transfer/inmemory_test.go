package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/instantpay/instantpay/internal/account"
	"github.com/instantpay/instantpay/internal/money"
	"github.com/instantpay/instantpay/internal/outbox"
)

type fixture struct {
	ledger   *InMemoryLedger
	accounts *account.MemoryRepository
	events   *outbox.MemoryStore

	aliceID  uuid.UUID
	bobID    uuid.UUID
	aliceAcc uuid.UUID
	bobAcc   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	accounts := account.NewMemoryRepository()
	events := outbox.NewMemoryStore()

	f := &fixture{
		accounts: accounts,
		events:   events,
		ledger:   NewInMemory(accounts, events, time.Second),
		aliceID:  uuid.New(),
		bobID:    uuid.New(),
		aliceAcc: uuid.New(),
		bobAcc:   uuid.New(),
	}

	seed := []account.Account{
		{ID: f.aliceAcc, UserID: f.aliceID, Balance: decimal.RequireFromString("1000.00"), Currency: "USD", CreatedAt: time.Now().UTC()},
		{ID: f.bobAcc, UserID: f.bobID, Balance: decimal.RequireFromString("500.00"), Currency: "USD", CreatedAt: time.Now().UTC()},
	}
	for _, acc := range seed {
		if err := accounts.Create(context.Background(), acc); err != nil {
			t.Fatalf("seed account: %v", err)
		}
	}
	return f
}

func (f *fixture) command(amount, key string) Command {
	return Command{
		SenderAccountID:    f.aliceAcc,
		RecipientAccountID: f.bobAcc,
		Amount:             decimal.RequireFromString(amount),
		Currency:           "USD",
		IdempotencyKey:     key,
		CallerUserID:       f.aliceID,
	}
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) string {
	t.Helper()
	acc, err := f.accounts.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return money.Format(acc.Balance, acc.Currency)
}

func TestTransferMovesFundsAndStagesEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record, err := f.ledger.Transfer(ctx, f.command("100.00", "k1"))
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if record.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", record.Status)
	}
	if got := f.balance(t, f.aliceAcc); got != "900.00" {
		t.Fatalf("sender balance = %s, want 900.00", got)
	}
	if got := f.balance(t, f.bobAcc); got != "600.00" {
		t.Fatalf("recipient balance = %s, want 600.00", got)
	}

	staged := f.events.ForAggregate(record.ID)
	if len(staged) != 1 {
		t.Fatalf("expected exactly one outbox event, got %d", len(staged))
	}
	if staged[0].Status != outbox.StatusPending || staged[0].Topic != TopicTransferCompleted {
		t.Fatalf("unexpected staged event: %+v", staged[0])
	}
}

func TestTransferDuplicateKeyIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ledger.Transfer(ctx, f.command("100.00", "k1")); err != nil {
		t.Fatalf("first transfer failed: %v", err)
	}
	if _, err := f.ledger.Transfer(ctx, f.command("100.00", "k1")); !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	// Balances unchanged by the rejected replay.
	if got := f.balance(t, f.aliceAcc); got != "900.00" {
		t.Fatalf("sender balance = %s, want 900.00", got)
	}
	if got := f.balance(t, f.bobAcc); got != "600.00" {
		t.Fatalf("recipient balance = %s, want 600.00", got)
	}
}

func TestTransferConcurrentSameKeyExecutesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.ledger.Transfer(ctx, f.command("100.00", "same-key"))
		}(i)
	}
	wg.Wait()

	var completed, duplicates int
	for _, err := range errs {
		switch {
		case err == nil:
			completed++
		case errors.Is(err, ErrDuplicateTransaction):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if completed != 1 || duplicates != workers-1 {
		t.Fatalf("completed=%d duplicates=%d, want 1/%d", completed, duplicates, workers-1)
	}
	if got := f.balance(t, f.aliceAcc); got != "900.00" {
		t.Fatalf("sender balance = %s, want exactly one debit", got)
	}
}

func TestTransferInsufficientFundsMutatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ledger.Transfer(ctx, f.command("1000.01", "k1")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got := f.balance(t, f.aliceAcc); got != "1000.00" {
		t.Fatalf("sender balance = %s, want 1000.00", got)
	}
	if got := f.balance(t, f.bobAcc); got != "500.00" {
		t.Fatalf("recipient balance = %s, want 500.00", got)
	}
	if staged := f.events.ForAggregate(f.aliceAcc); len(staged) != 0 {
		t.Fatalf("no event expected, got %d", len(staged))
	}
}

func TestTransferExactBalanceDrainsToZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ledger.Transfer(ctx, f.command("1000.00", "k1")); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if got := f.balance(t, f.aliceAcc); got != "0.00" {
		t.Fatalf("sender balance = %s, want 0.00", got)
	}
}

func TestTransferCurrencyMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := f.command("100.00", "k1")
	cmd.Currency = "EUR"
	if _, err := f.ledger.Transfer(ctx, cmd); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}
	if got := f.balance(t, f.aliceAcc); got != "1000.00" {
		t.Fatalf("sender balance mutated: %s", got)
	}
}

func TestTransferSelfIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := f.command("100.00", "k1")
	cmd.RecipientAccountID = cmd.SenderAccountID
	if _, err := f.ledger.Transfer(ctx, cmd); !errors.Is(err, ErrSameAccount) {
		t.Fatalf("expected same-account rejection, got %v", err)
	}
}

func TestTransferUnknownAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := f.command("100.00", "k1")
	cmd.SenderAccountID = uuid.New()
	cmd.CallerUserID = f.aliceID
	if _, err := f.ledger.Transfer(ctx, cmd); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected not found for sender, got %v", err)
	}

	cmd = f.command("100.00", "k2")
	cmd.RecipientAccountID = uuid.New()
	if _, err := f.ledger.Transfer(ctx, cmd); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected not found for recipient, got %v", err)
	}
}

func TestTransferRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := f.command("100.00", "k1")
	cmd.CallerUserID = f.bobID
	if _, err := f.ledger.Transfer(ctx, cmd); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ownership rejection, got %v", err)
	}
}

func TestTransferRejectsExcessScale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ledger.Transfer(ctx, f.command("10.001", "k1")); !errors.Is(err, money.ErrAmountScale) {
		t.Fatalf("expected scale rejection, got %v", err)
	}
	if got := f.balance(t, f.aliceAcc); got != "1000.00" {
		t.Fatalf("sender balance mutated: %s", got)
	}
}

func TestTransferConservesTotalUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Opposite-direction transfers between the same pair exercise the
	// canonical lock order; bob sends a few back to alice.
	const rounds = 10
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := f.ledger.Transfer(ctx, f.command("10.00", fmt.Sprintf("a-to-b-%d", i)))
			if err != nil {
				t.Errorf("alice transfer %d: %v", i, err)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := f.ledger.Transfer(ctx, Command{
				SenderAccountID:    f.bobAcc,
				RecipientAccountID: f.aliceAcc,
				Amount:             decimal.RequireFromString("5.00"),
				Currency:           "USD",
				IdempotencyKey:     fmt.Sprintf("b-to-a-%d", i),
				CallerUserID:       f.bobID,
			})
			if err != nil {
				t.Errorf("bob transfer %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	alice, _ := f.accounts.Get(ctx, f.aliceAcc)
	bob, _ := f.accounts.Get(ctx, f.bobAcc)
	total := alice.Balance.Add(bob.Balance)
	if !total.Equal(decimal.RequireFromString("1500.00")) {
		t.Fatalf("total = %s, want 1500.00", total)
	}
	if money.Format(alice.Balance, "USD") != "950.00" {
		t.Fatalf("alice balance = %s, want 950.00", money.Format(alice.Balance, "USD"))
	}
}

func TestTransferEveryCompletedHasExactlyOneEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		record, err := f.ledger.Transfer(ctx, f.command("1.00", fmt.Sprintf("k-%d", i)))
		if err != nil {
			t.Fatalf("transfer %d: %v", i, err)
		}
		ids = append(ids, record.ID)
	}
	for _, id := range ids {
		if staged := f.events.ForAggregate(id); len(staged) != 1 {
			t.Fatalf("transaction %s has %d events, want 1", id, len(staged))
		}
	}
}

func TestLockTableBoundedWait(t *testing.T) {
	table := newLockTable()
	a, b := uuid.New(), uuid.New()

	release, err := table.acquireOrdered(a, b, time.Second)
	if err != nil {
		t.Fatalf("initial acquire failed: %v", err)
	}

	if _, err := table.acquireOrdered(a, b, 20*time.Millisecond); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}

	release()

	release2, err := table.acquireOrdered(b, a, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	release2()
}

func TestGetTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record, err := f.ledger.Transfer(ctx, f.command("50.00", "k1"))
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	got, err := f.ledger.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ID != record.ID || got.IdempotencyKey != "k1" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := f.ledger.Get(ctx, uuid.New()); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
