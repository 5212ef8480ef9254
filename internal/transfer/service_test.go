package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/instantpay/instantpay/internal/logging"
	"github.com/instantpay/instantpay/internal/money"
)

func TestServiceRequiresIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.ledger, logging.Discard())

	cmd := f.command("100.00", "")
	if _, err := svc.Transfer(context.Background(), cmd); !errors.Is(err, ErrMissingIdempotencyKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestServiceRejectsBadAmounts(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.ledger, logging.Discard())
	ctx := context.Background()

	cmd := f.command("100.00", "k1")
	cmd.Amount = decimal.Zero
	if _, err := svc.Transfer(ctx, cmd); !errors.Is(err, money.ErrNonPositiveAmount) {
		t.Fatalf("expected non-positive rejection, got %v", err)
	}

	cmd = f.command("100.00", "k2")
	cmd.Currency = "ZZZ"
	if _, err := svc.Transfer(ctx, cmd); !errors.Is(err, money.ErrUnknownCurrency) {
		t.Fatalf("expected unknown currency rejection, got %v", err)
	}
}

func TestServiceDelegatesToLedger(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.ledger, logging.Discard())
	ctx := context.Background()

	record, err := svc.Transfer(ctx, f.command("100.00", "k1"))
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if record.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", record.Status)
	}

	got, err := svc.Get(ctx, record.ID)
	if err != nil || got.ID != record.ID {
		t.Fatalf("get returned %+v, %v", got, err)
	}
}

func TestMaskingHelpers(t *testing.T) {
	f := newFixture(t)

	masked := maskID(f.aliceAcc)
	if len(masked) != 16 || masked == f.aliceAcc.String() {
		t.Fatalf("unexpected mask: %s", masked)
	}

	if got := truncateKey("short"); got != "***" {
		t.Fatalf("short keys must be fully hidden, got %s", got)
	}
	long := "0123456789abcdef"
	if got := truncateKey(long); got != "01234567...cdef" {
		t.Fatalf("unexpected truncation: %s", got)
	}
}
