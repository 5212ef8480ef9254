package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/instantpay/instantpay/internal/logging"
)

// scriptedPublisher fails a configured number of times before succeeding.
type scriptedPublisher struct {
	mu        sync.Mutex
	failures  int
	published [][]byte
}

func (p *scriptedPublisher) Publish(_ context.Context, _ string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, payload)
	return nil
}

func (p *scriptedPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func stageEvent(t *testing.T, store *MemoryStore) Event {
	t.Helper()
	event := NewEvent("transaction", uuid.New(), "payment.completed", []byte(`{"ok":true}`))
	if err := store.Stage(context.Background(), event); err != nil {
		t.Fatalf("stage: %v", err)
	}
	return event
}

func TestDispatcherMarksSentOnAck(t *testing.T) {
	store := NewMemoryStore()
	pub := &scriptedPublisher{}
	d := NewDispatcher(store, pub, logging.Discard(), Options{BatchSize: 10, MaxAttempts: 3, RetryBackoff: time.Millisecond})

	event := stageEvent(t, store)
	d.Cycle(context.Background())

	if pub.count() != 1 {
		t.Fatalf("expected one publish, got %d", pub.count())
	}
	got, _ := store.Get(event.ID)
	if got.Status != StatusSent {
		t.Fatalf("expected SENT, got %s", got.Status)
	}
	if got.ProcessedAt == nil {
		t.Fatalf("processed_at not recorded")
	}
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	store := NewMemoryStore()
	pub := &scriptedPublisher{failures: 2}
	d := NewDispatcher(store, pub, logging.Discard(), Options{BatchSize: 10, MaxAttempts: 5, RetryBackoff: time.Nanosecond})

	event := stageEvent(t, store)
	ctx := context.Background()

	d.Cycle(ctx)
	got, _ := store.Get(event.ID)
	if got.Status != StatusPending || got.Attempts != 1 {
		t.Fatalf("after first cycle: status=%s attempts=%d", got.Status, got.Attempts)
	}

	// Wait out the (nanosecond) backoff, then retry twice more.
	time.Sleep(time.Millisecond)
	d.Cycle(ctx)
	time.Sleep(time.Millisecond)
	d.Cycle(ctx)

	got, _ = store.Get(event.ID)
	if got.Status != StatusSent {
		t.Fatalf("expected SENT after retries, got %s (attempts=%d)", got.Status, got.Attempts)
	}
	if pub.count() != 1 {
		t.Fatalf("expected exactly one successful publish, got %d", pub.count())
	}
}

func TestDispatcherDeadLettersAfterMaxAttempts(t *testing.T) {
	store := NewMemoryStore()
	pub := &scriptedPublisher{failures: 100}
	d := NewDispatcher(store, pub, logging.Discard(), Options{BatchSize: 10, MaxAttempts: 2, RetryBackoff: time.Nanosecond})

	event := stageEvent(t, store)
	ctx := context.Background()

	d.Cycle(ctx)
	time.Sleep(time.Millisecond)
	d.Cycle(ctx)

	got, _ := store.Get(event.ID)
	if got.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s (attempts=%d)", got.Status, got.Attempts)
	}

	// Dead-lettered events are never fetched again.
	time.Sleep(time.Millisecond)
	d.Cycle(ctx)
	if pub.count() != 0 {
		t.Fatalf("dead-lettered event was published")
	}
}

func TestDispatcherHonorsBatchSizeAndOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := NewEvent("transaction", uuid.New(), "payment.completed", []byte(`1`))
	first.CreatedAt = time.Now().UTC().Add(-time.Minute)
	if err := store.Stage(ctx, first); err != nil {
		t.Fatalf("stage: %v", err)
	}
	second := stageEvent(t, store)

	due, err := store.FetchDue(ctx, 1)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(due) != 1 || due[0].ID != first.ID {
		t.Fatalf("expected oldest event first, got %+v", due)
	}
	_ = second
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	d := NewDispatcher(NewMemoryStore(), &scriptedPublisher{}, logging.Discard(), Options{RetryBackoff: time.Second})

	if got := d.backoffFor(1); got != time.Second {
		t.Fatalf("attempt 1 backoff = %s", got)
	}
	if got := d.backoffFor(3); got != 4*time.Second {
		t.Fatalf("attempt 3 backoff = %s", got)
	}
	if got := d.backoffFor(60); got != maxBackoff {
		t.Fatalf("expected cap, got %s", got)
	}
}
