package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Status tracks the dispatch state machine of an event: PENDING until the
// transport acknowledges, SENT on confirmed delivery, FAILED once retries
// are exhausted (dead letter).
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// Event is a staged notification. It is created in the same unit of work as
// the state change it describes and carries a self-contained payload, so the
// dispatcher never re-reads the aggregate.
type Event struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	Topic         string
	Payload       []byte
	Status        Status
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// NewEvent stages a PENDING event for the given aggregate.
func NewEvent(aggregateType string, aggregateID uuid.UUID, topic string, payload []byte) Event {
	now := time.Now().UTC()
	return Event{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Topic:         topic,
		Payload:       payload,
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
}

// Store is the dispatcher's view of staged events. Staging itself happens
// through Stage inside the producer's transaction.
type Store interface {
	// FetchDue returns up to limit PENDING events whose next attempt is due,
	// oldest first.
	FetchDue(ctx context.Context, limit int) ([]Event, error)
	// MarkSent retires an event after the transport acknowledged it.
	MarkSent(ctx context.Context, id uuid.UUID) error
	// ScheduleRetry increments the attempt counter and defers the event.
	ScheduleRetry(ctx context.Context, id uuid.UUID, nextAttempt time.Time) error
	// MarkFailed dead-letters an event whose attempts are exhausted.
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// execer matches pgx.Tx and *pgxpool.Pool so staging can join the caller's
// transaction.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Stage inserts the event using the caller's transaction handle. The insert
// commits or rolls back together with the aggregate it describes.
func Stage(ctx context.Context, db execer, e Event) error {
	_, err := db.Exec(ctx, `INSERT INTO outbox_events
        (id, aggregate_type, aggregate_id, topic, payload, status, attempts, next_attempt_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.AggregateType, e.AggregateID, e.Topic, e.Payload, e.Status, e.Attempts, e.NextAttemptAt, e.CreatedAt)
	return err
}
