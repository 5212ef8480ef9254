package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads and retires outbox events in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// FetchDue returns due PENDING events oldest first. SKIP LOCKED keeps a
// slow cycle from blocking a concurrently started one.
func (s *PostgresStore) FetchDue(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.Query(ctx, `SELECT id, aggregate_type, aggregate_id, topic, payload, status, attempts, next_attempt_at, created_at, processed_at
        FROM outbox_events
        WHERE status = $1 AND next_attempt_at <= now()
        ORDER BY created_at ASC
        LIMIT $2
        FOR UPDATE SKIP LOCKED`, StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.Topic, &e.Payload,
			&e.Status, &e.Attempts, &e.NextAttemptAt, &e.CreatedAt, &e.ProcessedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkSent transitions the event to SENT and records the processing time.
func (s *PostgresStore) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE outbox_events SET status = $1, processed_at = now() WHERE id = $2`,
		StatusSent, id)
	return err
}

// ScheduleRetry bumps the attempt counter and defers the next delivery.
func (s *PostgresStore) ScheduleRetry(ctx context.Context, id uuid.UUID, nextAttempt time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE outbox_events SET attempts = attempts + 1, next_attempt_at = $1 WHERE id = $2`,
		nextAttempt.UTC(), id)
	return err
}

// MarkFailed dead-letters the event.
func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE outbox_events SET status = $1, attempts = attempts + 1, processed_at = now() WHERE id = $2`,
		StatusFailed, id)
	return err
}
