package outbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory outbox for tests and db-less development.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[uuid.UUID]Event
}

// NewMemoryStore constructs an empty in-memory outbox.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[uuid.UUID]Event)}
}

// Stage records a staged event.
func (s *MemoryStore) Stage(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[e.ID]; exists {
		return errors.New("event exists")
	}
	s.events[e.ID] = e
	return nil
}

// FetchDue returns due PENDING events oldest first.
func (s *MemoryStore) FetchDue(_ context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var due []Event
	for _, e := range s.events {
		if e.Status == StatusPending && !e.NextAttemptAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MarkSent transitions the event to SENT.
func (s *MemoryStore) MarkSent(_ context.Context, id uuid.UUID) error {
	return s.update(id, func(e *Event) {
		now := time.Now().UTC()
		e.Status = StatusSent
		e.ProcessedAt = &now
	})
}

// ScheduleRetry bumps the attempt counter and defers the next delivery.
func (s *MemoryStore) ScheduleRetry(_ context.Context, id uuid.UUID, nextAttempt time.Time) error {
	return s.update(id, func(e *Event) {
		e.Attempts++
		e.NextAttemptAt = nextAttempt.UTC()
	})
}

// MarkFailed dead-letters the event.
func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID) error {
	return s.update(id, func(e *Event) {
		now := time.Now().UTC()
		e.Status = StatusFailed
		e.Attempts++
		e.ProcessedAt = &now
	})
}

// Get returns a stored event, for assertions in tests.
func (s *MemoryStore) Get(id uuid.UUID) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	return e, ok
}

// ForAggregate returns all events staged for an aggregate id.
func (s *MemoryStore) ForAggregate(aggregateID uuid.UUID) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStore) update(id uuid.UUID, apply func(*Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return errors.New("event not found")
	}
	apply(&e)
	s.events[id] = e
	return nil
}
