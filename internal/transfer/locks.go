package transfer

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// lockTable hands out per-account exclusive locks for the in-memory engine.
// Locks are acquired in canonical id order with a bounded wait, mirroring
// the row-lock protocol of the Postgres engine.
type lockTable struct {
	mu    sync.Mutex
	slots map[uuid.UUID]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[uuid.UUID]chan struct{})}
}

func (t *lockTable) slot(id uuid.UUID) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[id]
	if !ok {
		s = make(chan struct{}, 1)
		t.slots[id] = s
	}
	return s
}

// acquireOrdered locks both accounts in ascending id order. It returns a
// release func, or ErrLockTimeout once the shared deadline expires; any
// partially acquired locks are released on failure.
func (t *lockTable) acquireOrdered(a, b uuid.UUID, timeout time.Duration) (func(), error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var held []chan struct{}
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, id := range lockOrder(a, b) {
		s := t.slot(id)
		select {
		case s <- struct{}{}:
			held = append(held, s)
		case <-timer.C:
			release()
			return nil, ErrLockTimeout
		}
	}
	return release, nil
}
