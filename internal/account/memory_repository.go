package account

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory account store for tests and db-less
// development. The in-memory transfer engine mutates balances through
// Update while holding its own per-account locks.
type MemoryRepository struct {
	mu      sync.RWMutex
	storage map[uuid.UUID]Account
}

// NewMemoryRepository constructs an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{storage: make(map[uuid.UUID]Account)}
}

// Create inserts an account record.
func (r *MemoryRepository) Create(_ context.Context, acc Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[acc.ID]; exists {
		return errors.New("account exists")
	}
	r.storage[acc.ID] = acc
	return nil
}

// Get fetches an account by identifier.
func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.storage[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acc, nil
}

// Update replaces a stored account record.
func (r *MemoryRepository) Update(_ context.Context, acc Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.storage[acc.ID]; !ok {
		return ErrNotFound
	}
	r.storage[acc.ID] = acc
	return nil
}
