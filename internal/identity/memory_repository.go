package identity

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

type memoryRepository struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]User
	byName map[string]uuid.UUID
}

// NewMemoryRepository constructs an in-memory repository for tests and
// db-less development.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		byID:   make(map[uuid.UUID]User),
		byName: make(map[string]uuid.UUID),
	}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[user.Username]; exists {
		return errors.New("username taken")
	}
	r.byID[user.ID] = user
	r.byName[user.Username] = user.ID
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id uuid.UUID) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *memoryRepository) FindByUsername(_ context.Context, username string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[username]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return r.byID[id], nil
}
