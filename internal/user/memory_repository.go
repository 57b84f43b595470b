package user

import (
	"context"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
type InMemoryRepository struct {
	mu        sync.RWMutex
	byID      map[string]*User
	byEncoded map[string]*User
}

var _ Repository = (*InMemoryRepository)(nil)

// NewInMemoryRepository creates a new in-memory user repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byID:      make(map[string]*User),
		byEncoded: make(map[string]*User),
	}
}

// Add stores u.
func (r *InMemoryRepository) Add(u *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cpy := *u
	r.byID[u.ID] = &cpy
	r.byEncoded[u.EncodedID] = &cpy
}

// FindByID retrieves a user by internal id.
func (r *InMemoryRepository) FindByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cpy := *u
	return &cpy, nil
}

// FindByEncodedID retrieves a user by public id.
func (r *InMemoryRepository) FindByEncodedID(_ context.Context, encodedID string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byEncoded[encodedID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cpy := *u
	return &cpy, nil
}
