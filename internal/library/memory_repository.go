package library

import (
	"context"
	"sort"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and local runs. Production should use PostgresRepository.
type InMemoryRepository struct {
	mu          sync.RWMutex
	items       []*SavedItem
	annotations []*Annotation
	nextID      int64
}

var _ Repository = (*InMemoryRepository)(nil)

// NewInMemoryRepository creates a new in-memory library repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{nextID: 1}
}

// AddSavedItem stores item, assigning an id when it has none.
func (r *InMemoryRepository) AddSavedItem(item *SavedItem) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := *item
	if cpy.ID == 0 {
		cpy.ID = r.nextID
	}
	if cpy.ID >= r.nextID {
		r.nextID = cpy.ID + 1
	}
	item.ID = cpy.ID
	r.items = append(r.items, &cpy)
	sort.Slice(r.items, func(i, j int) bool { return r.items[i].ID < r.items[j].ID })
}

// AddAnnotation stores a, assigning an id when it has none.
func (r *InMemoryRepository) AddAnnotation(a *Annotation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := *a
	if cpy.ID == 0 {
		cpy.ID = r.nextID
	}
	if cpy.ID >= r.nextID {
		r.nextID = cpy.ID + 1
	}
	a.ID = cpy.ID
	r.annotations = append(r.annotations, &cpy)
	sort.Slice(r.annotations, func(i, j int) bool { return r.annotations[i].ID < r.annotations[j].ID })
}

// DeleteSavedItem removes an item.
func (r *InMemoryRepository) DeleteSavedItem(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, item := range r.items {
		if item.ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return
		}
	}
}

// ListSavedItems retrieves a page of saved items.
func (r *InMemoryRepository) ListSavedItems(_ context.Context, userID string, fromID int64, limit int) ([]*SavedItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*SavedItem
	for _, item := range r.items {
		if len(out) >= limit {
			break
		}
		if item.UserID == userID && item.ID >= fromID {
			cpy := *item
			out = append(out, &cpy)
		}
	}
	return out, nil
}

// ListAnnotations retrieves a page of annotations.
func (r *InMemoryRepository) ListAnnotations(_ context.Context, userID string, fromID int64, limit int) ([]*Annotation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Annotation
	for _, a := range r.annotations {
		if len(out) >= limit {
			break
		}
		if a.UserID == userID && a.ID >= fromID {
			cpy := *a
			out = append(out, &cpy)
		}
	}
	return out, nil
}
