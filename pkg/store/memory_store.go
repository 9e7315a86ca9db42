package store

import (
	"sync"

	"bookcatalog/pkg/domain"
)

// MemoryStore keeps ratings in-process. Used when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	ratings map[string][]domain.Rating // user ID -> ratings in insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ratings: make(map[string][]domain.Rating)}
}

// SaveRating inserts or replaces the user's rating for the book.
func (m *MemoryStore) SaveRating(userID string, rating domain.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.ratings[userID]
	for i := range list {
		if list[i].BookID == rating.BookID {
			list[i] = rating
			return nil
		}
	}
	m.ratings[userID] = append(list, rating)
	return nil
}

// ListRatings returns a copy of the user's ratings.
func (m *MemoryStore) ListRatings(userID string) ([]domain.Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.ratings[userID]
	out := make([]domain.Rating, len(list))
	copy(out, list)
	return out, nil
}
