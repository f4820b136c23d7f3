package session

import (
	"context"
	"sync"
)

// MemoryStore implements Store using an in-memory map. Records are copied
// on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

// FindOne retrieves a record by ID. Returns nil, nil if not found.
func (s *MemoryStore) FindOne(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	return r.Clone(), nil
}

// Save inserts or replaces the record with the same ID.
func (s *MemoryStore) Save(_ context.Context, r *Record) error {
	if r.ID == "" {
		return ErrInvalidSessionID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[r.ID] = r.Clone()
	return nil
}

// DeleteMany removes every record matching the filter.
func (s *MemoryStore) DeleteMany(_ context.Context, f Filter) (int64, error) {
	if f.IsEmpty() {
		return 0, ErrEmptyFilter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.records {
		if f.Matches(r) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
