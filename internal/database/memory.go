package database

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process PersonStore. Records are lost on exit; it backs the
// "memory" driver and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	persons map[int]Person
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{persons: make(map[int]Person)}
}

// Create stores a new person.
func (m *MemoryStore) Create(ctx context.Context, p *Person) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.persons[p.Label]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateLabel, p.Label)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.persons[p.Label] = *p
	return nil
}

// Get retrieves a person by label, returns nil if not found.
func (m *MemoryStore) Get(ctx context.Context, label int) (*Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.persons[label]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Exists checks if a person exists.
func (m *MemoryStore) Exists(ctx context.Context, label int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.persons[label]
	return ok, nil
}

// MaxLabel returns the highest label in use.
func (m *MemoryStore) MaxLabel(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	highest := 0
	for label := range m.persons {
		highest = max(highest, label)
	}
	return highest, nil
}

// Count returns the number of persons.
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.persons), nil
}

// Search returns persons whose normalized name contains the normalized query, by label.
func (m *MemoryStore) Search(ctx context.Context, query string, limit int) ([]Person, error) {
	q := NormalizePersonName(query)

	m.mu.RLock()
	var result []Person
	for _, p := range m.persons {
		if strings.Contains(p.SearchName(), q) {
			result = append(result, p)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(result, func(a, b Person) int { return a.Label - b.Label })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
