// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sync"

	"github.com/kozaktomas/facegate/internal/database"
)

// MockPersonStore is a mock implementation of database.PersonStore backed by a
// database.MemoryStore, with per-method error injection.
type MockPersonStore struct {
	store *database.MemoryStore

	mu      sync.Mutex
	creates int
	closed  bool

	// Error injection
	CreateError   error
	GetError      error
	ExistsError   error
	MaxLabelError error
	CountError    error
	SearchError   error
}

// NewMockPersonStore creates a new, empty mock person store
func NewMockPersonStore() *MockPersonStore {
	return &MockPersonStore{store: database.NewMemoryStore()}
}

// AddPerson adds a person to the mock store, bypassing error injection
func (m *MockPersonStore) AddPerson(p database.Person) {
	_ = m.store.Create(context.Background(), &p)
}

// Create stores a new person
func (m *MockPersonStore) Create(ctx context.Context, p *database.Person) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	m.creates++
	m.mu.Unlock()
	return m.store.Create(ctx, p)
}

// Get retrieves a person by label
func (m *MockPersonStore) Get(ctx context.Context, label int) (*database.Person, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	return m.store.Get(ctx, label)
}

// Exists checks if a person exists
func (m *MockPersonStore) Exists(ctx context.Context, label int) (bool, error) {
	if m.ExistsError != nil {
		return false, m.ExistsError
	}
	return m.store.Exists(ctx, label)
}

// MaxLabel returns the highest label in use
func (m *MockPersonStore) MaxLabel(ctx context.Context) (int, error) {
	if m.MaxLabelError != nil {
		return 0, m.MaxLabelError
	}
	return m.store.MaxLabel(ctx)
}

// Count returns the total number of persons
func (m *MockPersonStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	return m.store.Count(ctx)
}

// Search finds persons by normalized name
func (m *MockPersonStore) Search(ctx context.Context, query string, limit int) ([]database.Person, error) {
	if m.SearchError != nil {
		return nil, m.SearchError
	}
	return m.store.Search(ctx, query, limit)
}

// Close marks the store closed
func (m *MockPersonStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// CreateCalls returns how many Create calls got past error injection
func (m *MockPersonStore) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

// Closed reports whether Close was called
func (m *MockPersonStore) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ database.PersonStore = (*MockPersonStore)(nil)
