package database

import (
	"context"
)

// PersonReader provides read-only access to person records
type PersonReader interface {
	// Get retrieves a person by label, returns nil if not found
	Get(ctx context.Context, label int) (*Person, error)
	// Exists checks if a person with the given label exists
	Exists(ctx context.Context, label int) (bool, error)
	// MaxLabel returns the highest label in use, or 0 when there are no persons
	MaxLabel(ctx context.Context) (int, error)
	// Count returns the total number of persons stored
	Count(ctx context.Context) (int, error)
	// Search finds persons whose name or surname contains the query.
	// Names are normalized before comparison (lowercase, no diacritics, dashes to spaces).
	Search(ctx context.Context, query string, limit int) ([]Person, error)
}

// PersonWriter provides write access to person records
type PersonWriter interface {
	PersonReader

	// Create stores a new person; returns ErrDuplicateLabel if the label is taken
	Create(ctx context.Context, p *Person) error
}

// PersonStore is a PersonWriter backed by a closable connection.
type PersonStore interface {
	PersonWriter
	Close() error
}
