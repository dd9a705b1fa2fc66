package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for a duplicate key.
const uniqueViolation = "23505"

// PersonRepository provides PostgreSQL-backed person records
type PersonRepository struct {
	pool *Pool
}

// NewPersonRepository creates a new PostgreSQL person repository
func NewPersonRepository(pool *Pool) *PersonRepository {
	return &PersonRepository{pool: pool}
}

// Create stores a new person in the database
func (r *PersonRepository) Create(ctx context.Context, p *database.Person) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO persons (label, name, surname, phone_number, cin, folder, search_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		p.Label, p.Name, p.Surname, p.PhoneNumber, p.CIN, p.Folder, p.SearchName(), p.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %d", database.ErrDuplicateLabel, p.Label)
		}
		return fmt.Errorf("create person: %w", err)
	}
	return nil
}

// Get retrieves a person by label, returns nil if not found
func (r *PersonRepository) Get(ctx context.Context, label int) (*database.Person, error) {
	query := `
		SELECT label, name, surname, phone_number, cin, folder, created_at
		FROM persons
		WHERE label = $1
	`

	var p database.Person
	err := r.pool.QueryRow(ctx, query, label).Scan(
		&p.Label,
		&p.Name,
		&p.Surname,
		&p.PhoneNumber,
		&p.CIN,
		&p.Folder,
		&p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	return &p, nil
}

// Exists checks if a person with the label exists
func (r *PersonRepository) Exists(ctx context.Context, label int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM persons WHERE label = $1)", label).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check person: %w", err)
	}
	return exists, nil
}

// MaxLabel returns the highest label in use
func (r *PersonRepository) MaxLabel(ctx context.Context) (int, error) {
	var label int
	if err := r.pool.QueryRow(ctx, "SELECT COALESCE(MAX(label), 0) FROM persons").Scan(&label); err != nil {
		return 0, fmt.Errorf("max person label: %w", err)
	}
	return label, nil
}

// Count returns the total number of persons
func (r *PersonRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM persons").Scan(&count); err != nil {
		return 0, fmt.Errorf("count persons: %w", err)
	}
	return count, nil
}

// Search finds persons whose normalized name contains the normalized query
func (r *PersonRepository) Search(ctx context.Context, query string, limit int) ([]database.Person, error) {
	if limit <= 0 {
		limit = constants.DefaultSearchLimit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT label, name, surname, phone_number, cin, folder, created_at
		FROM persons
		WHERE search_name LIKE '%' || $1 || '%'
		ORDER BY label
		LIMIT $2
	`, database.NormalizePersonName(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search persons: %w", err)
	}
	defer rows.Close()

	var persons []database.Person
	for rows.Next() {
		var p database.Person
		if err := rows.Scan(&p.Label, &p.Name, &p.Surname, &p.PhoneNumber, &p.CIN, &p.Folder, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return persons, nil
}

// Close closes the underlying pool
func (r *PersonRepository) Close() error {
	return r.pool.Close()
}
