package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/database"
)

// duplicateEntry is the MySQL/MariaDB error number for a duplicate key.
const duplicateEntry = 1062

const personColumns = "label, name, surname, phone_number, cin, folder, created_at"

// PersonRepository provides MariaDB-backed person records.
type PersonRepository struct {
	pool *Pool
}

// NewPersonRepository creates a new MariaDB person repository.
func NewPersonRepository(pool *Pool) *PersonRepository {
	return &PersonRepository{pool: pool}
}

// Create stores a new person.
func (r *PersonRepository) Create(ctx context.Context, p *database.Person) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.db.ExecContext(ctx,
		`INSERT INTO persons (label, name, surname, phone_number, cin, folder, search_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Label, p.Name, p.Surname, p.PhoneNumber, p.CIN, p.Folder, p.SearchName(), p.CreatedAt)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == duplicateEntry {
			return fmt.Errorf("%w: %d", database.ErrDuplicateLabel, p.Label)
		}
		return fmt.Errorf("create person: %w", err)
	}
	return nil
}

// Get retrieves a person by label, returns nil if not found.
func (r *PersonRepository) Get(ctx context.Context, label int) (*database.Person, error) {
	row := r.pool.db.QueryRowContext(ctx, "SELECT "+personColumns+" FROM persons WHERE label = ?", label)
	p, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

// Exists checks if a person with the label exists.
func (r *PersonRepository) Exists(ctx context.Context, label int) (bool, error) {
	var exists bool
	err := r.pool.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM persons WHERE label = ?)", label).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check person: %w", err)
	}
	return exists, nil
}

// MaxLabel returns the highest label in use.
func (r *PersonRepository) MaxLabel(ctx context.Context) (int, error) {
	var label int
	if err := r.pool.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(label), 0) FROM persons").Scan(&label); err != nil {
		return 0, fmt.Errorf("max person label: %w", err)
	}
	return label, nil
}

// Count returns the total number of persons.
func (r *PersonRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM persons").Scan(&count); err != nil {
		return 0, fmt.Errorf("count persons: %w", err)
	}
	return count, nil
}

// Search finds persons whose normalized name contains the normalized query.
func (r *PersonRepository) Search(ctx context.Context, query string, limit int) ([]database.Person, error) {
	if limit <= 0 {
		limit = constants.DefaultSearchLimit
	}
	rows, err := r.pool.db.QueryContext(ctx,
		"SELECT "+personColumns+" FROM persons WHERE search_name LIKE CONCAT('%', ?, '%') ORDER BY label LIMIT ?",
		database.NormalizePersonName(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search persons: %w", err)
	}
	defer rows.Close()

	var persons []database.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return persons, nil
}

// Close closes the underlying pool.
func (r *PersonRepository) Close() error {
	return r.pool.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPerson(s scanner) (*database.Person, error) {
	var p database.Person
	if err := s.Scan(&p.Label, &p.Name, &p.Surname, &p.PhoneNumber, &p.CIN, &p.Folder, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
