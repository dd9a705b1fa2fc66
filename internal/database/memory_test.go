package database

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/facegate/internal/config"
)

func newPerson(label int, name, surname string) *Person {
	return &Person{Label: label, Name: name, Surname: surname, PhoneNumber: "0600000000", CIN: "CIN" + name}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if n, _ := s.MaxLabel(ctx); n != 0 {
		t.Fatalf("expected max label 0 on empty store, got %d", n)
	}

	for _, p := range []*Person{
		newPerson(1, "Hélène", "Dubois"),
		newPerson(3, "Amine", "El-Idrissi"),
		newPerson(2, "Helena", "Novak"),
	} {
		if err := s.Create(ctx, p); err != nil {
			t.Fatalf("Create(%d) failed: %v", p.Label, err)
		}
	}

	if err := s.Create(ctx, newPerson(2, "Other", "Person")); !errors.Is(err, ErrDuplicateLabel) {
		t.Errorf("expected ErrDuplicateLabel, got %v", err)
	}
	if err := s.Create(ctx, &Person{Label: 9}); !errors.Is(err, ErrInvalidPerson) {
		t.Errorf("expected ErrInvalidPerson, got %v", err)
	}

	if n, _ := s.MaxLabel(ctx); n != 3 {
		t.Errorf("expected max label 3, got %d", n)
	}
	if n, _ := s.Count(ctx); n != 3 {
		t.Errorf("expected 3 persons, got %d", n)
	}

	p, err := s.Get(ctx, 3)
	if err != nil || p == nil {
		t.Fatalf("Get(3) = %v, %v", p, err)
	}
	if p.Surname != "El-Idrissi" || p.CreatedAt.IsZero() {
		t.Errorf("unexpected person %+v", p)
	}
	if p, _ := s.Get(ctx, 42); p != nil {
		t.Errorf("expected nil for unknown label, got %+v", p)
	}
	if ok, _ := s.Exists(ctx, 42); ok {
		t.Error("label 42 should not exist")
	}

	found, err := s.Search(ctx, "helen", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(found) != 2 || found[0].Label != 1 || found[1].Label != 2 {
		t.Errorf("expected labels [1 2], got %+v", found)
	}

	found, _ = s.Search(ctx, "el idrissi", 10)
	if len(found) != 1 || found[0].Label != 3 {
		t.Errorf("expected label 3, got %+v", found)
	}

	found, _ = s.Search(ctx, "", 1)
	if len(found) != 1 {
		t.Errorf("expected limit to apply, got %d results", len(found))
	}
}

func TestOpenDrivers(t *testing.T) {
	s, err := Open(&config.DatabaseConfig{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("Open(memory) failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", s)
	}

	if _, err := Open(&config.DatabaseConfig{Driver: "sqlite"}); err == nil {
		t.Error("expected error for unknown driver")
	}

	RegisterBackend("test", func(cfg *config.DatabaseConfig) (PersonStore, error) {
		return NewMemoryStore(), nil
	})
	if _, err := Open(&config.DatabaseConfig{Driver: "test"}); err != nil {
		t.Errorf("Open(test) failed: %v", err)
	}
}
