package database

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidPerson is returned when a person record misses a required field.
var ErrInvalidPerson = errors.New("invalid person")

// ErrDuplicateLabel is returned when a person with the same label already exists.
var ErrDuplicateLabel = errors.New("person with this label already exists")

// Person is the record kept for an enrolled identity. Label is the identity label the
// recognition model knows the person by.
type Person struct {
	Label       int       `json:"id"`
	Name        string    `json:"name"`
	Surname     string    `json:"surname"`
	PhoneNumber string    `json:"phone_number"`
	CIN         string    `json:"cin"` // national identity card number
	Folder      string    `json:"folder,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks that the label is set and every required field is present.
func (p *Person) Validate() error {
	if p.Label <= 0 {
		return errors.Join(ErrInvalidPerson, errors.New("label must be positive"))
	}
	return p.ValidateFields()
}

// ValidateFields checks the fields supplied by the user, ignoring the label.
func (p *Person) ValidateFields() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", p.Name},
		{"surname", p.Surname},
		{"phone_number", p.PhoneNumber},
		{"cin", p.CIN},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return errors.Join(ErrInvalidPerson, errors.New("missing "+strings.Join(missing, ", ")))
	}
	return nil
}

// SearchName is the normalized "name surname" used for accent-insensitive search.
func (p *Person) SearchName() string {
	return NormalizePersonName(p.Name + " " + p.Surname)
}
