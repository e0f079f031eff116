package memory

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("memory record not found")

	// ErrInvalidRecord is returned by Upsert for records missing a user or text.
	ErrInvalidRecord = errors.New("memory record requires user id and text")
)

// ValidateRecord checks the fields every backend requires.
func ValidateRecord(r Record) error {
	if r.UserID == "" || r.Text == "" {
		return ErrInvalidRecord
	}
	return nil
}
