package repositories

import (
	"errors"

	"hooksync/internal/platform/database"
)

// ErrDuplicate is returned when an insert hits a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

func translate(err error) error {
	if err != nil && database.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
