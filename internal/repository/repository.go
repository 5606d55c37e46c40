package repository

import (
	"errors"
	"strings"
)

// ErrConflict is returned when a write loses to a uniqueness or
// check-and-set guard. Callers can distinguish it from validation failures
// and decide whether to retry.
var ErrConflict = errors.New("conflict")

// isUniqueViolation reports whether err is a sqlite unique constraint
// failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
