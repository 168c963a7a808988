package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrInvalidArgument indicates a required field is missing or malformed.
	ErrInvalidArgument = errors.New("repository: invalid argument")
	// ErrDuplicate indicates a uniqueness constraint on a name was violated.
	ErrDuplicate = errors.New("repository: duplicate")
	// ErrConflict indicates a concurrent writer won a race on the same row.
	ErrConflict = errors.New("repository: conflict")
	// ErrPersistence indicates the underlying store failed.
	ErrPersistence = errors.New("repository: persistence failure")
)

// ErrEnvironmentNotEmpty blocks deletion of an environment that still owns variables.
var ErrEnvironmentNotEmpty = fmt.Errorf("%w: environment still owns variables", ErrConflict)

// Persistence wraps a driver failure so it matches ErrPersistence while keeping the cause.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
