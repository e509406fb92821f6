// Package services defines the business logic for haikus. This file
// centralizes the service-level errors so they can be returned consistently
// and translated to HTTP statuses by the handler layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrHaikuExists is returned when today's haiku has already been written.
	ErrHaikuExists = errors.New("a haiku already exists for today")
)

// StorageError wraps any failure from the store (connect, find, insert).
// Op names the step that failed; the cause is available via errors.Unwrap.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
