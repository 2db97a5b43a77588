package store

import (
	"errors"
	"fmt"
)

// Sentinel lookup errors. Callers match these with errors.Is.
var (
	ErrJobNotFound      = errors.New("job not found")
	ErrTriggerNotFound  = errors.New("trigger not found")
	ErrCalendarNotFound = errors.New("calendar not found")
)

// PersistenceError wraps a failure of the underlying storage medium.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// NewPersistenceError wraps cause with the store operation that failed.
func NewPersistenceError(op string, cause error) *PersistenceError {
	return &PersistenceError{Op: op, Cause: cause}
}

// AlreadyExistsError reports a store of a job, trigger or calendar whose
// identity is already present and replacement was not requested.
type AlreadyExistsError struct {
	Kind string
	Name string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

// NewAlreadyExistsError builds an AlreadyExistsError for the given entity
// kind ("job", "trigger", "calendar") and identity.
func NewAlreadyExistsError(kind, name string) *AlreadyExistsError {
	return &AlreadyExistsError{Kind: kind, Name: name}
}
