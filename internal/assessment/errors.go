package assessment

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or out-of-range input. Nothing is
// persisted when one is returned.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Msg
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func invalidf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown entity id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

// ConflictError reports a uniqueness or concurrent-update clash, such
// as a second live attempt for the same (test, student) pair. Safe to
// retry after inspecting current state.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// StateError reports an operation applied to an attempt whose lifecycle
// state does not allow it.
type StateError struct {
	Op     string
	Status AttemptStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed while attempt is %s", e.Op, e.Status)
}

func IsValidation(err error) bool { var e *ValidationError; return errors.As(err, &e) }
func IsNotFound(err error) bool   { var e *NotFoundError; return errors.As(err, &e) }
func IsConflict(err error) bool   { var e *ConflictError; return errors.As(err, &e) }
func IsState(err error) bool      { var e *StateError; return errors.As(err, &e) }
