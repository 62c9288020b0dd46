package billing

import (
	"errors"
	"fmt"
)

// ErrInvalidInput matches every *InvalidInputError via errors.Is.
var ErrInvalidInput = errors.New("invalid input")

// InvalidInputError reports a precondition violation of Reconcile.
// Index is the tender position, or -1 when the error is not tied to one tender.
type InvalidInputError struct {
	Field  string
	Index  int
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("invalid input: tenders[%d].%s: %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

func invalid(field, reason string) error {
	return &InvalidInputError{Field: field, Index: -1, Reason: reason}
}

func invalidAt(i int, field, reason string) error {
	return &InvalidInputError{Field: field, Index: i, Reason: reason}
}

// NewInvalidInput builds an InvalidInputError for callers validating
// data that feeds Reconcile (e.g. an appointment without price).
func NewInvalidInput(field, reason string) error { return invalid(field, reason) }
