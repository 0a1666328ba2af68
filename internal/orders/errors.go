package orders

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrValidation marks input rejected before any storage call.
	ErrValidation = errors.New("invalid order input")
	// ErrConnection marks an unreachable store.
	ErrConnection = errors.New("storage unreachable")
	// ErrConstraintViolation marks a write refused by a table constraint.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrStorageWrite marks any failed write; the transaction was rolled back.
	ErrStorageWrite = errors.New("storage write failed")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
