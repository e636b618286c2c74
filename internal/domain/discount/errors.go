package discount

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrRuleNotFound is returned when a referenced rule does not exist.
	ErrRuleNotFound = errors.New("discount rule not found")
	// ErrProductNotFound is returned when a referenced product does not exist.
	ErrProductNotFound = errors.New("product not found")
	// ErrRuleFull is returned by the rule store when a rule already holds
	// its capacity of products.
	ErrRuleFull = errors.New("discount rule is full")
)

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError is returned when a product claim loses an optimistic
// concurrency race.
type ConflictError struct {
	ProductID string
	Err       error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("product %s was claimed concurrently", e.ProductID)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// StorageError wraps a persistence failure with the step that failed.
// Mutations made before the failing step are not rolled back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
