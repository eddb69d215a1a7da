package block

import (
	"errors"
	"fmt"
)

// GraphError reports an operation that violates graph integrity.
//
// In strict mode these are raised as panics (they are programming errors);
// in the default mode the operation is absorbed by the shared void
// property instead.
type GraphError struct {
	// Code identifies the error category.
	Code GraphErrorCode

	// Path is the block id or property name involved.
	Path string

	// Message is a human-readable description.
	Message string
}

// GraphErrorCode categorizes graph errors.
type GraphErrorCode string

const (
	// ErrCodeDestroyed indicates access to a destroyed block or property.
	ErrCodeDestroyed GraphErrorCode = "DESTROYED"

	// ErrCodeReadOnly indicates a write to a reserved reference property.
	ErrCodeReadOnly GraphErrorCode = "READ_ONLY"

	// ErrCodeInvalidPath indicates a path that cannot be resolved.
	ErrCodeInvalidPath GraphErrorCode = "INVALID_PATH"

	// ErrCodeNotFound indicates a missing block or property.
	ErrCodeNotFound GraphErrorCode = "NOT_FOUND"

	// ErrCodeWrongGoroutine indicates graph mutation off the owner goroutine.
	ErrCodeWrongGoroutine GraphErrorCode = "WRONG_GOROUTINE"
)

// Error implements the error interface.
func (e *GraphError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path=%s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsDestroyedError returns true if err is a GraphError about a destroyed
// block or property.
func IsDestroyedError(err error) bool {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge.Code == ErrCodeDestroyed
	}
	return false
}

// IsReadOnlyError returns true if err is a GraphError about a read-only
// property.
func IsReadOnlyError(err error) bool {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge.Code == ErrCodeReadOnly
	}
	return false
}

// IsNotFoundError returns true if err is a NOT_FOUND or INVALID_PATH
// GraphError.
func IsNotFoundError(err error) bool {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge.Code == ErrCodeNotFound || ge.Code == ErrCodeInvalidPath
	}
	return false
}
