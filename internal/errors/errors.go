// Package errors provides structured error types for eventlens.
// All errors carry a category, code, message, and retryable flag so that
// transports can map them to responses without string matching.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by how the caller can react to them.
type ErrorCategory string

const (
	// ErrCategoryValidation marks malformed or out-of-range caller input.
	// Validation errors are raised before any store access.
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	// ErrCategoryNotFound marks an unknown or inactive project scope, or a missing entity.
	ErrCategoryNotFound ErrorCategory = "NOT_FOUND"
	// ErrCategoryPersistence marks store failures, constraint violations and cancellation.
	ErrCategoryPersistence ErrorCategory = "PERSISTENCE"
	ErrCategoryInternal    ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeNegativeLimit    = "NEGATIVE_LIMIT"
	CodeNegativeOffset   = "NEGATIVE_OFFSET"
	CodeInvalidDateRange = "INVALID_DATE_RANGE"
	CodeEmptyField       = "EMPTY_FIELD"
	CodeFieldTooLong     = "FIELD_TOO_LONG"
	CodeInvalidSlug      = "INVALID_SLUG"
	CodeInvalidPeriod    = "INVALID_PERIOD"
	CodeProjectRequired  = "PROJECT_REQUIRED"

	// Not found codes
	CodeProjectNotFound = "PROJECT_NOT_FOUND"

	// Persistence codes
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeConstraintViolation = "CONSTRAINT_VIOLATION"
	CodeDuplicateSlug       = "DUPLICATE_SLUG"
	CodeQueryFailed         = "QUERY_FAILED"
	CodeCancelled           = "CANCELLED"
	CodeExportFailed        = "EXPORT_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// EventlensError is the structured error type used throughout the system.
type EventlensError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *EventlensError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *EventlensError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *EventlensError) Is(target error) bool {
	var t *EventlensError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new EventlensError.
func New(category ErrorCategory, code, message string) *EventlensError {
	return &EventlensError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new EventlensError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *EventlensError {
	return &EventlensError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *EventlensError) WithDetails(details map[string]interface{}) *EventlensError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
// eventlens never retries internally; the flag is advice for callers.
func IsRetryable(err error) bool {
	var ee *EventlensError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an EventlensError.
func GetCategory(err error) ErrorCategory {
	var ee *EventlensError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an EventlensError.
func GetCode(err error) string {
	var ee *EventlensError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

func IsValidation(err error) bool  { return GetCategory(err) == ErrCategoryValidation }
func IsNotFound(err error) bool    { return GetCategory(err) == ErrCategoryNotFound }
func IsPersistence(err error) bool { return GetCategory(err) == ErrCategoryPersistence }

// Is and As forward to the standard library so callers need one import.
func Is(err, target error) bool     { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryPersistence && code == CodeStoreUnavailable:
		return true
	case category == ErrCategoryPersistence && code == CodeQueryFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *EventlensError {
	return New(ErrCategoryValidation, code, message)
}

func NewNotFoundError(code, message string) *EventlensError {
	return New(ErrCategoryNotFound, code, message)
}

func NewPersistenceError(code, message string, cause error) *EventlensError {
	return Wrap(ErrCategoryPersistence, code, message, cause)
}

func NewInternalError(message string, cause error) *EventlensError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// FromStore classifies a raw store error. Context cancellation and deadline
// errors become CANCELLED; errors that are already classified pass through.
func FromStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EventlensError
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewPersistenceError(CodeCancelled, op+" cancelled", err)
	}
	return NewPersistenceError(CodeQueryFailed, op+" failed", err)
}

// Classify is FromStore for a call made under ctx. When ctx is done, an
// unclassified failure is reported as CANCELLED even if the driver returned
// its own error instead of the context's.
func Classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && GetCategory(err) == "" && !errors.Is(err, ctxErr) {
		return NewPersistenceError(CodeCancelled, op+" cancelled", fmt.Errorf("%w: %v", ctxErr, err))
	}
	return FromStore(op, err)
}
