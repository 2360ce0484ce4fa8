// LOCATION: internal/errors/errors.go
//
// This file provides:
// - Sentinel errors for all error conditions
// - StorageError, the distinguishable storage-engine failure
// - Error category checking functions
// - Error wrapping utilities

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Storage engine errors (open/prepare/bind/step failures)
	ErrStorage = errors.New("storage error")
	ErrClosed  = errors.New("store is closed")

	// Consistency errors
	ErrInconsistent = errors.New("store is inconsistent")
	ErrMisaligned   = errors.New("sources are not time-aligned")
	ErrWritesHalted = errors.New("writes halted after failed integrity check")

	// Resource errors
	ErrFormat     = errors.New("formatter produced no output")
	ErrFileCreate = errors.New("cannot create file")

	// Concurrency misuse
	ErrSaveInProgress = errors.New("save already in progress")
	ErrFileInUse      = errors.New("file already used by another snapshot")

	// Lookup errors
	ErrNotFound       = errors.New("not found")
	ErrWindowNotFound = errors.New("window not requested")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidSource = errors.New("invalid source")

	// Pipeline errors
	ErrNotRunning = errors.New("service not running")
	ErrQueueFull  = errors.New("queue full")
)

// ============================================================================
// StorageError
// ============================================================================

// StorageError reports a failure of the embedded storage engine. It is
// never returned for "no rows"; callers can tell the two apart.
type StorageError struct {
	Op    string // prepare, exec, query, scan, begin, commit
	Table string // empty when not table specific
	Err   error
}

// NewStorage wraps err as a StorageError. Returns nil for a nil err.
func NewStorage(op, table string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Table: table, Err: err}
}

func (e *StorageError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsStorage returns true if err originated in the storage engine.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrClosed)
}

// IsConsistency returns true if err reports cross-source inconsistency.
func IsConsistency(err error) bool {
	return errors.Is(err, ErrInconsistent) ||
		errors.Is(err, ErrMisaligned) ||
		errors.Is(err, ErrWritesHalted)
}

// IsResource returns true if err is a file or formatter failure.
func IsResource(err error) bool {
	return errors.Is(err, ErrFormat) ||
		errors.Is(err, ErrFileCreate)
}

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrWindowNotFound)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidSource)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// NewFileCreate wraps a file creation failure.
func NewFileCreate(path string, err error) error {
	return fmt.Errorf("%s: %w: %w", path, ErrFileCreate, err)
}
