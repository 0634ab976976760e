package errors

import (
	"errors"
	"fmt"
)

// Generic error kinds

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a dependency is unavailable
	ErrUnavailable = errors.New("service unavailable")
)

// Pipeline failure taxonomy

var (
	// ErrTransient marks failures of external collaborators (training service,
	// object storage) that callers downgrade to "no result".
	ErrTransient = errors.New("transient external failure")

	// ErrDataIntegrity marks caller or configuration bugs: missing request fields,
	// malformed metadata, empty feature sets where data was required.
	ErrDataIntegrity = errors.New("data integrity failure")

	// ErrModelLoad indicates a model artifact could not be read or decoded
	ErrModelLoad = errors.New("model load failed")

	// ErrNoData indicates an operation had nothing to work on
	ErrNoData = errors.New("no data")

	// ErrLockNotAcquired indicates a registry lock is held by another writer
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// Training job errors

var (
	// ErrJobSubmission indicates the training service rejected a job
	ErrJobSubmission = errors.New("training job submission failed")

	// ErrJobNotFinished indicates a result was requested for a job still running
	ErrJobNotFinished = errors.New("training job not finished")

	// ErrJobFailed indicates a training job ended without a model
	ErrJobFailed = errors.New("training job failed")
)

// DomainError wraps an error with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error with field-specific details.
// It always unwraps to ErrDataIntegrity.
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// Unwrap classifies validation failures as data integrity failures
func (e *ValidationError) Unwrap() error {
	return ErrDataIntegrity
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// PartialFailureError reports a multi-step write that stopped half way.
// OrphanKey names the object left behind so an operator can clean it up.
type PartialFailureError struct {
	Op        string
	OrphanKey string
	Err       error
}

// Error implements the error interface
func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("partial failure during %s (orphaned object %q): %v", e.Op, e.OrphanKey, e.Err)
}

// Unwrap returns the underlying write error
func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

// MultiError wraps multiple errors
type MultiError struct {
	Errors []error
}

// Error implements the error interface
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("multiple errors (%d): %v", len(m.Errors), m.Errors[0])
}

// Add adds an error to the list
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// ToError returns the MultiError as an error, or nil if no errors
func (m *MultiError) ToError() error {
	if !m.HasErrors() {
		return nil
	}
	return m
}

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Transient marks err as a transient external failure while keeping its chain
func Transient(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", message, ErrTransient, err)
}

// IsTransient reports whether err was marked with Transient
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
