package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for catalog operations.
var (
	// ErrValidation marks malformed input: a missing required field or a wrong type.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an entity that is absent or not visible to the caller.
	ErrNotFound       = errors.New("not found")
	ErrCourseNotFound = fmt.Errorf("course %w", ErrNotFound)
	ErrVideoNotFound  = fmt.Errorf("video %w", ErrNotFound)
	ErrAdminNotFound  = fmt.Errorf("admin %w", ErrNotFound)

	// ErrTransfer marks an upload service failure. It is captured on the upload
	// item and never returned past the queue.
	ErrTransfer = errors.New("transfer failed")

	// ErrStore marks a persistent store failure.
	ErrStore = errors.New("store operation failed")

	// Auth errors
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Upload validation errors
	ErrInvalidFileType    = errors.New("invalid file type")
	ErrFilenameTooLong    = errors.New("filename too long")
	ErrInvalidContentType = errors.New("invalid content type")
	ErrFileTooLarge       = errors.New("file too large")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError returns a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is reports ValidationError as ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StoreError wraps a failed persistent store operation.
type StoreError struct {
	Op  string
	Err error
}

// NewStoreError wraps err as a StoreError for op. A nil err yields nil.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports StoreError as ErrStore.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}
