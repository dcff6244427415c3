// Package exception provides custom error types and error handling utilities for the twinstore core.
// It standardizes errors raised by the job engine and query layer, allowing them to be
// categorized (conflict, not-found, validation, item-level, infrastructure) and, for
// item-level failures, classified as skippable under a continue-on-failure policy.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// Category classifies a StoreError per the error taxonomy of the core.
type Category string

const (
	// CategoryConflict marks duplicate-id and lock-contention errors.
	CategoryConflict Category = "conflict"
	// CategoryNotFound marks lookups of unknown job ids or checkpoints.
	// Read paths generally return nil/false instead of this category; it exists
	// for callers that need an error value (e.g. strict delete).
	CategoryNotFound Category = "not_found"
	// CategoryValidation marks malformed import headers, section ordering
	// violations, unsupported format versions and forbidden query keywords.
	CategoryValidation Category = "validation"
	// CategoryItem marks a single-record failure inside a bulk job.
	CategoryItem Category = "item"
	// CategoryInfrastructure marks storage/heartbeat/lock-renewal failures.
	CategoryInfrastructure Category = "infrastructure"
)

// errorRegistry maps error names referenced in configuration to concrete Go error instances.
// It holds error instances (singletons) for comparison using errors.Is.
var errorRegistry = make(map[string]error)

// registryMutex protects access to errorRegistry.
var registryMutex sync.RWMutex

// RegisterErrorType registers an error type in the registry.
// Registered error types are referenced by the IsErrorOfType function and are
// used for error classification and application of processing policies.
// If prototype is nil or name is empty, this function will panic.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}

	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered checks if the specified error type name is registered in the registry.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// StoreError is the custom error type raised by the twinstore core.
// It holds the module where the error occurred, a message, the wrapped original error,
// the taxonomy category, and flags indicating whether it is retryable or skippable.
type StoreError struct {
	// Module indicates the module where the error occurred (e.g., "importer", "lock", "query").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// Category is the taxonomy bucket of the error.
	Category Category
	// isRetryable indicates whether this error is retryable.
	isRetryable bool
	// isSkippable indicates whether this error may be skipped under ContinueOnFailure.
	isSkippable bool
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewStoreError creates a new StoreError instance.
func NewStoreError(module, message string, originalErr error, category Category, isSkippable, isRetryable bool) *StoreError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	stackTrace := string(buf[:n])

	return &StoreError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		Category:    category,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  stackTrace,
	}
}

// NewConflictError creates a StoreError in the conflict category.
// Conflict errors (duplicate job id, lock already held) are neither retryable nor skippable.
func NewConflictError(module, message string, originalErr error) *StoreError {
	return NewStoreError(module, message, originalErr, CategoryConflict, false, false)
}

// NewNotFoundError creates a StoreError in the not-found category.
func NewNotFoundError(module, message string) *StoreError {
	return NewStoreError(module, message, nil, CategoryNotFound, false, false)
}

// NewValidationError creates a StoreError in the validation category.
// Validation errors are raised immediately to the caller of the triggering operation.
func NewValidationError(module, message string, originalErr error) *StoreError {
	return NewStoreError(module, message, originalErr, CategoryValidation, false, false)
}

// NewItemError creates a StoreError for a single-record failure inside a bulk job.
// Item errors are skippable so a ContinueOnFailure policy can record and proceed.
func NewItemError(module, message string, originalErr error) *StoreError {
	return NewStoreError(module, message, originalErr, CategoryItem, true, false)
}

// NewInfrastructureError creates a StoreError in the infrastructure category.
// Infrastructure errors are retryable by a later run but must stop the current one.
func NewInfrastructureError(module, message string, originalErr error) *StoreError {
	return NewStoreError(module, message, originalErr, CategoryInfrastructure, false, true)
}

// Error implements the error interface.
// It returns the error's module, message, and the string representation of the original error.
func (e *StoreError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *StoreError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *StoreError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error may be skipped under ContinueOnFailure.
func (e *StoreError) IsSkippable() bool {
	return e.isSkippable
}

// IsStoreError determines if the given error is of type StoreError.
func IsStoreError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*StoreError)
	return ok
}

// CategoryOf returns the category of a StoreError, or the empty string for other errors.
func CategoryOf(err error) Category {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// IsConflict determines if an error is in the conflict category.
func IsConflict(err error) bool {
	return CategoryOf(err) == CategoryConflict
}

// IsNotFound determines if an error is in the not-found category.
func IsNotFound(err error) bool {
	return CategoryOf(err) == CategoryNotFound
}

// IsValidation determines if an error is in the validation category.
func IsValidation(err error) bool {
	return CategoryOf(err) == CategoryValidation
}

// IsTemporary determines if an error is temporary (e.g., network error, temporary DB connection issue).
// If it's a StoreError, its IsRetryable flag takes precedence.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*StoreError); ok {
		return se.IsRetryable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF")
}

// IsErrorOfType checks if an error matches a specified type name (string).
// errorTypeName can be a Go error type name (e.g., "*net.OpError", "io.EOF") or a substring of an error message.
// It checks in order: registered sentinel errors (errors.Is), substring of error message, and type name comparison using reflection.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	targetError, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()

	if ok {
		if errors.Is(err, targetError) {
			return true
		}
	}

	currentErr := err
	for currentErr != nil {
		if strings.Contains(currentErr.Error(), errorTypeName) {
			return true
		}

		errType := reflect.TypeOf(currentErr)
		if errType != nil {
			if errType.String() == errorTypeName || (errType.Kind() == reflect.Ptr && errType.Elem().String() == errorTypeName) {
				return true
			}
		}

		currentErr = errors.Unwrap(currentErr)
	}

	return false
}

// ErrLockNotAcquired is a sentinel error indicating a lock could not be acquired
// because another instance holds a live lease.
var ErrLockNotAcquired = errors.New("LockNotAcquired")

// ErrOwnershipLost is a sentinel error indicating the current instance lost
// ownership of a job lease (heartbeat renewal failed).
var ErrOwnershipLost = errors.New("OwnershipLost")

func init() {
	// Register sentinel errors so that errors.Is can detect them by constant name.
	RegisterErrorType("LockNotAcquired", ErrLockNotAcquired)
	RegisterErrorType("OwnershipLost", ErrOwnershipLost)

	// Common network-related error names
	RegisterErrorType("io.EOF", errors.New("io.EOF"))
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)

	// Common database-related error names
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
}

// ExtractErrorMessage extracts the error message string from an error.
// For StoreError, it returns the cleaner Message field.
// Otherwise, it returns the standard Error() string.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if se, ok := err.(*StoreError); ok {
		return se.Message
	}
	return err.Error()
}
