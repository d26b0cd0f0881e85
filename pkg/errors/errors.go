package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Category classifies a domain error for programmatic handling.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryNotFound   Category = "not_found"
	CategoryConflict   Category = "conflict"
	CategoryInternal   Category = "internal"
	CategoryIO         Category = "io"
	CategoryProcess    Category = "process"
	CategoryNetwork    Category = "network"
	CategoryTimeout    Category = "timeout"
	CategoryCancelled  Category = "cancelled"
)

// DomainError is the error type used across the module. It carries a
// category, an optional cause and free-form context key/value pairs.
type DomainError struct {
	Category Category
	Message  string
	Cause    error
	Context  map[string]string
}

func (e *DomainError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%s", k, e.Context[k]))
		}
		sb.WriteString(" (")
		sb.WriteString(strings.Join(pairs, ", "))
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair to the error and returns the error
// for chaining.
func (e *DomainError) WithContext(key, value string) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func newError(category Category, message string, cause error) *DomainError {
	return &DomainError{
		Category: category,
		Message:  message,
		Cause:    cause,
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return newError(CategoryValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return newError(CategoryNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return newError(CategoryConflict, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return newError(CategoryInternal, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return newError(CategoryIO, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return newError(CategoryProcess, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return newError(CategoryNetwork, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return newError(CategoryTimeout, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return newError(CategoryCancelled, message, cause)
}

func isCategory(err error, category Category) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Category == category
	}
	return false
}

func IsValidationError(err error) bool { return isCategory(err, CategoryValidation) }
func IsNotFoundError(err error) bool   { return isCategory(err, CategoryNotFound) }
func IsConflictError(err error) bool   { return isCategory(err, CategoryConflict) }
func IsInternalError(err error) bool   { return isCategory(err, CategoryInternal) }
func IsIOError(err error) bool         { return isCategory(err, CategoryIO) }
func IsProcessError(err error) bool    { return isCategory(err, CategoryProcess) }
func IsNetworkError(err error) bool    { return isCategory(err, CategoryNetwork) }
func IsTimeoutError(err error) bool    { return isCategory(err, CategoryTimeout) }
func IsCancelledError(err error) bool  { return isCategory(err, CategoryCancelled) }
