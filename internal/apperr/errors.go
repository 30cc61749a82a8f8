// Package apperr defines the error kinds shared by the store, the services
// and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrNotFound        = errors.New("record not found")
	ErrStaleIndex      = errors.New("index no longer refers to the requested record")
	ErrCorruptStore    = errors.New("metadata store is corrupt")
	ErrStorageIO       = errors.New("storage i/o failure")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrTooLarge        = errors.New("payload too large")
	ErrUpstream        = errors.New("upstream service failure")
)

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid is shorthand for a *ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IndexOutOfRangeError is returned when a positional reference misses the sequence.
type IndexOutOfRangeError struct {
	Index  int
	Length int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("index %d out of range [0,%d)", e.Index, e.Length)
}

func (e *IndexOutOfRangeError) Is(target error) bool {
	return target == ErrIndexOutOfRange || target == ErrValidation
}

// CorruptStoreError means the persisted metadata could not be parsed.
type CorruptStoreError struct {
	Path string
	Err  error
}

func (e *CorruptStoreError) Error() string {
	return fmt.Sprintf("corrupt metadata store %s: %v", e.Path, e.Err)
}

func (e *CorruptStoreError) Unwrap() error { return e.Err }

func (e *CorruptStoreError) Is(target error) bool { return target == ErrCorruptStore }

// StorageIOError wraps a failed read, write or remove on persistent storage.
type StorageIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageIOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageIOError) Unwrap() error { return e.Err }

func (e *StorageIOError) Is(target error) bool { return target == ErrStorageIO }

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrStaleIndex):
		return http.StatusConflict
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to return to a client for err.
func PublicMessage(err error, fallback string) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	switch {
	case errors.Is(err, ErrIndexOutOfRange):
		return "Invalid index"
	case errors.Is(err, ErrNotFound):
		return "Image not found"
	case errors.Is(err, ErrStaleIndex):
		return "The gallery changed since it was loaded. Refresh and try again."
	case errors.Is(err, ErrTooLarge):
		return err.Error()
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	}
	return fallback
}
