// Package errors defines the error taxonomy for the knowledge index: sentinel
// errors for the index core plus an AppError wrapper that carries an HTTP
// status for the search service surface.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCorruptIndex indicates a persisted Bloom filter, shard store, or
	// manifest failed to parse. Fatal for the operation touching the file;
	// sibling shards are unaffected.
	ErrCorruptIndex = errors.New("corrupt index file")
	// ErrDocumentRead indicates a corpus file could not be read or decoded.
	// The document is skipped; the batch continues.
	ErrDocumentRead = errors.New("document read failed")
	// ErrIndexNotBuilt indicates an operation that requires a built index ran
	// against an empty data directory.
	ErrIndexNotBuilt = errors.New("index not built")
	// ErrInvalidQuery indicates an empty or term-less query.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrMetadataNotFound indicates a document metadata row is missing.
	ErrMetadataNotFound = errors.New("document metadata not found")
	// ErrShardUnavailable indicates a shard store could not be opened or
	// written.
	ErrShardUnavailable = errors.New("shard unavailable")
	// ErrBuildInProgress indicates a build or update was requested while
	// another one is running.
	ErrBuildInProgress = errors.New("build already in progress")
)

// AppError pairs a sentinel error with a message and an HTTP status code for
// the search service.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError wrapping the given sentinel.
func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Newf creates an AppError with a formatted message.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the HTTP status the search service should
// return for it.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, ErrMetadataNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrIndexNotBuilt):
		return http.StatusConflict
	case errors.Is(err, ErrBuildInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrShardUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
