// Package errors defines the error taxonomy shared by the search engine and
// its service surface. Sentinels are wrapped with %w so callers classify
// failures with errors.Is; AppError attaches a message and an HTTP status.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrStorage reports a missing, unreadable or corrupt persisted artifact
	// (code vectors, codebase text, vocabulary). Loads fail all-or-nothing.
	ErrStorage = errors.New("storage error")
	// ErrModelLoad reports that the embedding model checkpoint could not be
	// loaded. Fatal at startup.
	ErrModelLoad = errors.New("model load error")
	// ErrEncoding reports a failure turning a query into a vector. It fails a
	// single search and leaves the store untouched.
	ErrEncoding = errors.New("encoding error")
	// ErrConfiguration reports inconsistent configuration or mismatched
	// precomputed artifacts. Not recoverable.
	ErrConfiguration = errors.New("configuration error")

	ErrInvalidInput = errors.New("invalid input")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrNotReady     = errors.New("index not ready")
	ErrInternal     = errors.New("internal error")
	ErrTimeout      = errors.New("operation timed out")
)

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

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Wrapf annotates err with a sentinel while keeping err in the chain, so both
// errors.Is(result, sentinel) and errors.Is(result, err) hold.
func Wrapf(sentinel, err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", sentinel, fmt.Sprintf(format, args...), err)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrEncoding):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
