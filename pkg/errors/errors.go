// Package errors defines the sentinel errors shared by the index core and
// the services, plus an AppError type that carries an HTTP status code.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrSyntax            = errors.New("query syntax error")
	ErrCorrupt           = errors.New("index corrupt")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrIO                = errors.New("storage i/o failure")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrDocumentExists    = errors.New("document already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrClosed            = errors.New("index closed")
	ErrInternal          = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
	// ErrRolledBack marks failures that discarded the open write
	// transaction, including every change buffered before the failing call.
	ErrRolledBack = errors.New("write transaction rolled back")
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

// Corruptf returns an error wrapping ErrCorrupt.
func Corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// IO wraps a storage error so that both ErrIO and the driver error match.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ioError{op: op, err: err}
}

type ioError struct {
	op  string
	err error
}

func (e *ioError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrIO.Error(), e.op, e.err)
}

func (e *ioError) Unwrap() []error {
	return []error{ErrIO, e.err}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDocumentExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrSyntax):
		return http.StatusBadRequest
	case errors.Is(err, ErrResourceExhausted):
		return http.StatusInsufficientStorage
	case errors.Is(err, ErrIO), errors.Is(err, ErrTimeout), errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
