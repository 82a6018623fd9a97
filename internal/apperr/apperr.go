// Package apperr holds the error kinds shared by the grading engines.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration rejects invalid settings before any computation starts.
	ErrConfiguration = errors.New("configuration error")
	// ErrInsufficientData marks a reviewer or submission that cannot be graded yet.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrConcurrencyConflict is returned when another recompute holds the instance.
	ErrConcurrencyConflict = errors.New("concurrent recompute in progress")
	// ErrIntegrityViolation marks records that reference missing dimensions or references.
	ErrIntegrityViolation = errors.New("integrity violation")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
)

// Error ties a kind to the operation that failed.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether the caller may try the same operation again.
func (e *Error) Retryable() bool {
	return errors.Is(e.Kind, ErrConcurrencyConflict)
}

func New(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Configuration(op, format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

func Integrity(op, format string, args ...any) error {
	return &Error{Kind: ErrIntegrityViolation, Op: op, Err: fmt.Errorf(format, args...)}
}

// IsRetryable reports whether err carries a retryable kind.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return errors.Is(err, ErrConcurrencyConflict)
}

// Warning is a per-entity problem downgraded to a batch-level report.
type Warning struct {
	Kind   error  `json:"-"`
	Entity string `json:"entity"`
	ID     int64  `json:"id"`
	Msg    string `json:"message"`
}

func Warn(kind error, entity string, id int64, format string, args ...any) Warning {
	return Warning{Kind: kind, Entity: entity, ID: id, Msg: fmt.Sprintf(format, args...)}
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s %d: %v: %s", w.Entity, w.ID, w.Kind, w.Msg)
}

func (w Warning) Unwrap() error { return w.Kind }
