// Package memerr defines the error taxonomy shared by every component of
// the memory service. Internal errors from SQLite, the embedding client,
// or the transport layer are mapped to one of these kinds at the
// component boundary; nothing below Invalid/NotFound should leak to a
// caller.
package memerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories a caller can branch on.
type Kind string

const (
	Invalid            Kind = "invalid"
	NotFound           Kind = "not_found"
	Retryable          Kind = "retryable"
	Embedding          Kind = "embedding"
	Corruption         Kind = "corruption"
	Timeout            Kind = "timeout"
	Cancelled          Kind = "cancelled"
	ConsolidationError Kind = "consolidation_error"
)

// retryableKinds mirrors the wire contract's retryable flag.
var retryableKinds = map[Kind]bool{
	Retryable: true,
}

// Error is the structured error carried across every component boundary
// and surfaced at the wire as {kind, message, retryable}.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, memerr.NotFound) style checks against a bare Kind
// by comparing kinds rather than identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds a structured error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryableKinds[kind]}
}

// Wrap attaches a kind to an underlying error without discarding it.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryableKinds[kind], Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to Corruption for errors
// that were never classified — an unclassified error below the store
// boundary is itself a bug, and Corruption is the kind that blocks
// writes by default, which is the safe side to fail on.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Corruption
}

// IsRetryable reports whether err (or a wrapped *Error within it) is
// classified as retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
