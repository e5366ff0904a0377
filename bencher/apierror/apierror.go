// Package apierror defines the closed error taxonomy shared by every
// component, independent of transport. Handlers at the HTTP boundary map
// a Kind to a status code; internal callers switch on Kind to decide
// control flow (e.g. sampler "insufficient sample" is not a Kind at all,
// since §4.5/§7 specify it as a normal no-op, not an error).
package apierror

import (
	"fmt"

	"go.bencher.dev/core/bencher/ambient/skerr"
)

// Kind is a stable, transport-independent error identifier (§7).
type Kind string

const (
	BadRequest   Kind = "BadRequest"
	Unauthorized Kind = "Unauthorized"
	Forbidden    Kind = "Forbidden"
	NotFound     Kind = "NotFound"
	Conflict     Kind = "Conflict"
	RateLimited  Kind = "RateLimited"
	Unprocessable Kind = "Unprocessable"
	Internal     Kind = "Internal"
)

// Error pairs a Kind with an underlying cause. The cause is preserved for
// logging via Unwrap, but String()/Error() only ever echoes a message
// safe to show a requester: §7 forbids leaking details that would let a
// user distinguish NotFound from Forbidden for an entity they can't see.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// Unwrap exposes the underlying cause to errors.Is/errors.As and to log
// lines that want the full skerr stack; it is never included in Error().
func (e *Error) Unwrap() error {
	return e.cause
}

// New builds an Error of the given kind with a user-safe message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind from an internal cause, keeping
// the cause out of the user-visible message but reachable via Unwrap for
// logging and correlation ids.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		cause:   skerr.Wrap(cause),
	}
}

// Is allows errors.Is(err, apierror.NotFound) style comparisons by Kind,
// even though Kind is a string type and not itself an error.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind from err, defaulting to Internal for errors
// that were never classified — the handler boundary must map every
// unclassified panic/error to Internal per §9.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Internal
}
