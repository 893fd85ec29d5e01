// Package errors defines the error kinds the core raises, per the
// aggregation-convention error handling design: a checked Kind plus a
// wrapped cause, so callers can switch on Kind without string-matching
// messages.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies why the core rejected or aborted an operation.
type Kind int

const (
	// Unknown is the zero value; it should never be returned deliberately.
	Unknown Kind = iota
	// APIMisuse covers invalid arguments: wrong mode, append attempted,
	// name collisions, missing attributes, unsupported unlimited-dimension
	// partitioning.
	APIMisuse
	// FormatMismatch covers a convention/format combination that is not
	// allowed, e.g. convention 0.5 with a classical (pre-hierarchical) format.
	FormatMismatch
	// NotARecognizedFile means the master failed the magic-number check.
	NotARecognizedFile
	// TransportFailure means the underlying byte stream could not
	// connect, read, or write.
	TransportFailure
	// ResourceExhausted means the in-memory budget could not be
	// satisfied even after evicting every eligible record.
	ResourceExhausted
	// PartitioningFailure means a requested tile shape does not evenly
	// bound or exceeds the variable's declared shape.
	PartitioningFailure
	// InternalInvariant signals a failed assertion about the
	// PartitionMatrix — a bug, not a user error.
	InternalInvariant
)

func (k Kind) String() string {
	switch k {
	case APIMisuse:
		return "APIMisuse"
	case FormatMismatch:
		return "FormatMismatch"
	case NotARecognizedFile:
		return "NotARecognizedFile"
	case TransportFailure:
		return "TransportFailure"
	case ResourceExhausted:
		return "ResourceExhausted"
	case PartitioningFailure:
		return "PartitioningFailure"
	case InternalInvariant:
		return "InternalInvariant"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type raised by the core. It always
// carries a Kind and a human-readable message; Cause and URI are
// optional context.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	// URI, when set, is the offending partition's subarray URI — the
	// propagation policy in spec.md §7 requires surfacing it alongside
	// TransportFailure errors.
	URI string
}

func (e *Error) Error() string {
	if e.URI != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s [%s]: %v", e.Kind, e.Message, e.URI, e.Cause)
		}
		return fmt.Sprintf("%s: %s [%s]", e.Kind, e.Message, e.URI)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewErrorf builds an *Error of the given kind, formatting Message the
// way fmt.Errorf does. If the last argument is an error it is not
// automatically wrapped as Cause — use WithCause for that.
func NewErrorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying error to e and returns e for chaining.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithURI attaches the offending subarray URI to e and returns e for chaining.
func (e *Error) WithURI(uri string) *Error {
	e.URI = uri
	return e
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
