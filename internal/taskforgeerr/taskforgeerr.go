// Package taskforgeerr defines the error taxonomy shared by every fallible
// operation in the task lifecycle engine (CORE SPEC §7). Every store, runner
// and VCS call returns one of these kinds wrapped with context via %w;
// exceptions/panics are reserved for invariant-breach assertions only.
package taskforgeerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the orthogonal error categories from CORE SPEC §7.
type Kind int

const (
	// KindUnknown is the zero value; never intentionally returned.
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindVersionConflict
	KindLockHeld
	KindValidationError
	KindIOError
	KindAgentExecutionError
	KindParseError
	KindTimeoutExceeded
	KindMaxRetriesExceeded
	KindEscalationLimitReached
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindVersionConflict:
		return "VersionConflict"
	case KindLockHeld:
		return "LockHeld"
	case KindValidationError:
		return "ValidationError"
	case KindIOError:
		return "IOError"
	case KindAgentExecutionError:
		return "AgentExecutionError"
	case KindParseError:
		return "ParseError"
	case KindTimeoutExceeded:
		return "TimeoutExceeded"
	case KindMaxRetriesExceeded:
		return "MaxRetriesExceeded"
	case KindEscalationLimitReached:
		return "EscalationLimitReached"
	default:
		return "Unknown"
	}
}

// Error is a taskforge error carrying a Kind plus wrapped context.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// RateLimited marks an AgentExecutionError sub-kind that carries a
	// Retry-After hint (CORE SPEC §7 propagation policy).
	RateLimited bool
	RetryAfter  string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, taskforgeerr.KindKind) style matching via a
// sentinel wrapper; most callers should instead use taskforgeerr.KindOf.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err, walking the wrap chain. Returns
// KindUnknown if err is nil or not a *Error anywhere in its chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err's Kind (anywhere in its wrap chain) equals kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
