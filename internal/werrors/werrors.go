// Package werrors implements the error-kind taxonomy of the core (§7):
// the distinction between input errors, auth rejections, transient
// infrastructure failures, permanent domain failures, lease loss, and
// unrecoverable process errors that must never be caught.
package werrors

import (
	"errors"
	"fmt"
	"runtime/debug"
)

type Kind int

const (
	// KindUnknown is treated the same as TransientInfrastructure by loops
	// that switch on Kind — an untyped error is assumed recoverable.
	KindUnknown Kind = iota
	KindInvalidInput
	KindAuthRejected
	KindTransientInfrastructure
	KindPermanentDomain
	KindLeaseLost
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "InvalidInput"
	case KindAuthRejected:
		return "AuthRejected"
	case KindTransientInfrastructure:
		return "TransientInfrastructure"
	case KindPermanentDomain:
		return "PermanentDomain"
	case KindLeaseLost:
		return "LeaseLost"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a Kind so worker loops can branch
// on it without string matching.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, cause error) *Error { return &Error{Kind: kind, Cause: cause} }

func Invalid(cause error) *Error     { return New(KindInvalidInput, cause) }
func AuthRejected(cause error) *Error { return New(KindAuthRejected, cause) }
func Transient(cause error) *Error   { return New(KindTransientInfrastructure, cause) }
func Permanent(cause error) *Error   { return New(KindPermanentDomain, cause) }
func LeaseLost(cause error) *Error   { return New(KindLeaseLost, cause) }

// KindOf extracts the Kind of err, defaulting to KindUnknown for plain
// errors (worker loops treat Unknown as transient, per §7).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsCatchable reports whether err is the kind of failure the core may
// recover from in a worker loop. OOM/stack-overflow conditions in Go
// surface as a process-fatal runtime.Error or a panic that propagates
// past recover(), not as a plain error value, so in practice every error
// value reaching this function is catchable; the filter exists so call
// sites read as an explicit policy decision rather than "catch
// everything", matching the source's is-catchable guard at every catch
// point (§7 CriticalProcess).
func IsCatchable(err error) bool {
	if err == nil {
		return false
	}
	var re interface{ RuntimeError() }
	return !errors.As(err, &re)
}

// RecoverTransient turns a panic into a transient *Error, for use in a
// deferred recover() at the top of a worker loop iteration. It captures a
// stack trace in the wrapped message so the warning log carries it.
func RecoverTransient(onErr func(error)) {
	if r := recover(); r != nil {
		err := fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		onErr(Transient(err))
	}
}
