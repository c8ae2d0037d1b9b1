// Package werr defines the error kinds of spec.md §7: Cancelled,
// Cycle(participants), UsagePanic, and PanicFromUserBody. Every error
// unwinding out of a tracked function goes through one of these so callers
// can errors.As their way to the participant list or the original panic
// value instead of pattern-matching on strings.
package werr

import (
	"errors"
	"fmt"
)

// Kind identifies which of the four recognized error kinds an error is.
type Kind int

const (
	KindCancelled Kind = iota
	KindCycle
	KindUsagePanic
	KindPanicFromUserBody
)

func (k Kind) String() string {
	switch k {
	case KindCancelled:
		return "Cancelled"
	case KindCycle:
		return "Cycle"
	case KindUsagePanic:
		return "UsagePanic"
	case KindPanicFromUserBody:
		return "PanicFromUserBody"
	default:
		return "Kind(?)"
	}
}

// DatabaseKey is the minimal shape werr needs from a
// (ingredient index, id) pair; it mirrors the engine's DatabaseKeyIndex
// without importing the ids/ingredient packages (which would create an
// import cycle, since those packages report errors via werr).
type DatabaseKey struct {
	IngredientIndex uint32
	Id              uint32
}

func (k DatabaseKey) String() string {
	return fmt.Sprintf("(ingredient=%d, id=%d)", k.IngredientIndex, k.Id)
}

// Error is the concrete error type for all four kinds.
type Error struct {
	Kind         Kind
	Participants []DatabaseKey // only set for KindCycle
	Cause        error         // only set for KindPanicFromUserBody
	msg          string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindCycle:
		return fmt.Sprintf("cycle detected: %v", e.Participants)
	case KindPanicFromUserBody:
		return fmt.Sprintf("panic in tracked function body: %v", e.Cause)
	default:
		return e.msg
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, Cancelled()) work without comparing participant
// lists or causes.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Cancelled reports that the query was unwound because the database's
// cancellation flag was raised while the query was blocked or about to
// begin.
func Cancelled() *Error {
	return &Error{Kind: KindCancelled, msg: "query cancelled"}
}

// Cycle reports a cycle detected with no recovery (policy = Panic). It
// must be caught only by the runtime outside of the cycle's participants;
// dropping it without propagation is a usage error in debug builds (see
// IsPropagated below).
func Cycle(participants []DatabaseKey) *Error {
	return &Error{Kind: KindCycle, Participants: participants}
}

// Usage reports a programmer error, e.g. setting a late field twice or
// from a query that did not create the struct, calling Specify on a
// function without SpecifyAllowed, attaching a second database to a
// goroutine, or a fixpoint cycle failing to converge within the iteration
// bound.
func Usage(format string, args ...interface{}) *Error {
	return &Error{Kind: KindUsagePanic, msg: fmt.Sprintf(format, args...)}
}

// FromRecover wraps an arbitrary value captured by recover() inside a
// tracked function body.
func FromRecover(r interface{}) *Error {
	cause, ok := r.(error)
	if !ok {
		cause = fmt.Errorf("%v", r)
	}
	return &Error{Kind: KindPanicFromUserBody, Cause: cause, msg: "panic from user body"}
}

// IsCancelled reports whether err is (or wraps) a Cancelled error.
func IsCancelled(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindCancelled
}

// AsCycle extracts the participant list if err is a Cycle error.
func AsCycle(err error) ([]DatabaseKey, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindCycle {
		return e.Participants, true
	}
	return nil, false
}
