// Package event defines the observability-only event stream of spec.md
// §6. No engine behavior depends on an observer; events are delivered
// synchronously to a user-supplied hook and opportunistically mirrored to
// wlog.
package event

import (
	"fmt"

	"github.com/mayaframework/weave/internal/ids"
	"github.com/mayaframework/weave/internal/ingredient"
	"github.com/mayaframework/weave/internal/revision"
)

// Kind enumerates the event variants named in spec.md §6.
type Kind int

const (
	WillCheckCancellation Kind = iota
	WillExecute
	DidValidateMemoizedValue
	WillIterateCycle
	DidFinalizeCycle
	WillDiscardStaleOutput
	DidDiscard
	DidInternValue
	DidReinternValue
	DidSetCancellationFlag
	WillBlockOn
)

func (k Kind) String() string {
	switch k {
	case WillCheckCancellation:
		return "WillCheckCancellation"
	case WillExecute:
		return "WillExecute"
	case DidValidateMemoizedValue:
		return "DidValidateMemoizedValue"
	case WillIterateCycle:
		return "WillIterateCycle"
	case DidFinalizeCycle:
		return "DidFinalizeCycle"
	case WillDiscardStaleOutput:
		return "WillDiscardStaleOutput"
	case DidDiscard:
		return "DidDiscard"
	case DidInternValue:
		return "DidInternValue"
	case DidReinternValue:
		return "DidReinternValue"
	case DidSetCancellationFlag:
		return "DidSetCancellationFlag"
	case WillBlockOn:
		return "WillBlockOn"
	default:
		return "Kind(?)"
	}
}

// Event is the payload delivered to the event hook. Not every field is
// populated for every Kind; see the per-kind constructors below.
type Event struct {
	Kind        Kind
	Key         ingredient.DatabaseKeyIndex
	Executor    ingredient.DatabaseKeyIndex
	Output      ingredient.DatabaseKeyIndex
	Id          ids.Id
	Revision    revision.Revision
	Iteration   uint32
	OtherThread uint64
}

func (e Event) String() string {
	return fmt.Sprintf("%s{key=%s rev=%d iter=%d}", e.Kind, e.Key, e.Revision, e.Iteration)
}

// Hook is the user-supplied callback type (spec.md §6).
type Hook func(Event)

func CheckCancellation() Event { return Event{Kind: WillCheckCancellation} }

func Execute(key ingredient.DatabaseKeyIndex) Event {
	return Event{Kind: WillExecute, Key: key}
}

func ValidateMemoized(key ingredient.DatabaseKeyIndex, rev revision.Revision) Event {
	return Event{Kind: DidValidateMemoizedValue, Key: key, Revision: rev}
}

func IterateCycle(key ingredient.DatabaseKeyIndex, iter uint32) Event {
	return Event{Kind: WillIterateCycle, Key: key, Iteration: iter}
}

func FinalizeCycle(key ingredient.DatabaseKeyIndex, iter uint32) Event {
	return Event{Kind: DidFinalizeCycle, Key: key, Iteration: iter}
}

func DiscardStaleOutput(executor, output ingredient.DatabaseKeyIndex) Event {
	return Event{Kind: WillDiscardStaleOutput, Executor: executor, Output: output}
}

func Discard(key ingredient.DatabaseKeyIndex) Event {
	return Event{Kind: DidDiscard, Key: key}
}

func InternValue(idx ingredient.Index, id ids.Id, rev revision.Revision) Event {
	return Event{Kind: DidInternValue, Key: ingredient.DatabaseKeyIndex{Ingredient: idx, Id: id}, Revision: rev}
}

func ReinternValue(idx ingredient.Index, id ids.Id, rev revision.Revision) Event {
	return Event{Kind: DidReinternValue, Key: ingredient.DatabaseKeyIndex{Ingredient: idx, Id: id}, Revision: rev}
}

func SetCancellationFlag() Event { return Event{Kind: DidSetCancellationFlag} }

func BlockOn(key ingredient.DatabaseKeyIndex, other uint64) Event {
	return Event{Kind: WillBlockOn, Key: key, OtherThread: other}
}
