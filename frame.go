package weave

import (
	"github.com/mayaframework/weave/internal/runtime"
	"github.com/mayaframework/weave/internal/werr"
)

// activeFrame returns the calling goroutine's current active-query frame,
// panicking with a UsagePanic if called outside one. TrackedStruct
// creation, SetLateField, and Specify are only meaningful from inside a
// tracked function's Compute body.
func activeFrame(op string) *runtime.Frame {
	f := runtime.Current()
	if f == nil {
		panic(werr.Usage("weave: %s called with no active query on this goroutine", op))
	}
	return f
}

// disambiguate gives two creations with equal id-fields but different call
// order within the same query distinct identities (spec.md §4.4, §4.7).
func disambiguate(hash uint64) uint32 {
	return runtime.Disambiguate(hash)
}
