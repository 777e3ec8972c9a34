package utils

import (
	"fmt"

	"github.com/opencompanion/companion/src/oops"
)

// Returns v, or def if v is the zero value.
func OrDefault[T comparable](v T, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func IntMin(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func IntMax(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func IntClamp(min, t, max int) int {
	return IntMax(min, IntMin(t, max))
}

// Number of pages needed to hold total items, never less than one.
func PageCount(total, perPage int) int {
	if perPage <= 0 {
		panic(oops.New(nil, "page size must be positive, got %d", perPage))
	}
	return IntMax(1, (total+perPage-1)/perPage)
}

/*
Turns a panic into a returned error. Use it in a deferred call:

	func BuildThing() (err error) {
		defer utils.RecoverPanicAsError(&err)
		...
	}

An error that was already being returned stays in the chain, with the panic value
added to the message.
*/
func RecoverPanicAsError(err *error) {
	r := recover()
	if r == nil {
		return
	}

	if *err != nil {
		*err = oops.New(*err, "panic recovered as error (%v)", r)
		return
	}

	recovered, ok := r.(error)
	if !ok {
		recovered = fmt.Errorf("panic with value: %v", r)
	}
	*err = oops.New(recovered, "panic recovered as error")
}
