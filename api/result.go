// Package api
// Author: momentics@gmail.com
//
// Generic result and error propagation.

package api

// Result wraps any payload or error. Futures that can fail produce a
// Result so the drive loop stays indifferent to the outcome: it returns
// whatever the computation yields, never a backend error.
type Result[T any] struct {
	Value T
	Err   error
}

// Ok reports whether the result carries no error.
func (r Result[T]) Ok() bool { return r.Err == nil }
