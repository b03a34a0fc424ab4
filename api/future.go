// File: api/future.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wake signal and one-shot cooperative computation contracts consumed by
// the drive loop.

package api

// Waker is a cross-thread-safe signal that unparks whatever is waiting on
// the proactor. Invoking it concurrently from any thread is allowed; it is
// idempotent-safe when nothing is parked.
type Waker interface {
	Wake()
}

// WakerFunc adapts a plain function to the Waker interface.
type WakerFunc func()

func (f WakerFunc) Wake() { f() }

// Future is a one-shot cooperative computation. Poll either produces the
// final value with ready == true, or arranges (directly or via completed
// I/O) for w to be invoked when progress is possible and returns
// ready == false. After it has reported ready, Poll is not called again.
type Future[T any] interface {
	Poll(w Waker) (value T, ready bool)
}

// FutureFunc adapts a polling function to the Future interface.
type FutureFunc[T any] func(w Waker) (T, bool)

func (f FutureFunc[T]) Poll(w Waker) (T, bool) { return f(w) }
