// File: proactor/drive.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The drive combinator: runs one future to completion by interleaving
// cooperative polls on the calling goroutine with blocking kernel waits on
// a background waiter goroutine, connected through the wake signal.

package proactor

import (
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-proactor/api"
)

// Drive runs fut to completion on the process-wide proactor and returns
// its value. It blocks the calling goroutine until the future reports
// ready; there is no timeout and no cancellation. Backend wake/wait
// failures never surface here; only the future's own outcome is returned.
func Drive[T any](fut api.Future[T]) T {
	return drive(Get(), fut)
}

func drive[T any](p *Proactor, fut api.Future[T]) T {
	atomic.AddInt64(&p.drives, 1)

	sig := wakeSignal{p: p}
	w := startWaiter(p)
	defer w.join(p)

	// The self-wake after every pending poll keeps this a busy loop by
	// contract: the foreground never parks between polls, the background
	// waiter surfaces genuine completions asynchronously.
	// TODO: edge-triggered variant that parks until the wake signal fires.
	for {
		if v, ready := fut.Poll(sig); ready {
			return v
		}
		sig.Wake()
		runtime.Gosched()
	}
}

// wakeSignal binds the future's wake callback to one Proactor. Failures
// are logged and swallowed: a wake raced with backend teardown must not
// take the computation down.
type wakeSignal struct {
	p *Proactor
}

var _ api.Waker = wakeSignal{}

func (s wakeSignal) Wake() {
	if err := s.p.Wake(); err != nil {
		Logger().Warn("wake signal failed", zap.Error(err))
	}
}

// waiter is the background blocking drainer of one drive session. Its
// goroutine loops Wait(1, forever) until the stop flag is set, swallowing
// wait failures to keep the kernel-side queue draining.
type waiter struct {
	stop int32
	done chan struct{}
}

func startWaiter(p *Proactor) *waiter {
	w := &waiter{done: make(chan struct{})}
	go func() {
		defer close(w.done)
		for atomic.LoadInt32(&w.stop) == 0 {
			if _, err := p.Wait(1, api.NoTimeout); err != nil {
				if errors.Is(err, api.ErrBackendClosed) {
					return
				}
				Logger().Debug("background wait failed", zap.Error(err))
			}
		}
	}()
	return w
}

// join stops the waiter and blocks until its goroutine exits, so no
// waiter outlives its drive session on any exit path. The wake is
// repeated because a token delivered while the waiter is between waits is
// a no-op by the backend's idempotence contract.
func (w *waiter) join(p *Proactor) {
	atomic.StoreInt32(&w.stop, 1)
	for {
		if err := p.Wake(); err != nil {
			Logger().Debug("waiter stop wake failed", zap.Error(err))
		}
		select {
		case <-w.done:
			return
		case <-time.After(50 * time.Microsecond):
		}
	}
}
