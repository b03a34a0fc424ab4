// File: backend/backend.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral machinery shared by every backend: the callback
// dispatcher over the staged completion queue, the wake token gate, and
// wait deadline accounting.

package backend

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-proactor/api"
	"github.com/momentics/hioload-proactor/internal/cq"
)

// dispatchBatch bounds how many staged completions are popped per drain
// round inside one Wait call.
const dispatchBatch = 128

// dispatcher owns the callback registry and the staged completion queue.
// Platform backends stage kernel results into it and serve Wait calls out
// of it, so consumption order and callback semantics stay identical across
// mechanisms.
type dispatcher struct {
	callbacks sync.Map // map[uintptr]api.FDCallback
	staged    *cq.Queue
}

func newDispatcher() dispatcher {
	return dispatcher{staged: cq.New()}
}

// bind associates cb with fd, replacing any previous callback.
func (d *dispatcher) bind(fd uintptr, cb api.FDCallback) {
	d.callbacks.Store(fd, cb)
}

// unbind drops the callback for fd. Completions already staged for fd are
// dropped at dispatch time.
func (d *dispatcher) unbind(fd uintptr) {
	d.callbacks.Delete(fd)
}

// bound reports whether fd currently has a callback.
func (d *dispatcher) bound(fd uintptr) bool {
	_, ok := d.callbacks.Load(fd)
	return ok
}

// stage queues one completion for later consumption.
func (d *dispatcher) stage(c cq.Completion) {
	d.staged.Push(c)
}

// dispatch consumes up to max staged completions, invoking the callback
// registered for each descriptor under recover so a panicking callback
// cannot take the waiting thread down. Completions whose descriptor was
// unregistered after staging are dropped and not counted. Returns the
// number of callbacks dispatched.
func (d *dispatcher) dispatch(max int) int {
	if max <= 0 {
		return 0
	}
	size := max
	if size > dispatchBatch {
		size = dispatchBatch
	}
	batch := make([]cq.Completion, size)

	served := 0
	for served < max {
		want := max - served
		if want > len(batch) {
			want = len(batch)
		}
		got := d.staged.Drain(batch[:want])
		if got == 0 {
			break
		}
		for i := 0; i < got; i++ {
			c := batch[i]
			val, ok := d.callbacks.Load(c.FD)
			if !ok {
				continue
			}
			cb, _ := val.(api.FDCallback)
			func() {
				defer func() { _ = recover() }()
				cb(c.FD, c.Events)
			}()
			served++
		}
	}
	return served
}

// wakeGate tracks parked waiters and deduplicates wake tokens so that a
// wake with nobody parked stays a strict no-op and back-to-back wakes
// deliver a single platform token.
type wakeGate struct {
	waiters int32
	pending int32
}

// enter marks the calling thread as parked (or about to park).
func (g *wakeGate) enter() { atomic.AddInt32(&g.waiters, 1) }

// leave undoes enter.
func (g *wakeGate) leave() { atomic.AddInt32(&g.waiters, -1) }

// arm reports whether a wake token must actually be delivered: false when
// no waiter is parked or a token is already in flight.
func (g *wakeGate) arm() bool {
	if atomic.LoadInt32(&g.waiters) == 0 {
		return false
	}
	return atomic.CompareAndSwapInt32(&g.pending, 0, 1)
}

// disarm clears the in-flight token after the waiter consumed it.
func (g *wakeGate) disarm() { atomic.StoreInt32(&g.pending, 0) }

// deadline converts a Wait timeout into an absolute wait budget that
// survives EINTR restarts. The zero deadline means wait forever.
type deadline struct {
	at time.Time
}

func newDeadline(timeout time.Duration) deadline {
	if timeout < 0 {
		return deadline{}
	}
	return deadline{at: time.Now().Add(timeout)}
}

func (d deadline) infinite() bool {
	return d.at.IsZero()
}

func (d deadline) expired() bool {
	return !d.infinite() && !time.Now().Before(d.at)
}

// remaining returns the budget left. ok == false means wait forever.
func (d deadline) remaining() (rem time.Duration, ok bool) {
	if d.infinite() {
		return 0, false
	}
	rem = time.Until(d.at)
	if rem < 0 {
		rem = 0
	}
	return rem, true
}

// millis returns the epoll-style millisecond budget: -1 for infinite, 0
// for an immediate poll. Sub-millisecond remainders round up so a short
// timeout does not degrade into a busy poll.
func (d deadline) millis() int {
	rem, ok := d.remaining()
	if !ok {
		return -1
	}
	if rem == 0 {
		return 0
	}
	return int((rem + time.Millisecond - 1) / time.Millisecond)
}
