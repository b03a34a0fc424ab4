// File: proactor/proactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide proactor facade. A Proactor owns exactly one kernel
// notification backend for its lifetime and exposes the wait/wake contract
// to the drive loop and to any other caller. No field mutates after
// construction except the atomic stat counters, so concurrent reads need
// no synchronization beyond what the backend provides internally.

package proactor

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-proactor/api"
	"github.com/momentics/hioload-proactor/backend"
	"github.com/momentics/hioload-proactor/config"
)

// Proactor is the facade over one backend instance. Obtain the
// process-wide instance through Get or WithConfig; there is no exported
// constructor for standalone instances.
type Proactor struct {
	backend api.Backend

	waits            int64
	events           int64
	wakes            int64
	drives           int64
	overridesIgnored int64
}

func newProactor(cfg config.Config) (*Proactor, error) {
	b, err := backend.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("proactor: backend init: %w", err)
	}
	Logger().Info("backend initialized",
		zap.Stringer("kind", b.Kind()),
		zap.Int("capacity", b.Capacity()))
	return &Proactor{backend: b}, nil
}

// Backend reports which kernel mechanism is active. Pure, safe from any
// goroutine.
func (p *Proactor) Backend() api.BackendKind { return p.backend.Kind() }

// Capacity returns the completion queue capacity of the installed
// backend, after normalization.
func (p *Proactor) Capacity() int { return p.backend.Capacity() }

// Wake unblocks any goroutine parked in Wait. Safe from any goroutine,
// including from inside a wake callback; no lock over the Proactor is
// held by callers.
func (p *Proactor) Wake() error {
	atomic.AddInt64(&p.wakes, 1)
	return p.backend.Wake()
}

// Wait blocks until at least one completion is available, maxEvents have
// been collected, the timeout elapses, or Wake is called, whichever comes
// first, and returns the number of completions dispatched. Callable from
// any goroutine, not only the one that initialized the instance.
// api.NoTimeout blocks indefinitely absent a wake or event.
func (p *Proactor) Wait(maxEvents int, timeout time.Duration) (int, error) {
	atomic.AddInt64(&p.waits, 1)
	n, err := p.backend.Wait(maxEvents, timeout)
	if n > 0 {
		atomic.AddInt64(&p.events, int64(n))
	}
	return n, err
}

// Register arms one-shot interest in events for fd on the installed
// backend and binds cb to it.
func (p *Proactor) Register(fd uintptr, events api.FDEventType, cb api.FDCallback) error {
	return p.backend.Register(fd, events, cb)
}

// Unregister disarms fd and unbinds its callback.
func (p *Proactor) Unregister(fd uintptr) error {
	return p.backend.Unregister(fd)
}

// Stats returns basic proactor metrics.
func (p *Proactor) Stats() map[string]int64 {
	return map[string]int64{
		"waits":             atomic.LoadInt64(&p.waits),
		"events":            atomic.LoadInt64(&p.events),
		"wakes":             atomic.LoadInt64(&p.wakes),
		"drives":            atomic.LoadInt64(&p.drives),
		"overrides_ignored": atomic.LoadInt64(&p.overridesIgnored),
	}
}
