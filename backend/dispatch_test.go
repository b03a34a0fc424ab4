// File: backend/dispatch_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package backend

import (
	"testing"
	"time"

	"github.com/momentics/hioload-proactor/api"
	"github.com/momentics/hioload-proactor/internal/cq"
)

func TestDispatcherServesBoundCallbacks(t *testing.T) {
	d := newDispatcher()
	var got []uintptr
	d.bind(1, func(fd uintptr, events api.FDEventType) { got = append(got, fd) })
	d.bind(2, func(fd uintptr, events api.FDEventType) { got = append(got, fd) })

	d.stage(cq.Completion{FD: 1, Events: api.EventRead})
	d.stage(cq.Completion{FD: 2, Events: api.EventRead})
	d.stage(cq.Completion{FD: 1, Events: api.EventWrite})

	if n := d.dispatch(2); n != 2 {
		t.Fatalf("dispatch(2) = %d, want 2", n)
	}
	if n := d.dispatch(10); n != 1 {
		t.Fatalf("second dispatch = %d, want 1", n)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 1 {
		t.Fatalf("callback order = %v, want [1 2 1]", got)
	}
}

func TestDispatcherDropsUnboundCompletions(t *testing.T) {
	d := newDispatcher()
	fired := 0
	d.bind(7, func(fd uintptr, events api.FDEventType) { fired++ })
	d.stage(cq.Completion{FD: 7, Events: api.EventRead})
	d.stage(cq.Completion{FD: 9, Events: api.EventRead}) // never bound
	d.unbind(7)
	d.stage(cq.Completion{FD: 7, Events: api.EventRead})

	if n := d.dispatch(10); n != 0 {
		t.Fatalf("dispatch after unbind = %d, want 0", n)
	}
	if fired != 0 {
		t.Fatalf("callback fired %d times after unbind", fired)
	}
}

func TestDispatcherRecoversFromPanickingCallback(t *testing.T) {
	d := newDispatcher()
	d.bind(3, func(fd uintptr, events api.FDEventType) { panic("boom") })
	fired := false
	d.bind(4, func(fd uintptr, events api.FDEventType) { fired = true })
	d.stage(cq.Completion{FD: 3, Events: api.EventRead})
	d.stage(cq.Completion{FD: 4, Events: api.EventRead})

	if n := d.dispatch(10); n != 2 {
		t.Fatalf("dispatch = %d, want 2", n)
	}
	if !fired {
		t.Fatal("callback after panicking one did not run")
	}
}

func TestWakeGateNoWaiterNoToken(t *testing.T) {
	var g wakeGate
	if g.arm() {
		t.Fatal("arm() with no waiter must report no token needed")
	}
	g.enter()
	if !g.arm() {
		t.Fatal("arm() with a waiter must deliver a token")
	}
	if g.arm() {
		t.Fatal("second arm() must deduplicate the in-flight token")
	}
	g.disarm()
	if !g.arm() {
		t.Fatal("arm() after disarm must deliver again")
	}
	g.disarm()
	g.leave()
}

func TestDeadlineMillis(t *testing.T) {
	if got := newDeadline(api.NoTimeout).millis(); got != -1 {
		t.Fatalf("infinite deadline millis = %d, want -1", got)
	}
	if got := newDeadline(0).millis(); got != 0 {
		t.Fatalf("zero deadline millis = %d, want 0", got)
	}
	// Sub-millisecond budgets round up so a short wait is not a busy poll.
	if got := newDeadline(200 * time.Microsecond).millis(); got < 1 {
		t.Fatalf("sub-millisecond deadline millis = %d, want >= 1", got)
	}
	dl := newDeadline(time.Millisecond)
	time.Sleep(3 * time.Millisecond)
	if !dl.expired() {
		t.Fatal("elapsed deadline not reported expired")
	}
	if got := dl.millis(); got != 0 {
		t.Fatalf("expired deadline millis = %d, want 0", got)
	}
}
