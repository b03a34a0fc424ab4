package api_test

import (
	"testing"
	"time"

	"github.com/momentics/hioload-proactor/api"
)

func TestBackendKindString(t *testing.T) {
	cases := map[api.BackendKind]string{
		api.BackendInvalid: "invalid",
		api.BackendEpoll:   "epoll",
		api.BackendKqueue:  "kqueue",
		api.BackendIOURing: "io_uring",
		api.BackendIOCP:    "iocp",
		api.BackendKind(99): "invalid",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("BackendKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestFDEventTypeMask(t *testing.T) {
	ev := api.EventRead | api.EventError
	if ev&api.EventRead == 0 || ev&api.EventError == 0 {
		t.Fatal("combined mask lost bits")
	}
	if ev&api.EventWrite != 0 {
		t.Fatal("combined mask gained an unset bit")
	}
}

func TestMockBackendCompliance(t *testing.T) {
	var _ api.Backend = (*api.MockBackend)(nil)

	waited := false
	mb := &api.MockBackend{
		KindFunc:     func() api.BackendKind { return api.BackendEpoll },
		CapacityFunc: func() int { return 2048 },
		WaitFunc: func(maxEvents int, timeout time.Duration) (int, error) {
			waited = true
			return 0, nil
		},
	}
	if mb.Kind() != api.BackendEpoll || mb.Capacity() != 2048 {
		t.Fatal("mock did not delegate to configured funcs")
	}
	if _, err := mb.Wait(1, api.NoTimeout); err != nil || !waited {
		t.Fatal("mock Wait not invoked")
	}
}

func TestWakerFunc(t *testing.T) {
	var n int
	w := api.WakerFunc(func() { n++ })
	w.Wake()
	w.Wake()
	if n != 2 {
		t.Fatalf("expected 2 wake invocations, got %d", n)
	}
}

func TestFutureFuncPoll(t *testing.T) {
	polls := 0
	fut := api.FutureFunc[int](func(w api.Waker) (int, bool) {
		polls++
		if polls < 3 {
			w.Wake()
			return 0, false
		}
		return 42, true
	})
	w := api.WakerFunc(func() {})
	for {
		v, ready := fut.Poll(w)
		if ready {
			if v != 42 || polls != 3 {
				t.Fatalf("got value %d after %d polls, want 42 after 3", v, polls)
			}
			return
		}
	}
}

func TestResultOk(t *testing.T) {
	ok := api.Result[string]{Value: "payload"}
	if !ok.Ok() {
		t.Fatal("result without error must be ok")
	}
	bad := api.Result[string]{Err: api.ErrBackendClosed}
	if bad.Ok() {
		t.Fatal("result with error must not be ok")
	}
}
