package cq_test

import (
	"sync"
	"testing"

	"github.com/momentics/hioload-proactor/api"
	"github.com/momentics/hioload-proactor/internal/cq"
)

func TestPushDrainFIFO(t *testing.T) {
	q := cq.New()
	for i := 0; i < 5; i++ {
		q.Push(cq.Completion{FD: uintptr(i), Events: api.EventRead})
	}
	if q.Len() != 5 {
		t.Fatalf("Len = %d, want 5", q.Len())
	}

	dst := make([]cq.Completion, 3)
	if n := q.Drain(dst); n != 3 {
		t.Fatalf("first drain = %d, want 3", n)
	}
	for i := 0; i < 3; i++ {
		if dst[i].FD != uintptr(i) {
			t.Fatalf("drain order broken: got fd %d at %d", dst[i].FD, i)
		}
	}

	if n := q.Drain(dst); n != 2 {
		t.Fatalf("second drain = %d, want 2", n)
	}
	if dst[0].FD != 3 || dst[1].FD != 4 {
		t.Fatal("tail completions out of order")
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty after full drain: %d", q.Len())
	}
}

func TestDrainEmpty(t *testing.T) {
	q := cq.New()
	dst := make([]cq.Completion, 4)
	if n := q.Drain(dst); n != 0 {
		t.Fatalf("drain of empty queue = %d, want 0", n)
	}
	if n := q.Drain(nil); n != 0 {
		t.Fatalf("drain into nil dst = %d, want 0", n)
	}
}

func TestConcurrentPushDrain(t *testing.T) {
	const producers = 4
	const perProducer = 256

	q := cq.New()
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(cq.Completion{FD: uintptr(base*perProducer + i)})
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[uintptr]bool, producers*perProducer)
	dst := make([]cq.Completion, 64)
	for {
		n := q.Drain(dst)
		if n == 0 {
			break
		}
		for i := 0; i < n; i++ {
			if seen[dst[i].FD] {
				t.Fatalf("completion for fd %d drained twice", dst[i].FD)
			}
			seen[dst[i].FD] = true
		}
	}
	if len(seen) != producers*perProducer {
		t.Fatalf("drained %d completions, want %d", len(seen), producers*perProducer)
	}
}
