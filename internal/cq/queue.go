// File: internal/cq/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion staging queue shared by every platform backend. Kernel batches
// are pushed in as they are drained; Wait callers consume them one batch at
// a time, which gives readiness mechanisms the same completion-consumption
// semantics as completion-queue mechanisms.

package cq

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-proactor/api"
)

// Completion is one I/O readiness/completion record staged between the
// kernel drain and the Wait caller that consumes it.
type Completion struct {
	FD     uintptr
	Events api.FDEventType
}

// Queue is a thread-safe FIFO of staged completions. It is unbounded: the
// kernel side must always be able to stage, and upstream one-shot arming
// bounds how many completions a descriptor can contribute.
type Queue struct {
	mu sync.Mutex
	q  *queue.Queue
}

// New returns an empty staging queue.
func New() *Queue {
	return &Queue{q: queue.New()}
}

// Push stages one completion.
func (s *Queue) Push(c Completion) {
	s.mu.Lock()
	s.q.Add(c)
	s.mu.Unlock()
}

// Drain pops staged completions into dst in FIFO order and returns how
// many were written. It never blocks; an empty queue yields 0.
func (s *Queue) Drain(dst []Completion) int {
	if len(dst) == 0 {
		return 0
	}
	s.mu.Lock()
	n := 0
	for n < len(dst) && s.q.Length() > 0 {
		dst[n] = s.q.Remove().(Completion)
		n++
	}
	s.mu.Unlock()
	return n
}

// Len reports how many completions are currently staged.
func (s *Queue) Len() int {
	s.mu.Lock()
	n := s.q.Length()
	s.mu.Unlock()
	return n
}
