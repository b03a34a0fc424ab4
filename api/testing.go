// Package api
// Author: momentics
//
// Mock/testing utilities for all core contracts; extendable for new interfaces.

package api

import "time"

// MockBackend is a test and mock-friendly implementation of Backend.
type MockBackend struct {
	KindFunc       func() BackendKind
	CapacityFunc   func() int
	RegisterFunc   func(fd uintptr, events FDEventType, cb FDCallback) error
	UnregisterFunc func(fd uintptr) error
	WakeFunc       func() error
	WaitFunc       func(maxEvents int, timeout time.Duration) (int, error)
	CloseFunc      func() error
}

func (m *MockBackend) Kind() BackendKind { return m.KindFunc() }
func (m *MockBackend) Capacity() int     { return m.CapacityFunc() }
func (m *MockBackend) Register(fd uintptr, events FDEventType, cb FDCallback) error {
	return m.RegisterFunc(fd, events, cb)
}
func (m *MockBackend) Unregister(fd uintptr) error { return m.UnregisterFunc(fd) }
func (m *MockBackend) Wake() error                 { return m.WakeFunc() }
func (m *MockBackend) Wait(maxEvents int, timeout time.Duration) (int, error) {
	return m.WaitFunc(maxEvents, timeout)
}
func (m *MockBackend) Close() error { return m.CloseFunc() }

// Extend with mocks for additional core contracts as the architecture evolves.
