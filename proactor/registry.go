// File: proactor/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Guarded lazy cell holding the process-wide Proactor. The installed
// instance is append-only: the first successful writer wins and the
// configuration is fixed for the life of the process. A later explicit
// configuration is validated, discarded, and reported through a warning
// and the overrides_ignored counter, never through an error.

package proactor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-proactor/config"
)

// Registry is an explicit process-wide slot for one Proactor. The
// package-level Get/WithConfig operate on a default Registry; separate
// instances exist so both initialization orders can be exercised in one
// process.
type Registry struct {
	mu        sync.Mutex
	installed atomic.Pointer[Proactor]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Get returns the registry's Proactor, constructing it with the default
// configuration on first call. Concurrent first calls construct exactly
// one backend instance. Backend construction failure here is fatal: no
// valid proactor can be produced and startup cannot proceed.
func (r *Registry) Get() *Proactor {
	if p := r.installed.Load(); p != nil {
		return p
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.installed.Load(); p != nil {
		return p
	}
	p, err := newProactor(config.DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("proactor: default backend initialization failed: %v", err))
	}
	r.installed.Store(p)
	return p
}

// WithConfig installs a Proactor built from cfg if and only if no
// instance is installed yet. When one already is, cfg is still used to
// construct a backend (validating it), the validation instance is
// discarded, and the already-installed Proactor is returned with no
// error. Construction failure is returned, not fatal: the installed
// instance, if any, remains usable.
func (r *Registry) WithConfig(cfg config.Config) (*Proactor, error) {
	candidate, err := newProactor(cfg)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.installed.Load(); p != nil {
		_ = candidate.backend.Close()
		atomic.AddInt64(&p.overridesIgnored, 1)
		Logger().Warn("explicit configuration ignored, instance already installed",
			zap.Int("requested_queue_len", cfg.QueueLen),
			zap.Int("installed_capacity", p.Capacity()))
		return p, nil
	}
	r.installed.Store(candidate)
	return candidate, nil
}

var defaultRegistry = NewRegistry()

// Default returns the registry backing the package-level accessors.
func Default() *Registry { return defaultRegistry }

// Get returns the process-wide Proactor, constructing it with default
// configuration on first call.
func Get() *Proactor { return defaultRegistry.Get() }

// WithConfig attempts to install the process-wide Proactor built from
// cfg; the first initialization call for the process wins.
func WithConfig(cfg config.Config) (*Proactor, error) {
	return defaultRegistry.WithConfig(cfg)
}
