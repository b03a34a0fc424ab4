// File: proactor/registry_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package proactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-proactor/config"
)

func closeAfterTest(t *testing.T, p *Proactor) {
	t.Helper()
	t.Cleanup(func() { p.backend.Close() })
}

func TestRegistryGet(t *testing.T) {
	t.Run("will construct with defaults on first call", func(t *testing.T) {
		r := NewRegistry()
		p := r.Get()
		closeAfterTest(t, p)

		require.NotNil(t, p)
		require.Equal(t, config.DefaultQueueLen, p.Capacity())
	})

	t.Run("will return the identical instance on every call", func(t *testing.T) {
		r := NewRegistry()
		p := r.Get()
		closeAfterTest(t, p)

		require.Same(t, p, r.Get())
		require.Same(t, p, r.Get())
	})

	t.Run("will construct exactly once under concurrent first access", func(t *testing.T) {
		r := NewRegistry()
		results := make([]*Proactor, 8)

		var g errgroup.Group
		for i := range results {
			i := i
			g.Go(func() error {
				results[i] = r.Get()
				return nil
			})
		}
		require.NoError(t, g.Wait())
		closeAfterTest(t, results[0])
		for _, p := range results[1:] {
			require.Same(t, results[0], p)
		}
	})
}

func TestRegistryWithConfig(t *testing.T) {
	t.Run("will keep the first writer's configuration", func(t *testing.T) {
		r := NewRegistry()
		first := r.Get()
		closeAfterTest(t, first)
		require.Equal(t, config.DefaultQueueLen, first.Capacity())

		// A later explicit configuration is validated and discarded, not
		// installed.
		later, err := r.WithConfig(config.Config{
			QueueLen:                10,
			SQPollWakeInterval:      11 * time.Millisecond,
			PerNUMABoundedWorkers:   12,
			PerNUMAUnboundedWorkers: 13,
		})
		require.NoError(t, err)
		require.Same(t, first, later)
		require.Equal(t, config.DefaultQueueLen, later.Capacity())
		require.EqualValues(t, 1, later.Stats()["overrides_ignored"])
	})

	t.Run("will install the explicit configuration when it comes first", func(t *testing.T) {
		r := NewRegistry()
		p, err := r.WithConfig(config.Config{QueueLen: 10})
		require.NoError(t, err)
		closeAfterTest(t, p)

		require.Equal(t, 16, p.Capacity())
		require.Same(t, p, r.Get())
		require.Equal(t, 16, r.Get().Capacity())
	})

	t.Run("will ignore repeated explicit configurations", func(t *testing.T) {
		r := NewRegistry()
		first, err := r.WithConfig(config.Config{QueueLen: 32})
		require.NoError(t, err)
		closeAfterTest(t, first)

		second, err := r.WithConfig(config.Config{QueueLen: 64})
		require.NoError(t, err)
		require.Same(t, first, second)
		require.Equal(t, 32, second.Capacity())
		require.EqualValues(t, 1, second.Stats()["overrides_ignored"])
	})
}

func TestPackageLevelSingleton(t *testing.T) {
	p := Get()
	require.Same(t, p, Get())
	require.Same(t, p, Default().Get())

	later, err := WithConfig(config.Config{QueueLen: 8})
	require.NoError(t, err)
	require.Same(t, p, later)
	require.Equal(t, p.Capacity(), later.Capacity())
}
