package config_test

import (
	"testing"
	"time"

	"github.com/momentics/hioload-proactor/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg.QueueLen != 2048 {
		t.Fatalf("default queue length = %d, want 2048", cfg.QueueLen)
	}
	if cfg.SQPollWakeInterval <= 0 {
		t.Fatal("default submission poll interval must be positive")
	}
	if norm := cfg.Normalized(); norm.QueueLen != 2048 {
		t.Fatalf("default queue length changed by normalization: %d", norm.QueueLen)
	}
}

func TestNormalizedQueueLen(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{10, 16},
		{16, 16},
		{17, 32},
		{1, 1},
		{0, 2048},
		{-5, 2048},
		{2048, 2048},
		{40000, 32768},
	}
	for _, tc := range cases {
		got := config.Config{QueueLen: tc.in}.Normalized().QueueLen
		if got != tc.want {
			t.Errorf("Normalized queue length for %d = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestNormalizedClampsNegatives(t *testing.T) {
	cfg := config.Config{
		QueueLen:                10,
		SQPollWakeInterval:      -time.Second,
		PerNUMABoundedWorkers:   -1,
		PerNUMAUnboundedWorkers: -2,
	}.Normalized()
	if cfg.SQPollWakeInterval != 0 {
		t.Errorf("negative poll interval not disabled: %v", cfg.SQPollWakeInterval)
	}
	if cfg.PerNUMABoundedWorkers != 0 || cfg.PerNUMAUnboundedWorkers != 0 {
		t.Errorf("negative worker counts not cleared: %d/%d",
			cfg.PerNUMABoundedWorkers, cfg.PerNUMAUnboundedWorkers)
	}
}

func TestNormalizedIsValueSemantics(t *testing.T) {
	cfg := config.Config{QueueLen: 10}
	_ = cfg.Normalized()
	if cfg.QueueLen != 10 {
		t.Fatal("Normalized mutated its receiver")
	}
}
