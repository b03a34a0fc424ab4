package topology_test

import (
	"testing"

	"github.com/momentics/hioload-proactor/internal/topology"
)

func TestNodesAtLeastOne(t *testing.T) {
	if n := topology.Nodes(); n < 1 {
		t.Fatalf("Nodes() = %d, want >= 1", n)
	}
}

func TestNodesStable(t *testing.T) {
	first := topology.Nodes()
	for i := 0; i < 8; i++ {
		if got := topology.Nodes(); got != first {
			t.Fatalf("Nodes() changed between calls: %d then %d", first, got)
		}
	}
}
