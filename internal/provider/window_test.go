package provider

import (
	"testing"
	"time"
)

func TestWindowEmpty(t *testing.T) {
	w := newWindow(3)
	if w.averageLatency() != 0 || w.errorRatio() != 0 {
		t.Fatal("empty window should report zeros")
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	w := newWindow(3)
	w.record(100*time.Millisecond, true)
	w.record(10*time.Millisecond, false)
	w.record(20*time.Millisecond, false)

	if got := w.errorRatio(); got < 0.333 || got > 0.334 {
		t.Fatalf("expected 1/3 error ratio, got %v", got)
	}

	w.record(30*time.Millisecond, false)
	if w.errorRatio() != 0 {
		t.Fatalf("oldest failure should be evicted, got %v", w.errorRatio())
	}
	if got := w.averageLatency(); got != 20*time.Millisecond {
		t.Fatalf("expected 20ms average, got %s", got)
	}
}

func TestWindowDefaultSize(t *testing.T) {
	w := newWindow(0)
	if len(w.samples) != DefaultWindowSize {
		t.Fatalf("expected %d slots, got %d", DefaultWindowSize, len(w.samples))
	}
}
