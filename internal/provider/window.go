package provider

import (
	"sync"
	"time"
)

// DefaultWindowSize is the number of recent calls kept for statistics.
const DefaultWindowSize = 30

type sample struct {
	latency time.Duration
	failed  bool
}

// window is a fixed-size ring of call outcomes.
type window struct {
	mu      sync.Mutex
	samples []sample
	next    int
	filled  int
}

func newWindow(size int) *window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &window{samples: make([]sample, size)}
}

func (w *window) record(latency time.Duration, failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = sample{latency: latency, failed: failed}
	w.next = (w.next + 1) % len(w.samples)
	if w.filled < len(w.samples) {
		w.filled++
	}
}

func (w *window) averageLatency() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.filled == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < w.filled; i++ {
		total += w.samples[i].latency
	}
	return total / time.Duration(w.filled)
}

func (w *window) errorRatio() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.filled == 0 {
		return 0
	}
	failed := 0
	for i := 0; i < w.filled; i++ {
		if w.samples[i].failed {
			failed++
		}
	}
	return float64(failed) / float64(w.filled)
}
