// Package series keeps the bounded probability time series.
package series

import (
	"sync"

	"github.com/lucid-vigil/nids-watch/pkg/telemetry"
)

// DefaultCapacity is the number of samples the dashboard plots.
const DefaultCapacity = 50

// Rolling is a fixed-capacity ring of samples. Appending to a full ring
// evicts the oldest sample. It is safe for concurrent use.
type Rolling struct {
	mu    sync.RWMutex
	buf   []telemetry.Sample
	start int
	size  int
}

// NewRolling creates a ring holding at most capacity samples. A
// non-positive capacity selects DefaultCapacity.
func NewRolling(capacity int) *Rolling {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Rolling{buf: make([]telemetry.Sample, capacity)}
}

// Append adds s as the newest sample and reports whether an old sample was
// evicted.
func (r *Rolling) Append(s telemetry.Sample) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.buf)
	if r.size < capacity {
		r.buf[(r.start+r.size)%capacity] = s
		r.size++
		return false
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % capacity
	return true
}

// Samples returns the retained samples, oldest first.
func (r *Rolling) Samples() []telemetry.Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]telemetry.Sample, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Latest returns the newest sample.
func (r *Rolling) Latest() (telemetry.Sample, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return telemetry.Sample{}, false
	}
	return r.buf[(r.start+r.size-1)%len(r.buf)], true
}

// Len returns the number of samples held.
func (r *Rolling) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the window size.
func (r *Rolling) Cap() int {
	return len(r.buf)
}
