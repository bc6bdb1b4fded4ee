// Package window buffers feature vectors into fixed-length classification windows.
package window

import (
	"sync"

	"github.com/ayusman/mudra/internal/features"
)

// State is the accumulator's position in the collect/classify cycle.
type State string

const (
	// Collecting means fewer than capacity vectors are buffered.
	Collecting State = "collecting"
	// Ready means the buffer is full and the window can be classified.
	Ready State = "ready"
)

// Status is the result of a push.
type Status struct {
	State     State
	Collected int
	Needed    int
	// Window holds the full ordered window when State is Ready.
	Window []features.Vector
}

// Ready reports whether the push filled the window.
func (s Status) Ready() bool {
	return s.State == Ready
}

// Accumulator holds up to capacity most recent vectors in arrival order.
//
// The intended cycle is fill-then-reset: the push that fills the buffer
// reports Ready with the window, the caller classifies it and calls Reset.
// If the caller does not reset, the next push drops the oldest vector so
// the length never exceeds capacity.
type Accumulator struct {
	mu       sync.Mutex
	capacity int
	buf      []features.Vector
}

// NewAccumulator creates an accumulator for windows of the given length.
// Capacities below 1 are raised to 1.
func NewAccumulator(capacity int) *Accumulator {
	if capacity < 1 {
		capacity = 1
	}
	return &Accumulator{
		capacity: capacity,
		buf:      make([]features.Vector, 0, capacity),
	}
}

// Push appends v and reports the collection progress.
func (a *Accumulator) Push(v features.Vector) Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.buf) == a.capacity {
		copy(a.buf, a.buf[1:])
		a.buf = a.buf[:a.capacity-1]
	}
	a.buf = append(a.buf, v)

	return a.status()
}

func (a *Accumulator) status() Status {
	n := len(a.buf)
	if n < a.capacity {
		return Status{State: Collecting, Collected: n, Needed: a.capacity - n}
	}

	window := make([]features.Vector, n)
	copy(window, a.buf)
	return Status{State: Ready, Collected: n, Needed: 0, Window: window}
}

// Reset discards every buffered vector. It is idempotent.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = a.buf[:0]
}

// Evict drops the n oldest vectors, keeping the rest for an overlapping window.
func (a *Accumulator) Evict(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n <= 0 {
		return
	}
	if n >= len(a.buf) {
		a.buf = a.buf[:0]
		return
	}
	kept := copy(a.buf, a.buf[n:])
	a.buf = a.buf[:kept]
}

// Len returns the number of buffered vectors.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// Capacity returns the window length.
func (a *Accumulator) Capacity() int {
	return a.capacity
}
