package window

import (
	"context"

	"github.com/ayusman/mudra/internal/features"
)

// Buffer is a window store for one session. Implementations must keep the
// Accumulator semantics: bounded length, arrival order, Ready when full.
type Buffer interface {
	Push(ctx context.Context, v features.Vector) (Status, error)
	Reset(ctx context.Context) error
	Evict(ctx context.Context, n int) error
	Len(ctx context.Context) (int, error)
	Capacity() int
}

// Factory creates the buffer for a session key.
type Factory func(key string, capacity int) Buffer

// Memory returns a Factory of in-process accumulators.
func Memory() Factory {
	return func(key string, capacity int) Buffer {
		return &memoryBuffer{acc: NewAccumulator(capacity)}
	}
}

type memoryBuffer struct {
	acc *Accumulator
}

func (b *memoryBuffer) Push(ctx context.Context, v features.Vector) (Status, error) {
	return b.acc.Push(v), nil
}

func (b *memoryBuffer) Reset(ctx context.Context) error {
	b.acc.Reset()
	return nil
}

func (b *memoryBuffer) Evict(ctx context.Context, n int) error {
	b.acc.Evict(n)
	return nil
}

func (b *memoryBuffer) Len(ctx context.Context) (int, error) {
	return b.acc.Len(), nil
}

func (b *memoryBuffer) Capacity() int {
	return b.acc.Capacity()
}
