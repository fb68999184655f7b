package buffer

import (
	"context"
	"sync"

	"github.com/c360/catchup/errors"
)

// circular is a thread-safe ring with configurable overflow policies.
type circular[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *bufferMetrics
	opts     *options[T]

	notEmpty *sync.Cond
	notFull  *sync.Cond
	closed   bool
}

func newCircular[T any](capacity int, opts *options[T]) (*circular[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil && opts.metricsName != "" {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsName)
		if err != nil {
			return nil, errors.WrapInvalid(err, "buffer", "newCircular", "metrics registration")
		}
	}

	cb := &circular[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}
	cb.notEmpty = sync.NewCond(&cb.mu)
	cb.notFull = sync.NewCond(&cb.mu)
	return cb, nil
}

// Write adds an item according to the overflow policy.
func (cb *circular[T]) Write(item T) error {
	return cb.WriteContext(context.Background(), item)
}

// WriteContext adds an item, honoring ctx while waiting under Block.
// Drop callbacks run after the internal lock is released so they may call
// back into the buffer.
func (cb *circular[T]) WriteContext(ctx context.Context, item T) error {
	cb.mu.Lock()

	if cb.closed {
		cb.mu.Unlock()
		return errors.WrapInvalid(errors.ErrClosed, "buffer", "Write", "buffer closed")
	}

	var dropped *T
	if cb.size == cb.capacity {
		switch cb.opts.overflowPolicy {
		case DropOldest:
			old := cb.items[cb.tail]
			dropped = &old
			var zero T
			cb.items[cb.tail] = zero
			cb.tail = (cb.tail + 1) % cb.capacity
			cb.size--
			cb.recordDrop()

		case DropNewest:
			cb.recordDrop()
			cb.mu.Unlock()
			if cb.opts.dropCallback != nil {
				cb.opts.dropCallback(item)
			}
			return nil

		case Block:
			stop := context.AfterFunc(ctx, func() {
				// Wake the waiters so the ctx check below runs.
				cb.notFull.Broadcast()
			})
			for cb.size == cb.capacity && !cb.closed && ctx.Err() == nil {
				cb.notFull.Wait()
			}
			stop()
			if err := ctx.Err(); err != nil {
				cb.mu.Unlock()
				return err
			}
			if cb.closed {
				cb.mu.Unlock()
				return errors.WrapInvalid(errors.ErrClosed, "buffer", "Write", "buffer closed during wait")
			}
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	cb.stats.Write()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordWrite(cb.size, cb.capacity)
	}

	cb.notEmpty.Signal()
	cb.mu.Unlock()

	if dropped != nil && cb.opts.dropCallback != nil {
		cb.opts.dropCallback(*dropped)
	}
	return nil
}

func (cb *circular[T]) recordDrop() {
	cb.stats.Overflow()
	cb.stats.Drop()
	if cb.metrics != nil {
		cb.metrics.recordDrop()
	}
}

// Read retrieves and removes one item, non-blocking.
func (cb *circular[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.readLocked()
}

func (cb *circular[T]) readLocked() (T, bool) {
	var zero T
	if cb.size == 0 {
		return zero, false
	}

	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero // clear for GC
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--

	cb.stats.Read()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordRead(cb.size, cb.capacity)
	}

	cb.notFull.Signal()
	return item, true
}

// ReadContext blocks until an item is available, the buffer closes, or ctx
// is done. A closed buffer still yields buffered items before reporting
// ErrClosed.
func (cb *circular[T]) ReadContext(ctx context.Context) (T, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		cb.notEmpty.Broadcast()
	})
	defer stop()

	for {
		if item, ok := cb.readLocked(); ok {
			return item, nil
		}
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		if cb.closed {
			var zero T
			return zero, errors.WrapInvalid(errors.ErrClosed, "buffer", "ReadContext", "buffer closed")
		}
		cb.notEmpty.Wait()
	}
}

// Peek retrieves one item without removing it.
func (cb *circular[T]) Peek() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	if cb.size == 0 {
		return zero, false
	}
	cb.stats.Peek()
	return cb.items[cb.tail], true
}

// Size returns the current number of items.
func (cb *circular[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (cb *circular[T]) Capacity() int {
	return cb.capacity // immutable
}

// IsFull reports whether the buffer is at capacity.
func (cb *circular[T]) IsFull() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size == cb.capacity
}

// IsEmpty reports whether the buffer holds no items.
func (cb *circular[T]) IsEmpty() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size == 0
}

// Clear removes all items from the buffer.
func (cb *circular[T]) Clear() {
	cb.mu.Lock()

	var toDrop []T
	if cb.opts.dropCallback != nil && cb.size > 0 {
		toDrop = make([]T, 0, cb.size)
		for i := 0; i < cb.size; i++ {
			toDrop = append(toDrop, cb.items[(cb.tail+i)%cb.capacity])
		}
	}

	var zero T
	for i := range cb.items {
		cb.items[i] = zero
	}
	cb.head = 0
	cb.tail = 0
	cb.size = 0

	cb.stats.UpdateSize(0)
	if cb.metrics != nil {
		cb.metrics.updateSize(0, cb.capacity)
	}

	cb.notFull.Broadcast()
	cb.mu.Unlock()

	// Callbacks run outside the lock to avoid re-entrancy deadlocks.
	for _, item := range toDrop {
		cb.opts.dropCallback(item)
	}
}

// Stats returns buffer statistics.
func (cb *circular[T]) Stats() *Statistics {
	return cb.stats
}

// Close shuts down the buffer, waking blocked readers and writers.
func (cb *circular[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}
	cb.closed = true
	cb.notEmpty.Broadcast()
	cb.notFull.Broadcast()
	return nil
}
