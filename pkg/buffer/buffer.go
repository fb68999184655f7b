// Package buffer provides a generic, thread-safe circular buffer with
// configurable overflow policies.
//
// The buffer always collects statistics for observability; Prometheus
// metrics can optionally be enabled via the WithMetrics functional option.
// Writers choose what happens at capacity: drop the oldest item, drop the
// new item, or block until space frees up. Readers may poll (Read) or block
// with context cancellation (ReadContext).
package buffer

import "context"

// Buffer is the generic buffer interface satisfied by the circular
// implementation.
type Buffer[T any] interface {
	// Write adds an item to the buffer. Behavior at capacity depends on
	// the overflow policy.
	Write(item T) error

	// WriteContext behaves like Write but honors context cancellation
	// while waiting under the Block policy.
	WriteContext(ctx context.Context, item T) error

	// Read retrieves and removes one item, non-blocking.
	// Returns the zero value and false if the buffer is empty.
	Read() (T, bool)

	// ReadContext retrieves and removes one item, blocking until an item
	// is available, the buffer is closed, or the context is done.
	ReadContext(ctx context.Context) (T, error)

	// Peek retrieves one item without removing it.
	Peek() (T, bool)

	// Size returns the current number of items.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsFull reports whether the buffer is at capacity.
	IsFull() bool

	// IsEmpty reports whether the buffer holds no items.
	IsEmpty() bool

	// Clear removes all items.
	Clear()

	// Stats returns buffer statistics (always collected).
	Stats() *Statistics

	// Close shuts down the buffer, waking any blocked readers or writers.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest

	// Block causes Write operations to wait until space is available.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// DropCallback is invoked with each item dropped due to overflow or Clear.
type DropCallback[T any] func(item T)

// NewCircular creates a circular buffer with the given capacity.
func NewCircular[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	return newCircular(capacity, applyOptions(options...))
}
