// Package delivery provides the ordered, bounded hand-off between the
// merge engine (producer) and the application (consumer).
//
// The channel never reorders samples. When the consumer falls behind,
// the configured overflow policy decides what happens: the default
// DropOldest discards the oldest queued sample, counts the loss, and
// emits a loss event on the side channel; Block stalls the producer
// until the consumer catches up. Loss is never silent.
package delivery

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/c360/catchup/errors"
	"github.com/c360/catchup/keys"
	"github.com/c360/catchup/metric"
	"github.com/c360/catchup/pkg/buffer"
	"github.com/c360/catchup/sample"
)

// EventKind identifies a side-channel notification type.
type EventKind int

const (
	// EventIncomplete marks a historical replay that is missing data
	// because the fetch timed out or was canceled.
	EventIncomplete EventKind = iota

	// EventOverflow marks a merge window that hit capacity and was
	// drained early.
	EventOverflow

	// EventTruncated marks a replay where cache eviction ate part of the
	// requested history.
	EventTruncated

	// EventLoss marks samples dropped from the delivery queue because
	// the consumer fell behind.
	EventLoss

	// EventTransport marks a non-fatal transport failure during a fetch.
	EventTransport
)

// String returns a human-readable representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventIncomplete:
		return "incomplete"
	case EventOverflow:
		return "overflow"
	case EventTruncated:
		return "truncated"
	case EventLoss:
		return "loss"
	case EventTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Event is a side-channel notification. Events report degraded delivery;
// the subscription itself keeps running.
type Event struct {
	Kind EventKind

	// Key scopes the event to one key where that applies. Empty for
	// subscription-wide events such as transport failures.
	Key keys.Key

	// Count carries the number of affected samples for loss and
	// overflow events.
	Count int

	// Err holds the underlying cause for transport events.
	Err error
}

// Option configures a delivery channel.
type Option func(*config)

type config struct {
	policy     buffer.OverflowPolicy
	eventDepth int
	registry   *metric.Registry
	name       string
}

// WithOverflowPolicy sets the queue overflow policy. Defaults to
// buffer.DropOldest.
func WithOverflowPolicy(policy buffer.OverflowPolicy) Option {
	return func(c *config) { c.policy = policy }
}

// WithEventDepth sets the capacity of the events side channel.
func WithEventDepth(depth int) Option {
	return func(c *config) {
		if depth > 0 {
			c.eventDepth = depth
		}
	}
}

// WithMetrics exposes queue statistics as Prometheus metrics.
func WithMetrics(registry *metric.Registry, name string) Option {
	return func(c *config) {
		c.registry = registry
		c.name = name
	}
}

// Channel is the bounded FIFO between engine and application.
type Channel struct {
	buf    buffer.Buffer[sample.Sample]
	events chan Event
	loss   atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// New creates a delivery channel with the given queue size.
func New(size int, opts ...Option) (*Channel, error) {
	if size <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"delivery", "New", "queue size must be positive")
	}

	cfg := &config{
		policy:     buffer.DropOldest,
		eventDepth: 16,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ch := &Channel{
		events: make(chan Event, cfg.eventDepth),
	}

	bufOpts := []buffer.Option[sample.Sample]{
		buffer.WithOverflowPolicy[sample.Sample](cfg.policy),
		buffer.WithDropCallback[sample.Sample](ch.onDrop),
	}
	if cfg.registry != nil && cfg.name != "" {
		bufOpts = append(bufOpts,
			buffer.WithMetrics[sample.Sample](cfg.registry, cfg.name))
	}

	buf, err := buffer.NewCircular(size, bufOpts...)
	if err != nil {
		return nil, err
	}
	ch.buf = buf
	return ch, nil
}

// onDrop accounts for every sample discarded by the overflow policy.
func (ch *Channel) onDrop(s sample.Sample) {
	ch.loss.Add(1)
	ch.Notify(Event{Kind: EventLoss, Key: s.Key, Count: 1})
}

// Push enqueues a sample for the consumer. Under the Block policy it
// waits for space, honoring ctx.
func (ch *Channel) Push(ctx context.Context, s sample.Sample) error {
	return ch.buf.WriteContext(ctx, s)
}

// Next blocks until a sample is available, the channel is closed, or ctx
// is done. After Close, queued samples are still drained before ErrClosed
// is reported.
func (ch *Channel) Next(ctx context.Context) (sample.Sample, error) {
	return ch.buf.ReadContext(ctx)
}

// Events returns the side channel for degraded-delivery notifications.
func (ch *Channel) Events() <-chan Event {
	return ch.events
}

// Notify emits an event without blocking. If the side channel is full
// the event is dropped; loss counters remain authoritative.
func (ch *Channel) Notify(ev Event) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}
	select {
	case ch.events <- ev:
	default:
	}
}

// Loss returns the total number of samples dropped from the queue.
func (ch *Channel) Loss() uint64 {
	return ch.loss.Load()
}

// Pending returns the number of samples waiting for the consumer.
func (ch *Channel) Pending() int {
	return ch.buf.Size()
}

// Close shuts down the channel. Queued samples remain readable via Next;
// the events channel is closed so range loops terminate.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return nil
	}
	ch.closed = true
	close(ch.events)
	return ch.buf.Close()
}
