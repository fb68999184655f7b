package buffer

import (
	"github.com/c360/catchup/metric"
)

// Option configures buffer behavior using the functional options pattern.
type Option[T any] func(*options[T])

// options holds internal configuration for buffer instances.
// Statistics are always collected; Prometheus export is optional.
type options[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]

	// metricsReg is optional; if provided, buffer stats are also exposed
	// as Prometheus metrics under the metricsName component label.
	metricsReg  *metric.Registry
	metricsName string
}

// WithOverflowPolicy sets the overflow behavior for the buffer.
// Defaults to DropOldest if not specified.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *options[T]) {
		opts.overflowPolicy = policy
	}
}

// WithMetrics enables Prometheus metrics export for buffer statistics.
// If registry is nil or name is empty, this option is ignored.
func WithMetrics[T any](registry *metric.Registry, name string) Option[T] {
	return func(opts *options[T]) {
		if registry != nil && name != "" {
			opts.metricsReg = registry
			opts.metricsName = name
		}
	}
}

// WithDropCallback sets a callback invoked with each item dropped due to
// overflow or Clear. The callback runs outside the buffer lock.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *options[T]) {
		opts.dropCallback = callback
	}
}

func applyOptions[T any](opts ...Option[T]) *options[T] {
	o := &options[T]{
		overflowPolicy: DropOldest,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
