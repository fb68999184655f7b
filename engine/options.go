package engine

import (
	"time"

	"github.com/c360/catchup/errors"
	"github.com/c360/catchup/fetch"
	"github.com/c360/catchup/pkg/buffer"
)

// Default subscription tuning. Overridden per subscription via Options.
const (
	DefaultMergeWindowCapacity = 256
	DefaultFetchTimeout        = 5 * time.Second
	DefaultDeliveryQueueSize   = 1024
)

// Options tunes one subscription. The zero value selects defaults for
// every field; invalid values are rejected synchronously by Subscribe
// before any state is created.
type Options struct {
	// HistoryBound limits the initial fetch. Nil fetches all retained
	// history.
	HistoryBound *fetch.Bound

	// MergeWindowCapacity bounds the per-key live buffer held while a
	// fetch is outstanding. A full window forces an early drain for
	// that key, dropping its oldest buffered sample.
	MergeWindowCapacity int

	// FetchTimeout bounds each fetch generation. Expiry degrades the
	// replay to whatever arrived, it never blocks live delivery.
	FetchTimeout time.Duration

	// DeliveryQueueSize bounds the hand-off queue to the consumer.
	DeliveryQueueSize int

	// OverflowPolicy decides what happens when the delivery queue is
	// full. DropOldest counts and reports loss; Block stalls delivery.
	OverflowPolicy buffer.OverflowPolicy
}

// normalize validates o and fills in defaults.
func (o *Options) normalize() error {
	if err := o.HistoryBound.Validate(); err != nil {
		return err
	}

	if o.MergeWindowCapacity < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Subscription", "normalize", "negative merge window capacity")
	}
	if o.MergeWindowCapacity == 0 {
		o.MergeWindowCapacity = DefaultMergeWindowCapacity
	}

	if o.FetchTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Subscription", "normalize", "negative fetch timeout")
	}
	if o.FetchTimeout == 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}

	if o.DeliveryQueueSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Subscription", "normalize", "negative delivery queue size")
	}
	if o.DeliveryQueueSize == 0 {
		o.DeliveryQueueSize = DefaultDeliveryQueueSize
	}

	switch o.OverflowPolicy {
	case buffer.DropOldest, buffer.DropNewest, buffer.Block:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Subscription", "normalize", "unknown overflow policy")
	}
	return nil
}
