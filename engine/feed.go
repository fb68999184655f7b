package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/c360/catchup/busclient"
	"github.com/c360/catchup/errors"
	"github.com/c360/catchup/keys"
	"github.com/c360/catchup/sample"
)

// FeedBus is the transport surface BusFeed needs. *busclient.Client
// satisfies it.
type FeedBus interface {
	Subscribe(ctx context.Context, subject string, handler func(busclient.Msg)) (busclient.Subscription, error)
}

// BusFeedOption configures a BusFeed.
type BusFeedOption func(*BusFeed)

// WithFeedPrefix overrides the data subject prefix. Defaults to
// keys.DefaultPrefix.
func WithFeedPrefix(prefix string) BusFeedOption {
	return func(f *BusFeed) {
		if prefix != "" {
			f.prefix = prefix
		}
	}
}

// WithFeedLogger sets the structured logger.
func WithFeedLogger(logger *slog.Logger) BusFeedOption {
	return func(f *BusFeed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// BusFeed adapts the bus client into a LiveFeed: it maps the pattern to
// its data subject, decodes sample payloads, and drops anything
// malformed. The per-publisher ordering guarantee comes from the
// publisher's monotonic stamping; the feed never reorders.
type BusFeed struct {
	bus    FeedBus
	prefix string
	logger *slog.Logger
}

// NewBusFeed creates a live feed over the bus client.
func NewBusFeed(bus FeedBus, opts ...BusFeedOption) (*BusFeed, error) {
	if bus == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "BusFeed", "NewBusFeed", "nil bus")
	}

	f := &BusFeed{
		bus:    bus,
		prefix: keys.DefaultPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Subscribe subscribes to the pattern's data subject and decodes every
// payload into a sample before handing it to handler.
func (f *BusFeed) Subscribe(ctx context.Context, pattern keys.Pattern, handler func(sample.Sample)) (FeedSubscription, error) {
	subject := pattern.Subject(f.prefix)
	sub, err := f.bus.Subscribe(ctx, subject, func(msg busclient.Msg) {
		var smp sample.Sample
		if err := json.Unmarshal(msg.Data, &smp); err != nil {
			f.logger.Warn("dropping malformed live sample", "subject", msg.Subject, "error", err)
			return
		}
		if err := smp.Validate(); err != nil {
			f.logger.Warn("dropping invalid live sample", "subject", msg.Subject, "error", err)
			return
		}
		handler(smp)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}
