// Package engine implements the catch-up merge: a live subscription and
// a historical fetch combined into one gap-free, duplicate-free stream.
//
// Each subscribed key moves through three phases. While the fetch is
// outstanding, live samples buffer in a per-key merge window. When every
// source has answered (or the fetch timed out), the key drains: fetched
// and buffered samples are deduplicated by identity, sorted, and
// delivered in order. From then on the key is in steady live delivery,
// where the highest delivered sequence per publisher filters stale
// duplicates.
package engine

import (
	"context"
	"log/slog"

	"github.com/c360/catchup/errors"
	"github.com/c360/catchup/fetch"
	"github.com/c360/catchup/keys"
	"github.com/c360/catchup/metric"
	"github.com/c360/catchup/sample"
)

// FeedSubscription is the handle to an active live feed subscription.
type FeedSubscription interface {
	Unsubscribe() error
}

// LiveFeed delivers live samples for a pattern. BusFeed adapts the NATS
// client; tests substitute an in-process feed.
type LiveFeed interface {
	Subscribe(ctx context.Context, pattern keys.Pattern, handler func(sample.Sample)) (FeedSubscription, error)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics exposes engine counters as Prometheus metrics.
func WithMetrics(registry *metric.Registry) EngineOption {
	return func(e *Engine) { e.registry = registry }
}

// Engine creates catch-up subscriptions over a live feed and a set of
// history sources.
type Engine struct {
	feed     LiveFeed
	sources  *fetch.Sources
	logger   *slog.Logger
	registry *metric.Registry
	metrics  *engineMetrics
}

// New creates an engine. The source registry may be empty, in which
// case subscriptions go straight to steady live delivery.
func New(feed LiveFeed, sources *fetch.Sources, opts ...EngineOption) (*Engine, error) {
	if feed == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Engine", "New", "nil live feed")
	}
	if sources == nil {
		sources = fetch.NewSources()
	}

	e := &Engine{
		feed:    feed,
		sources: sources,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.registry != nil {
		m, err := newEngineMetrics(e.registry)
		if err != nil {
			return nil, err
		}
		e.metrics = m
	}
	return e, nil
}

// Sources returns the engine's fetch source registry.
func (e *Engine) Sources() *fetch.Sources {
	return e.sources
}

// Subscribe opens a catch-up subscription for pattern. Invalid options
// fail synchronously with no partial state. The returned subscription
// is live immediately; historical samples surface once the initial
// fetch drains.
func (e *Engine) Subscribe(ctx context.Context, pattern keys.Pattern, opts Options) (*Subscription, error) {
	if err := pattern.Validate(); err != nil {
		return nil, err
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	sub, err := newSubscription(e, pattern, opts)
	if err != nil {
		return nil, err
	}

	// Arm the fetch before opening the live feed: a live sample that
	// arrives first must land in the merge window, not advance the
	// delivered watermark past the history still in flight.
	var launchFetch func()
	if e.sources.Len() > 0 {
		launchFetch, err = sub.armFetch(opts.HistoryBound)
		if err != nil {
			sub.release()
			return nil, err
		}
	}

	feedSub, err := e.feed.Subscribe(ctx, pattern, sub.onLive)
	if err != nil {
		sub.release()
		if launchFetch != nil {
			// The subscription context is canceled, so the run resolves
			// immediately and balances the fetch accounting.
			launchFetch()
		}
		return nil, err
	}
	sub.feedSub = feedSub

	if launchFetch != nil {
		launchFetch()
	}

	if e.metrics != nil {
		e.metrics.subscriptionOpened()
	}
	e.logger.Info("catch-up subscription opened",
		"pattern", pattern.String(),
		"sources", e.sources.Len(),
		"fetch_timeout", opts.FetchTimeout)
	return sub, nil
}
