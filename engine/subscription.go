package engine

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/c360/catchup/delivery"
	"github.com/c360/catchup/errors"
	"github.com/c360/catchup/fetch"
	"github.com/c360/catchup/keys"
	"github.com/c360/catchup/sample"
)

// phase tracks where one key is in the catch-up protocol.
type phase int

const (
	// phaseFetching buffers live samples in the merge window while a
	// fetch is outstanding for this key.
	phaseFetching phase = iota

	// phaseSteady delivers live samples directly, filtered against the
	// highest delivered sequence per publisher.
	phaseSteady
)

// keyState is the per-key arena entry. All fields are guarded by mu;
// no lock is ever held across two keys.
type keyState struct {
	mu    sync.Mutex
	phase phase

	// window buffers live samples during a fetch, bounded by
	// MergeWindowCapacity.
	window []sample.Sample

	// fetched accumulates historical samples by identity across all
	// source responses of the current generation.
	fetched map[sample.Identity]sample.Sample

	// delivered maps publisher to the highest sequence handed to the
	// consumer. Replays and live delivery both filter against it, which
	// is what makes drains idempotent.
	delivered map[string]uint64
}

func newKeyState(p phase) *keyState {
	return &keyState{
		phase:     p,
		fetched:   make(map[sample.Identity]sample.Sample),
		delivered: make(map[string]uint64),
	}
}

// seen reports whether this sample's identity was already delivered.
func (ks *keyState) seen(s sample.Sample) bool {
	highest, ok := ks.delivered[s.Identity.Publisher]
	return ok && s.Identity.Seq <= highest
}

// Subscription is one catch-up subscription: a live feed merged with
// historical fetches into an ordered, duplicate-free stream.
type Subscription struct {
	engine  *Engine
	pattern keys.Pattern
	opts    Options

	channel *delivery.Channel
	feedSub FeedSubscription

	// ctx spans the subscription lifetime; cancel releases every
	// in-flight fetch and unblocks delivery.
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	keys map[keys.Key]*keyState

	// generation numbers fetch runs; a refresh supersedes the previous
	// run by bumping it. Superseded runs still drain, drains are
	// idempotent.
	generation    atomic.Uint64
	activeFetches atomic.Int64
	fetchCancel   context.CancelFunc // guarded by mu
	fetchWG       sync.WaitGroup

	windowLoss atomic.Uint64
	staleDrops atomic.Uint64
	closed     atomic.Bool
}

func newSubscription(e *Engine, pattern keys.Pattern, opts Options) (*Subscription, error) {
	channel, err := delivery.New(opts.DeliveryQueueSize,
		delivery.WithOverflowPolicy(opts.OverflowPolicy))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		engine:  e,
		pattern: pattern,
		opts:    opts,
		channel: channel,
		ctx:     ctx,
		cancel:  cancel,
		keys:    make(map[keys.Key]*keyState),
	}, nil
}

// Pattern returns the subscribed pattern.
func (s *Subscription) Pattern() keys.Pattern {
	return s.pattern
}

// Next blocks until the next sample is available, the subscription is
// closed, or ctx is done. Samples queued before Close still drain.
func (s *Subscription) Next(ctx context.Context) (sample.Sample, error) {
	return s.channel.Next(ctx)
}

// Events returns the side channel carrying incomplete, overflow,
// truncated, and loss notifications.
func (s *Subscription) Events() <-chan delivery.Event {
	return s.channel.Events()
}

// Loss returns the total samples lost to queue overflow and merge
// window overflow.
func (s *Subscription) Loss() uint64 {
	return s.channel.Loss() + s.windowLoss.Load()
}

// StaleDrops returns the count of live samples dropped as already
// delivered.
func (s *Subscription) StaleDrops() uint64 {
	return s.staleDrops.Load()
}

// keyState returns the arena entry for key, creating it in the phase
// matching the current fetch activity: buffering while a fetch is
// outstanding, steady otherwise.
func (s *Subscription) keyState(key keys.Key) *keyState {
	s.mu.Lock()
	defer s.mu.Unlock()

	ks, ok := s.keys[key]
	if !ok {
		p := phaseSteady
		if s.activeFetches.Load() > 0 {
			p = phaseFetching
		}
		ks = newKeyState(p)
		s.keys[key] = ks
	}
	return ks
}

// onLive handles one live sample from the feed.
func (s *Subscription) onLive(smp sample.Sample) {
	if s.closed.Load() {
		return
	}
	if smp.Validate() != nil || !s.pattern.Matches(smp.Key) {
		return
	}

	ks := s.keyState(smp.Key)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	switch ks.phase {
	case phaseFetching:
		if len(ks.window) >= s.opts.MergeWindowCapacity {
			// Window full: drop the oldest buffered sample, then drain
			// this key early rather than lose more.
			ks.window = ks.window[1:]
			s.windowLoss.Add(1)
			s.channel.Notify(delivery.Event{Kind: delivery.EventLoss, Key: smp.Key, Count: 1})

			ks.window = append(ks.window, smp)
			s.drainLocked(ks)
			s.channel.Notify(delivery.Event{
				Kind:  delivery.EventOverflow,
				Key:   smp.Key,
				Count: 1,
				Err:   errors.ErrWindowOverflow,
			})
			if s.engine.metrics != nil {
				s.engine.metrics.windowOverflowed()
			}
			return
		}
		ks.window = append(ks.window, smp)

	case phaseSteady:
		if ks.seen(smp) {
			s.staleDrops.Add(1)
			if s.engine.metrics != nil {
				s.engine.metrics.staleDrop()
			}
			return
		}
		s.deliverLocked(ks, smp)
	}
}

// deliverLocked hands one sample to the consumer and records it as
// delivered. Must hold ks.mu so racing live samples keep per-key order.
func (s *Subscription) deliverLocked(ks *keyState, smp sample.Sample) {
	if err := s.channel.Push(s.ctx, smp); err != nil {
		return
	}
	ks.delivered[smp.Identity.Publisher] = smp.Identity.Seq
	if s.engine.metrics != nil {
		s.engine.metrics.delivered()
	}
}

// drainLocked merges this key's fetched and buffered samples into the
// delivery stream: dedup by identity, sort in the global sample order,
// skip everything already delivered. Idempotent. Must hold ks.mu.
func (s *Subscription) drainLocked(ks *keyState) {
	candidates := make(map[sample.Identity]sample.Sample, len(ks.fetched)+len(ks.window))
	for id, smp := range ks.fetched {
		candidates[id] = smp
	}
	for _, smp := range ks.window {
		candidates[smp.Identity] = smp
	}

	merged := make([]sample.Sample, 0, len(candidates))
	for _, smp := range candidates {
		merged = append(merged, smp)
	}
	sort.Slice(merged, func(i, j int) bool {
		return sample.Compare(merged[i], merged[j]) < 0
	})

	for _, smp := range merged {
		if ks.seen(smp) {
			continue
		}
		s.deliverLocked(ks, smp)
	}

	ks.fetched = make(map[sample.Identity]sample.Sample)
	ks.window = nil
	ks.phase = phaseSteady
}

// startFetch arms and launches a fetch generation across every
// registered source. A later generation supersedes this one by
// cancelation; both still drain.
func (s *Subscription) startFetch(bound *fetch.Bound) error {
	launch, err := s.armFetch(bound)
	if err != nil {
		return err
	}
	launch()
	return nil
}

// armFetch registers a fetch generation without issuing it: from the
// moment it returns, live samples for new keys buffer in the merge
// window. Subscribe arms before opening the live feed so a sample
// racing the fetch cannot advance the delivered watermark and shadow
// the replay. The returned func launches the fetch.
func (s *Subscription) armFetch(bound *fetch.Bound) (func(), error) {
	req, err := fetch.NewRequest(s.pattern, bound)
	if err != nil {
		return nil, err
	}

	gen := s.generation.Add(1)
	fctx, fcancel := context.WithTimeout(s.ctx, s.opts.FetchTimeout)

	s.mu.Lock()
	if s.fetchCancel != nil {
		s.fetchCancel()
	}
	s.fetchCancel = fcancel
	s.mu.Unlock()

	s.activeFetches.Add(1)
	s.fetchWG.Add(1)
	if s.engine.metrics != nil {
		s.engine.metrics.fetchStarted()
	}

	return func() { go s.runFetch(fctx, fcancel, gen, req) }, nil
}

func (s *Subscription) runFetch(fctx context.Context, fcancel context.CancelFunc, gen uint64, req fetch.Request) {
	defer s.fetchWG.Done()
	defer fcancel()

	g, gctx := errgroup.WithContext(fctx)
	for _, src := range s.engine.sources.All() {
		src := src
		g.Go(func() error {
			if err := src.Fetch(gctx, req, s.onResponse); err != nil {
				// Transport failures degrade the replay, they never
				// kill the subscription.
				s.engine.logger.Warn("fetch source failed",
					"source", src.ID(),
					"pattern", s.pattern.String(),
					"generation", gen,
					"error", err)
				s.channel.Notify(delivery.Event{Kind: delivery.EventTransport, Err: err})
				if s.engine.metrics != nil {
					s.engine.metrics.sourceError()
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	degraded := stderrors.Is(fctx.Err(), context.DeadlineExceeded) ||
		(stderrors.Is(fctx.Err(), context.Canceled) && s.ctx.Err() == nil && s.generation.Load() == gen)
	if degraded {
		s.engine.logger.Warn("fetch degraded, draining partial history",
			"pattern", s.pattern.String(),
			"generation", gen,
			"cause", fctx.Err())
		s.channel.Notify(delivery.Event{Kind: delivery.EventIncomplete})
		if s.engine.metrics != nil {
			s.engine.metrics.degradedDrain()
		}
	}

	s.activeFetches.Add(-1)
	s.drainAll()
}

// onResponse folds one source response into the per-key fetched sets.
func (s *Subscription) onResponse(resp fetch.Response) {
	for _, entry := range resp.Entries {
		if !s.pattern.Matches(entry.Key) {
			continue
		}
		if entry.Truncated {
			s.channel.Notify(delivery.Event{Kind: delivery.EventTruncated, Key: entry.Key})
		}

		ks := s.keyState(entry.Key)
		ks.mu.Lock()
		for _, smp := range entry.Samples {
			if smp.Validate() != nil || smp.Key != entry.Key {
				continue
			}
			ks.fetched[smp.Identity] = smp
		}
		ks.mu.Unlock()
	}
}

// drainAll drains every key with pending state. Keys drain one at a
// time under their own lock; delivered filtering makes replays that
// lost the race against live delivery harmless.
func (s *Subscription) drainAll() {
	s.mu.Lock()
	states := make([]*keyState, 0, len(s.keys))
	for _, ks := range s.keys {
		states = append(states, ks)
	}
	s.mu.Unlock()

	for _, ks := range states {
		ks.mu.Lock()
		if ks.phase == phaseFetching || len(ks.fetched) > 0 {
			s.drainLocked(ks)
		}
		ks.mu.Unlock()
	}
}

// Refresh issues a new fetch while live delivery continues. An
// outstanding fetch is superseded; its partial results still drain and
// the delivered filter prevents double delivery.
func (s *Subscription) Refresh(bound *fetch.Bound) error {
	if s.closed.Load() {
		return errors.WrapInvalid(errors.ErrClosed, "Subscription", "Refresh", "subscription closed")
	}
	if err := bound.Validate(); err != nil {
		return err
	}
	if s.engine.sources.Len() == 0 {
		return nil
	}
	return s.startFetch(bound)
}

// CancelFetch cancels the outstanding fetch generation, forcing a
// degraded drain from whatever has arrived.
func (s *Subscription) CancelFetch() {
	s.mu.Lock()
	cancel := s.fetchCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close releases the subscription: live feed handle, in-flight fetches,
// and the delivery queue, on every path. Samples already queued remain
// readable via Next. Idempotent.
func (s *Subscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if s.feedSub != nil {
		err = s.feedSub.Unsubscribe()
	}

	s.cancel()
	s.fetchWG.Wait()
	s.release()

	if s.engine.metrics != nil {
		s.engine.metrics.subscriptionClosed()
	}
	s.engine.logger.Info("catch-up subscription closed", "pattern", s.pattern.String())

	if err != nil {
		return errors.Wrap(err, "Subscription", "Close", "unsubscribe live feed")
	}
	return nil
}

// release tears down subscription-owned resources without touching the
// live feed. Used by Close and by Subscribe error paths.
func (s *Subscription) release() {
	s.cancel()
	_ = s.channel.Close()
}
