package pubcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/c360/catchup/busclient"
	"github.com/c360/catchup/errors"
	"github.com/c360/catchup/fetch"
	"github.com/c360/catchup/keys"
	"github.com/c360/catchup/metric"
	"github.com/c360/catchup/sample"
)

// Bus is the transport surface the cache service needs. *busclient.Client
// satisfies it.
type Bus interface {
	Subscribe(ctx context.Context, subject string, handler func(busclient.Msg)) (busclient.Subscription, error)
	Publish(ctx context.Context, subject string, data []byte) error
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithHistory sets the per-key retention depth. Defaults to
// DefaultHistory.
func WithHistory(n int) ServiceOption {
	return func(s *Service) { s.history = n }
}

// WithID sets the service identifier reported in fetch responses.
func WithID(id string) ServiceOption {
	return func(s *Service) {
		if id != "" {
			s.id = id
		}
	}
}

// WithPrefix sets the subject prefix for the live data subscription.
// Defaults to keys.DefaultPrefix.
func WithPrefix(prefix string) ServiceOption {
	return func(s *Service) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithFetchSubject sets the subject the service answers fetch requests
// on. Defaults to fetch.DefaultFetchSubject.
func WithFetchSubject(subject string) ServiceOption {
	return func(s *Service) {
		if subject != "" {
			s.fetchSubject = subject
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics exposes cache counters as Prometheus metrics.
func WithMetrics(registry *metric.Registry) ServiceOption {
	return func(s *Service) { s.registry = registry }
}

// Service feeds a Cache from a live bus subscription and answers fetch
// requests for the cached pattern. Several service instances answering
// the same fetch subject is the normal scale-out topology.
type Service struct {
	id           string
	pattern      keys.Pattern
	prefix       string
	fetchSubject string
	history      int
	logger       *slog.Logger
	registry     *metric.Registry

	bus   Bus
	cache *Cache

	mu       sync.Mutex
	started  bool
	dataSub  busclient.Subscription
	fetchSub busclient.Subscription
}

// NewService creates a cache service for one pattern. The cache is
// created here and reachable via Cache for in-process fetch sources.
func NewService(bus Bus, pattern keys.Pattern, opts ...ServiceOption) (*Service, error) {
	if bus == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Service", "NewService", "nil bus")
	}
	if err := pattern.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		id:           "pubcache",
		pattern:      pattern,
		prefix:       keys.DefaultPrefix,
		fetchSubject: fetch.DefaultFetchSubject,
		history:      DefaultHistory,
		logger:       slog.Default(),
		bus:          bus,
	}
	for _, opt := range opts {
		opt(s)
	}

	var cacheOpts []CacheOption
	if s.registry != nil {
		cacheOpts = append(cacheOpts, WithCacheMetrics(s.registry, s.id))
	}
	cache, err := NewCache(s.history, cacheOpts...)
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

// ID returns the service identifier.
func (s *Service) ID() string { return s.id }

// Pattern returns the cached pattern.
func (s *Service) Pattern() keys.Pattern { return s.pattern }

// Cache returns the underlying cache, for wiring a local fetch source.
func (s *Service) Cache() *Cache { return s.cache }

// Start subscribes to the live data subject and the fetch subject.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Service", "Start", "start cache service")
	}

	dataSubject := s.pattern.Subject(s.prefix)
	dataSub, err := s.bus.Subscribe(ctx, dataSubject, s.handleData)
	if err != nil {
		return err
	}

	fetchSub, err := s.bus.Subscribe(ctx, s.fetchSubject, func(msg busclient.Msg) {
		s.handleFetch(ctx, msg)
	})
	if err != nil {
		_ = dataSub.Unsubscribe()
		return err
	}

	s.dataSub = dataSub
	s.fetchSub = fetchSub
	s.started = true

	s.logger.Info("cache service started",
		"id", s.id,
		"pattern", s.pattern.String(),
		"data_subject", dataSubject,
		"fetch_subject", s.fetchSubject,
		"history", s.history)
	return nil
}

// Stop removes the service's subscriptions. The cache contents remain
// readable until the service is garbage collected.
func (s *Service) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return errors.WrapInvalid(errors.ErrNotStarted, "Service", "Stop", "stop cache service")
	}

	var errs []error
	if err := s.dataSub.Unsubscribe(); err != nil {
		errs = append(errs, err)
	}
	if err := s.fetchSub.Unsubscribe(); err != nil {
		errs = append(errs, err)
	}
	s.dataSub = nil
	s.fetchSub = nil
	s.started = false

	s.logger.Info("cache service stopped", "id", s.id, "pattern", s.pattern.String())

	if len(errs) > 0 {
		return errors.Wrap(errs[0], "Service", "Stop", "unsubscribe")
	}
	return nil
}

// handleData ingests one live sample. Malformed payloads and samples
// outside the cached pattern are dropped with a log line.
func (s *Service) handleData(msg busclient.Msg) {
	var smp sample.Sample
	if err := json.Unmarshal(msg.Data, &smp); err != nil {
		s.logger.Warn("dropping malformed sample", "subject", msg.Subject, "error", err)
		return
	}
	if !s.pattern.Matches(smp.Key) {
		s.logger.Debug("dropping sample outside cached pattern",
			"key", smp.Key.String(), "pattern", s.pattern.String())
		return
	}
	if err := s.cache.Ingest(smp); err != nil {
		s.logger.Warn("failed to cache sample", "key", smp.Key.String(), "error", err)
	}
}

// handleFetch answers one fetch request. Requests without a reply
// subject cannot be answered and are dropped.
func (s *Service) handleFetch(ctx context.Context, msg busclient.Msg) {
	if msg.Reply == "" {
		s.logger.Warn("dropping fetch request without reply subject")
		return
	}

	req, err := fetch.UnmarshalRequest(msg.Data)
	if err != nil {
		s.logger.Warn("dropping malformed fetch request", "error", err)
		return
	}

	var maxSamples int
	var sinceMS int64
	if req.Bound != nil {
		maxSamples = req.Bound.MaxSamples
		sinceMS = req.Bound.SinceMS
	}

	resp := fetch.Response{
		RequestID: req.ID,
		Source:    s.id,
		Entries:   s.cache.Answer(req.Pattern, maxSamples, sinceMS),
	}
	data, err := resp.Marshal()
	if err != nil {
		s.logger.Error("failed to encode fetch response", "request_id", req.ID, "error", err)
		return
	}

	if err := s.bus.Publish(ctx, msg.Reply, data); err != nil {
		s.logger.Warn("failed to publish fetch response",
			"request_id", req.ID, "reply", msg.Reply, "error", err)
	}
}
