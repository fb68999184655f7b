package fetch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/c360/catchup/busclient"
	"github.com/c360/catchup/errors"
	"github.com/c360/catchup/keys"
)

// Kind tags the fixed set of source variants. Sources are a closed
// enumeration, not open-ended polymorphism.
type Kind int

const (
	// Local answers from an in-process cache.
	Local Kind = iota

	// Remote answers over the bus from any listening cache instance.
	Remote
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return "unknown"
	}
}

// Source produces historical samples for a fetch request. Fetch blocks
// until the source has answered, the context is done, or the request
// fails; responses stream through the callback as they arrive.
type Source interface {
	ID() string
	Kind() Kind
	Fetch(ctx context.Context, req Request, deliver func(Response)) error
}

// Answerer is the cache-side query surface a local source wraps.
// *pubcache.Cache satisfies it.
type Answerer interface {
	Answer(pattern keys.Pattern, maxSamples int, sinceMS int64) []KeyReplay
}

// LocalSource answers fetches from an in-process cache without touching
// the bus.
type LocalSource struct {
	id    string
	cache Answerer
}

// NewLocalSource wraps an in-process cache as a fetch source.
func NewLocalSource(id string, cache Answerer) (*LocalSource, error) {
	if id == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"fetch", "NewLocalSource", "empty source id")
	}
	if cache == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"fetch", "NewLocalSource", "nil cache")
	}
	return &LocalSource{id: id, cache: cache}, nil
}

// ID returns the source identifier.
func (s *LocalSource) ID() string { return s.id }

// Kind returns Local.
func (s *LocalSource) Kind() Kind { return Local }

// Fetch answers synchronously from the wrapped cache.
func (s *LocalSource) Fetch(ctx context.Context, req Request, deliver func(Response)) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(errors.ErrFetchCanceled, "fetch", "Fetch", "local fetch")
	}

	var maxSamples int
	var sinceMS int64
	if req.Bound != nil {
		maxSamples = req.Bound.MaxSamples
		sinceMS = req.Bound.SinceMS
	}

	deliver(Response{
		RequestID: req.ID,
		Source:    s.id,
		Entries:   s.cache.Answer(req.Pattern, maxSamples, sinceMS),
	})
	return nil
}

// Requester is the scatter-gather surface a remote source needs.
// *busclient.Client satisfies it.
type Requester interface {
	RequestScatter(ctx context.Context, subject string, data []byte, handler func(busclient.Msg) bool) error
}

// RemoteOption configures a RemoteSource.
type RemoteOption func(*RemoteSource)

// WithSubject overrides the fetch subject. Defaults to
// DefaultFetchSubject.
func WithSubject(subject string) RemoteOption {
	return func(s *RemoteSource) {
		if subject != "" {
			s.subject = subject
		}
	}
}

// WithExpectReplies stops collection after n responses instead of
// waiting out the full fetch timeout. Use the known cache instance
// count when it is stable; the default of 0 collects until timeout.
func WithExpectReplies(n int) RemoteOption {
	return func(s *RemoteSource) {
		if n > 0 {
			s.expectReplies = n
		}
	}
}

// RemoteSource fetches history over the bus. Every cache instance
// listening on the fetch subject may answer; duplicate samples across
// answers are expected and resolved downstream.
type RemoteSource struct {
	id            string
	requester     Requester
	subject       string
	expectReplies int
}

// NewRemoteSource creates a bus-backed fetch source.
func NewRemoteSource(id string, requester Requester, opts ...RemoteOption) (*RemoteSource, error) {
	if id == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"fetch", "NewRemoteSource", "empty source id")
	}
	if requester == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"fetch", "NewRemoteSource", "nil requester")
	}

	s := &RemoteSource{
		id:        id,
		requester: requester,
		subject:   DefaultFetchSubject,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID returns the source identifier.
func (s *RemoteSource) ID() string { return s.id }

// Kind returns Remote.
func (s *RemoteSource) Kind() Kind { return Remote }

// Fetch scatters the request and gathers replies until ctx is done or
// the expected reply count is reached. Replies that fail to decode or
// answer a different request are skipped.
func (s *RemoteSource) Fetch(ctx context.Context, req Request, deliver func(Response)) error {
	data, err := req.Marshal()
	if err != nil {
		return err
	}

	var mu sync.Mutex
	replies := 0
	err = s.requester.RequestScatter(ctx, s.subject, data, func(msg busclient.Msg) bool {
		resp, err := UnmarshalResponse(msg.Data)
		if err != nil || resp.RequestID != req.ID {
			return false
		}
		deliver(resp)

		mu.Lock()
		replies++
		done := s.expectReplies > 0 && replies >= s.expectReplies
		mu.Unlock()
		return done
	})
	if err != nil {
		return errors.WrapTransient(err, "fetch", "Fetch",
			fmt.Sprintf("scatter request on %s", s.subject))
	}
	return nil
}

// Sources is the lookup table of registered fetch sources. The engine
// queries every registered source for each fetch generation.
type Sources struct {
	mu      sync.RWMutex
	entries map[string]Source
}

// NewSources creates an empty source registry.
func NewSources() *Sources {
	return &Sources{entries: make(map[string]Source)}
}

// Register adds a source. Duplicate IDs are rejected.
func (r *Sources) Register(src Source) error {
	if src == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "fetch", "Register", "nil source")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[src.ID()]; exists {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"fetch", "Register", fmt.Sprintf("duplicate source id %q", src.ID()))
	}
	r.entries[src.ID()] = src
	return nil
}

// Get returns the source with the given ID.
func (r *Sources) Get(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.entries[id]
	return src, ok
}

// All returns every registered source in deterministic ID order.
func (r *Sources) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Source, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.entries[id])
	}
	return out
}

// Len returns the number of registered sources.
func (r *Sources) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
