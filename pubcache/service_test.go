package pubcache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/catchup/busclient"
	cerrors "github.com/c360/catchup/errors"
	"github.com/c360/catchup/fetch"
)

// fakeBus records subscriptions and published messages and lets tests
// inject inbound messages by subject.
type fakeBus struct {
	mu        sync.Mutex
	handlers  map[string]func(busclient.Msg)
	published map[string][][]byte
	unsubbed  []string
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		handlers:  make(map[string]func(busclient.Msg)),
		published: make(map[string][][]byte),
	}
}

func (b *fakeBus) Subscribe(_ context.Context, subject string, handler func(busclient.Msg)) (busclient.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = handler
	return &fakeSub{bus: b, subject: subject}, nil
}

func (b *fakeBus) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[subject] = append(b.published[subject], data)
	return nil
}

func (b *fakeBus) deliver(subject string, msg busclient.Msg) {
	b.mu.Lock()
	handler := b.handlers[subject]
	b.mu.Unlock()
	if handler != nil {
		handler(msg)
	}
}

type fakeSub struct {
	bus     *fakeBus
	subject string
}

func (s *fakeSub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.handlers, s.subject)
	s.bus.unsubbed = append(s.bus.unsubbed, s.subject)
	return nil
}

func (s *fakeSub) Subject() string { return s.subject }

func TestServiceLifecycle(t *testing.T) {
	bus := newFakeBus()
	svc, err := NewService(bus, "vehicle/*/position", WithHistory(4), WithID("cache-1"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))

	// Subscribed to the mapped data subject and the fetch subject.
	bus.mu.Lock()
	_, hasData := bus.handlers["catchup.data.vehicle.*.position"]
	_, hasFetch := bus.handlers[fetch.DefaultFetchSubject]
	bus.mu.Unlock()
	assert.True(t, hasData)
	assert.True(t, hasFetch)

	err = svc.Start(ctx)
	assert.ErrorIs(t, err, cerrors.ErrAlreadyStarted)

	require.NoError(t, svc.Stop(ctx))
	assert.Len(t, bus.unsubbed, 2)

	err = svc.Stop(ctx)
	assert.ErrorIs(t, err, cerrors.ErrNotStarted)
}

func TestServiceValidation(t *testing.T) {
	_, err := NewService(nil, "a/b")
	assert.ErrorIs(t, err, cerrors.ErrInvalidConfig)

	bus := newFakeBus()
	_, err = NewService(bus, "bad..pattern")
	assert.Error(t, err)

	_, err = NewService(bus, "a/b", WithHistory(-1))
	assert.ErrorIs(t, err, cerrors.ErrInvalidConfig)
}

func TestServiceIngestsLiveSamples(t *testing.T) {
	bus := newFakeBus()
	svc, err := NewService(bus, "vehicle/*/position")
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	s := mkSample("vehicle/7/position", "p1", 1, 100)
	data, err := json.Marshal(s)
	require.NoError(t, err)
	bus.deliver("catchup.data.vehicle.*.position", busclient.Msg{Data: data})

	// Malformed payloads and out-of-pattern keys are dropped silently.
	bus.deliver("catchup.data.vehicle.*.position", busclient.Msg{Data: []byte("junk")})
	outside, err := json.Marshal(mkSample("building/1/door", "p1", 2, 100))
	require.NoError(t, err)
	bus.deliver("catchup.data.vehicle.*.position", busclient.Msg{Data: outside})

	entries := svc.Cache().Answer("vehicle/**", 0, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, s.Identity, entries[0].Samples[0].Identity)
}

func TestServiceAnswersFetch(t *testing.T) {
	bus := newFakeBus()
	svc, err := NewService(bus, "vehicle/*/position", WithID("cache-east"))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	require.NoError(t, svc.Cache().Ingest(mkSample("vehicle/7/position", "p1", 1, 100)))
	require.NoError(t, svc.Cache().Ingest(mkSample("vehicle/7/position", "p1", 2, 200)))

	req, err := fetch.NewRequest("vehicle/*/position", nil)
	require.NoError(t, err)
	reqData, err := req.Marshal()
	require.NoError(t, err)

	bus.deliver(fetch.DefaultFetchSubject, busclient.Msg{Data: reqData, Reply: "_INBOX.42"})

	bus.mu.Lock()
	replies := bus.published["_INBOX.42"]
	bus.mu.Unlock()
	require.Len(t, replies, 1)

	resp, err := fetch.UnmarshalResponse(replies[0])
	require.NoError(t, err)
	assert.Equal(t, req.ID, resp.RequestID)
	assert.Equal(t, "cache-east", resp.Source)
	require.Len(t, resp.Entries, 1)
	assert.Len(t, resp.Entries[0].Samples, 2)
}

func TestServiceDropsUnanswerableFetches(t *testing.T) {
	bus := newFakeBus()
	svc, err := NewService(bus, "a/*")
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	// No reply subject.
	req, err := fetch.NewRequest("a/*", nil)
	require.NoError(t, err)
	reqData, err := req.Marshal()
	require.NoError(t, err)
	bus.deliver(fetch.DefaultFetchSubject, busclient.Msg{Data: reqData})

	// Malformed request.
	bus.deliver(fetch.DefaultFetchSubject, busclient.Msg{Data: []byte("junk"), Reply: "_INBOX.1"})

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Empty(t, bus.published)
}
