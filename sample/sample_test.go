package sample

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/catchup/keys"
)

func mk(pub string, seq uint64, wallMS int64, source string) Sample {
	return Sample{
		Key:       keys.Key("fleet/alpha/gps"),
		Payload:   []byte("p"),
		Identity:  Identity{Publisher: pub, Seq: seq},
		Timestamp: Timestamp{WallMS: wallMS, Source: source},
		Kind:      Put,
	}
}

func TestIdentityEqual(t *testing.T) {
	a := Identity{Publisher: "p1", Seq: 3}
	assert.True(t, a.Equal(Identity{Publisher: "p1", Seq: 3}))
	assert.False(t, a.Equal(Identity{Publisher: "p1", Seq: 4}))
	assert.False(t, a.Equal(Identity{Publisher: "p2", Seq: 3}))
}

func TestCompareSamePublisherBySeq(t *testing.T) {
	// Timestamps deliberately inverted: sequence wins within a publisher.
	older := mk("p1", 3, 2000, "a")
	newer := mk("p1", 4, 1000, "a")
	assert.Negative(t, Compare(older, newer))
	assert.Positive(t, Compare(newer, older))
	assert.Zero(t, Compare(older, older))
}

func TestCompareAcrossPublishersByTimestamp(t *testing.T) {
	early := mk("p1", 9, 1000, "a")
	late := mk("p2", 1, 2000, "b")
	assert.Negative(t, Compare(early, late))
	assert.Positive(t, Compare(late, early))
}

func TestCompareTimestampTieBreaks(t *testing.T) {
	a := mk("p1", 1, 1000, "alpha")
	b := mk("p2", 1, 1000, "beta")
	assert.Negative(t, Compare(a, b), "source id lexical order breaks ties")

	// Same source too: publisher id is the final deterministic tie-break.
	c := mk("p1", 1, 1000, "alpha")
	d := mk("p2", 1, 1000, "alpha")
	assert.Negative(t, Compare(c, d))
}

func TestCompareIsDeterministicSortKey(t *testing.T) {
	samples := []Sample{
		mk("p2", 2, 300, "b"),
		mk("p1", 1, 100, "a"),
		mk("p2", 1, 200, "b"),
		mk("p1", 2, 400, "a"),
	}
	sort.Slice(samples, func(i, j int) bool { return Compare(samples[i], samples[j]) < 0 })

	// Per-publisher sequences must come out ascending.
	lastSeq := map[string]uint64{}
	for _, s := range samples {
		if prev, ok := lastSeq[s.Identity.Publisher]; ok {
			assert.Greater(t, s.Identity.Seq, prev)
		}
		lastSeq[s.Identity.Publisher] = s.Identity.Seq
	}
}

func TestSampleValidate(t *testing.T) {
	require.NoError(t, mk("p1", 1, 1, "a").Validate())

	bad := mk("", 1, 1, "a")
	require.Error(t, bad.Validate())

	badKey := mk("p1", 1, 1, "a")
	badKey.Key = "fleet//x"
	require.Error(t, badKey.Validate())
}

func TestSampleJSONRoundTrip(t *testing.T) {
	s := mk("p1", 7, 1234, "src")
	s.Kind = Delete

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"delete"`)

	var back Sample
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, s, back)
}

func TestKindUnmarshalRejectsUnknown(t *testing.T) {
	var k Kind
	require.Error(t, k.UnmarshalText([]byte("upsert")))
	require.NoError(t, k.UnmarshalText([]byte("PUT")))
	assert.Equal(t, Put, k)
}

func TestPublisherStampsMonotonicSequence(t *testing.T) {
	p := NewPublisher("node-1", WithClock(func() int64 { return 42 }))
	require.NotEmpty(t, p.ID())

	key := keys.Key("fleet/alpha/gps")
	s1 := p.New(key, []byte("a"), Put)
	s2 := p.New(key, []byte("b"), Put)
	s3 := p.New(key, nil, Delete)

	assert.Equal(t, p.ID(), s1.Identity.Publisher)
	assert.Equal(t, uint64(1), s1.Identity.Seq)
	assert.Equal(t, uint64(2), s2.Identity.Seq)
	assert.Equal(t, uint64(3), s3.Identity.Seq)
	assert.Equal(t, int64(42), s1.Timestamp.WallMS)
	assert.Equal(t, "node-1", s1.Timestamp.Source)
}

type captureBus struct {
	subject string
	data    []byte
}

func (b *captureBus) Publish(_ context.Context, subject string, data []byte) error {
	b.subject = subject
	b.data = data
	return nil
}

func TestPublisherPublish(t *testing.T) {
	bus := &captureBus{}
	p := NewPublisher("node-1", WithPublisherID("pub-1"))

	s, err := p.Publish(context.Background(), bus, keys.DefaultPrefix, keys.Key("fleet/alpha/gps"), []byte("x"), Put)
	require.NoError(t, err)
	assert.Equal(t, "catchup.data.fleet.alpha.gps", bus.subject)
	assert.Equal(t, "pub-1", s.Identity.Publisher)

	var wire Sample
	require.NoError(t, json.Unmarshal(bus.data, &wire))
	assert.Equal(t, s, wire)
}
