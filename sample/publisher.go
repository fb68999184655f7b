package sample

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/catchup/errors"
	"github.com/c360/catchup/keys"
)

// Publisher stamps outgoing samples with a stable publisher id and a
// strictly monotonically increasing sequence number. The live feed's
// per-publisher ordering guarantee depends on every producer publishing
// through one Publisher instance per logical stream.
type Publisher struct {
	id     string
	source string
	seq    atomic.Uint64
	clock  func() int64
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithClock overrides the wall clock used for timestamps. Intended for
// tests.
func WithClock(clock func() int64) PublisherOption {
	return func(p *Publisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithPublisherID fixes the publisher id instead of generating one.
// The caller is responsible for uniqueness across the bus.
func WithPublisherID(id string) PublisherOption {
	return func(p *Publisher) {
		if id != "" {
			p.id = id
		}
	}
}

// NewPublisher creates a publisher with a generated uuid identity. The
// source name labels timestamps for cross-publisher tie-breaking and is
// typically the host or service name.
func NewPublisher(source string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		id:     uuid.NewString(),
		source: source,
		clock:  func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID returns the publisher id stamped on outgoing samples.
func (p *Publisher) ID() string {
	return p.id
}

// New builds the next sample for key, consuming one sequence number.
func (p *Publisher) New(key keys.Key, payload []byte, kind Kind) Sample {
	return Sample{
		Key:      key,
		Payload:  payload,
		Identity: Identity{Publisher: p.id, Seq: p.seq.Add(1)},
		Timestamp: Timestamp{
			WallMS: p.clock(),
			Source: p.source,
		},
		Kind: kind,
	}
}

// Bus is the transport surface a publisher needs to put samples on the
// wire.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Publish stamps and publishes a sample to the bus under the given subject
// prefix. The sequence number is consumed even if the publish fails, which
// keeps the per-publisher sequence strictly increasing for every sample
// that may have reached the wire.
func (p *Publisher) Publish(ctx context.Context, bus Bus, prefix string, key keys.Key, payload []byte, kind Kind) (Sample, error) {
	s := p.New(key, payload, kind)
	data, err := json.Marshal(s)
	if err != nil {
		return Sample{}, errors.WrapInvalid(err, "Publisher", "Publish", "encode sample")
	}
	if err := bus.Publish(ctx, key.Subject(prefix), data); err != nil {
		return Sample{}, errors.WrapTransient(err, "Publisher", "Publish", "publish sample")
	}
	return s, nil
}
