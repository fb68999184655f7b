// Package sample defines the unit of data flowing over the catchup bus and
// the identity model used to order and deduplicate it.
//
// Every sample carries an Identity (publisher id + per-publisher sequence
// number) and a Timestamp (wall-clock milliseconds + source id). Identity is
// the primary dedup and ordering key: two samples are duplicates iff their
// identities are equal, and samples from the same publisher order by
// sequence number. Across publishers no sequence relationship exists, so
// ordering falls back to the timestamp, with the source id breaking ties
// deterministically. Cross-key ordering is explicitly not defined.
package sample

import (
	"fmt"
	"strings"

	"github.com/c360/catchup/errors"
	"github.com/c360/catchup/keys"
)

// Kind distinguishes value updates from deletions.
type Kind uint8

// Sample kinds.
const (
	Put Kind = iota
	Delete
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case Put:
		return "put"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler for JSON wire use.
func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case Put, Delete:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("%w: kind %d", errors.ErrInvalidData, k)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "put", "":
		*k = Put
	case "delete":
		*k = Delete
	default:
		return fmt.Errorf("%w: kind %q", errors.ErrInvalidData, text)
	}
	return nil
}

// Identity uniquely identifies a sample from its publisher: the sequence
// number is strictly monotonically increasing per publisher id.
type Identity struct {
	Publisher string `json:"publisher"`
	Seq       uint64 `json:"seq"`
}

// Equal reports whether two identities name the same sample.
func (i Identity) Equal(o Identity) bool {
	return i.Publisher == o.Publisher && i.Seq == o.Seq
}

func (i Identity) String() string {
	return fmt.Sprintf("%s#%d", i.Publisher, i.Seq)
}

// Timestamp is a logical clock reading paired with the id of its source,
// used for cross-publisher tie-breaking where no sequence relationship
// exists. WallMS is milliseconds since the Unix epoch, UTC.
type Timestamp struct {
	WallMS int64  `json:"wall_ms"`
	Source string `json:"source,omitempty"`
}

// Compare orders timestamps ascending by wall clock, ties broken by source
// id lexical order. The tie-break is deterministic, not semantically
// meaningful.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.WallMS < o.WallMS:
		return -1
	case t.WallMS > o.WallMS:
		return 1
	}
	return strings.Compare(t.Source, o.Source)
}

// Sample is one immutable publication: a key, an opaque payload, the
// publisher identity, a timestamp, and the Put/Delete kind.
type Sample struct {
	Key       keys.Key  `json:"key"`
	Payload   []byte    `json:"payload,omitempty"`
	Identity  Identity  `json:"identity"`
	Timestamp Timestamp `json:"timestamp"`
	Kind      Kind      `json:"kind"`
}

// Validate checks the sample is well formed enough to cache or deliver.
func (s Sample) Validate() error {
	if err := s.Key.Validate(); err != nil {
		return errors.WrapInvalid(err, "Sample", "Validate", "validate key")
	}
	if s.Identity.Publisher == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: missing publisher id", errors.ErrInvalidData),
			"Sample", "Validate", "validate identity")
	}
	return nil
}

// Compare orders two samples for the same key. Samples from the same
// publisher order by sequence number; otherwise by timestamp with the
// source id, then publisher id, breaking ties. Returns 0 only for
// duplicate identities.
func Compare(a, b Sample) int {
	if a.Identity.Publisher == b.Identity.Publisher {
		switch {
		case a.Identity.Seq < b.Identity.Seq:
			return -1
		case a.Identity.Seq > b.Identity.Seq:
			return 1
		}
		return 0
	}
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(a.Identity.Publisher, b.Identity.Publisher)
}
