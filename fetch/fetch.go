// Package fetch defines the history fetch protocol and the sources a
// subscriber can pull historical samples from.
//
// The wire format is JSON and transport-agnostic: a request names a
// pattern and an optional bound, a response carries per-key replays.
// Several caches answering one request is expected operation, not an
// error; the merge engine deduplicates by sample identity.
package fetch

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/c360/catchup/errors"
	"github.com/c360/catchup/keys"
	"github.com/c360/catchup/sample"
)

// DefaultFetchSubject is the shared subject cache instances listen on
// for history requests.
const DefaultFetchSubject = "catchup.fetch"

// Bound limits how much history a fetch asks for. At most one of
// MaxSamples and SinceMS may be set; an unset bound means all retained
// history.
type Bound struct {
	// MaxSamples asks for at most this many most-recent samples per key.
	MaxSamples int `json:"max_samples,omitempty"`

	// SinceMS asks for samples with a wall timestamp at or after this
	// point, milliseconds since the Unix epoch.
	SinceMS int64 `json:"since,omitempty"`
}

// Validate rejects malformed bounds. Callers surface the error before
// any fetch is issued.
func (b *Bound) Validate() error {
	if b == nil {
		return nil
	}
	if b.MaxSamples < 0 {
		return errors.WrapInvalid(errors.ErrInvalidBound,
			"fetch", "Validate", fmt.Sprintf("negative max_samples %d", b.MaxSamples))
	}
	if b.SinceMS < 0 {
		return errors.WrapInvalid(errors.ErrInvalidBound,
			"fetch", "Validate", fmt.Sprintf("negative since %d", b.SinceMS))
	}
	if b.MaxSamples > 0 && b.SinceMS > 0 {
		return errors.WrapInvalid(errors.ErrInvalidBound,
			"fetch", "Validate", "max_samples and since are mutually exclusive")
	}
	if b.MaxSamples == 0 && b.SinceMS == 0 {
		// Unbounded requests use a nil Bound.
		return errors.WrapInvalid(errors.ErrInvalidBound,
			"fetch", "Validate", "empty bound")
	}
	return nil
}

// Request asks caches for the retained history of every key matching
// Pattern.
type Request struct {
	ID      string       `json:"id"`
	Pattern keys.Pattern `json:"pattern"`
	Bound   *Bound       `json:"bound,omitempty"`
}

// NewRequest builds a request with a fresh unique ID.
func NewRequest(pattern keys.Pattern, bound *Bound) (Request, error) {
	if err := pattern.Validate(); err != nil {
		return Request{}, err
	}
	if err := bound.Validate(); err != nil {
		return Request{}, err
	}
	return Request{
		ID:      uuid.NewString(),
		Pattern: pattern,
		Bound:   bound,
	}, nil
}

// Marshal encodes the request for the wire.
func (r Request) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.WrapInvalid(err, "fetch", "Marshal", "encode request")
	}
	return data, nil
}

// UnmarshalRequest decodes a wire request and validates it.
func UnmarshalRequest(data []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return Request{}, errors.WrapInvalid(errors.ErrInvalidData,
			"fetch", "UnmarshalRequest", fmt.Sprintf("decode request: %v", err))
	}
	if r.ID == "" {
		return Request{}, errors.WrapInvalid(errors.ErrInvalidData,
			"fetch", "UnmarshalRequest", "missing request id")
	}
	if err := r.Pattern.Validate(); err != nil {
		return Request{}, err
	}
	if err := r.Bound.Validate(); err != nil {
		return Request{}, err
	}
	return r, nil
}

// KeyReplay is the retained history of one key, ascending by identity.
// Truncated reports that eviction ate part of the requested range;
// it is a quality signal, not an error.
type KeyReplay struct {
	Key       keys.Key        `json:"key"`
	Samples   []sample.Sample `json:"samples"`
	Truncated bool            `json:"truncated,omitempty"`
}

// Response is one source's answer to a request. A request may receive
// any number of responses.
type Response struct {
	RequestID string      `json:"request_id"`
	Source    string      `json:"source"`
	Entries   []KeyReplay `json:"entries"`
}

// Marshal encodes the response for the wire.
func (r Response) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.WrapInvalid(err, "fetch", "Marshal", "encode response")
	}
	return data, nil
}

// UnmarshalResponse decodes a wire response.
func UnmarshalResponse(data []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return Response{}, errors.WrapInvalid(errors.ErrInvalidData,
			"fetch", "UnmarshalResponse", fmt.Sprintf("decode response: %v", err))
	}
	if r.RequestID == "" {
		return Response{}, errors.WrapInvalid(errors.ErrInvalidData,
			"fetch", "UnmarshalResponse", "missing request id")
	}
	return r, nil
}
