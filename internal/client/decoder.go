package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/payloadbench/apiserver/internal/codec"
	"github.com/payloadbench/apiserver/types"
)

// Metrics describes one received payload.
type Metrics struct {
	Kind      codec.Kind `json:"kind"`
	SizeBytes int        `json:"size_bytes"`
	ItemCount int        `json:"item_count"`

	// Elapsed is the time from sending the request to receiving the
	// response. Zero for payloads that were not requested.
	Elapsed time.Duration `json:"elapsed"`

	// DecodeDuration covers deserialization and tuple reconstruction.
	DecodeDuration time.Duration `json:"decode_duration"`
}

// Result is a decoded payload with its metrics.
type Result struct {
	Metrics
	Records []types.Record `json:"-"`
}

// Sample renders the first record as indented JSON, or "" when empty.
func (r Result) Sample() (string, error) {
	if len(r.Records) == 0 {
		return "", nil
	}
	b, err := json.MarshalIndent(r.Records[0], "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode reads payload according to kind. Tuple payloads are reconstructed
// into named-field records.
func Decode(kind codec.Kind, payload []byte) (Result, error) {
	c, err := codec.ForKind(kind)
	if err != nil {
		return Result{}, &codec.DecodeError{Reason: fmt.Sprintf("unknown payload kind %q", kind)}
	}

	start := time.Now()
	records, err := c.Decode(payload)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Metrics: Metrics{
			Kind:           kind,
			SizeBytes:      len(payload),
			ItemCount:      len(records),
			DecodeDuration: time.Since(start),
		},
		Records: records,
	}, nil
}

// DecodeRaw decodes a payload that arrived without an envelope, such as a
// broker message. A non-empty kind is trusted. Otherwise the shape is
// guessed: a MessagePack sequence whose first element is itself a sequence
// is read as tuples, anything else as JSON records. The guess misreads a
// MessagePack object-mode payload, which the server never produces.
func DecodeRaw(kind string, payload []byte) (Result, error) {
	if kind != "" {
		return Decode(codec.Kind(kind), payload)
	}
	if items, err := codec.Decode(payload); err == nil && codec.LooksLikeTuple(items) {
		return Decode(codec.KindTuple, payload)
	}
	return Decode(codec.KindObject, payload)
}
