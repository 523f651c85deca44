package types

import "time"

// Run represents one response served over the transport channel.
// It is the persisted history used to compare encodings over time.
type Run struct {
	// ID is the unique identifier of the run.
	ID int64 `json:"id" db:"id"`

	// ClientID identifies the channel client that received the response.
	ClientID string `json:"client_id" db:"client_id"`

	// Event is the name of the response event (e.g., "response-tuple-mode").
	Event string `json:"event" db:"event"`

	// Kind is the payload encoding of the response.
	Kind string `json:"kind" db:"kind"`

	// PayloadBytes is the size of the encoded payload in bytes.
	PayloadBytes int `json:"payload_bytes" db:"payload_bytes"`

	// ItemCount is the number of records carried by the payload.
	ItemCount int `json:"item_count" db:"item_count"`

	// EncodeDuration is the time spent encoding the payload,
	// expressed in microseconds.
	EncodeDuration int64 `json:"encode_duration_us" db:"encode_duration_us"`

	// CreatedAt is the timestamp when the response was produced.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RunSummary aggregates runs of one payload kind.
type RunSummary struct {
	Kind              string  `json:"kind" db:"kind"`
	Runs              int     `json:"runs" db:"runs"`
	AvgPayloadBytes   float64 `json:"avg_payload_bytes" db:"avg_payload_bytes"`
	AvgEncodeDuration float64 `json:"avg_encode_duration_us" db:"avg_encode_duration_us"`
}
