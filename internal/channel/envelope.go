package channel

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/payloadbench/apiserver/internal/codec"
)

// Event names exchanged over the channel.
const (
	EventHello            = "hello"
	EventRequestObject    = "request-object-mode"
	EventRequestTuple     = "request-tuple-mode"
	EventRequestBroadcast = "request-broadcast"
	EventResponseObject   = "response-object-mode"
	EventResponseTuple    = "response-tuple-mode"
)

// ResponseFor returns the response event answering a request event.
func ResponseFor(request string) (string, bool) {
	switch request {
	case EventRequestObject:
		return EventResponseObject, true
	case EventRequestTuple:
		return EventResponseTuple, true
	default:
		return "", false
	}
}

// KindControl tags envelopes whose payload is not a record collection
// (requests, hello).
const KindControl codec.Kind = "control"

// Envelope is a single channel message. Kind tells the receiver how to read
// Payload; receivers never infer it from the payload shape.
type Envelope struct {
	Event   string     `msgpack:"event"`
	Kind    codec.Kind `msgpack:"kind"`
	Payload []byte     `msgpack:"payload"`
}

// Request builds a payload-less request envelope.
func Request(event string) Envelope {
	return Envelope{Event: event, Kind: KindControl}
}

// MarshalEnvelope encodes env as one WebSocket binary frame.
func MarshalEnvelope(env Envelope) ([]byte, error) {
	if env.Event == "" {
		return nil, fmt.Errorf("channel: envelope without event")
	}
	return msgpack.Marshal(&env)
}

// UnmarshalEnvelope decodes one WebSocket binary frame.
func UnmarshalEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(frame, &env); err != nil {
		return Envelope{}, &codec.DecodeError{Reason: "malformed envelope", Err: err}
	}
	if env.Event == "" {
		return Envelope{}, &codec.DecodeError{Reason: "envelope without event"}
	}
	return env, nil
}

// Hello is the payload of the hello event, encoded as JSON.
type Hello struct {
	ClientID    string   `json:"client_id"`
	Events      []string `json:"events"`
	DatasetSize int      `json:"dataset_size,omitempty"`
}
