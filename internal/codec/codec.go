// Package codec converts record collections to and from their wire forms.
//
// Object mode sends records as JSON with named fields. Tuple mode projects
// every record onto a fixed positional layout (see Tuple) and serializes the
// result as MessagePack, which drops the repeated field names.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/payloadbench/apiserver/types"
)

// Kind identifies the payload encoding carried by a response.
type Kind string

const (
	KindObject Kind = "object"
	KindTuple  Kind = "tuple"
)

// Valid reports whether k names a payload encoding.
func (k Kind) Valid() bool {
	return k == KindObject || k == KindTuple
}

// Codec encodes and decodes a record collection.
type Codec interface {
	Encode(records []types.Record) ([]byte, error)
	Decode(data []byte) ([]types.Record, error)
	Kind() Kind
}

// ObjectCodec uses encoding/json with named fields.
type ObjectCodec struct{}

func (ObjectCodec) Encode(records []types.Record) ([]byte, error) {
	b, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("codec: encode objects: %w", err)
	}
	return b, nil
}

func (ObjectCodec) Decode(data []byte) ([]types.Record, error) {
	var records []types.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &DecodeError{Reason: "malformed object payload", Err: err}
	}
	return records, nil
}

func (ObjectCodec) Kind() Kind {
	return KindObject
}

// TupleCodec projects records onto tuples and encodes them as MessagePack.
type TupleCodec struct{}

func (TupleCodec) Encode(records []types.Record) ([]byte, error) {
	return EncodeCollection(ToTuples(records))
}

func (TupleCodec) Decode(data []byte) ([]types.Record, error) {
	items, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return FromTuples(items)
}

func (TupleCodec) Kind() Kind {
	return KindTuple
}

// ForKind returns the codec for k.
func ForKind(k Kind) (Codec, error) {
	switch k {
	case KindObject:
		return ObjectCodec{}, nil
	case KindTuple:
		return TupleCodec{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown kind %q", k)
	}
}
