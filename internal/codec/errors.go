package codec

import (
	"fmt"
	"reflect"
)

// UnsupportedTypeError is returned by EncodeCollection when the value holds a
// type outside the encodable set (scalars, strings, sequences, string-keyed
// maps and structs of those).
// Reason is set when the type itself is encodable but the value is not, for
// example a cyclic value nested deeper than MaxNesting.
type UnsupportedTypeError struct {
	Type   reflect.Type
	Path   string
	Reason string
}

func (e *UnsupportedTypeError) Error() string {
	msg := fmt.Sprintf("codec: unsupported type %s", e.Type)
	if e.Path != "" {
		msg += " at " + e.Path
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// DecodeError is returned for truncated or malformed input.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "codec: decode: " + e.Reason
	}
	return fmt.Sprintf("codec: decode: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// SchemaMismatchError is returned when a tuple, or one of its nested tuples,
// does not have the expected number of slots.
type SchemaMismatchError struct {
	Path string
	Want int
	Got  int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("codec: %s has %d slots, want %d", e.Path, e.Got, e.Want)
}
