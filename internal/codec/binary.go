package codec

import (
	"bytes"
	"fmt"
	"math"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeCollection serializes v as MessagePack. v is usually a []Tuple or a
// []types.Record, but any value built from booleans, numbers, strings, byte
// slices, sequences, string-keyed maps and structs of those is accepted.
// Anything else fails with *UnsupportedTypeError before a byte is written.
func EncodeCollection(v any) ([]byte, error) {
	if err := checkEncodable(reflect.ValueOf(v), "$", 0); err != nil {
		return nil, err
	}
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return b, nil
}

// Decode is the inverse of EncodeCollection for a top-level sequence.
// Integers decode as int64 (uint64 only above math.MaxInt64), floats as
// float64, binary values as []byte, sequences as []any and maps as
// map[string]any.
func Decode(buf []byte) ([]any, error) {
	if len(buf) == 0 {
		return nil, &DecodeError{Reason: "empty buffer"}
	}
	r := bytes.NewReader(buf)
	var out []any
	if err := msgpack.NewDecoder(r).Decode(&out); err != nil {
		return nil, &DecodeError{Reason: "malformed or truncated input", Err: err}
	}
	if r.Len() > 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("%d trailing bytes", r.Len())}
	}
	for i := range out {
		out[i] = normalize(out[i])
	}
	return out, nil
}

// normalize widens the compact number types msgpack picks per value.
func normalize(v any) any {
	switch x := v.(type) {
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return x
	case float32:
		return float64(x)
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	case map[string]any:
		for k, item := range x {
			x[k] = normalize(item)
		}
		return x
	default:
		return v
	}
}

// LooksLikeTuple reports whether the first decoded item is itself a sequence.
// It is only meant for raw buffers that arrive without a kind tag; a record
// collection is encoded as maps and never matches.
func LooksLikeTuple(items []any) bool {
	if len(items) == 0 {
		return false
	}
	_, ok := asSlice(items[0])
	return ok
}

// MaxNesting bounds how deep EncodeCollection walks a value. Tuples nest
// three levels; anything past the bound is treated as a cycle.
const MaxNesting = 64

func checkEncodable(v reflect.Value, path string, depth int) error {
	if v.IsValid() && depth > MaxNesting {
		return &UnsupportedTypeError{
			Type:   v.Type(),
			Path:   path,
			Reason: fmt.Sprintf("nested deeper than %d levels", MaxNesting),
		}
	}
	switch v.Kind() {
	case reflect.Invalid,
		reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return nil
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return checkEncodable(v.Elem(), path, depth+1)
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkEncodable(v.Index(i), fmt.Sprintf("%s[%d]", path, i), depth+1); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return &UnsupportedTypeError{Type: v.Type(), Path: path}
		}
		iter := v.MapRange()
		for iter.Next() {
			if err := checkEncodable(iter.Value(), path+"."+iter.Key().String(), depth+1); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			if err := checkEncodable(v.Field(i), path+"."+field.Name, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return &UnsupportedTypeError{Type: v.Type(), Path: path}
	}
}
