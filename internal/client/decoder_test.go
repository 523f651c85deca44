package client

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payloadbench/apiserver/internal/codec"
	"github.com/payloadbench/apiserver/internal/dataset"
)

func TestDecodeDispatchesOnKind(t *testing.T) {
	records := dataset.Generate(10, fixedClock)

	tuples, err := codec.TupleCodec{}.Encode(records)
	require.NoError(t, err)
	objects, err := codec.ObjectCodec{}.Encode(records)
	require.NoError(t, err)

	res, err := Decode(codec.KindTuple, tuples)
	require.NoError(t, err)
	assert.Equal(t, codec.KindTuple, res.Kind)
	assert.Equal(t, len(tuples), res.SizeBytes)
	assert.Equal(t, 10, res.ItemCount)
	assert.True(t, records[9].Equal(res.Records[9]))

	res, err = Decode(codec.KindObject, objects)
	require.NoError(t, err)
	assert.Equal(t, 10, res.ItemCount)

	// An object payload read as tuples is rejected rather than misread.
	_, err = Decode(codec.KindTuple, objects)
	var decodeErr *codec.DecodeError
	assert.True(t, errors.As(err, &decodeErr))

	_, err = Decode("xml", objects)
	assert.True(t, errors.As(err, &decodeErr))
}

func TestDecodeRawWithoutKind(t *testing.T) {
	records := dataset.Generate(3, fixedClock)
	tuples, err := codec.TupleCodec{}.Encode(records)
	require.NoError(t, err)
	objects, err := codec.ObjectCodec{}.Encode(records)
	require.NoError(t, err)

	res, err := DecodeRaw("", tuples)
	require.NoError(t, err)
	assert.Equal(t, codec.KindTuple, res.Kind)

	res, err = DecodeRaw("", objects)
	require.NoError(t, err)
	assert.Equal(t, codec.KindObject, res.Kind)

	res, err = DecodeRaw("tuple", tuples)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ItemCount)

	_, err = DecodeRaw("", []byte{0x93, 0x01})
	assert.Error(t, err)
}

func TestResultSample(t *testing.T) {
	empty, err := Result{}.Sample()
	require.NoError(t, err)
	assert.Empty(t, empty)

	res := Result{Records: dataset.Generate(2, fixedClock)}
	sample, err := res.Sample()
	require.NoError(t, err)
	assert.Contains(t, sample, `"email": "user0@example.com"`)
	assert.Contains(t, sample, `"lastLogin": "2026-01-02T03:04:05Z"`)
}
