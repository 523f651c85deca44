package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payloadbench/apiserver/internal/channel"
	"github.com/payloadbench/apiserver/internal/codec"
	"github.com/payloadbench/apiserver/internal/dataset"
	"github.com/payloadbench/apiserver/internal/metrics"
)

func fixedClock() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func codecHandler(ds *dataset.Dataset, c codec.Codec, event string) channel.Handler {
	return func(ctx context.Context, _ *channel.Client, _ channel.Envelope) (*channel.Envelope, error) {
		payload, err := c.Encode(ds.View())
		if err != nil {
			return nil, err
		}
		return &channel.Envelope{Event: event, Kind: c.Kind(), Payload: payload}, nil
	}
}

func startServer(t *testing.T, ds *dataset.Dataset, withTuple bool) string {
	t.Helper()
	hub := channel.NewHub(channel.Options{Workers: 4}, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.New())
	hub.Handle(channel.EventRequestObject, codecHandler(ds, codec.ObjectCodec{}, channel.EventResponseObject))
	if withTuple {
		hub.Handle(channel.EventRequestTuple, codecHandler(ds, codec.TupleCodec{}, channel.EventResponseTuple))
	}
	hub.OnConnect(func(c *channel.Client) {
		payload, _ := json.Marshal(channel.Hello{ClientID: c.ID(), Events: hub.Events(), DatasetSize: ds.Len()})
		_ = c.Send(channel.Envelope{Event: channel.EventHello, Kind: channel.KindControl, Payload: payload})
	})

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDialReadsHello(t *testing.T) {
	ds := dataset.New(50, fixedClock)
	c := dial(t, startServer(t, ds, true))

	hello := c.Hello()
	assert.NotEmpty(t, hello.ClientID)
	assert.Equal(t, 50, hello.DatasetSize)
	assert.True(t, c.Supports(channel.EventRequestTuple))
	assert.False(t, c.Supports(channel.EventRequestBroadcast))
}

func TestRequestBothModesDecodeToDataset(t *testing.T) {
	ds := dataset.New(dataset.DefaultSize, fixedClock)
	c := dial(t, startServer(t, ds, true))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		wg             sync.WaitGroup
		objRes, tupRes Result
		objErr, tupErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		objRes, objErr = c.Request(ctx, channel.EventRequestObject)
	}()
	go func() {
		defer wg.Done()
		tupRes, tupErr = c.Request(ctx, channel.EventRequestTuple)
	}()
	wg.Wait()

	require.NoError(t, objErr)
	require.NoError(t, tupErr)
	assert.Equal(t, codec.KindObject, objRes.Kind)
	assert.Equal(t, codec.KindTuple, tupRes.Kind)
	assert.Equal(t, dataset.DefaultSize, objRes.ItemCount)
	assert.Equal(t, dataset.DefaultSize, tupRes.ItemCount)
	assert.Less(t, tupRes.SizeBytes, objRes.SizeBytes)
	assert.Greater(t, int64(tupRes.Elapsed), int64(0))

	want := ds.View()
	for i := range want {
		if !want[i].Equal(tupRes.Records[i]) || !want[i].Equal(objRes.Records[i]) {
			t.Fatalf("record %d does not match the dataset", i)
		}
	}
}

func TestRequestWithoutHandlerTimesOut(t *testing.T) {
	c := dial(t, startServer(t, dataset.New(5, fixedClock), false))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := c.Request(ctx, channel.EventRequestTuple)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The connection stays usable.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	res, err := c.Request(ctx2, channel.EventRequestObject)
	require.NoError(t, err)
	assert.Equal(t, 5, res.ItemCount)
}

func TestRequestUnknownEvent(t *testing.T) {
	c := dial(t, startServer(t, dataset.New(1, fixedClock), true))
	_, err := c.Request(context.Background(), channel.EventRequestBroadcast)
	assert.Error(t, err)
}

func TestRequestAfterClose(t *testing.T) {
	c := dial(t, startServer(t, dataset.New(1, fixedClock), true))
	require.NoError(t, c.Close())

	_, err := c.Request(context.Background(), channel.EventRequestObject)
	assert.True(t, errors.Is(err, ErrClosed))
}
