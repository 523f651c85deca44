package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/payloadbench/apiserver/internal/channel"
	"github.com/payloadbench/apiserver/internal/codec"
	"github.com/payloadbench/apiserver/internal/dataset"
	"github.com/payloadbench/apiserver/internal/metrics"
	"github.com/payloadbench/apiserver/internal/mq"
	"github.com/payloadbench/apiserver/types"
)

// RunRecorder persists served responses.
type RunRecorder interface {
	Create(ctx context.Context, run types.Run) (types.Run, error)
}

// Publisher fans a payload out to broker subscribers.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// PayloadOptions wires the optional collaborators of a PayloadService.
type PayloadOptions struct {
	TupleModeEnabled bool
	Runs             RunRecorder
	Broker           Publisher
}

// PayloadService answers channel requests by encoding the dataset.
type PayloadService struct {
	dataset *dataset.Dataset
	opts    PayloadOptions
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewPayloadService(ds *dataset.Dataset, opts PayloadOptions, logger *slog.Logger, m *metrics.Metrics) *PayloadService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PayloadService{dataset: ds, opts: opts, logger: logger, metrics: m}
}

// Register installs the request handlers and the hello hook on hub. Tuple
// mode and broadcast are only registered when enabled, so clients learn the
// available events from hello.
func (s *PayloadService) Register(hub *channel.Hub) {
	hub.Handle(channel.EventRequestObject, s.respond(codec.ObjectCodec{}, channel.EventResponseObject))
	if s.opts.TupleModeEnabled {
		hub.Handle(channel.EventRequestTuple, s.respond(codec.TupleCodec{}, channel.EventResponseTuple))
	}
	if s.opts.TupleModeEnabled && s.opts.Broker != nil {
		hub.Handle(channel.EventRequestBroadcast, s.broadcast)
	}
	hub.OnConnect(func(c *channel.Client) {
		s.greet(hub, c)
	})
}

// Encode serializes the whole dataset with c.
func (s *PayloadService) Encode(c codec.Codec) ([]byte, time.Duration, error) {
	kind := string(c.Kind())
	op := s.metrics.EncodeOps.Start(kind)
	defer op.End()

	start := time.Now()
	payload, err := c.Encode(s.dataset.View())
	elapsed := time.Since(start)
	if err != nil {
		op.Failed()
		return nil, elapsed, err
	}
	s.metrics.PayloadBytes.WithLabelValues(kind).Observe(float64(len(payload)))
	return payload, elapsed, nil
}

func (s *PayloadService) respond(c codec.Codec, event string) channel.Handler {
	return func(ctx context.Context, client *channel.Client, _ channel.Envelope) (*channel.Envelope, error) {
		payload, elapsed, err := s.Encode(c)
		if err != nil {
			return nil, err
		}
		s.logger.Info("payload encoded",
			"client", client.ID(),
			"event", event,
			"bytes", len(payload),
			"encode_ms", float64(elapsed.Microseconds())/1000,
		)
		s.record(ctx, types.Run{
			ClientID:       client.ID(),
			Event:          event,
			Kind:           string(c.Kind()),
			PayloadBytes:   len(payload),
			ItemCount:      s.dataset.Len(),
			EncodeDuration: elapsed.Microseconds(),
		})
		return &channel.Envelope{Event: event, Kind: c.Kind(), Payload: payload}, nil
	}
}

func (s *PayloadService) broadcast(ctx context.Context, client *channel.Client, _ channel.Envelope) (*channel.Envelope, error) {
	payload, _, err := s.Encode(codec.TupleCodec{})
	if err != nil {
		return nil, err
	}
	id, err := s.opts.Broker.Publish(ctx, payload, map[string]string{
		mq.AttrKind:  string(codec.KindTuple),
		mq.AttrEvent: channel.EventResponseTuple,
		mq.AttrItems: strconv.Itoa(s.dataset.Len()),
	})
	if err != nil {
		s.metrics.BrokerPublishes.WithLabelValues("failed").Inc()
		return nil, err
	}
	s.metrics.BrokerPublishes.WithLabelValues("ok").Inc()
	s.logger.Info("payload broadcast", "client", client.ID(), "message", id, "bytes", len(payload))
	return nil, nil
}

func (s *PayloadService) greet(hub *channel.Hub, c *channel.Client) {
	payload, err := json.Marshal(channel.Hello{
		ClientID:    c.ID(),
		Events:      hub.Events(),
		DatasetSize: s.dataset.Len(),
	})
	if err != nil {
		s.logger.Error("hello not encoded", "client", c.ID(), "err", err)
		return
	}
	err = c.Send(channel.Envelope{Event: channel.EventHello, Kind: channel.KindControl, Payload: payload})
	if err != nil && !errors.Is(err, channel.ErrDeliveryLost) {
		s.logger.Error("hello not sent", "client", c.ID(), "err", err)
	}
}

func (s *PayloadService) record(ctx context.Context, run types.Run) {
	if s.opts.Runs == nil {
		return
	}
	if _, err := s.opts.Runs.Create(ctx, run); err != nil {
		s.logger.Warn("run not recorded", "client", run.ClientID, "event", run.Event, "err", err)
	}
}
