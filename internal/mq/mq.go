// Package mq fans benchmark payloads out through an external broker so that
// subscribers outside the WebSocket channel can decode them.
package mq

import (
	"context"
	"fmt"
	"strings"

	"github.com/payloadbench/apiserver/config"
)

// Attribute keys set on every broadcast.
const (
	AttrKind  = "kind"
	AttrEvent = "event"
	AttrItems = "items"
)

// Message is a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Returning an error asks the broker to
// redeliver when it supports that.
type Handler func(ctx context.Context, msg Message) error

// Backend is implemented by each broker client.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ binds a backend to the channel the server broadcasts on.
type MQ struct {
	backend Backend
	channel string
}

func New(backend Backend, channel string) *MQ {
	return &MQ{backend: backend, channel: channel}
}

// Open builds the backend named by cfg.Backend. It returns nil, nil when no
// broker is configured.
func Open(ctx context.Context, cfg config.MQConfig) (*MQ, error) {
	var (
		backend Backend
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "":
		return nil, nil
	case "pubsub":
		backend, err = NewPubSubClient(ctx, cfg.PubSub)
	case "rabbitmq":
		backend, err = NewRabbitMQClient(cfg.RabbitMQ)
	case "redis":
		backend, err = NewRedisClient(ctx, cfg.Redis)
	case "centrifugo":
		backend, err = NewCentrifugoClient(cfg.Centrifugo)
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Backend, err)
	}
	return New(backend, cfg.Channel), nil
}

// Channel returns the broadcast channel name.
func (m *MQ) Channel() string {
	return m.channel
}

// Publish sends data to the broadcast channel.
func (m *MQ) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	return m.backend.Publish(ctx, m.channel, data, attrs)
}

// Subscribe consumes the broadcast channel until ctx is done.
func (m *MQ) Subscribe(ctx context.Context, handler Handler) error {
	return m.backend.Subscribe(ctx, m.channel, handler)
}

func (m *MQ) Close() error {
	return m.backend.Close()
}
