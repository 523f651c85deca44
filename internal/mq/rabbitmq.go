package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/payloadbench/apiserver/config"
)

// RabbitMQClient broadcasts through a fanout exchange named after the
// channel. Every subscriber binds its own exclusive queue, so each one sees
// every message.
type RabbitMQClient struct {
	conn *amqp.Connection
	cfg  config.RabbitMQConfig

	mu       sync.Mutex
	pub      *amqp.Channel
	declared map[string]bool
}

func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &RabbitMQClient{
		conn:     conn,
		cfg:      cfg,
		pub:      pub,
		declared: make(map[string]bool),
	}, nil
}

func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.declared[channel] {
		if err := r.declareExchange(r.pub, channel); err != nil {
			return "", err
		}
		r.declared[channel] = true
	}

	headers := make(amqp.Table, len(attrs))
	for key, value := range attrs {
		headers[key] = value
	}
	msg := amqp.Publishing{
		ContentType: contentType(attrs),
		MessageId:   uuid.NewString(),
		Type:        attrs[AttrEvent],
		Timestamp:   time.Now(),
		Headers:     headers,
		Body:        data,
	}
	if err := r.pub.PublishWithContext(ctx, channel, "", false, false, msg); err != nil {
		return "", err
	}
	return msg.MessageId, nil
}

// Subscribe opens a dedicated AMQP channel for the consumer and closes it
// when ctx is done.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if r.cfg.PrefetchCount > 0 {
		if err := ch.Qos(r.cfg.PrefetchCount, 0, false); err != nil {
			return err
		}
	}
	if err := r.declareExchange(ch, channel); err != nil {
		return err
	}
	queue, err := ch.QueueDeclare("", r.cfg.QueueDurable, r.cfg.QueueAutoDelete, true, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(queue.Name, "", channel, false, nil); err != nil {
		return err
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue.Name, "", false, true, false, false, nil)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			attrs := headersToAttributes(d.Headers)
			if _, ok := attrs[AttrEvent]; !ok && d.Type != "" {
				if attrs == nil {
					attrs = make(map[string]string, 1)
				}
				attrs[AttrEvent] = d.Type
			}
			if err := handler(ctx, Message{ID: d.MessageId, Data: d.Body, Attributes: attrs}); err != nil {
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (r *RabbitMQClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.pub.Close()
	return r.conn.Close()
}

func (r *RabbitMQClient) declareExchange(ch *amqp.Channel, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("rabbitmq channel is required")
	}
	return ch.ExchangeDeclare(name, amqp.ExchangeFanout, r.cfg.QueueDurable, r.cfg.QueueAutoDelete, false, false, nil)
}

func contentType(attrs map[string]string) string {
	if attrs[AttrKind] == "object" {
		return "application/json"
	}
	return "application/msgpack"
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		switch v := value.(type) {
		case string:
			attrs[key] = v
		case []byte:
			attrs[key] = string(v)
		default:
			attrs[key] = fmt.Sprint(v)
		}
	}
	return attrs
}
