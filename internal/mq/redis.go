package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/payloadbench/apiserver/config"
)

// redisFrame carries the attributes alongside the payload, since Redis
// pub/sub messages are a single opaque string.
type redisFrame struct {
	ID         string            `msgpack:"id"`
	Attributes map[string]string `msgpack:"attrs,omitempty"`
	Data       []byte            `msgpack:"data"`
}

// RedisClient broadcasts over Redis pub/sub. Delivery is fire-and-forget:
// subscribers that are not connected miss the message.
type RedisClient struct {
	client *redis.Client
}

func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*RedisClient, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisClient{client: client}, nil
}

func (r *RedisClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("redis channel is required")
	}
	id := uuid.NewString()
	frame, err := encodeRedisFrame(redisFrame{ID: id, Attributes: attrs, Data: data})
	if err != nil {
		return "", err
	}
	if err := r.client.Publish(ctx, channel, frame).Err(); err != nil {
		return "", err
	}
	return id, nil
}

// Subscribe blocks until ctx is done. Handler errors are ignored because
// Redis pub/sub cannot redeliver.
func (r *RedisClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("redis channel is required")
	}
	sub := r.client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-messages:
			if !ok {
				return errors.New("redis subscription closed")
			}
			frame, err := decodeRedisFrame([]byte(m.Payload))
			if err != nil {
				continue
			}
			_ = handler(ctx, Message{ID: frame.ID, Data: frame.Data, Attributes: frame.Attributes})
		}
	}
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

func encodeRedisFrame(f redisFrame) ([]byte, error) {
	return msgpack.Marshal(&f)
}

func decodeRedisFrame(buf []byte) (redisFrame, error) {
	var f redisFrame
	if err := msgpack.Unmarshal(buf, &f); err != nil {
		return redisFrame{}, fmt.Errorf("decode redis frame: %w", err)
	}
	return f, nil
}
