package mq

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/centrifugal/gocent/v3"

	"github.com/payloadbench/apiserver/config"
)

// ErrSubscribeUnsupported is returned by publish-only backends.
var ErrSubscribeUnsupported = errors.New("backend does not support subscribe")

const centrifugoTimeout = 5 * time.Second

// centrifugoPublication is the JSON document published to Centrifugo.
// Centrifugo data must be JSON, so the raw payload travels base64 encoded.
type centrifugoPublication struct {
	Attributes map[string]string `json:"attrs,omitempty"`
	Data       []byte            `json:"data"`
}

// CentrifugoClient publishes broadcasts through the Centrifugo server API.
// Browsers subscribe to Centrifugo directly, so Subscribe is not offered.
type CentrifugoClient struct {
	client *gocent.Client
}

func NewCentrifugoClient(cfg config.CentrifugoConfig) (*CentrifugoClient, error) {
	if strings.TrimSpace(cfg.APIAddr) == "" {
		return nil, errors.New("centrifugo api addr is required")
	}
	return &CentrifugoClient{
		client: gocent.New(gocent.Config{
			Addr: cfg.APIAddr,
			Key:  cfg.APIKey,
			HTTPClient: &http.Client{
				Timeout: centrifugoTimeout,
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 100,
				},
			},
		}),
	}, nil
}

func (c *CentrifugoClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("centrifugo channel is required")
	}
	body, err := json.Marshal(centrifugoPublication{Attributes: attrs, Data: data})
	if err != nil {
		return "", err
	}
	res, err := c.client.Publish(ctx, channel, body)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(res.Offset, 10), nil
}

func (c *CentrifugoClient) Subscribe(context.Context, string, Handler) error {
	return ErrSubscribeUnsupported
}

func (c *CentrifugoClient) Close() error {
	return nil
}
