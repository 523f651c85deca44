package channel

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ErrDeliveryLost reports a send that was dropped because the client is gone
// or its outbound buffer is full. It is not a failure and is never retried.
var ErrDeliveryLost = errors.New("channel: delivery lost")

// Client is one connected peer.
type Client struct {
	id          string
	remoteAddr  string
	connectedAt time.Time

	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

// ID returns the server-assigned client id.
func (c *Client) ID() string {
	return c.id
}

// RemoteAddr returns the peer address seen at upgrade time.
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// Send queues env for delivery without blocking. It returns ErrDeliveryLost
// when the client has disconnected or cannot keep up.
func (c *Client) Send(env Envelope) error {
	frame, err := MarshalEnvelope(env)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrDeliveryLost
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrDeliveryLost
	default:
		return ErrDeliveryLost
	}
}

// Closed is closed once the client has disconnected.
func (c *Client) Closed() <-chan struct{} {
	return c.done
}

func (c *Client) close() bool {
	closed := false
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		closed = true
	})
	return closed
}
