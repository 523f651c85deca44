// Package client connects to the transport channel, requests payloads and
// decodes them back into records.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/payloadbench/apiserver/internal/channel"
)

// ErrClosed is returned for requests on a closed connection.
var ErrClosed = errors.New("client: connection closed")

const writeWait = 10 * time.Second

// Client is one channel connection. Requests are matched to responses by
// event name only; concurrent requests for the same event are answered in
// arrival order.
type Client struct {
	conn  *websocket.Conn
	hello channel.Hello

	writeMu sync.Mutex

	mu      sync.Mutex
	waiters map[string][]chan channel.Envelope
	done    chan struct{}
	err     error
}

// Dial connects to url and waits for the server's hello.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	hello, err := readHello(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:    conn,
		hello:   hello,
		waiters: make(map[string][]chan channel.Envelope),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func readHello(conn *websocket.Conn) (channel.Hello, error) {
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return channel.Hello{}, fmt.Errorf("read hello: %w", err)
	}
	env, err := channel.UnmarshalEnvelope(frame)
	if err != nil {
		return channel.Hello{}, err
	}
	if env.Event != channel.EventHello {
		return channel.Hello{}, fmt.Errorf("expected hello, got %q", env.Event)
	}
	var hello channel.Hello
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		return channel.Hello{}, fmt.Errorf("decode hello: %w", err)
	}
	return hello, nil
}

// Hello returns the greeting received on connect.
func (c *Client) Hello() channel.Hello {
	return c.hello
}

// Supports reports whether the server advertised a handler for event.
func (c *Client) Supports(event string) bool {
	for _, e := range c.hello.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Request sends a request event and decodes the matching response. The
// server does not report failures, so ctx must carry a deadline for
// requests that may go unanswered.
func (c *Client) Request(ctx context.Context, event string) (Result, error) {
	response, ok := channel.ResponseFor(event)
	if !ok {
		return Result{}, fmt.Errorf("no response event for %q", event)
	}

	wait := make(chan channel.Envelope, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return Result{}, err
	}
	c.waiters[response] = append(c.waiters[response], wait)
	c.mu.Unlock()

	start := time.Now()
	if err := c.Send(event); err != nil {
		c.forget(response, wait)
		return Result{}, err
	}

	select {
	case env := <-wait:
		elapsed := time.Since(start)
		res, err := Decode(env.Kind, env.Payload)
		if err != nil {
			return Result{}, err
		}
		res.Elapsed = elapsed
		return res, nil
	case <-c.done:
		return Result{}, c.closeErr()
	case <-ctx.Done():
		c.forget(response, wait)
		return Result{}, ctx.Err()
	}
}

// Send writes a payload-less request without waiting for any response.
func (c *Client) Send(event string) error {
	frame, err := channel.MarshalEnvelope(channel.Request(event))
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Close sends a close frame and tears down the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.err = ErrClosed
			c.mu.Unlock()
			return
		}
		env, err := channel.UnmarshalEnvelope(frame)
		if err != nil {
			continue
		}

		c.mu.Lock()
		queue := c.waiters[env.Event]
		var wait chan channel.Envelope
		if len(queue) > 0 {
			wait = queue[0]
			c.waiters[env.Event] = queue[1:]
		}
		c.mu.Unlock()
		if wait != nil {
			wait <- env
		}
	}
}

func (c *Client) forget(event string, wait chan channel.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.waiters[event]
	for i, w := range queue {
		if w == wait {
			c.waiters[event] = append(queue[:i:i], queue[i+1:]...)
			return
		}
	}
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClosed
}
