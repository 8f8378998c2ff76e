// Package client provides a Go client for the transcription notification
// hub over WebSocket.
//
// Usage:
//
//	c, err := client.Dial("ws://api.example.com/ws?user=user-1")
//	defer c.Close()
//
//	if err := c.Subscribe(ctx, "transcription:tr_..."); err != nil {
//	    return err
//	}
//	for evt := range c.Events() {
//	    fmt.Printf("%s: %s\n", evt.Type, evt.Data)
//	}
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/robertor4/transcribe-sub002/notify"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("client: closed")

// clientMessage mirrors the hub's inbound message shape.
type clientMessage struct {
	Action  string `json:"action"`
	Topic   string `json:"topic,omitempty"`
	Credits int64  `json:"credits,omitempty"`
}

// controlMessage mirrors the hub's non-event replies.
type controlMessage struct {
	Type    string `json:"type"`
	Action  string `json:"action,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Message string `json:"message,omitempty"`
}

// Client is a connection to the notification hub.
type Client struct {
	url    string
	logger *slog.Logger

	// Reconnection.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration

	conn    net.Conn
	writeMu sync.Mutex
	closed  atomic.Bool

	events chan *notify.Event
	ctrl   chan controlMessage

	// requestMu serializes request/reply exchanges; the hub answers
	// control messages in order.
	requestMu sync.Mutex

	// topics tracks subscriptions for replay after a reconnect.
	topicsMu sync.Mutex
	topics   map[string]struct{}
}

// Dial connects to a hub.
func Dial(url string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), url, opts...)
}

// DialContext connects to a hub with a context.
func DialContext(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:        url,
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
		events:     make(chan *notify.Event, 64),
		ctrl:       make(chan controlMessage, 8),
		topics:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, _, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}
	c.conn = conn

	go c.readLoop()
	return c, nil
}

// Events returns the event stream. The channel closes when the client
// closes or the connection is lost without reconnection.
func (c *Client) Events() <-chan *notify.Event { return c.events }

// Subscribe adds a topic subscription and waits for the hub's ack.
func (c *Client) Subscribe(ctx context.Context, topic string) error {
	if err := c.request(ctx, clientMessage{Action: "subscribe", Topic: topic}); err != nil {
		return err
	}
	c.topicsMu.Lock()
	c.topics[topic] = struct{}{}
	c.topicsMu.Unlock()
	return nil
}

// Unsubscribe removes a topic subscription.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	c.topicsMu.Lock()
	delete(c.topics, topic)
	c.topicsMu.Unlock()
	return c.request(ctx, clientMessage{Action: "unsubscribe", Topic: topic})
}

// AddCredits grants the hub more delivery credits for this connection.
func (c *Client) AddCredits(n int64) error {
	return c.write(clientMessage{Action: "credits", Credits: n})
}

// Ping round-trips a ping through the hub.
func (c *Client) Ping(ctx context.Context) error {
	return c.request(ctx, clientMessage{Action: "ping"})
}

// Close shuts the connection down.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// request sends a message and waits for one control reply.
func (c *Client) request(ctx context.Context, msg clientMessage) error {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	// Drop stale replies, e.g. acks from reconnect resubscribes.
	for {
		select {
		case <-c.ctrl:
			continue
		default:
		}
		break
	}

	if err := c.write(msg); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case reply, ok := <-c.ctrl:
		if !ok {
			return ErrClosed
		}
		if reply.Type == "error" {
			return fmt.Errorf("client: %s: %s", msg.Action, reply.Message)
		}
		return nil
	}
}

func (c *Client) write(msg clientMessage) error {
	if c.closed.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("client: marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientText(c.conn, data)
}

func (c *Client) readLoop() {
	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			if c.closed.Load() {
				c.teardown()
				return
			}
			if c.reconnect && c.redial() {
				continue
			}
			c.teardown()
			return
		}
		c.route(data)
	}
}

// route distinguishes control replies from events: control types are bare
// words, event types are dotted names.
func (c *Client) route(data []byte) {
	var ctrl controlMessage
	if err := json.Unmarshal(data, &ctrl); err != nil {
		c.logger.Debug("unparseable hub message", slog.Any("error", err))
		return
	}
	switch ctrl.Type {
	case "ack", "error", "pong":
		select {
		case c.ctrl <- ctrl:
		default:
			c.logger.Debug("dropping unawaited control message", slog.String("type", ctrl.Type))
		}
		return
	}

	var evt notify.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		c.logger.Debug("unparseable event", slog.Any("error", err))
		return
	}
	select {
	case c.events <- &evt:
	default:
		c.logger.Warn("event buffer full, dropping", slog.String("type", string(evt.Type)))
	}
}

// redial reconnects with exponential delay and replays subscriptions.
func (c *Client) redial() bool {
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if c.closed.Load() {
			return false
		}
		delay := c.baseDelay * time.Duration(1<<(attempt-1))
		c.logger.Info("reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay))
		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, _, _, err := ws.Dial(ctx, c.url)
		cancel()
		if err != nil {
			c.logger.Warn("reconnect failed", slog.Any("error", err))
			continue
		}

		c.writeMu.Lock()
		c.conn = conn
		c.writeMu.Unlock()

		c.topicsMu.Lock()
		topics := make([]string, 0, len(c.topics))
		for topic := range c.topics {
			topics = append(topics, topic)
		}
		c.topicsMu.Unlock()
		for _, topic := range topics {
			// Fire-and-forget; the ack drains through the control channel.
			if err := c.write(clientMessage{Action: "subscribe", Topic: topic}); err != nil {
				c.logger.Warn("resubscribe failed", slog.String("topic", topic), slog.Any("error", err))
			}
		}
		return true
	}
	return false
}

func (c *Client) teardown() {
	c.closed.Store(true)
	close(c.events)
	close(c.ctrl)
	c.conn.Close() //nolint:errcheck // teardown
}
