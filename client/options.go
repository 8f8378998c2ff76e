package client

import (
	"log/slog"
	"time"

	"github.com/robertor4/transcribe-sub002/notify"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithReconnect enables automatic reconnection with the given parameters.
func WithReconnect(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.reconnect = true
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
		if baseDelay > 0 {
			c.baseDelay = baseDelay
		}
	}
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.events = make(chan *notify.Event, n)
		}
	}
}
