package webhook

import (
	"log/slog"
	"net/http"

	"github.com/robertor4/transcribe-sub002/backoff"
)

// Option configures an Extension.
type Option func(*Extension)

// WithSecret enables request signing with the given secret.
func WithSecret(secret []byte) Option {
	return func(e *Extension) { e.secret = secret }
}

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option {
	return func(e *Extension) { e.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

// WithEvents restricts delivery to the given events. The default delivers
// everything.
func WithEvents(events ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(events))
		for _, evt := range events {
			e.enabled[evt] = true
		}
	}
}

// WithRetryPolicy sets the delivery retry policy.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(e *Extension) { e.retry = p }
}
