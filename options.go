package transcribe

import (
	"context"
	"fmt"
	"log/slog"
)

// Storer is the minimal lifecycle contract a storage backend must satisfy.
// Subsystem-specific store interfaces (job.Store, cron.Store, cluster.Store)
// are asserted against the same backend at engine build time.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Transcriber holds the shared configuration the engine is built from.
type Transcriber struct {
	Config Config
	Logger *slog.Logger
	Store  Storer
}

// Option configures a Transcriber.
type Option func(*Transcriber) error

// New creates a Transcriber with defaults applied, then the given options.
func New(opts ...Option) (*Transcriber, error) {
	t := &Transcriber{
		Config: DefaultConfig(),
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// WithStore sets the storage backend.
func WithStore(s Storer) Option {
	return func(t *Transcriber) error {
		if s == nil {
			return ErrNoStore
		}
		t.Store = s
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transcriber) error {
		if l == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidConfig)
		}
		t.Logger = l
		return nil
	}
}

// WithConcurrency sets how many tasks a worker processes in parallel.
func WithConcurrency(n int) Option {
	return func(t *Transcriber) error {
		if n < 1 {
			return fmt.Errorf("%w: concurrency must be >= 1, got %d", ErrInvalidConfig, n)
		}
		t.Config.Concurrency = n
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(t *Transcriber) error {
		t.Config = cfg
		return nil
	}
}
