package job

import "time"

// Options carries per-job settings resolved at submit time.
type Options struct {
	// MaxAttempts bounds queue-level retries of the job.
	MaxAttempts int

	// Priority orders dequeue; higher runs first.
	Priority int

	// Concurrency bounds the analysis fan-out. Zero means the engine
	// default.
	Concurrency int

	// Timeout is an optional per-job deadline. Zero disables it; the
	// zombie sweep remains the backstop.
	Timeout time.Duration

	// Language is an optional hint forwarded to providers.
	Language string
}

// DefaultOptions returns the defaults applied at submit time.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Priority:    0,
		Concurrency: 0,
		Timeout:     0,
	}
}

// Option mutates per-job options.
type Option func(*Options)

// WithMaxAttempts sets the retry bound.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithPriority sets the dequeue priority.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithConcurrency sets the analysis fan-out bound.
func WithConcurrency(n int) Option {
	return func(o *Options) { o.Concurrency = n }
}

// WithTimeout sets an optional per-job deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithLanguage sets a language hint for providers.
func WithLanguage(lang string) Option {
	return func(o *Options) { o.Language = lang }
}
