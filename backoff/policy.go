package backoff

import "time"

// Policy couples an attempt bound with a delay strategy. It is an immutable
// value: construct it once, share it freely. Callers get delays out of it
// but can never mutate it mid-flight.
type Policy struct {
	maxAttempts int
	strategy    Strategy
}

// NewPolicy builds a policy. maxAttempts < 1 is normalized to 1.
func NewPolicy(maxAttempts int, s Strategy) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if s == nil {
		s = DefaultStrategy()
	}
	return Policy{maxAttempts: maxAttempts, strategy: s}
}

// MaxAttempts returns the attempt bound.
func (p Policy) MaxAttempts() int { return p.maxAttempts }

// Delay returns the delay before the given 1-indexed retry attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return p.strategy.Delay(attempt)
}

// DefaultUploadPolicy is the upload retry default: 5 attempts, 500ms base
// doubling to a 10s cap.
func DefaultUploadPolicy() Policy {
	return NewPolicy(5, Exponential{Base: 500 * time.Millisecond, Max: 10 * time.Second})
}
