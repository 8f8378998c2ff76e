// Package backoff provides retry delay strategies and immutable retry
// policies.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt. Attempts are
// 1-indexed; attempt 1 is the first retry.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant returns the same delay for every attempt.
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(int) time.Duration { return c.Interval }

// Linear grows the delay by Step per attempt, up to Max.
type Linear struct {
	Step time.Duration
	Max  time.Duration
}

func (l Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * l.Step
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// Exponential doubles the delay each attempt, starting at Base, capped at
// Max.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Base) * math.Pow(2, float64(attempt-1)))
	if d <= 0 || (e.Max > 0 && d > e.Max) {
		return e.Max
	}
	return d
}

// ExponentialWithJitter is Exponential with up to Jitter fraction of random
// spread, avoiding thundering herds on mass retry.
type ExponentialWithJitter struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func (e ExponentialWithJitter) Delay(attempt int) time.Duration {
	d := Exponential{Base: e.Base, Max: e.Max}.Delay(attempt)
	if e.Jitter <= 0 {
		return d
	}
	spread := float64(d) * e.Jitter
	return time.Duration(float64(d) - spread/2 + rand.Float64()*spread)
}

// DefaultStrategy is the queue retry default: 1s base doubling to a 1m cap.
func DefaultStrategy() Strategy {
	return Exponential{Base: 1 * time.Second, Max: 1 * time.Minute}
}
