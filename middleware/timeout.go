package middleware

import (
	"context"

	"github.com/robertor4/transcribe-sub002/job"
)

// Timeout applies the job's optional deadline. Jobs without a timeout run
// unbounded; the zombie sweep is the backstop for those.
func Timeout() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx, j)
		}
		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()
		return next(ctx, j)
	}
}
