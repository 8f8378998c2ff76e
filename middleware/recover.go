package middleware

import (
	"context"
	"fmt"

	"github.com/robertor4/transcribe-sub002/job"
)

// Recover converts a panic in job processing into an error so one bad job
// cannot take the worker down.
func Recover() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in job %s: %v", j.TranscriptionID, r)
			}
		}()
		return next(ctx, j)
	}
}
