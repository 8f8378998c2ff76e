package middleware

import (
	"context"

	"github.com/robertor4/transcribe-sub002/job"
	"github.com/robertor4/transcribe-sub002/scope"
)

// Scope injects the job owner's identity into the context so downstream
// code and hooks can attribute work.
func Scope() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx = scope.WithUser(ctx, scope.User{ID: j.UserID})
		return next(ctx, j)
	}
}
