package middleware

import (
	"context"

	"github.com/robertor4/transcribe-sub002/job"
)

// Handler processes one job.
type Handler func(ctx context.Context, j *job.Job) error

// Middleware wraps a Handler.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes middlewares around a terminal handler. The first
// middleware in the list is the outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		next := h
		h = func(ctx context.Context, j *job.Job) error {
			return mw(ctx, j, next)
		}
	}
	return h
}
