package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robertor4/transcribe-sub002/job"
)

// Chain tries providers in order, failing over to the next when one
// errors. The first success wins; if all fail the last error is returned.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain builds a failover chain. At least one provider is required.
// Failovers are logged through the default logger.
func NewChain(providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("provider: chain requires at least one provider")
	}
	for _, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("provider: chain got a nil provider")
		}
	}
	return &Chain{
		providers: providers,
		logger:    slog.Default(),
	}, nil
}

var _ Provider = (*Chain)(nil)

func (c *Chain) Name() string { return "chain" }

// Transcribe runs providers in order until one succeeds. A canceled
// context stops the chain immediately; fallbacks only cover provider
// failures, not caller cancellation.
func (c *Chain) Transcribe(ctx context.Context, src Source, report ProgressFunc) (*job.Result, error) {
	var lastErr error
	for i, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := p.Transcribe(ctx, src, report)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i < len(c.providers)-1 {
			c.logger.Warn("provider failed, falling back",
				slog.String("provider", p.Name()),
				slog.String("next", c.providers[i+1].Name()),
				slog.Any("error", err))
		}
	}
	return nil, lastErr
}
