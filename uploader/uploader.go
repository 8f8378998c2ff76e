package uploader

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/backoff"
)

// DefaultResumeThreshold is the size above which uploads stream instead of
// buffering.
const DefaultResumeThreshold = 32 << 20 // 32 MiB

// Retrying wraps an ObjectStore with transient-only retries and post-upload
// verification.
type Retrying struct {
	store           ObjectStore
	policy          backoff.Policy
	resumeThreshold int64
	logger          *slog.Logger
	sleep           func(context.Context, time.Duration) error
}

// Option configures a Retrying uploader.
type Option func(*Retrying)

// WithPolicy sets the retry policy.
func WithPolicy(p backoff.Policy) Option {
	return func(u *Retrying) { u.policy = p }
}

// WithResumeThreshold sets the streamed-upload size threshold.
func WithResumeThreshold(n int64) Option {
	return func(u *Retrying) { u.resumeThreshold = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(u *Retrying) { u.logger = l }
}

// withSleep replaces the backoff sleeper, for tests.
func withSleep(fn func(context.Context, time.Duration) error) Option {
	return func(u *Retrying) { u.sleep = fn }
}

// NewRetrying creates a retrying uploader over a store.
func NewRetrying(store ObjectStore, opts ...Option) *Retrying {
	u := &Retrying{
		store:           store,
		policy:          backoff.DefaultUploadPolicy(),
		resumeThreshold: DefaultResumeThreshold,
		logger:          slog.Default(),
		sleep:           sleepCtx,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload writes data under key, retrying transient failures, and verifies
// the object exists afterward.
func (u *Retrying) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	size := int64(len(data))
	return u.retry(ctx, key, func() error {
		if size >= u.resumeThreshold {
			return u.store.UploadStream(ctx, key, bytes.NewReader(data), contentType)
		}
		return u.store.Upload(ctx, key, data, contentType)
	})
}

// UploadFile uploads a local file, streaming above the threshold. Each
// attempt reopens the file so a mid-stream failure restarts cleanly.
func (u *Retrying) UploadFile(ctx context.Context, key, path, contentType string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("uploader: stat %s: %w", path, err)
	}
	if info.Size() < u.resumeThreshold {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("uploader: read %s: %w", path, err)
		}
		return u.Upload(ctx, key, data, contentType)
	}
	return u.retry(ctx, key, func() error {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("uploader: open %s: %w", path, err)
		}
		defer f.Close() //nolint:errcheck // read-only handle
		return u.store.UploadStream(ctx, key, f, contentType)
	})
}

// retry runs attempt under the policy, then verifies the object landed.
func (u *Retrying) retry(ctx context.Context, key string, attempt func() error) error {
	var lastErr error
	for try := 1; try <= u.policy.MaxAttempts(); try++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = attempt()
		if lastErr == nil {
			return u.verify(ctx, key)
		}

		kind := Classify(lastErr)
		if kind != KindTransient {
			return fmt.Errorf("uploader: %s upload (%s): %w", key, kind, lastErr)
		}
		if try == u.policy.MaxAttempts() {
			break
		}
		delay := u.policy.Delay(try)
		u.logger.Warn("transient upload failure, retrying",
			slog.String("key", key),
			slog.Int("attempt", try),
			slog.Duration("delay", delay),
			slog.Any("error", lastErr))
		if err := u.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("uploader: %s upload after %d attempts: %w", key, u.policy.MaxAttempts(), lastErr)
}

// verify confirms the uploaded object is actually there.
func (u *Retrying) verify(ctx context.Context, key string) error {
	ok, err := u.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("uploader: verify %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("uploader: %s: %w", key, transcribe.ErrVerificationFailed)
	}
	return nil
}

// Download proxies to the store.
func (u *Retrying) Download(ctx context.Context, key string) ([]byte, error) {
	return u.store.Download(ctx, key)
}

// DownloadTo proxies to the store.
func (u *Retrying) DownloadTo(ctx context.Context, key, path string) error {
	return u.store.DownloadTo(ctx, key, path)
}

// Delete proxies to the store.
func (u *Retrying) Delete(ctx context.Context, key string) error {
	return u.store.Delete(ctx, key)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
