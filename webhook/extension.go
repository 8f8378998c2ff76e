package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robertor4/transcribe-sub002/backoff"
	"github.com/robertor4/transcribe-sub002/cron"
	"github.com/robertor4/transcribe-sub002/ext"
	"github.com/robertor4/transcribe-sub002/job"
)

// Compile-time hook checks.
var (
	_ ext.Extension          = (*Extension)(nil)
	_ ext.JobSubmittedHook   = (*Extension)(nil)
	_ ext.JobStartedHook     = (*Extension)(nil)
	_ ext.JobCompletedHook   = (*Extension)(nil)
	_ ext.JobFailedHook      = (*Extension)(nil)
	_ ext.JobRecoveredHook   = (*Extension)(nil)
	_ ext.JobSweptHook       = (*Extension)(nil)
	_ ext.ArtifactPurgedHook = (*Extension)(nil)
	_ ext.CronFiredHook      = (*Extension)(nil)
	_ ext.ShutdownHook       = (*Extension)(nil)
)

// SignatureHeader carries the HMAC of the request body.
const SignatureHeader = "X-Transcribe-Signature"

// Extension posts lifecycle events to an HTTP endpoint.
type Extension struct {
	endpoint string
	secret   []byte
	client   *http.Client
	logger   *slog.Logger
	enabled  map[string]bool // nil = all events enabled
	retry    backoff.Policy
	now      func() time.Time

	wg sync.WaitGroup
}

// New creates a webhook extension targeting endpoint.
func New(endpoint string, opts ...Option) *Extension {
	e := &Extension{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default(),
		retry:    backoff.NewPolicy(3, backoff.Exponential{Base: time.Second, Max: 30 * time.Second}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "webhook" }

func (e *Extension) send(event string, data any) error {
	if e.enabled != nil && !e.enabled[event] {
		return nil
	}
	body, err := json.Marshal(Envelope{
		Event:     event,
		Timestamp: e.now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal %s: %w", event, err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deliver(event, body)
	}()
	return nil
}

// deliver posts with retries. It runs detached from the hook's context so
// a finished job does not cancel its own notification.
func (e *Extension) deliver(event string, body []byte) {
	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxAttempts(); attempt++ {
		if attempt > 1 {
			time.Sleep(e.retry.Delay(attempt - 1))
		}
		if lastErr = e.post(body); lastErr == nil {
			return
		}
		e.logger.Warn("webhook delivery failed",
			slog.String("event", event),
			slog.Int("attempt", attempt),
			slog.Any("error", lastErr))
	}
	e.logger.Error("webhook delivery abandoned",
		slog.String("event", event),
		slog.Any("error", lastErr))
}

func (e *Extension) post(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(e.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(e.secret, body))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()               //nolint:errcheck // response drain
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // connection reuse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the signature header value for a body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body) //nolint:errcheck // hash writes cannot fail
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value against a body.
func Verify(secret, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(header))
}

// ── Lifecycle hooks ─────────────────────────────────

func (e *Extension) OnJobSubmitted(_ context.Context, j *job.Job) error {
	return e.send(EventSubmitted, newJobPayload(j))
}

func (e *Extension) OnJobStarted(_ context.Context, j *job.Job) error {
	return e.send(EventStarted, newJobPayload(j))
}

func (e *Extension) OnJobCompleted(_ context.Context, j *job.Job, r *job.Result) error {
	p := newJobPayload(j)
	p.Provider = r.Provider
	return e.send(EventCompleted, p)
}

func (e *Extension) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	// The record's user-facing message ships; the raw cause stays in logs.
	return e.send(EventFailed, newJobPayload(j))
}

func (e *Extension) OnJobRecovered(_ context.Context, j *job.Job) error {
	return e.send(EventRecovered, newJobPayload(j))
}

func (e *Extension) OnJobSwept(_ context.Context, j *job.Job, reason string) error {
	p := newJobPayload(j)
	p.Reason = reason
	return e.send(EventSwept, p)
}

func (e *Extension) OnArtifactPurged(_ context.Context, j *job.Job) error {
	return e.send(EventArtifactPurged, newJobPayload(j))
}

func (e *Extension) OnCronFired(_ context.Context, entry *cron.Entry) error {
	return e.send(EventCronFired, CronPayload{Name: entry.Name, Schedule: entry.Schedule})
}

// OnShutdown waits for in-flight deliveries.
func (e *Extension) OnShutdown(_ context.Context) error {
	e.wg.Wait()
	return nil
}
