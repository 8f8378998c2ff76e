package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robertor4/transcribe-sub002/backoff"
	"github.com/robertor4/transcribe-sub002/id"
	"github.com/robertor4/transcribe-sub002/job"
	"github.com/robertor4/transcribe-sub002/webhook"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testJob() *job.Job {
	return &job.Job{
		ID:              id.NewJobID(),
		TranscriptionID: id.NewTranscriptionID(),
		UserID:          "user-1",
		Status:          job.StatusCompleted,
		Progress:        100,
	}
}

// capture collects delivered envelopes.
type capture struct {
	mu        sync.Mutex
	envelopes []webhook.Envelope
	bodies    [][]byte
	headers   []http.Header
}

func (c *capture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
			return
		}
		var env webhook.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			t.Errorf("unmarshal %s: %v", body, err)
			return
		}
		c.mu.Lock()
		c.envelopes = append(c.envelopes, env)
		c.bodies = append(c.bodies, body)
		c.headers = append(c.headers, r.Header.Clone())
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.envelopes)
}

func TestExtensionDeliversSignedEvent(t *testing.T) {
	sink := &capture{}
	srv := httptest.NewServer(sink.handler(t))
	t.Cleanup(srv.Close)

	secret := []byte("s3cret")
	e := webhook.New(srv.URL, webhook.WithSecret(secret), webhook.WithLogger(testLogger()))

	j := testJob()
	if err := e.OnJobCompleted(context.Background(), j, &job.Result{Provider: "remote"}); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if err := e.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}

	if sink.count() != 1 {
		t.Fatalf("deliveries = %d", sink.count())
	}
	env := sink.envelopes[0]
	if env.Event != webhook.EventCompleted {
		t.Errorf("event = %q", env.Event)
	}
	var payload webhook.JobPayload
	data, _ := json.Marshal(env.Data) //nolint:errcheck // round-trip of decoded JSON
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.TranscriptionID != j.TranscriptionID.String() || payload.Provider != "remote" {
		t.Errorf("payload = %+v", payload)
	}

	sig := sink.headers[0].Get(webhook.SignatureHeader)
	if !webhook.Verify(secret, sink.bodies[0], sig) {
		t.Errorf("signature %q does not verify", sig)
	}
}

func TestExtensionRetriesFailedDelivery(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	e := webhook.New(srv.URL,
		webhook.WithLogger(testLogger()),
		webhook.WithRetryPolicy(backoff.NewPolicy(5, backoff.Constant{Interval: 5 * time.Millisecond})),
	)

	if err := e.OnJobFailed(context.Background(), testJob(), nil); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if err := e.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}

	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestExtensionEventFilter(t *testing.T) {
	sink := &capture{}
	srv := httptest.NewServer(sink.handler(t))
	t.Cleanup(srv.Close)

	e := webhook.New(srv.URL,
		webhook.WithLogger(testLogger()),
		webhook.WithEvents(webhook.EventCompleted, webhook.EventFailed),
	)

	ctx := context.Background()
	j := testJob()
	if err := e.OnJobStarted(ctx, j); err != nil {
		t.Fatalf("OnJobStarted: %v", err)
	}
	if err := e.OnJobCompleted(ctx, j, &job.Result{}); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if err := e.OnShutdown(ctx); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}

	if sink.count() != 1 || sink.envelopes[0].Event != webhook.EventCompleted {
		t.Fatalf("envelopes = %+v", sink.envelopes)
	}
}

func TestExtensionAbandonsAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	e := webhook.New(srv.URL,
		webhook.WithLogger(testLogger()),
		webhook.WithRetryPolicy(backoff.NewPolicy(2, backoff.Constant{Interval: time.Millisecond})),
	)

	if err := e.OnJobSubmitted(context.Background(), testJob()); err != nil {
		t.Fatalf("OnJobSubmitted: %v", err)
	}
	if err := e.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}

	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}
