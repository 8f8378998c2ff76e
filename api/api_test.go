package api_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/api"
	"github.com/robertor4/transcribe-sub002/engine"
	"github.com/robertor4/transcribe-sub002/job"
	"github.com/robertor4/transcribe-sub002/provider"
	"github.com/robertor4/transcribe-sub002/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type noopProvider struct{}

func (noopProvider) Name() string { return "noop" }

func (noopProvider) Transcribe(_ context.Context, _ provider.Source, _ provider.ProgressFunc) (*job.Result, error) {
	return &job.Result{Text: "ok", Provider: "noop"}, nil
}

// newAPI builds an engine that is never started: handlers hit the store
// and queue directly.
func newAPI(t *testing.T) (*api.API, *memory.Store, *engine.Engine) {
	t.Helper()
	s := memory.New()
	tr, err := transcribe.New(
		transcribe.WithStore(s),
		transcribe.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("transcribe.New: %v", err)
	}
	eng, err := engine.Build(tr, engine.WithProvider(noopProvider{}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return api.New(eng, api.WithLogger(testLogger())), s, eng
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string, v any) int {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if v != nil && w.Code < 300 {
		if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
			t.Fatalf("decode %s: %v", w.Body.String(), err)
		}
	}
	return w.Code
}

func TestSubmitAndGetTranscription(t *testing.T) {
	a, _, _ := newAPI(t)
	mux := a.Mux()

	var created job.Job
	code := doJSON(t, mux, http.MethodPost, "/v1/transcriptions",
		`{"user_id":"user-1","source_location":"https://cdn.example.com/a.mp3","language":"nl","priority":5}`,
		&created)
	if code != http.StatusAccepted {
		t.Fatalf("submit status = %d", code)
	}
	if created.UserID != "user-1" || created.Language != "nl" || created.Priority != 5 {
		t.Errorf("created = %+v", created)
	}
	if created.Status != job.StatusPending {
		t.Errorf("status = %q", created.Status)
	}

	var got job.Job
	code = doJSON(t, mux, http.MethodGet, "/v1/transcriptions/"+created.TranscriptionID.String(), "", &got)
	if code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if got.TranscriptionID != created.TranscriptionID {
		t.Errorf("got = %+v", got)
	}
}

func TestSubmitValidation(t *testing.T) {
	a, _, _ := newAPI(t)
	mux := a.Mux()

	if code := doJSON(t, mux, http.MethodPost, "/v1/transcriptions", `{"user_id":"u"}`, nil); code != http.StatusBadRequest {
		t.Errorf("missing source: status = %d", code)
	}
	if code := doJSON(t, mux, http.MethodPost, "/v1/transcriptions", `{not json`, nil); code != http.StatusBadRequest {
		t.Errorf("bad body: status = %d", code)
	}
}

func TestGetTranscriptionErrors(t *testing.T) {
	a, _, _ := newAPI(t)
	mux := a.Mux()

	if code := doJSON(t, mux, http.MethodGet, "/v1/transcriptions/not-an-id", "", nil); code != http.StatusBadRequest {
		t.Errorf("invalid id: status = %d", code)
	}
	missing := "tr_00000000000000000000000000"
	if code := doJSON(t, mux, http.MethodGet, "/v1/transcriptions/"+missing, "", nil); code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d", code)
	}
}

func TestGetResult(t *testing.T) {
	a, s, eng := newAPI(t)
	mux := a.Mux()

	j, err := eng.Submit(context.Background(), "user-1", "https://cdn.example.com/a.mp3")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// No result yet.
	if code := doJSON(t, mux, http.MethodGet, "/v1/transcriptions/"+j.TranscriptionID.String()+"/result", "", nil); code != http.StatusNotFound {
		t.Errorf("missing result: status = %d", code)
	}

	if err := s.SaveResult(context.Background(), &job.Result{
		TranscriptionID: j.TranscriptionID,
		Text:            "hello",
		Provider:        "noop",
	}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	var res job.Result
	if code := doJSON(t, mux, http.MethodGet, "/v1/transcriptions/"+j.TranscriptionID.String()+"/result", "", &res); code != http.StatusOK {
		t.Fatalf("result status = %d", code)
	}
	if res.Text != "hello" {
		t.Errorf("result = %+v", res)
	}
}

func TestListTranscriptionsByUser(t *testing.T) {
	a, _, eng := newAPI(t)
	mux := a.Mux()

	ctx := context.Background()
	for _, user := range []string{"user-1", "user-1", "user-2"} {
		if _, err := eng.Submit(ctx, user, "https://cdn.example.com/a.mp3"); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	var jobs []*job.Job
	if code := doJSON(t, mux, http.MethodGet, "/v1/transcriptions?user=user-1", "", &jobs); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	for _, j := range jobs {
		if j.UserID != "user-1" {
			t.Errorf("job user = %q", j.UserID)
		}
	}
}

func TestStats(t *testing.T) {
	a, _, eng := newAPI(t)
	mux := a.Mux()

	if _, err := eng.Submit(context.Background(), "user-1", "https://cdn.example.com/a.mp3"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var stats api.Stats
	if code := doJSON(t, mux, http.MethodGet, "/v1/stats", "", &stats); code != http.StatusOK {
		t.Fatalf("stats status = %d", code)
	}
	if stats.Jobs["pending"] != 1 {
		t.Errorf("pending = %d", stats.Jobs["pending"])
	}
}
