package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/robertor4/transcribe-sub002/job"
)

// Remote is the hosted transcription service with speaker diarization. It
// accepts audio by URL at any size: submit returns a transcript ID, then
// the result is polled until the service finishes.
type Remote struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger

	pollInitial time.Duration
	pollMax     time.Duration
	pollBudget  time.Duration
}

// RemoteOption configures a Remote provider.
type RemoteOption func(*Remote)

// WithRemoteClient sets the HTTP client.
func WithRemoteClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.client = c }
}

// WithRemoteLogger sets the logger.
func WithRemoteLogger(l *slog.Logger) RemoteOption {
	return func(r *Remote) { r.logger = l }
}

// WithPollBudget bounds the total polling time. Zero polls until the
// context ends.
func WithPollBudget(d time.Duration) RemoteOption {
	return func(r *Remote) { r.pollBudget = d }
}

// WithPollInterval sets the initial and maximum poll intervals.
func WithPollInterval(initial, max time.Duration) RemoteOption {
	return func(r *Remote) {
		r.pollInitial = initial
		r.pollMax = max
	}
}

// NewRemote creates the hosted provider.
func NewRemote(baseURL, apiKey string, opts ...RemoteOption) *Remote {
	r := &Remote{
		baseURL:     baseURL,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: 60 * time.Second},
		logger:      slog.Default(),
		pollInitial: 2 * time.Second,
		pollMax:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ Provider = (*Remote)(nil)

func (r *Remote) Name() string { return "remote" }

type remoteSubmitRequest struct {
	AudioURL string `json:"audio_url"`
	Diarize  bool   `json:"diarize"`
	Language string `json:"language,omitempty"`
}

type remoteSubmitResponse struct {
	ID string `json:"id"`
}

type remoteStatusResponse struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Progress int      `json:"progress"`
	Error    string   `json:"error"`
	Text     string   `json:"text"`
	Language string   `json:"language"`
	Duration float64  `json:"duration"`
	Speakers []string `json:"speakers"`
	Segments []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Text    string  `json:"text"`
		Speaker string  `json:"speaker"`
	} `json:"segments"`
}

// Transcribe submits the audio URL, then polls with exponential backoff
// until the service reports completed or error.
func (r *Remote) Transcribe(ctx context.Context, src Source, report ProgressFunc) (*job.Result, error) {
	transcriptID, err := r.submit(ctx, src)
	if err != nil {
		return nil, err
	}
	report(15, "submitted to transcription service")

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.pollInitial
	policy.MaxInterval = r.pollMax
	policy.MaxElapsedTime = r.pollBudget

	var final *remoteStatusResponse
	operation := func() error {
		status, err := r.poll(ctx, transcriptID)
		if err != nil {
			return err
		}
		switch status.Status {
		case "completed":
			final = status
			return nil
		case "error", "failed":
			msg := status.Error
			if msg == "" {
				msg = "transcription failed"
			}
			return backoff.Permanent(fmt.Errorf("provider/remote: transcript %s: %s", transcriptID, msg))
		default:
			if status.Progress > 0 {
				// Map the service's 0-100 into our 15-85 band.
				report(15+status.Progress*70/100, "transcribing")
			}
			return fmt.Errorf("provider/remote: transcript %s still %s", transcriptID, status.Status)
		}
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}

	result := &job.Result{
		Text:            final.Text,
		Language:        final.Language,
		Speakers:        final.Speakers,
		DurationSeconds: final.Duration,
		Provider:        r.Name(),
	}
	for _, s := range final.Segments {
		result.Segments = append(result.Segments, job.Segment{
			Start:   s.Start,
			End:     s.End,
			Text:    s.Text,
			Speaker: s.Speaker,
		})
	}
	report(90, "transcript received")
	return result, nil
}

func (r *Remote) submit(ctx context.Context, src Source) (string, error) {
	body, err := json.Marshal(remoteSubmitRequest{
		AudioURL: src.Location,
		Diarize:  true,
		Language: src.Language,
	})
	if err != nil {
		return "", fmt.Errorf("provider/remote: encode submit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/transcripts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("provider/remote: build submit: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider/remote: submit: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort diagnostics
		return "", fmt.Errorf("provider/remote: submit: status %d: %s", resp.StatusCode, snippet)
	}
	var out remoteSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("provider/remote: decode submit: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("provider/remote: submit returned no transcript id")
	}
	return out.ID, nil
}

func (r *Remote) poll(ctx context.Context, transcriptID string) (*remoteStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/transcripts/"+transcriptID, nil)
	if err != nil {
		return nil, fmt.Errorf("provider/remote: build poll: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider/remote: poll: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort diagnostics
		return nil, fmt.Errorf("provider/remote: poll: status %d: %s", resp.StatusCode, snippet)
	}
	var out remoteStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("provider/remote: decode poll: %w", err)
	}
	return &out, nil
}
