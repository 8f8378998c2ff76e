package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robertor4/transcribe-sub002/chunker"
	"github.com/robertor4/transcribe-sub002/job"
	"github.com/robertor4/transcribe-sub002/uploader"
)

// MaxDirectUploadBytes is the Whisper endpoint's per-request file limit.
const MaxDirectUploadBytes = 25 << 20 // 25 MiB

// Whisper is the fallback provider: an OpenAI-style multipart transcription
// endpoint. It downloads the source, sends it directly when under the
// upload limit, and otherwise splits it into time-ordered chunks that are
// transcribed sequentially and concatenated. It never produces speakers.
type Whisper struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	logger   *slog.Logger
	chunks   *chunker.Chunker
	objects  uploader.ObjectStore
	maxBytes int64
	tempDir  string
}

// WhisperOption configures a Whisper provider.
type WhisperOption func(*Whisper)

// WithWhisperClient sets the HTTP client.
func WithWhisperClient(c *http.Client) WhisperOption {
	return func(w *Whisper) { w.client = c }
}

// WithWhisperLogger sets the logger.
func WithWhisperLogger(l *slog.Logger) WhisperOption {
	return func(w *Whisper) { w.logger = l }
}

// WithChunker sets the audio chunker.
func WithChunker(c *chunker.Chunker) WhisperOption {
	return func(w *Whisper) { w.chunks = c }
}

// WithObjectStore lets the provider download stored sources by key instead
// of fetching the URL.
func WithObjectStore(s uploader.ObjectStore) WhisperOption {
	return func(w *Whisper) { w.objects = s }
}

// WithMaxDirectBytes overrides the direct-upload limit, for tests.
func WithMaxDirectBytes(n int64) WhisperOption {
	return func(w *Whisper) { w.maxBytes = n }
}

// WithTempDir sets where working files are staged.
func WithTempDir(dir string) WhisperOption {
	return func(w *Whisper) { w.tempDir = dir }
}

// NewWhisper creates the fallback provider.
func NewWhisper(endpoint, apiKey, model string, opts ...WhisperOption) *Whisper {
	w := &Whisper{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: 10 * time.Minute},
		logger:   slog.Default(),
		chunks:   chunker.New(),
		maxBytes: MaxDirectUploadBytes,
		tempDir:  os.TempDir(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

var _ Provider = (*Whisper)(nil)

func (w *Whisper) Name() string { return "whisper" }

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// Transcribe downloads the source and transcribes it, chunking when it
// exceeds the upload limit.
func (w *Whisper) Transcribe(ctx context.Context, src Source, report ProgressFunc) (*job.Result, error) {
	work, err := os.MkdirTemp(w.tempDir, "transcribe-*")
	if err != nil {
		return nil, fmt.Errorf("provider/whisper: temp dir: %w", err)
	}
	defer os.RemoveAll(work) //nolint:errcheck // best-effort cleanup

	path, err := w.fetch(ctx, src, work)
	if err != nil {
		return nil, err
	}
	report(12, "source downloaded")

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("provider/whisper: stat %s: %w", path, err)
	}
	if info.Size() <= w.maxBytes {
		resp, err := w.transcribeFile(ctx, path, src.Language)
		if err != nil {
			return nil, err
		}
		report(90, "transcript received")
		return &job.Result{
			Text:            strings.TrimSpace(resp.Text),
			Language:        resp.Language,
			DurationSeconds: resp.Duration,
			Provider:        w.Name(),
		}, nil
	}
	return w.transcribeChunked(ctx, path, info.Size(), src.Language, work, report)
}

// transcribeChunked splits the audio and transcribes chunks in time order.
// Texts join with single spaces; durations accumulate with missing values
// counted as zero; the language comes from the first chunk; each chunk
// file is deleted as soon as its request finishes.
func (w *Whisper) transcribeChunked(ctx context.Context, path string, size int64, language, work string, report ProgressFunc) (*job.Result, error) {
	total, err := w.chunks.Duration(ctx, path)
	if err != nil {
		return nil, err
	}
	segSecs := chunker.SegmentSecondsFor(size, w.maxBytes, total)
	chunks, err := w.chunks.Split(ctx, path, segSecs, work)
	if err != nil {
		return nil, err
	}
	w.logger.Info("transcribing in chunks",
		slog.Int("chunks", len(chunks)),
		slog.Int64("size", size),
		slog.Float64("segment_seconds", segSecs))

	var texts []string
	var durationSum float64
	resultLang := ""
	n := len(chunks)
	for i, ch := range chunks {
		report(12+(i*78)/n, fmt.Sprintf("transcribing chunk %d of %d", i+1, n))

		resp, err := func() (*whisperResponse, error) {
			defer func() {
				if rmErr := w.chunks.Remove(ch); rmErr != nil {
					w.logger.Warn("remove chunk", slog.String("path", ch.Path), slog.Any("error", rmErr))
				}
			}()
			return w.transcribeFile(ctx, ch.Path, language)
		}()
		if err != nil {
			return nil, fmt.Errorf("provider/whisper: chunk %d of %d: %w", i+1, n, err)
		}

		if text := strings.TrimSpace(resp.Text); text != "" {
			texts = append(texts, text)
		}
		durationSum += resp.Duration
		if resultLang == "" {
			resultLang = resp.Language
		}
	}
	report(90, "transcript assembled")

	return &job.Result{
		Text:            strings.Join(texts, " "),
		Language:        resultLang,
		DurationSeconds: durationSum,
		Provider:        w.Name(),
	}, nil
}

// fetch stages the source audio into the working directory.
func (w *Whisper) fetch(ctx context.Context, src Source, work string) (string, error) {
	name := filepath.Base(src.Location)
	if src.Key != "" {
		name = filepath.Base(src.Key)
	}
	if name == "" || name == "." || name == "/" {
		name = "source.mp3"
	}
	dest := filepath.Join(work, name)

	if src.Key != "" && w.objects != nil {
		if err := w.objects.DownloadTo(ctx, src.Key, dest); err != nil {
			return "", fmt.Errorf("provider/whisper: download %s: %w", src.Key, err)
		}
		return dest, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Location, nil)
	if err != nil {
		return "", fmt.Errorf("provider/whisper: build fetch: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider/whisper: fetch %s: %w", src.Location, err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider/whisper: fetch %s: status %d", src.Location, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("provider/whisper: create %s: %w", dest, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close() //nolint:errcheck // already failing
		return "", fmt.Errorf("provider/whisper: save %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("provider/whisper: close %s: %w", dest, err)
	}
	return dest, nil
}

// transcribeFile posts one file to the multipart endpoint.
func (w *Whisper) transcribeFile(ctx context.Context, path, language string) (*whisperResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("provider/whisper: open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err) //nolint:errcheck // pipe error propagation
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err) //nolint:errcheck // pipe error propagation
			return
		}
		_ = form.WriteField("model", w.model)                  //nolint:errcheck // in-memory writer
		_ = form.WriteField("response_format", "verbose_json") //nolint:errcheck // in-memory writer
		if language != "" {
			_ = form.WriteField("language", language) //nolint:errcheck // in-memory writer
		}
		pw.CloseWithError(form.Close()) //nolint:errcheck // pipe error propagation
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, pr)
	if err != nil {
		return nil, fmt.Errorf("provider/whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider/whisper: request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort diagnostics
		return nil, fmt.Errorf("provider/whisper: status %d: %s", resp.StatusCode, snippet)
	}
	var out whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("provider/whisper: decode: %w", err)
	}
	return &out, nil
}
