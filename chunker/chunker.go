// Package chunker splits audio into time-ordered segments with ffmpeg so
// oversized sources fit provider upload limits, and merges multiple files
// back into one. Probing, splitting and merging go through a command
// runner interface; tests inject a fake.
package chunker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Chunk is one audio segment. Segments are removed as soon as their
// fragment has been consumed, success or failure.
type Chunk struct {
	Path         string
	StartSeconds float64
	EndSeconds   float64
	Index        int
}

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("chunker: %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// Chunker probes and splits audio files.
type Chunker struct {
	ffmpeg  string
	ffprobe string
	run     Runner
	logger  *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithFFmpeg sets the ffmpeg binary path.
func WithFFmpeg(path string) Option {
	return func(c *Chunker) { c.ffmpeg = path }
}

// WithFFprobe sets the ffprobe binary path.
func WithFFprobe(path string) Option {
	return func(c *Chunker) { c.ffprobe = path }
}

// WithRunner injects a command runner.
func WithRunner(r Runner) Option {
	return func(c *Chunker) { c.run = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Chunker) { c.logger = l }
}

// New creates a chunker using ffmpeg/ffprobe from PATH by default.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		ffmpeg:  "ffmpeg",
		ffprobe: "ffprobe",
		run:     execRunner{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Duration probes the audio length in seconds.
func (c *Chunker) Duration(ctx context.Context, path string) (float64, error) {
	out, err := c.run.Run(ctx, c.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("chunker: probe %s: %w", path, err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("chunker: parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return secs, nil
}

// Split cuts the file into segments of at most segmentSeconds, written into
// dir, and returns them in time order.
func (c *Chunker) Split(ctx context.Context, path string, segmentSeconds float64, dir string) ([]Chunk, error) {
	if segmentSeconds <= 0 {
		return nil, fmt.Errorf("chunker: segment length must be positive, got %v", segmentSeconds)
	}
	total, err := c.Duration(ctx, path)
	if err != nil {
		return nil, err
	}

	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".mp3"
	}
	pattern := filepath.Join(dir, "chunk_%03d"+ext)
	if _, err := c.run.Run(ctx, c.ffmpeg,
		"-i", path,
		"-f", "segment",
		"-segment_time", strconv.FormatFloat(segmentSeconds, 'f', -1, 64),
		"-c", "copy",
		"-y",
		pattern,
	); err != nil {
		return nil, fmt.Errorf("chunker: split %s: %w", path, err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "chunk_*"+ext))
	if err != nil {
		return nil, fmt.Errorf("chunker: glob segments: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("chunker: split %s produced no segments", path)
	}
	sort.Strings(matches)

	chunks := make([]Chunk, 0, len(matches))
	for i, m := range matches {
		start := float64(i) * segmentSeconds
		end := start + segmentSeconds
		if end > total {
			end = total
		}
		chunks = append(chunks, Chunk{
			Path:         m,
			StartSeconds: start,
			EndSeconds:   end,
			Index:        i,
		})
	}
	c.logger.Debug("audio split",
		slog.String("path", path),
		slog.Int("chunks", len(chunks)),
		slog.Float64("segment_seconds", segmentSeconds))
	return chunks, nil
}

// Merge concatenates audio files into out with the concat demuxer, in
// the order given. Codecs are copied, so inputs must share a format.
func (c *Chunker) Merge(ctx context.Context, paths []string, out string) error {
	if len(paths) == 0 {
		return fmt.Errorf("chunker: merge needs at least one input")
	}
	list, err := os.CreateTemp(filepath.Dir(out), "concat_*.txt")
	if err != nil {
		return fmt.Errorf("chunker: concat list: %w", err)
	}
	defer os.Remove(list.Name()) //nolint:errcheck // temp file
	for _, p := range paths {
		// Single-quoted per the concat demuxer's escaping rules.
		quoted := strings.ReplaceAll(p, "'", `'\''`)
		if _, err := fmt.Fprintf(list, "file '%s'\n", quoted); err != nil {
			list.Close() //nolint:errcheck // write already failed
			return fmt.Errorf("chunker: concat list: %w", err)
		}
	}
	if err := list.Close(); err != nil {
		return fmt.Errorf("chunker: concat list: %w", err)
	}

	if _, err := c.run.Run(ctx, c.ffmpeg,
		"-f", "concat",
		"-safe", "0",
		"-i", list.Name(),
		"-c", "copy",
		"-y",
		out,
	); err != nil {
		return fmt.Errorf("chunker: merge into %s: %w", out, err)
	}
	c.logger.Debug("audio merged",
		slog.String("out", out),
		slog.Int("inputs", len(paths)))
	return nil
}

// Remove deletes a segment file. Missing files are not an error.
func (c *Chunker) Remove(ch Chunk) error {
	err := os.Remove(ch.Path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chunker: remove %s: %w", ch.Path, err)
	}
	return nil
}

// SegmentSecondsFor computes the segment length that splits size bytes of
// audio lasting totalSeconds into pieces under maxBytes each.
func SegmentSecondsFor(size, maxBytes int64, totalSeconds float64) float64 {
	if size <= maxBytes || totalSeconds <= 0 {
		return totalSeconds
	}
	parts := (size + maxBytes - 1) / maxBytes
	return totalSeconds / float64(parts)
}
