package chunker_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/robertor4/transcribe-sub002/chunker"
)

// fakeRunner scripts ffprobe/ffmpeg output and fabricates segment files.
type fakeRunner struct {
	t          *testing.T
	duration   string
	dir        string
	segments   int
	calls      []string
	concatList string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, name)
	if strings.Contains(name, "ffprobe") {
		return []byte(r.duration + "\n"), nil
	}
	if len(args) > 1 && args[0] == "-f" && args[1] == "concat" {
		// ffmpeg concat call: capture the list and produce the output.
		list, err := os.ReadFile(args[4])
		if err != nil {
			r.t.Fatalf("read concat list: %v", err)
		}
		r.concatList = string(list)
		if err := os.WriteFile(args[len(args)-1], []byte("merged"), 0o644); err != nil {
			r.t.Fatalf("write merged output: %v", err)
		}
		return nil, nil
	}
	// ffmpeg segment call: create the files the pattern would produce.
	pattern := args[len(args)-1]
	for i := range r.segments {
		path := strings.ReplaceAll(pattern, "%03d", pad3(i))
		if err := os.WriteFile(path, []byte("seg"), 0o644); err != nil {
			r.t.Fatalf("write segment: %v", err)
		}
	}
	return nil, nil
}

func pad3(i int) string {
	s := []byte{'0', '0', '0'}
	s[2] = byte('0' + i%10)
	s[1] = byte('0' + (i/10)%10)
	s[0] = byte('0' + (i/100)%10)
	return string(s)
}

func TestDuration(t *testing.T) {
	r := &fakeRunner{t: t, duration: "125.38"}
	c := chunker.New(chunker.WithRunner(r))

	secs, err := c.Duration(context.Background(), "/tmp/a.mp3")
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if secs != 125.38 {
		t.Fatalf("secs = %v", secs)
	}
}

func TestSplitOrdersAndBoundsChunks(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{t: t, duration: "100", segments: 3, dir: dir}
	c := chunker.New(chunker.WithRunner(r))

	chunks, err := c.Split(context.Background(), "/tmp/a.mp3", 40, dir)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Index != i {
			t.Fatalf("chunk %d has index %d", i, ch.Index)
		}
	}
	if chunks[0].StartSeconds != 0 || chunks[0].EndSeconds != 40 {
		t.Fatalf("chunk 0 span = %v..%v", chunks[0].StartSeconds, chunks[0].EndSeconds)
	}
	// Final chunk is clamped to the total duration.
	if chunks[2].EndSeconds != 100 {
		t.Fatalf("chunk 2 end = %v, want 100", chunks[2].EndSeconds)
	}
	if filepath.Base(chunks[0].Path) >= filepath.Base(chunks[1].Path) {
		t.Fatal("chunks not in lexical time order")
	}
}

func TestSplitRejectsBadSegmentLength(t *testing.T) {
	c := chunker.New(chunker.WithRunner(&fakeRunner{t: t, duration: "10"}))
	if _, err := c.Split(context.Background(), "/tmp/a.mp3", 0, t.TempDir()); err == nil {
		t.Fatal("zero segment length accepted")
	}
}

func TestMergeConcatenatesInOrder(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{t: t}
	c := chunker.New(chunker.WithRunner(r))

	in := []string{filepath.Join(dir, "a.mp3"), filepath.Join(dir, "b.mp3")}
	out := filepath.Join(dir, "merged.mp3")
	if err := c.Merge(context.Background(), in, out); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := "file '" + in[0] + "'\nfile '" + in[1] + "'\n"
	if r.concatList != want {
		t.Fatalf("concat list = %q, want %q", r.concatList, want)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("merged output missing: %v", err)
	}
	// The temporary list file is cleaned up.
	leftovers, err := filepath.Glob(filepath.Join(dir, "concat_*.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("leftover list files: %v", leftovers)
	}
}

func TestMergeNeedsInput(t *testing.T) {
	if err := chunker.New().Merge(context.Background(), nil, "/tmp/out.mp3"); err == nil {
		t.Fatal("empty input accepted")
	}
}

func TestRemoveIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk_000.mp3")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := chunker.New()
	ch := chunker.Chunk{Path: path}
	if err := c.Remove(ch); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := c.Remove(ch); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestSegmentSecondsFor(t *testing.T) {
	// 60 MB over a 25 MB cap needs 3 parts.
	got := chunker.SegmentSecondsFor(60<<20, 25<<20, 300)
	if got != 100 {
		t.Fatalf("segment seconds = %v, want 100", got)
	}
	// Under the cap: one piece, full length.
	if got := chunker.SegmentSecondsFor(10<<20, 25<<20, 300); got != 300 {
		t.Fatalf("segment seconds = %v, want 300", got)
	}
}
