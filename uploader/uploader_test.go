package uploader

import (
	"context"
	"errors"
	"io"
	"syscall"
	"testing"
	"time"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/backoff"
)

// fakeStore scripts failures per attempt and records calls.
type fakeStore struct {
	failures []error // consumed one per attempt; nil means success
	attempts int
	streamed int
	uploaded int
	missing  bool // simulate verification miss
	objects  map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) nextErr() error {
	if s.attempts <= len(s.failures) {
		return s.failures[s.attempts-1]
	}
	return nil
}

func (s *fakeStore) Upload(_ context.Context, key string, data []byte, _ string) error {
	s.attempts++
	s.uploaded++
	if err := s.nextErr(); err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *fakeStore) UploadStream(_ context.Context, key string, r io.Reader, _ string) error {
	s.attempts++
	s.streamed++
	if err := s.nextErr(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *fakeStore) Download(_ context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, transcribe.ErrObjectNotFound
	}
	return data, nil
}

func (s *fakeStore) DownloadTo(context.Context, string, string) error { return nil }

func (s *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	if s.missing {
		return false, nil
	}
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

func (s *fakeStore) List(context.Context, string) ([]string, error) { return nil, nil }

func noSleep() Option {
	return withSleep(func(context.Context, time.Duration) error { return nil })
}

func TestUploadRetriesTransient(t *testing.T) {
	store := newFakeStore()
	store.failures = []error{syscall.ECONNRESET, errors.New("socket hang up")}
	u := NewRetrying(store,
		WithPolicy(backoff.NewPolicy(5, backoff.Constant{Interval: time.Millisecond})),
		noSleep(),
	)

	if err := u.Upload(context.Background(), "audio/a.mp3", []byte("data"), "audio/mpeg"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if store.attempts != 3 {
		t.Fatalf("attempts = %d, want 3", store.attempts)
	}
}

func TestUploadPermanentFailsFast(t *testing.T) {
	store := newFakeStore()
	store.failures = []error{errors.New("403 access denied")}
	u := NewRetrying(store, noSleep())

	err := u.Upload(context.Background(), "audio/a.mp3", []byte("data"), "audio/mpeg")
	if err == nil {
		t.Fatal("permanent error did not fail")
	}
	if store.attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on permanent)", store.attempts)
	}
}

func TestUploadExhaustsAttempts(t *testing.T) {
	store := newFakeStore()
	store.failures = []error{
		syscall.ECONNRESET, syscall.ECONNRESET, syscall.ECONNRESET,
	}
	u := NewRetrying(store,
		WithPolicy(backoff.NewPolicy(3, backoff.Constant{Interval: time.Millisecond})),
		noSleep(),
	)

	err := u.Upload(context.Background(), "audio/a.mp3", []byte("data"), "audio/mpeg")
	if err == nil {
		t.Fatal("exhausted upload did not fail")
	}
	if store.attempts != 3 {
		t.Fatalf("attempts = %d, want 3", store.attempts)
	}
}

func TestUploadVerificationFailure(t *testing.T) {
	store := newFakeStore()
	store.missing = true
	u := NewRetrying(store, noSleep())

	err := u.Upload(context.Background(), "audio/a.mp3", []byte("data"), "audio/mpeg")
	if !errors.Is(err, transcribe.ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}
}

func TestLargePayloadStreams(t *testing.T) {
	store := newFakeStore()
	u := NewRetrying(store, WithResumeThreshold(8), noSleep())

	if err := u.Upload(context.Background(), "audio/big.mp3", []byte("0123456789"), "audio/mpeg"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if store.streamed != 1 || store.uploaded != 0 {
		t.Fatalf("streamed=%d uploaded=%d, want streamed path", store.streamed, store.uploaded)
	}
}

func TestCanceledContextStopsRetry(t *testing.T) {
	store := newFakeStore()
	store.failures = []error{syscall.ECONNRESET, syscall.ECONNRESET}
	ctx, cancel := context.WithCancel(context.Background())
	u := NewRetrying(store,
		WithPolicy(backoff.NewPolicy(5, backoff.Constant{Interval: time.Millisecond})),
		withSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)

	err := u.Upload(ctx, "audio/a.mp3", []byte("data"), "audio/mpeg")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want Canceled", err)
	}
}
