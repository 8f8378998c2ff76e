// Package provider defines the transcription provider contract and its
// implementations: a hosted diarizing service, a Whisper-style multipart
// endpoint used as fallback, and a chain that fails over between them.
package provider

import (
	"context"

	"github.com/robertor4/transcribe-sub002/job"
)

// Source describes the audio to transcribe.
type Source struct {
	// Location is the public or signed URL of the audio.
	Location string

	// Key is the object-store key when the audio was stored; providers
	// that must download prefer it over Location.
	Key string

	// Size in bytes, when known. Zero means unknown.
	Size int64

	// Language is an optional hint.
	Language string
}

// ProgressFunc reports transcription progress. Implementations may call it
// from the provider goroutine only; percent is a hint, the pipeline clamps
// it monotonic.
type ProgressFunc func(percent int, message string)

// Provider turns audio into a transcript.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, src Source, report ProgressFunc) (*job.Result, error)
}
