package job

import (
	"encoding/json"

	"github.com/robertor4/transcribe-sub002/id"
)

// Segment is a time-aligned span of the transcript.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Result is the transcript produced by a provider, plus any derived
// analyses. Language, Speakers and Segments are optional; the fallback
// provider never fills Speakers.
type Result struct {
	TranscriptionID id.TranscriptionID `json:"transcription_id"`
	Text            string             `json:"text"`
	Language        string             `json:"language,omitempty"`
	Speakers        []string           `json:"speakers,omitempty"`
	Segments        []Segment          `json:"segments,omitempty"`
	DurationSeconds float64            `json:"duration_seconds"`

	// Provider names the provider that produced the transcript.
	Provider string `json:"provider,omitempty"`

	// Analyses holds derived passes (summary, keywords, ...) keyed by
	// analyzer name. A failed pass is simply absent.
	Analyses map[string]json.RawMessage `json:"analyses,omitempty"`
}
