// Package whisper provides an abstraction layer for speech-to-text engines.
// It defines standard interfaces and data structures to support multiple implementations
// (command-line engines, the go-whisper HTTP service, and a mock fallback).
package whisper

import (
	"context"
	"time"
)

// TranscriptionSegment is one span of recognized speech.
// Start and End are seconds relative to the beginning of the submitted audio file.
type TranscriptionSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResult represents the complete result of one engine invocation.
type TranscriptionResult struct {
	Segments []TranscriptionSegment `json:"segments"`
	Text     string                 `json:"text"`

	// Language is the detected or specified language code (e.g., "en", "zh").
	Language string `json:"language"`

	// Duration is the duration of the submitted audio in seconds (0 if unknown).
	Duration float64 `json:"duration"`
}

// WhisperTranscriber defines the standard interface for transcription engines.
type WhisperTranscriber interface {
	// Transcribe runs the engine over one mono 16 kHz WAV file.
	//
	// Implementation notes:
	//   - Must respect context deadline and cancellation; a deadline must surface
	//     as an error wrapping context.DeadlineExceeded
	//   - Silence is a valid result with an empty Segments slice, not an error
	Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error)

	// HealthCheck verifies that the engine is operational.
	HealthCheck(ctx context.Context) (bool, error)

	// Name returns the human-readable identifier (e.g., "whisper-cli", "go-whisper", "mock-degraded").
	Name() string
}

// TranscribeOptions defines optional parameters for the Transcribe operation.
type TranscribeOptions struct {
	// Model specifies the engine model (e.g., "base", "small", "large-v3").
	Model string

	// Language forces a language (ISO 639-1). Empty means auto-detection.
	Language string

	// Prompt provides context to improve accuracy (optional).
	Prompt string

	// Temperature is the sampling temperature; 0 reduces repetitions.
	Temperature float64

	// Timeout bounds a single invocation when the context carries no deadline.
	Timeout time.Duration
}

// Selector picks the engine for the next invocation. The health-driven
// degradation controller implements it; StaticSelector always returns one engine.
type Selector interface {
	GetTranscriber() WhisperTranscriber
}

// StaticSelector always selects the same transcriber.
type StaticSelector struct {
	Transcriber WhisperTranscriber
}

// GetTranscriber implements Selector.
func (s StaticSelector) GetTranscriber() WhisperTranscriber {
	return s.Transcriber
}
