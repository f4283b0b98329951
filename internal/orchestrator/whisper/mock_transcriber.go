package whisper

import (
	"context"
	"log/slog"
)

// MockTranscriber is the degraded-mode engine: it returns an empty result and never blocks.
// Chunks it handles succeed with zero segments, so a degraded run finishes quickly
// and surfaces as an empty transcript rather than a hang.
type MockTranscriber struct{}

// NewMockTranscriber creates a new MockTranscriber instance.
func NewMockTranscriber() *MockTranscriber {
	return &MockTranscriber{}
}

// Transcribe logs a warning and returns an empty result with a nil error.
func (m *MockTranscriber) Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error) {
	slog.Warn("[MockTranscriber] transcribe called in degraded mode", "audio_path", audioPath)

	language := ""
	if options != nil {
		language = options.Language
	}
	return &TranscriptionResult{
		Segments: []TranscriptionSegment{},
		Language: language,
	}, nil
}

// HealthCheck always reports unhealthy; the mock represents a degraded state.
func (m *MockTranscriber) HealthCheck(ctx context.Context) (bool, error) {
	return false, nil
}

// Name returns "mock-degraded".
func (m *MockTranscriber) Name() string {
	return "mock-degraded"
}
