package whisper

import (
	"bytes"
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
)

// GoWhisperImpl implements WhisperTranscriber for the go-whisper HTTP service
// (ghcr.io/mutablelogic/go-whisper) via multipart/form-data requests.
type GoWhisperImpl struct {
	apiURL     string
	model      string
	httpClient *http.Client
}

// NewGoWhisperImpl creates a new GoWhisperImpl for the given base URL.
//
// The client timeout is only a backstop; per-chunk deadlines travel on the
// request context.
func NewGoWhisperImpl(apiURL, model string) *GoWhisperImpl {
	if model == "" {
		model = "ggml-base"
	}
	return &GoWhisperImpl{
		apiURL: strings.TrimRight(apiURL, "/"),
		model:  model,
		httpClient: &http.Client{
			Timeout: defaultEngineTimeout,
		},
	}
}

// Transcribe posts the audio to {apiURL}/api/whisper/transcribe and decodes the JSON response.
func (g *GoWhisperImpl) Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy file data: %w", err)
	}

	model := g.model
	if options != nil && options.Model != "" {
		model = options.Model
	}
	fields := map[string]string{
		"model":           model,
		"response_format": "json",
	}
	temperature := 0.0
	if options != nil {
		if options.Language != "" {
			fields["language"] = options.Language
		}
		if options.Prompt != "" {
			fields["prompt"] = options.Prompt
		}
		temperature = options.Temperature
	}
	fields["temperature"] = fmt.Sprintf("%.1f", temperature)

	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	if options != nil && options.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, options.Timeout)
			defer cancel()
		}
	}

	endpoint := g.apiURL + "/api/whisper/transcribe"
	slog.Debug("[GoWhisper] sending transcription request", "endpoint", endpoint, "audio_path", audioPath, "model", model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result TranscriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	if result.Segments == nil {
		result.Segments = []TranscriptionSegment{}
	}

	slog.Debug("[GoWhisper] transcription done",
		"audio_path", audioPath,
		"segments", len(result.Segments),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &result, nil
}

// HealthCheck sends GET /api/whisper/model and reports 200 OK as healthy.
func (g *GoWhisperImpl) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiURL+"/api/whisper/model", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	return false, fmt.Errorf("health check failed: status %d", resp.StatusCode)
}

// Name returns the identifier of this transcriber implementation.
func (g *GoWhisperImpl) Name() string {
	return "go-whisper"
}
