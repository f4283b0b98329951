package dependency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-audio/wav"
)

// ErrDurationUnknown is returned when neither ffprobe nor the WAV header yields a duration.
var ErrDurationUnknown = errors.New("audio duration could not be determined")

// DependencyClient is a facade over the decoder tools (ffprobe/ffmpeg)
// that hides command construction, validation and execution.
type DependencyClient struct {
	executor    DependencyExecutor
	config      ExecutorConfig
	pathManager *PathManager
}

// NewClient creates a new DependencyClient backed by a LocalExecutor.
func NewClient(config ExecutorConfig) *DependencyClient {
	return NewClientWithExecutor(NewLocalExecutor(config), config)
}

// NewClientWithExecutor wires a client to a caller-provided executor.
func NewClientWithExecutor(executor DependencyExecutor, config ExecutorConfig) *DependencyClient {
	return &DependencyClient{
		executor:    executor,
		config:      config,
		pathManager: NewPathManager(config.WorkDir),
	}
}

// ProbeDuration returns the audio duration in seconds.
//
// ffprobe is tried first; when it fails and the input is a RIFF/WAVE file the
// duration is read from the header instead.
func (c *DependencyClient) ProbeDuration(ctx context.Context, audioPath string) (float64, error) {
	req := CommandRequest{
		Command: "ffprobe",
		Args: []string{
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			audioPath,
		},
		Timeout: c.config.DefaultTimeout,
	}

	secs, probeErr := c.runProbe(ctx, req)
	if probeErr == nil {
		return secs, nil
	}
	slog.Debug("[DependencyClient] ffprobe failed, trying wav header", "audio_path", audioPath, "error", probeErr)

	secs, wavErr := wavDuration(audioPath)
	if wavErr == nil {
		return secs, nil
	}

	slog.Warn("[DependencyClient] duration probe failed",
		"audio_path", audioPath,
		"ffprobe_error", probeErr.Error(),
		"wav_error", wavErr.Error(),
	)
	return 0, fmt.Errorf("%w: %s", ErrDurationUnknown, audioPath)
}

func (c *DependencyClient) runProbe(ctx context.Context, req CommandRequest) (float64, error) {
	if err := ValidateCommandRequest(req, c.config); err != nil {
		return 0, fmt.Errorf("command validation failed: %w", err)
	}
	resp, err := c.executor.ExecuteCommand(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	if !resp.Success || resp.ExitCode != 0 {
		return 0, fmt.Errorf("ffprobe failed (exit code %d): %s", resp.ExitCode, strings.TrimSpace(resp.Stderr))
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(resp.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable ffprobe duration %q: %w", strings.TrimSpace(resp.Stdout), err)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("non-positive duration %v", secs)
	}
	return secs, nil
}

func wavDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("not a valid wav file: %s", filepath.Base(path))
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("empty wav file: %s", filepath.Base(path))
	}
	return d.Seconds(), nil
}

// ExtractWindow cuts [startSec, startSec+durationSec) out of inputPath into a
// mono 16 kHz WAV at outputPath.
func (c *DependencyClient) ExtractWindow(ctx context.Context, inputPath, outputPath string, startSec, durationSec float64) error {
	req := CommandRequest{
		Command: "ffmpeg",
		Args: []string{
			"-hide_banner", "-loglevel", "error", "-y",
			"-ss", formatSeconds(startSec),
			"-t", formatSeconds(durationSec),
			"-i", inputPath,
			"-ac", "1",
			"-ar", "16000",
			"-f", "wav",
			outputPath,
		},
		Timeout: c.config.DefaultTimeout,
	}
	return c.runFFmpeg(ctx, req, "window extraction", outputPath)
}

// ConvertAudio converts the whole input into a mono 16 kHz WAV.
//
// Example:
//
//	err := client.ConvertAudio(ctx, "/home/me/talk.mp3", "/tmp/chunkscribe/run-3f2a/source.wav")
func (c *DependencyClient) ConvertAudio(ctx context.Context, inputPath, outputPath string) error {
	req := CommandRequest{
		Command: "ffmpeg",
		Args: []string{
			"-hide_banner", "-loglevel", "error", "-y",
			"-i", inputPath,
			"-ar", "16000",
			"-ac", "1",
			"-f", "wav",
			outputPath,
		},
		Timeout: c.config.DefaultTimeout,
	}
	return c.runFFmpeg(ctx, req, "audio conversion", outputPath)
}

func (c *DependencyClient) runFFmpeg(ctx context.Context, req CommandRequest, what, outputPath string) error {
	if err := ValidateCommandRequest(req, c.config); err != nil {
		return fmt.Errorf("command validation failed: %w", err)
	}

	resp, err := c.executor.ExecuteCommand(ctx, req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", what, err)
	}
	if !resp.Success || resp.ExitCode != 0 {
		return fmt.Errorf("%s failed (exit code %d): %s", what, resp.ExitCode, strings.TrimSpace(resp.Stderr))
	}

	if fi, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("%s output not created: %w", what, err)
	} else if fi.Size() == 0 {
		return fmt.Errorf("%s output is empty: %s", what, outputPath)
	}
	return nil
}

func formatSeconds(secs float64) string {
	return strconv.FormatFloat(secs, 'f', 3, 64)
}

// HealthCheck verifies that the underlying executor is ready to handle requests.
func (c *DependencyClient) HealthCheck(ctx context.Context) error {
	return c.executor.HealthCheck(ctx)
}

// PathManager returns the path manager for file operations.
func (c *DependencyClient) PathManager() *PathManager {
	return c.pathManager
}

// Config returns the executor configuration (read-only access).
func (c *DependencyClient) Config() ExecutorConfig {
	return c.config
}

// Executor exposes the underlying executor for engine adapters that run their own commands.
func (c *DependencyClient) Executor() DependencyExecutor {
	return c.executor
}
