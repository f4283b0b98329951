package whisper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/houzhh15/chunkscribe/internal/orchestrator/dependency"
)

// defaultEngineTimeout bounds an invocation that arrives without a context deadline.
const defaultEngineTimeout = 30 * time.Minute

// LocalWhisperImpl implements WhisperTranscriber for command-line engines
// (whisper.cpp, faster-whisper wrappers, openai-whisper scripts).
//
// The command is a template parsed with shell quoting rules. The placeholders
// {audio}, {language}, {model}, {prompt} and {temperature} are substituted per
// argument after parsing, so paths with spaces stay a single argument.
//
// Example:
//
//	whisper-cli -m /models/ggml-{model}.bin -l {language} -oj -of - {audio}
type LocalWhisperImpl struct {
	name       string
	program    string
	args       []string
	healthArgs []string
	model      string
	executor   dependency.DependencyExecutor
	execConfig dependency.ExecutorConfig
}

// NewLocalWhisperImpl parses the command template and validates that the program resolves.
func NewLocalWhisperImpl(commandTemplate, healthTemplate, model string, executor dependency.DependencyExecutor, execConfig dependency.ExecutorConfig) (*LocalWhisperImpl, error) {
	words, err := shellwords.Parse(commandTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid engine command %q: %w", commandTemplate, err)
	}
	if len(words) == 0 {
		return nil, errors.New("engine command is empty")
	}
	if !containsPlaceholder(words[1:], "{audio}") {
		return nil, fmt.Errorf("engine command must reference {audio}: %q", commandTemplate)
	}

	var healthArgs []string
	if strings.TrimSpace(healthTemplate) != "" {
		hw, err := shellwords.Parse(healthTemplate)
		if err != nil {
			return nil, fmt.Errorf("invalid engine health command %q: %w", healthTemplate, err)
		}
		healthArgs = hw
	}

	if model == "" {
		model = "base"
	}

	return &LocalWhisperImpl{
		name:       "whisper-cli",
		program:    words[0],
		args:       words[1:],
		healthArgs: healthArgs,
		model:      model,
		executor:   executor,
		execConfig: execConfig,
	}, nil
}

func containsPlaceholder(args []string, placeholder string) bool {
	for _, a := range args {
		if strings.Contains(a, placeholder) {
			return true
		}
	}
	return false
}

// buildArgs substitutes the placeholders for one invocation.
func (l *LocalWhisperImpl) buildArgs(audioPath string, options *TranscribeOptions) []string {
	model := l.model
	language := "auto"
	prompt := ""
	temperature := 0.0
	if options != nil {
		if options.Model != "" {
			model = options.Model
		}
		if options.Language != "" {
			language = options.Language
		}
		prompt = options.Prompt
		temperature = options.Temperature
	}

	replacer := strings.NewReplacer(
		"{audio}", audioPath,
		"{language}", language,
		"{model}", model,
		"{prompt}", prompt,
		"{temperature}", strconv.FormatFloat(temperature, 'f', 1, 64),
	)

	args := make([]string, 0, len(l.args))
	for _, a := range l.args {
		args = append(args, replacer.Replace(a))
	}
	return args
}

// Transcribe invokes the engine through the dependency executor and parses its stdout.
func (l *LocalWhisperImpl) Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error) {
	timeout := defaultEngineTimeout
	if options != nil && options.Timeout > 0 {
		timeout = options.Timeout
	}

	req := dependency.CommandRequest{
		Command: l.program,
		Args:    l.buildArgs(audioPath, options),
		Timeout: timeout,
	}
	if err := dependency.ValidateCommandRequest(req, l.execConfig); err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}

	slog.Debug("[LocalWhisper] executing", "program", l.program, "args", req.Args)
	resp, err := l.executor.ExecuteCommand(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("engine execution failed: %w", err)
	}
	if !resp.Success || resp.ExitCode != 0 {
		return nil, fmt.Errorf("engine exited with code %d: %s", resp.ExitCode, truncate(resp.Stderr, 500))
	}

	result, err := ParseEngineOutput([]byte(resp.Stdout))
	if err != nil {
		slog.Warn("[LocalWhisper] unparsable output", "audio_path", audioPath, "stdout", truncate(resp.Stdout, 500))
		return nil, err
	}
	if result.Language == "" && options != nil {
		result.Language = options.Language
	}

	slog.Debug("[LocalWhisper] parsed output",
		"audio_path", audioPath,
		"segments", len(result.Segments),
		"duration_ms", resp.Duration.Milliseconds(),
	)
	return result, nil
}

// HealthCheck runs the configured health command, or verifies the program resolves on PATH.
func (l *LocalWhisperImpl) HealthCheck(ctx context.Context) (bool, error) {
	if len(l.healthArgs) == 0 {
		if path, ok := l.execConfig.LocalBinaryPaths[l.program]; ok && path != "" {
			if _, err := exec.LookPath(path); err != nil {
				return false, fmt.Errorf("engine program not available: %w", err)
			}
			return true, nil
		}
		if _, err := exec.LookPath(l.program); err != nil {
			return false, fmt.Errorf("engine program not available: %w", err)
		}
		return true, nil
	}

	resp, err := l.executor.ExecuteCommand(ctx, dependency.CommandRequest{
		Command: l.healthArgs[0],
		Args:    l.healthArgs[1:],
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return false, fmt.Errorf("version check failed: %w", err)
	}
	if !resp.Success {
		return false, fmt.Errorf("version check failed (exit code %d): %s", resp.ExitCode, truncate(resp.Stderr, 200))
	}
	return true, nil
}

// Name returns the identifier of this transcriber implementation.
func (l *LocalWhisperImpl) Name() string {
	return l.name
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
