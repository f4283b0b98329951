package whisper

import (
	"fmt"

	"github.com/houzhh15/chunkscribe/internal/orchestrator/dependency"
)

// EngineMode selects the engine implementation.
type EngineMode string

const (
	ModeCLI  EngineMode = "cli"
	ModeHTTP EngineMode = "http"
	ModeMock EngineMode = "mock"
)

// EngineConfig describes one engine.
type EngineConfig struct {
	Mode          EngineMode `yaml:"mode"`
	Command       string     `yaml:"command"`
	HealthCommand string     `yaml:"health_command"`
	APIURL        string     `yaml:"api_url"`
	Model         string     `yaml:"model"`
	Prompt        string     `yaml:"prompt"`
	Temperature   float64    `yaml:"temperature"`
}

// New builds the transcriber described by cfg.
func New(cfg EngineConfig, executor dependency.DependencyExecutor, execConfig dependency.ExecutorConfig) (WhisperTranscriber, error) {
	switch cfg.Mode {
	case ModeCLI, "":
		return NewLocalWhisperImpl(cfg.Command, cfg.HealthCommand, cfg.Model, executor, execConfig)
	case ModeHTTP:
		if cfg.APIURL == "" {
			return nil, fmt.Errorf("engine mode http requires api_url")
		}
		return NewGoWhisperImpl(cfg.APIURL, cfg.Model), nil
	case ModeMock:
		return NewMockTranscriber(), nil
	default:
		return nil, fmt.Errorf("invalid engine mode: %s (must be 'cli', 'http' or 'mock')", cfg.Mode)
	}
}
