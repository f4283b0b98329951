// Package config loads chunkscribe settings: YAML file, then environment, then CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"

	"github.com/houzhh15/chunkscribe/internal/chunking"
	"github.com/houzhh15/chunkscribe/internal/coordinator"
	"github.com/houzhh15/chunkscribe/internal/merger"
	"github.com/houzhh15/chunkscribe/internal/orchestrator/dependency"
	"github.com/houzhh15/chunkscribe/internal/orchestrator/whisper"
	"github.com/houzhh15/chunkscribe/pkg/logger"
)

// Config 统一配置结构
type Config struct {
	Log         logger.Config          `yaml:"log"`
	WorkDir     string                 `yaml:"work_dir"`
	Language    string                 `yaml:"language"`
	Concurrency int                    `yaml:"concurrency"`
	Tools       ToolsConfig            `yaml:"tools"`
	Engine      whisper.EngineConfig   `yaml:"engine"`
	Health      HealthConfig           `yaml:"health"`
	Planner     chunking.PlannerConfig `yaml:"planner"`
	Coordinator coordinator.Config     `yaml:"coordinator"`
	Merger      merger.Config          `yaml:"merger"`
	Server      ServerConfig           `yaml:"server"`
	Store       StoreConfig            `yaml:"store"`
	Telemetry   TelemetryConfig        `yaml:"telemetry"`
}

// ToolsConfig 外部命令配置
type ToolsConfig struct {
	FFmpegPath     string        `yaml:"ffmpeg_path"`
	FFprobePath    string        `yaml:"ffprobe_path"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	KillGrace      time.Duration `yaml:"kill_grace"`
	// AllowedCommands 为空时自动包含 ffmpeg、ffprobe 与引擎程序
	AllowedCommands []string `yaml:"allowed_commands"`
}

// HealthConfig 引擎健康检查与降级
type HealthConfig struct {
	Enabled       bool                 `yaml:"enabled"`
	Interval      time.Duration        `yaml:"interval"`
	FailThreshold int                  `yaml:"fail_threshold"`
	Fallback      whisper.EngineConfig `yaml:"fallback"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	Env               string        `yaml:"env"` // dev, production
	MaxConcurrentRuns int64         `yaml:"max_concurrent_runs"`
	MaxUploadMB       int64         `yaml:"max_upload_mb"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig 运行历史存储，Path 为空表示关闭
type StoreConfig struct {
	Path string `yaml:"path"`
}

// TelemetryConfig 链路追踪
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:      logger.Config{Level: "info", Environment: "dev"},
		WorkDir:  filepath.Join(os.TempDir(), "chunkscribe"),
		Language: "auto",
		Tools: ToolsConfig{
			FFmpegPath:     "ffmpeg",
			FFprobePath:    "ffprobe",
			DefaultTimeout: 10 * time.Minute,
			KillGrace:      dependency.DefaultKillGrace,
		},
		Engine: whisper.EngineConfig{
			Mode:    whisper.ModeCLI,
			Command: "whisper-cli -m /models/ggml-{model}.bin -l {language} -oj -of - {audio}",
			Model:   "base",
		},
		Health: HealthConfig{
			Interval:      30 * time.Second,
			FailThreshold: 3,
			Fallback:      whisper.EngineConfig{Mode: whisper.ModeMock},
		},
		Planner:     chunking.DefaultPlannerConfig(),
		Coordinator: coordinator.DefaultConfig(),
		Merger:      merger.DefaultConfig(),
		Server: ServerConfig{
			Addr:              ":8090",
			Env:               "dev",
			MaxConcurrentRuns: 2,
			MaxUploadMB:       2048,
			ShutdownTimeout:   30 * time.Second,
		},
		Telemetry: TelemetryConfig{ServiceName: "chunkscribe"},
	}
}

// Load reads path over the defaults (an empty path skips the file), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv 从环境变量覆盖配置
func (c *Config) ApplyEnv() error {
	c.WorkDir = getEnv("CHUNKSCRIBE_WORK_DIR", c.WorkDir)
	c.Language = getEnv("CHUNKSCRIBE_LANGUAGE", c.Language)
	c.Engine.Command = getEnv("CHUNKSCRIBE_ENGINE_COMMAND", c.Engine.Command)
	c.Server.Addr = getEnv("CHUNKSCRIBE_ADDR", c.Server.Addr)
	c.Store.Path = getEnv("CHUNKSCRIBE_DB", c.Store.Path)
	c.Tools.FFmpegPath = getEnv("FFMPEG_PATH", c.Tools.FFmpegPath)
	c.Tools.FFprobePath = getEnv("FFPROBE_PATH", c.Tools.FFprobePath)
	c.Engine.APIURL = getEnv("WHISPER_API_URL", c.Engine.APIURL)
	c.Engine.Mode = whisper.EngineMode(getEnv("WHISPER_MODE", string(c.Engine.Mode)))
	c.Engine.Model = getEnv("WHISPER_MODEL", c.Engine.Model)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("CHUNKSCRIBE_LOG_FILE", c.Log.File)

	if v := os.Getenv("CHUNKSCRIBE_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CHUNKSCRIBE_CONCURRENCY %q: %w", v, err)
		}
		c.Concurrency = n
	}
	if v := os.Getenv("CHUNKSCRIBE_TRACING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CHUNKSCRIBE_TRACING %q: %w", v, err)
		}
		c.Telemetry.Enabled = b
	}
	if v := os.Getenv("CHUNKSCRIBE_HEALTH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CHUNKSCRIBE_HEALTH %q: %w", v, err)
		}
		c.Health.Enabled = b
	}
	return nil
}

// ResolvePaths 将工作目录、运行库与日志文件转为绝对路径。
// 相对路径在切片路径里会留下 ".."，命令参数校验会拒绝
func (c *Config) ResolvePaths() error {
	for _, p := range []*string{&c.WorkDir, &c.Log.File, &c.Store.Path} {
		if strings.TrimSpace(*p) == "" || *p == ":memory:" || strings.HasPrefix(*p, "file:") {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("failed to resolve path %q: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// Validate 验证配置的有效性，一次性返回全部问题
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.WorkDir) == "" {
		problems = append(problems, "work_dir is required")
	}
	if c.Concurrency < 0 {
		problems = append(problems, fmt.Sprintf("concurrency must be >= 0, got %d", c.Concurrency))
	}

	switch c.Engine.Mode {
	case whisper.ModeCLI, "":
		if err := validateEngineCommand(c.Engine.Command); err != nil {
			problems = append(problems, err.Error())
		}
	case whisper.ModeHTTP:
		if c.Engine.APIURL == "" {
			problems = append(problems, "engine.api_url is required in http mode")
		}
	case whisper.ModeMock:
	default:
		problems = append(problems, fmt.Sprintf("invalid engine.mode: %s (must be cli, http or mock)", c.Engine.Mode))
	}

	if c.Health.Enabled {
		if c.Health.Interval <= 0 {
			problems = append(problems, "health.interval must be > 0")
		}
		if c.Health.FailThreshold < 1 {
			problems = append(problems, "health.fail_threshold must be >= 1")
		}
	}

	if err := c.Planner.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Coordinator.MaxRetries < 0 {
		problems = append(problems, "coordinator.max_retries must be >= 0")
	}
	if c.Merger.DuplicateThreshold < 0 || c.Merger.DuplicateThreshold > 1 {
		problems = append(problems, "merger.duplicate_threshold must be in [0, 1]")
	}

	if c.Server.MaxConcurrentRuns < 1 {
		problems = append(problems, "server.max_concurrent_runs must be >= 1")
	}

	validLogLevels := map[string]bool{"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		problems = append(problems, fmt.Sprintf("invalid log level: %s (must be: debug, info, warn, error)", c.Log.Level))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// ExecutorConfig derives the command executor settings.
func (c *Config) ExecutorConfig() dependency.ExecutorConfig {
	paths := map[string]string{
		"ffmpeg":  c.Tools.FFmpegPath,
		"ffprobe": c.Tools.FFprobePath,
	}
	allowed := slices.Clone(c.Tools.AllowedCommands)
	if len(allowed) == 0 {
		allowed = []string{"ffmpeg", "ffprobe"}
		for _, e := range []whisper.EngineConfig{c.Engine, c.Health.Fallback} {
			for _, tmpl := range []string{e.Command, e.HealthCommand} {
				if prog := programOf(tmpl); prog != "" && !slices.Contains(allowed, prog) {
					allowed = append(allowed, prog)
				}
			}
		}
	}
	return dependency.ExecutorConfig{
		WorkDir:          c.WorkDir,
		LocalBinaryPaths: paths,
		DefaultTimeout:   c.Tools.DefaultTimeout,
		KillGrace:        c.Tools.KillGrace,
		AllowedCommands:  allowed,
	}
}

func validateEngineCommand(tmpl string) error {
	words, err := shellwords.Parse(tmpl)
	if err != nil {
		return fmt.Errorf("engine.command cannot be parsed: %v", err)
	}
	if len(words) == 0 {
		return fmt.Errorf("engine.command is required in cli mode")
	}
	if !strings.Contains(strings.Join(words[1:], " "), "{audio}") {
		return fmt.Errorf("engine.command must contain the {audio} placeholder")
	}
	return nil
}

func programOf(tmpl string) string {
	words, err := shellwords.Parse(tmpl)
	if err != nil || len(words) == 0 {
		return ""
	}
	return words[0]
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
