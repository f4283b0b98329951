package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/chunkscribe/internal/orchestrator/whisper"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunkscribe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "auto", cfg.Language)
	assert.Equal(t, 40, cfg.Planner.MaxChunks)
	assert.Equal(t, 2, cfg.Coordinator.MaxRetries)
	assert.Equal(t, 5.0, cfg.Merger.OverlapToleranceSec)
}

func TestLoad(t *testing.T) {
	t.Run("file overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
work_dir: /var/tmp/cs
language: zh
concurrency: 4
engine:
  mode: http
  api_url: http://localhost:8082
  model: small
coordinator:
  max_retries: 1
  base_overhead: 45s
tools:
  kill_grace: 500ms
store:
  path: /var/lib/chunkscribe/runs.db
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "/var/tmp/cs", cfg.WorkDir)
		assert.Equal(t, "zh", cfg.Language)
		assert.Equal(t, 4, cfg.Concurrency)
		assert.Equal(t, whisper.ModeHTTP, cfg.Engine.Mode)
		assert.Equal(t, "small", cfg.Engine.Model)
		assert.Equal(t, 1, cfg.Coordinator.MaxRetries)
		assert.Equal(t, 45*time.Second, cfg.Coordinator.BaseOverhead)
		// 未出现的字段保持默认
		assert.Equal(t, 1.5, cfg.Coordinator.DeadlineFactor)
		assert.Equal(t, 500*time.Millisecond, cfg.Tools.KillGrace)
		assert.Equal(t, "/var/lib/chunkscribe/runs.db", cfg.Store.Path)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorContains(t, err, "failed to read config file")
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "engine: [unclosed"))
		assert.ErrorContains(t, err, "failed to parse config")
	})

	t.Run("relative paths become absolute", func(t *testing.T) {
		base := t.TempDir()
		sub := filepath.Join(base, "app")
		require.NoError(t, os.Mkdir(sub, 0o755))
		t.Chdir(sub)

		cfg, err := Load(writeConfig(t, `
work_dir: ../work
store:
  path: runs/history.db
log:
  file: ""
`))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(base, "work"), cfg.WorkDir)
		assert.Equal(t, filepath.Join(sub, "runs", "history.db"), cfg.Store.Path)
		assert.Empty(t, cfg.Log.File)
		assert.NotContains(t, cfg.WorkDir, "..")
	})

	t.Run("empty path uses defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, whisper.ModeCLI, cfg.Engine.Mode)
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CHUNKSCRIBE_WORK_DIR", "/scratch")
	t.Setenv("FFMPEG_PATH", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("WHISPER_MODE", "mock")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CHUNKSCRIBE_CONCURRENCY", "3")
	t.Setenv("CHUNKSCRIBE_TRACING", "true")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, "/scratch", cfg.WorkDir)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.Tools.FFmpegPath)
	assert.Equal(t, whisper.ModeMock, cfg.Engine.Mode)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("CHUNKSCRIBE_CONCURRENCY", "many")
	assert.ErrorContains(t, Default().ApplyEnv(), "CHUNKSCRIBE_CONCURRENCY")
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.WorkDir = " "
	cfg.Engine.Command = "whisper-cli -m base.bin"
	cfg.Planner.MaxChunks = 0
	cfg.Log.Level = "loud"
	cfg.Server.MaxConcurrentRuns = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "work_dir is required")
	assert.Contains(t, msg, "{audio}")
	assert.Contains(t, msg, "max_chunks")
	assert.Contains(t, msg, "invalid log level")
	assert.Contains(t, msg, "max_concurrent_runs")
}

func TestValidateEngineModes(t *testing.T) {
	cfg := Default()
	cfg.Engine.Mode = whisper.ModeHTTP
	assert.ErrorContains(t, cfg.Validate(), "api_url")

	cfg.Engine.Mode = "grpc"
	assert.ErrorContains(t, cfg.Validate(), "invalid engine.mode")

	cfg.Engine.Mode = whisper.ModeMock
	assert.NoError(t, cfg.Validate())
}

func TestExecutorConfig(t *testing.T) {
	cfg := Default()
	cfg.Tools.FFprobePath = "/usr/local/bin/ffprobe"
	cfg.Engine.Command = `"/opt/whisper cpp/main" -f {audio}`

	ec := cfg.ExecutorConfig()

	assert.Equal(t, cfg.WorkDir, ec.WorkDir)
	assert.Equal(t, "/usr/local/bin/ffprobe", ec.LocalBinaryPaths["ffprobe"])
	assert.Equal(t, []string{"ffmpeg", "ffprobe", "/opt/whisper cpp/main"}, ec.AllowedCommands)

	cfg.Tools.AllowedCommands = []string{"ffmpeg"}
	assert.Equal(t, []string{"ffmpeg"}, cfg.ExecutorConfig().AllowedCommands)
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "chunkscribe.example.yaml"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Planner.Tiers, cfg.Planner.Tiers)
	assert.Equal(t, def.Coordinator.MaxDeadline, cfg.Coordinator.MaxDeadline)
	assert.Equal(t, def.Tools.KillGrace, cfg.Tools.KillGrace)
	assert.Equal(t, whisper.ModeMock, cfg.Health.Fallback.Mode)
	assert.Equal(t, int64(2), cfg.Server.MaxConcurrentRuns)
}
