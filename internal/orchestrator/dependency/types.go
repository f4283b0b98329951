// Package dependency provides an abstraction layer for executing external commands
// (ffmpeg, ffprobe, speech engines) as cancelable tasks.
package dependency

import "time"

// CommandRequest encapsulates all information needed to execute a command.
type CommandRequest struct {
	// Command is the binary name or alias (e.g., "ffmpeg", "whisper").
	Command string `json:"command" yaml:"command"`

	// Args are the command-line arguments.
	Args []string `json:"args" yaml:"args"`

	// Env contains extra environment variables.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// WorkingDir is the directory to execute the command in (default: current dir).
	WorkingDir string `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`

	// Timeout is the maximum execution duration (0 means the executor default).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// CommandResponse contains the result of a command execution.
type CommandResponse struct {
	Success  bool          `json:"success" yaml:"success"`
	ExitCode int           `json:"exit_code" yaml:"exit_code"`
	Stdout   string        `json:"stdout" yaml:"stdout"`
	Stderr   string        `json:"stderr" yaml:"stderr"`
	Duration time.Duration `json:"duration_ms" yaml:"duration_ms"`

	// Killed is set when the process was terminated by Cancel (deadline or caller).
	Killed bool `json:"killed,omitempty" yaml:"killed,omitempty"`
}

// ExecutorConfig defines the configuration for dependency execution.
type ExecutorConfig struct {
	// WorkDir is the base directory for run artifacts
	// (e.g., "/tmp/chunkscribe"). Working directories must stay inside it.
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// LocalBinaryPaths maps command names to local binary paths
	// (e.g., {"ffmpeg": "/usr/local/bin/ffmpeg"}).
	LocalBinaryPaths map[string]string `json:"local_binary_paths" yaml:"local_binary_paths"`

	// DefaultTimeout is the default execution timeout for all commands.
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`

	// KillGrace is how long a canceled process group gets between SIGTERM and SIGKILL.
	KillGrace time.Duration `json:"kill_grace" yaml:"kill_grace"`

	// AllowedCommands lists the commands that are permitted to execute
	// (whitelist). Empty list means allow all.
	AllowedCommands []string `json:"allowed_commands" yaml:"allowed_commands"`
}

// DefaultKillGrace 默认 SIGTERM 到 SIGKILL 的等待时间
const DefaultKillGrace = 2 * time.Second

func (c ExecutorConfig) killGrace() time.Duration {
	if c.KillGrace <= 0 {
		return DefaultKillGrace
	}
	return c.KillGrace
}
