package dependency

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/houzhh15/chunkscribe/pkg/metrics"
)

// LocalExecutor executes commands directly on the local system.
type LocalExecutor struct {
	config ExecutorConfig
}

// NewLocalExecutor creates a new LocalExecutor with the given configuration.
func NewLocalExecutor(config ExecutorConfig) *LocalExecutor {
	return &LocalExecutor{config: config}
}

// NewTask builds an unstarted Task for the request.
func (e *LocalExecutor) NewTask(req CommandRequest) (Task, error) {
	binaryPath, err := e.resolveBinaryPath(req.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve binary path for %s: %w", req.Command, err)
	}

	cmd := exec.Command(binaryPath, req.Args...)
	cmd.Env = append(os.Environ(), buildEnvSlice(req.Env)...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	// 独立进程组，超时时整组终止
	configureProcAttr(cmd)
	// 孙进程持有管道时 Wait 不会无限阻塞
	cmd.WaitDelay = e.config.killGrace()

	return &processTask{
		cmd:   cmd,
		grace: e.config.killGrace(),
		done:  make(chan struct{}),
	}, nil
}

// ExecuteCommand executes a command locally and returns the result.
func (e *LocalExecutor) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = e.config.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	task, err := e.NewTask(req)
	if err != nil {
		metrics.RecordCommandExecution(req.Command, "failed")
		return CommandResponse{}, err
	}
	if err := task.Start(); err != nil {
		metrics.RecordCommandExecution(req.Command, "failed")
		return CommandResponse{}, fmt.Errorf("failed to start %s: %w", req.Command, err)
	}

	select {
	case <-task.Done():
	case <-ctx.Done():
		task.Cancel()
		<-task.Done()
	}

	resp, runErr := task.Result()
	metrics.RecordCommandDuration(req.Command, resp.Duration.Seconds())

	if resp.Killed && ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			metrics.RecordCommandExecution(req.Command, "timeout")
			return resp, fmt.Errorf("command execution timeout (%v): %s: %w", timeout, req.Command, ctx.Err())
		}
		metrics.RecordCommandExecution(req.Command, "canceled")
		return resp, fmt.Errorf("command canceled: %s: %w", req.Command, ctx.Err())
	}

	if runErr != nil {
		metrics.RecordCommandExecution(req.Command, "failed")
		return resp, runErr
	}
	metrics.RecordCommandExecution(req.Command, "success")
	return resp, nil
}

// HealthCheck verifies that all configured local binaries are available.
func (e *LocalExecutor) HealthCheck(ctx context.Context) error {
	for cmd, path := range e.config.LocalBinaryPaths {
		if _, err := exec.LookPath(path); err != nil {
			return fmt.Errorf("local command %s not available at %s: %w", cmd, path, err)
		}
	}
	return nil
}

// resolveBinaryPath resolves the binary path from config or PATH environment.
func (e *LocalExecutor) resolveBinaryPath(command string) (string, error) {
	if path, ok := e.config.LocalBinaryPaths[command]; ok && path != "" {
		return exec.LookPath(path)
	}
	return exec.LookPath(command)
}

func buildEnvSlice(envMap map[string]string) []string {
	var result []string
	for k, v := range envMap {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// getExitCode extracts exit code from error.
func getExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// processTask runs one process group and implements Task.
type processTask struct {
	cmd   *exec.Cmd
	grace time.Duration

	stdout, stderr bytes.Buffer

	mu       sync.Mutex
	started  time.Time
	killed   bool
	resp     CommandResponse
	err      error
	done     chan struct{}
	stopOnce sync.Once
}

func (t *processTask) Start() error {
	t.cmd.Stdout = &t.stdout
	t.cmd.Stderr = &t.stderr

	t.started = time.Now()
	if err := t.cmd.Start(); err != nil {
		close(t.done)
		t.err = err
		return err
	}

	go func() {
		err := t.cmd.Wait()
		t.mu.Lock()
		t.resp = CommandResponse{
			Success:  err == nil,
			ExitCode: getExitCode(err),
			Stdout:   t.stdout.String(),
			Stderr:   t.stderr.String(),
			Duration: time.Since(t.started),
			Killed:   t.killed,
		}
		t.err = err
		t.mu.Unlock()
		close(t.done)
	}()
	return nil
}

func (t *processTask) Done() <-chan struct{} { return t.done }

// Cancel terminates the process group: SIGTERM first, SIGKILL once the grace period expires.
func (t *processTask) Cancel() {
	if t.cmd.Process == nil {
		return
	}
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.killed = true
		t.mu.Unlock()
		go terminate(t.cmd.Process, t.done, t.grace)
	})
}

func (t *processTask) Result() (CommandResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resp, t.err
}
