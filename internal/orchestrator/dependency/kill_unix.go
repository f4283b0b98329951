//go:build unix

package dependency

import (
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate signals the whole process group so engine helpers die with the parent.
func terminate(p *os.Process, done <-chan struct{}, grace time.Duration) {
	pgid := -p.Pid
	if err := unix.Kill(pgid, unix.SIGTERM); err != nil && err != unix.ESRCH {
		slog.Warn("[LocalExecutor] SIGTERM failed", "pid", p.Pid, "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	}

	if err := unix.Kill(pgid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		slog.Warn("[LocalExecutor] SIGKILL failed", "pid", p.Pid, "error", err)
	}
}
