//go:build !unix

package dependency

import (
	"os"
	"os/exec"
	"time"
)

func configureProcAttr(cmd *exec.Cmd) {}

// 非 unix 平台没有进程组信号，直接 Kill
func terminate(p *os.Process, done <-chan struct{}, grace time.Duration) {
	_ = p.Kill()
}
