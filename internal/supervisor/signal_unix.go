//go:build !windows

package supervisor

import (
	"context"
	"os/exec"
	"syscall"

	"go.uber.org/zap"
)

// setupProcessGroup запускает бэкенд в собственной группе процессов,
// чтобы сигналы доходили и до его потомков.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func terminateProcess(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGTERM)
}

func killProcess(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
		if err := syscall.Kill(-pgid, sig); err == nil {
			return nil
		}
	}
	return cmd.Process.Signal(sig)
}

func freePort(_ context.Context, _ int, _ *zap.Logger) error {
	return errFreePortUnsupported
}
