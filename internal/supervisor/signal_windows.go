//go:build windows

package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"

	"go.uber.org/zap"
)

const createNoWindow = 0x08000000

func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
	cmd.SysProcAttr.CreationFlags |= createNoWindow | syscall.CREATE_NEW_PROCESS_GROUP
}

// terminateProcess просит дерево процессов завершиться (taskkill /T).
func terminateProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return taskkill(context.Background(), "/T", "/PID", strconv.Itoa(cmd.Process.Pid))
}

// killProcess принудительно завершает дерево процессов (taskkill /F /T).
func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := taskkill(context.Background(), "/F", "/T", "/PID", strconv.Itoa(cmd.Process.Pid)); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}

// freePort завершает процессы, слушающие port, найденные через netstat -ano.
func freePort(ctx context.Context, port int, logger *zap.Logger) error {
	cmd := exec.CommandContext(ctx, "netstat", "-ano", "-p", "TCP")
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: createNoWindow}
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("netstat: %w", err)
	}

	pids := parseNetstatPIDs(out, port)
	if len(pids) == 0 {
		return fmt.Errorf("no process found listening on port %d", port)
	}

	var firstErr error
	for _, pid := range pids {
		logger.Info("killing process holding backend port", zap.Int("pid", pid), zap.Int("port", port))
		if err := taskkill(ctx, "/F", "/T", "/PID", strconv.Itoa(pid)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func taskkill(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "taskkill", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: createNoWindow}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("taskkill %v: %w: %s", args, err, out)
	}
	return nil
}
