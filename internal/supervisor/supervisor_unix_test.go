//go:build !windows

package supervisor

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSupervisor_StopEscalatesToKill(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := New(helperConfig(t, "ignore-term"), HealthCheckFunc(healthy), zap.New(core), nil)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, hasLogLine(logs, "ready"), 5*time.Second, 10*time.Millisecond)

	pid := s.Status().PID
	require.NotZero(t, pid)

	start := time.Now()
	require.NoError(t, s.Stop(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, StateStopped, s.State())
	assert.Positive(t, logs.FilterMessage("backend did not exit, killing").Len())

	// Процесс группы должен исчезнуть.
	err := syscall.Kill(pid, 0)
	assert.True(t, errors.Is(err, syscall.ESRCH), "process %d still alive: %v", pid, err)
}

