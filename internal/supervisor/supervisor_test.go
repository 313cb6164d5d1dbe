package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestHelperProcess isn't a real test. It's the fake backend the supervisor
// spawns in these tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) == 0 {
		os.Exit(2)
	}

	switch args[0] {
	case "crash":
		fmt.Fprintln(os.Stderr, "fatal: crashing")
		os.Exit(1)
	case "crash-once":
		marker := args[1]
		if _, err := os.Stat(marker); os.IsNotExist(err) {
			os.WriteFile(marker, nil, 0o600)
			os.Exit(1)
		}
		fmt.Println("ready")
		time.Sleep(time.Minute)
	case "env":
		for _, key := range []string{"FROM_FILE", "EXTRA", "PYTHONUNBUFFERED"} {
			fmt.Printf("%s=%s\n", key, os.Getenv(key))
		}
		time.Sleep(time.Minute)
	case "sleep":
		fmt.Println("ready")
		time.Sleep(time.Minute)
	case "ignore-term":
		signal.Ignore(syscall.SIGTERM)
		fmt.Println("ready")
		time.Sleep(time.Minute)
	}
	os.Exit(0)
}

func helperConfig(t *testing.T, mode ...string) Config {
	t.Helper()
	return Config{
		Command:         os.Args[0],
		Args:            append([]string{"-test.run=TestHelperProcess", "--"}, mode...),
		Env:             map[string]string{"GO_WANT_HELPER_PROCESS": "1"},
		Host:            "127.0.0.1",
		Port:            freeTCPPort(t),
		HealthInterval:  50 * time.Millisecond,
		RestartDelay:    20 * time.Millisecond,
		StopTimeout:     300 * time.Millisecond,
		PortReleaseWait: 20 * time.Millisecond,
		MaxRestarts:     5,
		RestartWindow:   time.Hour,
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func healthy(context.Context) error { return nil }

func unhealthy(context.Context) error { return errors.New("connection refused") }

func stopOnCleanup(t *testing.T, s *Supervisor) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
}

func hasLogLine(logs *observer.ObservedLogs, msg string) func() bool {
	return func() bool {
		return logs.FilterMessage(msg).Len() > 0
	}
}

func TestPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	assert.True(t, PortInUse("127.0.0.1", port))
	ln.Close()
	assert.False(t, PortInUse("127.0.0.1", port))
}

func TestParseNetstatPIDs(t *testing.T) {
	out := []byte(`
Active Connections

  Proto  Local Address          Foreign Address        State           PID
  TCP    0.0.0.0:135            0.0.0.0:0              LISTENING       1012
  TCP    127.0.0.1:8000         0.0.0.0:0              LISTENING       4242
  TCP    127.0.0.1:8000         127.0.0.1:51000        ESTABLISHED     4242
  TCP    [::1]:8000             [::]:0                 LISTENING       4242
  TCP    127.0.0.1:18000        0.0.0.0:0              LISTENING       777
  TCP    0.0.0.0:8000           0.0.0.0:0              LISTENING       5151
`)
	assert.Equal(t, []int{4242, 5151}, parseNetstatPIDs(out, 8000))
	assert.Empty(t, parseNetstatPIDs(out, 9999))
}

func TestLineWriter(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	w := newLineWriter(zap.New(core), "stdout")

	w.Write([]byte("first\r\nsec"))
	w.Write([]byte("ond\n\n"))
	w.Write([]byte("tail"))
	assert.Equal(t, 2, logs.Len())
	w.Flush()

	var got []string
	for _, e := range logs.All() {
		got = append(got, e.Message)
		assert.Equal(t, "stdout", e.ContextMap()["stream"])
	}
	assert.Equal(t, []string{"first", "second", "tail"}, got)
}

func TestSupervisor_StartPassesEnvironment(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("FROM_FILE=file\nEXTRA=from-file\n"), 0o600))

	cfg := helperConfig(t, "env")
	cfg.EnvFile = envPath
	cfg.Env["EXTRA"] = "extra"

	core, logs := observer.New(zap.InfoLevel)
	s := New(cfg, HealthCheckFunc(healthy), zap.New(core), nil)
	stopOnCleanup(t, s)

	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, hasLogLine(logs, "PYTHONUNBUFFERED=1"), 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, logs.FilterMessage("FROM_FILE=file").Len())
	assert.Equal(t, 1, logs.FilterMessage("EXTRA=extra").Len())

	require.Eventually(t, func() bool { return s.State() == StateRunning }, 5*time.Second, 10*time.Millisecond)
	assert.NotZero(t, s.Status().PID)
}

func TestSupervisor_StartTwice(t *testing.T) {
	s := New(helperConfig(t, "sleep"), HealthCheckFunc(healthy), nil, nil)
	stopOnCleanup(t, s)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
}

func TestSupervisor_PortBusy(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("port is freed with taskkill on windows")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := helperConfig(t, "sleep")
	cfg.Port = ln.Addr().(*net.TCPAddr).Port

	s := New(cfg, HealthCheckFunc(healthy), nil, nil)
	err = s.Start(context.Background())
	assert.ErrorIs(t, err, ErrPortBusy)
	assert.Equal(t, StateStopped, s.State())
}

func TestSupervisor_RespawnsAfterCrash(t *testing.T) {
	cfg := helperConfig(t, "crash-once", filepath.Join(t.TempDir(), "crashed"))

	var (
		mu     sync.Mutex
		states []State
	)
	s := New(cfg, HealthCheckFunc(healthy), nil, nil)
	s.OnStateChange(func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})
	stopOnCleanup(t, s)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) > 0 && states[len(states)-1] == StateRunning
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, s.Status().Restarts)
	mu.Lock()
	assert.Equal(t, StateStarting, states[0])
	assert.Contains(t, states, StateRestarting)
	mu.Unlock()
}

func TestSupervisor_CrashLoopFails(t *testing.T) {
	cfg := helperConfig(t, "crash")
	cfg.MaxRestarts = 2

	s := New(cfg, HealthCheckFunc(unhealthy), nil, nil)
	stopOnCleanup(t, s)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.State() == StateFailed }, 5*time.Second, 10*time.Millisecond)

	st := s.Status()
	assert.Equal(t, 2, st.Restarts)
	assert.Contains(t, st.LastError, "backend exited")
	assert.Zero(t, st.PID)
}

func TestSupervisor_RestartRecoversFromFailed(t *testing.T) {
	cfg := helperConfig(t, "crash")
	cfg.MaxRestarts = 1

	s := New(cfg, HealthCheckFunc(healthy), nil, nil)
	stopOnCleanup(t, s)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.State() == StateFailed }, 5*time.Second, 10*time.Millisecond)

	s.cfg.Args = []string{"-test.run=TestHelperProcess", "--", "sleep"}
	require.NoError(t, s.Restart(context.Background()))
	require.Eventually(t, func() bool { return s.State() == StateRunning }, 5*time.Second, 10*time.Millisecond)
}

func TestSupervisor_UnhealthyAliveIsReplaced(t *testing.T) {
	cfg := helperConfig(t, "sleep")

	var calls atomic.Int32
	check := HealthCheckFunc(func(context.Context) error {
		if calls.Add(1) <= 2 {
			return errors.New("stuck")
		}
		return nil
	})

	core, logs := observer.New(zap.DebugLevel)
	s := New(cfg, check, zap.New(core), nil)
	stopOnCleanup(t, s)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		return s.State() == StateRunning && s.Status().Restarts >= 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Positive(t, logs.FilterMessage("health check failed, terminating backend").Len())
}

func TestSupervisor_StartupGraceToleratesFailures(t *testing.T) {
	cfg := helperConfig(t, "sleep")
	cfg.StartupGrace = time.Minute

	s := New(cfg, HealthCheckFunc(unhealthy), nil, nil)
	stopOnCleanup(t, s)

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(300 * time.Millisecond)

	st := s.Status()
	assert.Equal(t, StateStarting, st.State)
	assert.Zero(t, st.Restarts)
}

func TestSupervisor_StopIsIdempotent(t *testing.T) {
	s := New(helperConfig(t, "sleep"), nil, nil, nil)
	require.NoError(t, s.Stop(context.Background()))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRunning, s.State())
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())
}

func TestSupervisor_RestartWhenStopped(t *testing.T) {
	s := New(helperConfig(t, "sleep"), nil, nil, nil)
	assert.ErrorIs(t, s.Restart(context.Background()), ErrNotRunning)
}

func TestSupervisor_StartMissingBinary(t *testing.T) {
	cfg := helperConfig(t)
	cfg.Command = filepath.Join(t.TempDir(), "does-not-exist")

	s := New(cfg, nil, nil, nil)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "start backend"))
	assert.Equal(t, StateStopped, s.State())
}

func TestSupervisor_NoRespawnAfterStop(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := New(helperConfig(t, "sleep"), HealthCheckFunc(healthy), zap.New(core), nil)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.State() == StateRunning }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	// Несколько периодов проверки и задержки перезапуска.
	time.Sleep(10 * s.cfg.RestartDelay)

	st := s.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.Zero(t, st.Restarts)
	assert.Zero(t, st.PID)
	assert.Zero(t, logs.FilterMessage("respawning backend").Len())
	assert.Zero(t, logs.FilterMessage("backend exited unexpectedly").Len())
	assert.Equal(t, 1, logs.FilterMessage("backend started").Len())
}

func TestSupervisor_HealthCheckRespawnsDeadBackend(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := New(helperConfig(t, "sleep"), HealthCheckFunc(unhealthy), zap.New(core), nil)
	stopOnCleanup(t, s)

	// Процесс уже вышел, но обработчик выхода о нём не сообщил.
	dead := &process{cmd: exec.Command(os.Args[0]), done: make(chan struct{}), startedAt: time.Now()}
	close(dead.done)

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.limiter = s.newLimiter()
	s.proc = dead
	s.state = StateRunning
	ctx := s.ctx
	s.mu.Unlock()

	s.checkHealth(ctx)
	assert.Equal(t, 1, logs.FilterMessage("health check failed, backend is dead").Len())
	assert.Zero(t, logs.FilterMessage("health check failed, terminating backend").Len())

	require.Eventually(t, func() bool {
		st := s.Status()
		return st.Restarts == 1 && st.PID != 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateStarting, s.State())
	assert.Equal(t, 1, logs.FilterMessage("respawning backend").Len())
}

func TestSupervisor_StopSweepsPort(t *testing.T) {
	s := New(helperConfig(t, "sleep"), nil, nil, nil)

	var (
		swept      []int
		pidAtSweep = -1
	)
	var ln net.Listener
	s.freePort = func(_ context.Context, port int, _ *zap.Logger) error {
		swept = append(swept, port)
		pidAtSweep = s.Status().PID
		return ln.Close()
	}

	require.NoError(t, s.Start(context.Background()))

	// Порт занят "осиротевшим" слушателем, пока бэкенд работает.
	var err error
	ln, err = net.Listen("tcp", net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)))
	require.NoError(t, err)

	require.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, []int{s.cfg.Port}, swept)
	assert.Zero(t, pidAtSweep, "port is swept after the process exited")
	assert.False(t, PortInUse(s.cfg.Host, s.cfg.Port))
}

func TestSupervisor_RestartDuringPortWait(t *testing.T) {
	cfg := helperConfig(t, "sleep")
	cfg.PortReleaseWait = 300 * time.Millisecond

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)))
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	s := New(cfg, nil, zap.New(core), nil)
	s.freePort = func(context.Context, int, *zap.Logger) error {
		return ln.Close()
	}
	stopOnCleanup(t, s)

	started := make(chan error, 1)
	go func() { started <- s.Start(context.Background()) }()

	require.Eventually(t, hasLogLine(logs, "backend port is busy, trying to free it"), 5*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Restart(context.Background()), ErrNotRunning)

	require.NoError(t, <-started)
	assert.Equal(t, StateRunning, s.State())
	assert.Zero(t, s.Status().Restarts)
	assert.Equal(t, 1, logs.FilterMessage("backend started").Len())
}
