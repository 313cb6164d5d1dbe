package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"recallai/internal/backend"
	"recallai/internal/config"
	"recallai/internal/kb"
	"recallai/internal/notify"
	"recallai/internal/overlay"
	"recallai/internal/session"
	"recallai/internal/startup"
	"recallai/internal/supervisor"
	"recallai/internal/tray"
)

func TestTrayState(t *testing.T) {
	tests := []struct {
		name  string
		state uiState
		want  tray.State
	}{
		{"stopped", uiState{backend: supervisor.StateStopped, reachable: true}, tray.StateOffline},
		{"starting", uiState{backend: supervisor.StateStarting, reachable: true}, tray.StateStarting},
		{"restarting", uiState{backend: supervisor.StateRestarting}, tray.StateStarting},
		{"ready", uiState{backend: supervisor.StateRunning, reachable: true}, tray.StateReady},
		{"recording", uiState{backend: supervisor.StateRunning, reachable: true, recording: true}, tray.StateRecording},
		{"unreachable", uiState{backend: supervisor.StateRunning, recording: true}, tray.StateOffline},
		{"failed", uiState{backend: supervisor.StateFailed, reachable: true}, tray.StateFailed},
		{"stopping", uiState{backend: supervisor.StateStopping, reachable: true}, tray.StateOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.trayState())
		})
	}
}

// newUIApp собирает App без бэкенда и окон: уведомления выключены,
// трей не запущен.
func newUIApp(t *testing.T) *App {
	t.Helper()
	store, err := kb.Open(kb.MemoryPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	a := &App{
		cfg:        config.New("", config.Default()),
		store:      store,
		notifier:   notify.New(false, nil),
		overlay:    overlay.New(overlay.DefaultConfig(), nil),
		startupWin: startup.New(),
		supervisor: supervisor.New(supervisor.Config{Command: "true"}, nil, nil, nil),
		ui:         uiState{backend: supervisor.StateRunning, reachable: true},
	}
	a.tray = tray.New(tray.Callbacks{}, false, nil)
	a.logger = zap.NewNop()
	return a
}

func TestHandleEvents(t *testing.T) {
	a := newUIApp(t)

	events := make(chan session.Event, 8)
	events <- session.Event{Type: session.EventRunning, Running: true}
	close(events)
	a.handleEvents(events)
	assert.Equal(t, tray.StateRecording, a.ui.trayState())

	events = make(chan session.Event, 8)
	events <- session.Event{Type: session.EventBackendLost, Err: "connection refused"}
	close(events)
	a.handleEvents(events)
	assert.False(t, a.ui.reachable)
	assert.False(t, a.ui.recording, "losing the backend ends the interview")
	assert.Equal(t, tray.StateOffline, a.ui.trayState())

	events = make(chan session.Event, 8)
	events <- session.Event{Type: session.EventBackendBack}
	events <- session.Event{Type: session.EventRunning, Running: false}
	close(events)
	a.handleEvents(events)
	assert.Equal(t, tray.StateReady, a.ui.trayState())
	assert.False(t, a.overlay.IsVisible())
}

func TestOnBackendState(t *testing.T) {
	a := newUIApp(t)
	a.ui = uiState{backend: supervisor.StateStopped, reachable: false}
	a.setContext(context.WithCancel(context.Background()))
	defer a.cancel()

	a.onBackendState(supervisor.StateStarting)
	assert.Equal(t, tray.StateStarting, a.ui.trayState())
	assert.False(t, a.startupDone)

	a.onBackendState(supervisor.StateRunning)
	assert.True(t, a.ui.wasReady)
	assert.True(t, a.ui.reachable)
	assert.Equal(t, tray.StateReady, a.ui.trayState())

	a.ui.recording = true
	a.onBackendState(supervisor.StateRestarting)
	assert.False(t, a.ui.recording)
	assert.True(t, a.ui.wasReady)
}

func TestArchiveSaver(t *testing.T) {
	a := newUIApp(t)
	saver := archiveSaver{store: a.store, notifier: a.notifier}

	start := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	lines := []backend.TranscriptLine{{Timestamp: "00:01", Text: "hello"}}
	id, err := saver.SaveSession(context.Background(), "Interview", lines, start, start.Add(time.Minute))
	require.NoError(t, err)

	got, err := a.store.GetTranscript(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Interview", got.Name)
	assert.Equal(t, lines, got.Lines)
}

func TestNewWiresComponents(t *testing.T) {
	s := config.Default()
	s.Data.Dir = t.TempDir()
	s.Bridge.Addr = "127.0.0.1:0"

	a, err := New(config.New("", s), nil)
	require.NoError(t, err)
	t.Cleanup(a.close)

	assert.NotNil(t, a.bridge)
	assert.Equal(t, supervisor.StateStopped, a.supervisor.State())

	families, err := a.registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "recallai_backend_up")
	assert.Contains(t, names, "go_goroutines")
}

func TestNewWithoutBridge(t *testing.T) {
	s := config.Default()
	s.Data.Dir = t.TempDir()
	s.Bridge.Enabled = false

	a, err := New(config.New("", s), nil)
	require.NoError(t, err)
	t.Cleanup(a.close)
	assert.Nil(t, a.bridge)
}
