package startup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"recallai/internal/i18n"
	"recallai/internal/supervisor"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name      string
		status    supervisor.Status
		key       string
		substatus string
		ready     bool
	}{
		{"stopped", supervisor.Status{State: supervisor.StateStopped}, "startup_starting", "", false},
		{"spawning", supervisor.Status{State: supervisor.StateStarting}, "startup_starting", "", false},
		{"waiting for health", supervisor.Status{State: supervisor.StateStarting, PID: 42}, "startup_waiting", "", false},
		{"restarting", supervisor.Status{State: supervisor.StateRestarting, LastError: "exit status 1"}, "startup_restarting", "exit status 1", false},
		{"failed", supervisor.Status{State: supervisor.StateFailed, LastError: "crash loop"}, "startup_failed", "crash loop", false},
		{"running", supervisor.Status{State: supervisor.StateRunning, PID: 42}, "startup_ready", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, substatus, ready := Describe(tt.status)
			assert.Equal(t, i18n.T(tt.key), status)
			assert.Equal(t, tt.substatus, substatus)
			assert.Equal(t, tt.ready, ready)
		})
	}
}

func TestFollowWithoutWindow(t *testing.T) {
	w := New()
	assert.False(t, w.IsVisible())

	assert.False(t, w.Follow(supervisor.Status{State: supervisor.StateFailed, LastError: "boom"}))
	v := w.snapshot()
	assert.Equal(t, i18n.T("startup_failed"), v.status)
	assert.Equal(t, "boom", v.substatus)
	assert.True(t, v.failed)

	w.SetStatus("custom", "")
	assert.False(t, w.snapshot().failed)

	assert.True(t, w.Follow(supervisor.Status{State: supervisor.StateRunning}))
	w.Hide()
}

func TestTimerRestartsOnStatusChange(t *testing.T) {
	w := New()
	w.mu.Lock()
	w.view.since = time.Now().Add(-time.Minute)
	w.mu.Unlock()

	w.SetStatus(i18n.T("startup_starting"), "still going")
	assert.WithinDuration(t, time.Now().Add(-time.Minute), w.snapshot().since, time.Second)

	w.SetStatus("other", "")
	assert.WithinDuration(t, time.Now(), w.snapshot().since, time.Second)
}

func TestElapsed(t *testing.T) {
	assert.Equal(t, "0s", elapsed(300*time.Millisecond))
	assert.Equal(t, "42s", elapsed(42*time.Second))
	assert.Equal(t, "1m05s", elapsed(65*time.Second))
}

func TestPulseStaysVisible(t *testing.T) {
	base := time.UnixMilli(0)
	for ms := int64(0); ms < pulsePeriod.Milliseconds(); ms += 50 {
		for i := range dotCount {
			a := pulse(base.Add(time.Duration(ms)*time.Millisecond), i)
			assert.GreaterOrEqual(t, a, uint8(70))
		}
	}
	assert.NotEqual(t, pulse(base, 0), pulse(base, 1), "dots are out of phase")
}
