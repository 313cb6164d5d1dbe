package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recallai/internal/backend"
)

type savedSession struct {
	name             string
	lines            []backend.TranscriptLine
	startedAt, ended time.Time
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []savedSession
	err   error
}

func (f *fakeSaver) SaveSession(_ context.Context, name string, lines []backend.TranscriptLine, startedAt, endedAt time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, savedSession{name, lines, startedAt, endedAt})
	return "id", nil
}

func TestSessionName(t *testing.T) {
	ts := time.Date(2026, 3, 4, 9, 7, 0, 0, time.Local)
	assert.Equal(t, "Interview 2026-03-04 09:07", SessionName(ts))
}

func TestArchive_SavesStoppedSession(t *testing.T) {
	t0 := time.Date(2026, 3, 4, 9, 0, 0, 0, time.Local)
	events := make(chan Event, 16)
	events <- Event{Type: EventRunning, Time: t0, Running: true}
	events <- Event{Type: EventTranscript, Time: t0.Add(time.Second), Lines: []backend.TranscriptLine{line("1", "a")}}
	events <- Event{Type: EventCard, Time: t0.Add(2 * time.Second), Card: &backend.Card{ID: "x"}}
	events <- Event{Type: EventTranscript, Time: t0.Add(3 * time.Second), Lines: []backend.TranscriptLine{line("2", "b")}}
	events <- Event{Type: EventRunning, Time: t0.Add(time.Minute), Running: false}
	// Остановка без строк ничего не сохраняет.
	events <- Event{Type: EventRunning, Time: t0.Add(2 * time.Minute), Running: true}
	events <- Event{Type: EventRunning, Time: t0.Add(3 * time.Minute), Running: false}
	close(events)

	saver := &fakeSaver{}
	require.NoError(t, Archive(context.Background(), events, saver, nil))

	require.Len(t, saver.saved, 1)
	got := saver.saved[0]
	assert.Equal(t, "Interview 2026-03-04 09:00", got.name)
	assert.Equal(t, []backend.TranscriptLine{line("1", "a"), line("2", "b")}, got.lines)
	assert.Equal(t, t0, got.startedAt)
	assert.Equal(t, t0.Add(time.Minute), got.ended)
}

func TestArchive_ResetReplacesLines(t *testing.T) {
	t0 := time.Date(2026, 3, 4, 9, 0, 0, 0, time.Local)
	events := make(chan Event, 8)
	events <- Event{Type: EventRunning, Time: t0, Running: true}
	events <- Event{Type: EventTranscript, Time: t0, Lines: []backend.TranscriptLine{line("1", "old")}}
	events <- Event{Type: EventTranscript, Time: t0, Lines: []backend.TranscriptLine{line("1", "fixed"), line("2", "b")}, Reset: true}
	events <- Event{Type: EventBackendLost, Time: t0.Add(time.Minute), Err: "refused"}
	close(events)

	saver := &fakeSaver{}
	require.NoError(t, Archive(context.Background(), events, saver, nil))

	require.Len(t, saver.saved, 1)
	assert.Equal(t, []backend.TranscriptLine{line("1", "fixed"), line("2", "b")}, saver.saved[0].lines)
}

func TestArchive_SavesRunningSessionOnClose(t *testing.T) {
	t0 := time.Date(2026, 3, 4, 9, 0, 0, 0, time.Local)
	events := make(chan Event, 8)
	events <- Event{Type: EventRunning, Time: t0, Running: true}
	events <- Event{Type: EventTranscript, Time: t0, Lines: []backend.TranscriptLine{line("1", "a")}}
	close(events)

	saver := &fakeSaver{}
	require.NoError(t, Archive(context.Background(), events, saver, nil))

	require.Len(t, saver.saved, 1)
	assert.Equal(t, t0, saver.saved[0].startedAt)
	assert.False(t, saver.saved[0].ended.Before(t0))
}

func TestArchive_OutageMidSessionKeepsEveryLine(t *testing.T) {
	running := func(lines ...backend.TranscriptLine) step {
		return ok(backend.PollResponse{IsRunning: true, Transcript: lines})
	}
	a, b, c := line("1", "a"), line("2", "b"), line("3", "c")
	m, ch, cancel := newTestMonitor(
		running(a),
		running(a, b),
		fail(), fail(), fail(),
		running(a, b, c),
		ok(backend.PollResponse{Transcript: []backend.TranscriptLine{a, b, c}}),
	)
	for i := 0; i < 7; i++ {
		m.PollOnce(context.Background())
	}
	cancel()

	saver := &fakeSaver{}
	require.NoError(t, Archive(context.Background(), ch, saver, nil))

	require.Len(t, saver.saved, 2)
	assert.Equal(t, []backend.TranscriptLine{a, b}, saver.saved[0].lines)
	assert.Equal(t, []backend.TranscriptLine{c}, saver.saved[1].lines)
}

func TestArchive_NewSessionDropsStrayLines(t *testing.T) {
	t0 := time.Date(2026, 3, 4, 9, 0, 0, 0, time.Local)
	events := make(chan Event, 8)
	events <- Event{Type: EventTranscript, Time: t0, Lines: []backend.TranscriptLine{line("1", "stale")}}
	events <- Event{Type: EventRunning, Time: t0.Add(time.Second), Running: true}
	events <- Event{Type: EventTranscript, Time: t0.Add(2 * time.Second), Lines: []backend.TranscriptLine{line("1", "fresh")}}
	events <- Event{Type: EventRunning, Time: t0.Add(time.Minute), Running: false}
	close(events)

	saver := &fakeSaver{}
	require.NoError(t, Archive(context.Background(), events, saver, nil))

	require.Len(t, saver.saved, 1)
	assert.Equal(t, []backend.TranscriptLine{line("1", "fresh")}, saver.saved[0].lines)
	assert.Equal(t, t0.Add(time.Second), saver.saved[0].startedAt)
}

func TestArchive_SaveErrorIsNotFatal(t *testing.T) {
	t0 := time.Now()
	events := make(chan Event, 8)
	events <- Event{Type: EventRunning, Time: t0, Running: true}
	events <- Event{Type: EventTranscript, Time: t0, Lines: []backend.TranscriptLine{line("1", "a")}}
	events <- Event{Type: EventRunning, Time: t0, Running: false}
	close(events)

	saver := &fakeSaver{err: errors.New("disk full")}
	assert.NoError(t, Archive(context.Background(), events, saver, nil))
}

func TestArchive_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Archive(ctx, make(chan Event), &fakeSaver{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
