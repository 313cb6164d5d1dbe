package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type stopLog struct {
	mu    sync.Mutex
	order []string
}

func (l *stopLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, name)
}

func (l *stopLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

func waitStage(log *stopLog, name string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		<-ctx.Done()
		// Сдвигает завершение, чтобы порядок зависел от runner, а не от планировщика.
		time.Sleep(5 * time.Millisecond)
		log.add(name)
		return ctx.Err()
	}
}

func TestRunner_StopsStagesInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	log := &stopLog{}

	r := newRunner(ctx, zap.NewNop())
	r.Stage("bridge", waitStage(log, "bridge"))
	r.Stage("poller", waitStage(log, "poller"))
	r.Stage("watcher", waitStage(log, "watcher"))

	done := make(chan error, 1)
	go func() { done <- r.Wait() }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Equal(t, []string{"bridge", "poller", "watcher"}, log.get())
}

func TestRunner_StageErrorStopsOthers(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &stopLog{}
	boom := errors.New("address in use")

	r := newRunner(context.Background(), zap.NewNop())
	r.Stage("bridge", func(context.Context) error { return boom })
	r.Stage("poller", waitStage(log, "poller"))

	err := r.Wait()
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bridge")
	assert.Equal(t, []string{"poller"}, log.get())
}

func TestRunner_WaitsForSelfTerminatingTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan struct{})
	var drained bool

	r := newRunner(ctx, zap.NewNop())
	r.Stage("poller", func(ctx context.Context) error {
		defer close(events)
		<-ctx.Done()
		return ctx.Err()
	})
	r.Go("archive", func() error {
		for range events {
		}
		drained = true
		return nil
	})

	cancel()
	require.NoError(t, r.Wait())
	assert.True(t, drained)
}

func TestRunner_GoError(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newRunner(context.Background(), zap.NewNop())
	r.Stage("poller", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r.Go("archive", func() error { return errors.New("disk full") })

	err := r.Wait()
	require.Error(t, err)
	assert.Equal(t, "archive: disk full", err.Error())
}
