package envfile

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nAPI_KEY=abc\nMODEL=\"small\"\n"), 0o600))

	values, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"API_KEY": "abc", "MODEL": "small"}, values)
}

func TestLoad_Missing(t *testing.T) {
	values, err := Load(filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	assert.Empty(t, values)

	values, err = Load("")
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestMerge(t *testing.T) {
	base := []string{"PATH=/bin", "HOME=/root", "PATH=/dup"}
	got := Merge(base,
		map[string]string{"HOME": "/home/a", "ZED": "1", "ALPHA": "x"},
		map[string]string{"ALPHA": "y", "PYTHONUNBUFFERED": "1"},
	)

	assert.Equal(t, []string{
		"PATH=/bin",
		"HOME=/home/a",
		"ALPHA=y",
		"PYTHONUNBUFFERED=1",
		"ZED=1",
	}, got)
}

func TestMerge_NoOverlays(t *testing.T) {
	assert.Equal(t, []string{"A=1"}, Merge([]string{"A=1"}))
}

func TestWatch_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("A=1\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 200*time.Millisecond, nil, func() { calls.Add(1) })
	}()

	// Даём watcher'у подписаться на директорию.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("A=2\n"), 0o600))
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
