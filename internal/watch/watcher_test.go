package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *recorder) handle(_ context.Context, changed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, changed)
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

func startWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	// Give fsnotify a moment to register the directory.
	time.Sleep(50 * time.Millisecond)
}

func TestWatcherBatchesChanges(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w, err := New(rec.handle, Options{
		Debounce: 100 * time.Millisecond,
		Include:  func(name string) bool { return strings.HasSuffix(name, ".csv") },
	}, dir)
	require.NoError(t, err)
	startWatcher(t, w)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte("date,value\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("date,value\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("date,value\n2020-01-01,1\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.csv"), []byte("ignored"), 0o600))

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	batches := rec.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"a.csv", "b.csv"}, batches[0])
}

func TestWatcherReportsRemovals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o600))

	rec := &recorder{}
	w, err := New(rec.handle, Options{Debounce: 50 * time.Millisecond}, dir, dir)
	require.NoError(t, err)
	startWatcher(t, w)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		for _, batch := range rec.snapshot() {
			for _, name := range batch {
				if name == "gone.json" {
					return true
				}
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, Options{}, t.TempDir())
	require.Error(t, err)
	_, err = New(func(context.Context, []string) {}, Options{})
	require.Error(t, err)
}

func TestRunFailsForMissingDirectory(t *testing.T) {
	w, err := New(func(context.Context, []string) {}, Options{}, filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.Error(t, w.Run(context.Background()))
}
