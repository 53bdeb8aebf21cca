package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/fileindex-mcp/internal/walker"
	"github.com/dshills/fileindex-mcp/pkg/types"
)

type recordingEnqueuer struct {
	mu       sync.Mutex
	requests []types.EnqueuedScan
	err      error
}

func (r *recordingEnqueuer) Enqueue(req types.EnqueuedScan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.requests = append(r.requests, req)
	return nil
}

func (r *recordingEnqueuer) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, req.Path)
	}
	return out
}

func testConfig() Config {
	opts := walker.DefaultOptions()
	opts.ExcludedPaths = nil
	return Config{
		Depth:               2,
		Debounce:            50 * time.Millisecond,
		MaxRescansPerSecond: 100,
		Walker:              opts,
	}
}

func startWatcher(t *testing.T, target Enqueuer, roots []string, config Config) *Watcher {
	t.Helper()
	w, err := New(target, roots, config, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	require.Eventually(t, func() bool { return w.WatchedCount() > 0 }, 2*time.Second, 10*time.Millisecond)
	return w
}

func TestWatcher_QueuesRescanOfChangedDirectory(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "docs")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	target := &recordingEnqueuer{}
	startWatcher(t, target, []string{root}, testConfig())

	require.NoError(t, os.WriteFile(filepath.Join(sub, "new.md"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		for _, p := range target.paths() {
			if p == sub {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	target.mu.Lock()
	defer target.mu.Unlock()
	for _, req := range target.requests {
		assert.Equal(t, types.ScanKindIncremental, req.Kind)
		require.NotNil(t, req.MaxDepth)
		assert.Equal(t, 1, *req.MaxDepth)
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	root := t.TempDir()
	target := &recordingEnqueuer{}
	config := testConfig()
	config.Debounce = 300 * time.Millisecond
	startWatcher(t, target, []string{root}, config)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "burst.txt"), []byte{byte(i)}, 0o644))
	}

	require.Eventually(t, func() bool { return len(target.paths()) > 0 }, 5*time.Second, 20*time.Millisecond)
	// Give a second flush the chance to run; the burst must have produced one rescan
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, []string{root}, target.paths())
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	target := &recordingEnqueuer{}
	w := startWatcher(t, target, []string{root}, testConfig())
	before := w.WatchedCount()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "fresh"), 0o755))
	require.Eventually(t, func() bool { return w.WatchedCount() > before }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "fresh", "inside.txt"), []byte("x"), 0o644))
	require.Eventually(t, func() bool {
		for _, p := range target.paths() {
			if p == filepath.Join(root, "fresh") {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_QueueFullKeepsPending(t *testing.T) {
	root := t.TempDir()
	target := &recordingEnqueuer{err: types.ErrScanQueueFull}
	w := startWatcher(t, target, []string{root}, testConfig())

	require.NoError(t, os.WriteFile(filepath.Join(root, "x.txt"), []byte("x"), 0o644))
	require.Eventually(t, func() bool { return w.PendingCount() == 1 }, 5*time.Second, 20*time.Millisecond)

	target.mu.Lock()
	target.err = nil
	target.mu.Unlock()

	require.Eventually(t, func() bool { return w.PendingCount() == 0 && len(target.paths()) == 1 }, 5*time.Second, 20*time.Millisecond)
}

func TestAddTree_RespectsDepth(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b", "c"), 0o755))

	config := testConfig()
	config.Depth = 1
	w, err := New(&recordingEnqueuer{}, []string{root}, config, nil)
	require.NoError(t, err)
	defer w.fsw.Close()

	w.addTree(context.Background(), root)
	assert.Equal(t, 2, w.WatchedCount()) // root and root/a
}

func TestNew_InvalidDepth(t *testing.T) {
	config := testConfig()
	config.Depth = -1
	_, err := New(&recordingEnqueuer{}, nil, config, nil)
	assert.ErrorIs(t, err, types.ErrInvalidMaxDepth)
}

func TestDepthOf(t *testing.T) {
	w := &Watcher{rootSet: map[string]int{"/data": componentCount("/data")}}
	assert.Equal(t, 0, w.depthOf("/data"))
	assert.Equal(t, 2, w.depthOf("/data/a/b"))
	assert.Equal(t, 0, w.depthOf("/elsewhere"))
	assert.True(t, isBelow("/data", "/data/x"))
	assert.False(t, isBelow("/data", "/database"))
	assert.Equal(t, 0, componentCount("/"))
	assert.Equal(t, 2, componentCount("/data/a"))
}
