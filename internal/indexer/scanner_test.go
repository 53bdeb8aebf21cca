package indexer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/fileindex-mcp/internal/storage"
	"github.com/dshills/fileindex-mcp/pkg/types"
)

type scannerFixture struct {
	scanner *Scanner
	dbPath  string
	store   *storage.SQLiteStorage // Separate connection for assertions
}

func newScannerFixture(t *testing.T, config Config) *scannerFixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "index.db")

	if config.Walker.IgnoreFileNames == nil {
		config.Walker = testWalkerOptions()
	}
	scanner, err := NewScanner(func() (storage.Storage, error) {
		return storage.NewSQLiteStorage(dbPath)
	}, config, nil)
	require.NoError(t, err)

	store, err := storage.NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &scannerFixture{scanner: scanner, dbPath: dbPath, store: store}
}

func (f *scannerFixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.scanner.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errCh)
	})
}

func (f *scannerFixture) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, f.scanner.WaitIdle(ctx))
}

func (f *scannerFixture) indexed(t *testing.T, path string) bool {
	t.Helper()
	_, err := f.store.RetrieveIndexedLastModified(context.Background(), path)
	if err == storage.ErrNotFound {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestScanner_FullScan(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a", "f1.txt"))
	touch(t, filepath.Join(root, "b", "f2.txt"))
	touch(t, filepath.Join(root, "b", "c", "f3.txt"))

	// Tiny batches so the scan spans several writer jobs
	f := newScannerFixture(t, Config{BatchSize: 2})
	f.run(t)

	require.NoError(t, f.scanner.EnqueueFull(root))
	f.waitIdle(t)

	for _, p := range []string{root, "a", "a/f1.txt", "b", "b/f2.txt", "b/c", "b/c/f3.txt"} {
		path := p
		if !filepath.IsAbs(p) {
			path = filepath.Join(root, filepath.FromSlash(p))
		}
		assert.True(t, f.indexed(t, path), path)
	}

	last, err := f.store.GetLastScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ScanStatusFinished, last.Status)
	assert.Equal(t, types.ScanKindFull, last.Kind)
	assert.Equal(t, f.scanner.SessionID(), last.SessionID)
	assert.Greater(t, f.scanner.Generation(), uint64(0))
}

func TestScanner_FullScanSweepsRemovedEntries(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "keep.txt"))
	touch(t, filepath.Join(root, "drop.txt"))

	f := newScannerFixture(t, Config{})
	f.run(t)

	require.NoError(t, f.scanner.EnqueueFull(root))
	f.waitIdle(t)
	require.True(t, f.indexed(t, filepath.Join(root, "drop.txt")))

	require.NoError(t, os.Remove(filepath.Join(root, "drop.txt")))
	require.NoError(t, f.scanner.EnqueueFull(root))
	f.waitIdle(t)

	assert.False(t, f.indexed(t, filepath.Join(root, "drop.txt")))
	assert.True(t, f.indexed(t, filepath.Join(root, "keep.txt")))
}

func TestScanner_DepthBoundedFullScanKeepsDeeperEntries(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b", "c", "deep.txt")
	touch(t, deep)

	f := newScannerFixture(t, Config{})
	f.run(t)

	require.NoError(t, f.scanner.EnqueueFull(root))
	f.waitIdle(t)
	require.True(t, f.indexed(t, deep))

	require.NoError(t, f.scanner.Enqueue(types.EnqueuedScan{
		Path:     root,
		Kind:     types.ScanKindFull,
		MaxDepth: types.DepthPtr(0),
	}))
	f.waitIdle(t)

	last, err := f.store.GetLastScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ScanStatusFinished, last.Status)

	assert.True(t, f.indexed(t, deep))
	assert.True(t, f.indexed(t, filepath.Join(root, "a", "b")))
	assert.True(t, f.indexed(t, filepath.Join(root, "a", "b", "c")))
}

func TestScanner_UnreadableDirectoryKeepsItsEntries(t *testing.T) {
	root := t.TempDir()
	locked := filepath.Join(root, "locked")
	secret := filepath.Join(locked, "secret.txt")
	touch(t, secret)
	touch(t, filepath.Join(root, "drop.txt"))

	var deny atomic.Bool
	opts := testWalkerOptions()
	opts.ReadDir = func(name string) ([]fs.DirEntry, error) {
		if deny.Load() && name == locked {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrPermission}
		}
		return os.ReadDir(name)
	}

	f := newScannerFixture(t, Config{Walker: opts})
	f.run(t)

	require.NoError(t, f.scanner.EnqueueFull(root))
	f.waitIdle(t)
	require.True(t, f.indexed(t, secret))

	deny.Store(true)
	require.NoError(t, os.Remove(filepath.Join(root, "drop.txt")))
	require.NoError(t, f.scanner.EnqueueFull(root))
	f.waitIdle(t)

	last, err := f.store.GetLastScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ScanStatusFinished, last.Status)

	// No sweep ran: the unreadable subtree survives, and so does the stale row
	assert.True(t, f.indexed(t, secret))
	assert.True(t, f.indexed(t, filepath.Join(root, "drop.txt")))

	deny.Store(false)
	require.NoError(t, f.scanner.EnqueueFull(root))
	f.waitIdle(t)

	assert.True(t, f.indexed(t, secret))
	assert.False(t, f.indexed(t, filepath.Join(root, "drop.txt")))
}

func TestScanner_IncrementalScan(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a", "f1.txt"))
	touch(t, filepath.Join(root, "b", "f2.txt"))

	f := newScannerFixture(t, Config{})
	f.run(t)

	require.NoError(t, f.scanner.EnqueueFull(root))
	f.waitIdle(t)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "b")))
	require.NoError(t, f.scanner.Enqueue(types.EnqueuedScan{
		Path:     root,
		Kind:     types.ScanKindIncremental,
		MaxDepth: types.DepthPtr(5),
	}))
	f.waitIdle(t)

	assert.False(t, f.indexed(t, filepath.Join(root, "b", "f2.txt")))
	assert.False(t, f.indexed(t, filepath.Join(root, "b")))
	assert.True(t, f.indexed(t, filepath.Join(root, "a", "f1.txt")))

	last, err := f.store.GetLastScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ScanKindIncremental, last.Kind)
	require.NotNil(t, last.MaxDepth)
	assert.Equal(t, 5, *last.MaxDepth)
}

func TestScanner_FIFO(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	touch(t, filepath.Join(first, "one.txt"))
	touch(t, filepath.Join(second, "two.txt"))

	f := newScannerFixture(t, Config{})
	require.NoError(t, f.scanner.EnqueueFull(first))
	require.NoError(t, f.scanner.EnqueueFull(second))
	f.run(t)
	f.waitIdle(t)

	scans, err := f.store.ListScans(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, scans, 2)
	// Newest first
	assert.Equal(t, second, scans[0].Path)
	assert.Equal(t, first, scans[1].Path)
}

func TestScanner_QueueFull(t *testing.T) {
	f := newScannerFixture(t, Config{ScanQueueSize: 1})

	require.NoError(t, f.scanner.EnqueueFull("/data"))
	err := f.scanner.EnqueueFull("/other")
	assert.ErrorIs(t, err, types.ErrScanQueueFull)

	stats := f.scanner.Stats()
	assert.Equal(t, 1, stats.QueuedScans)
	assert.Equal(t, int64(1), stats.InFlightScans)
	assert.False(t, stats.Running)
}

func TestScanner_EnqueueValidates(t *testing.T) {
	f := newScannerFixture(t, Config{})

	err := f.scanner.Enqueue(types.EnqueuedScan{Path: "/data", Kind: "partial"})
	assert.ErrorIs(t, err, types.ErrInvalidScanKind)
	assert.Equal(t, int64(0), f.scanner.Stats().InFlightScans)
}

func TestScanner_RunTwice(t *testing.T) {
	f := newScannerFixture(t, Config{})
	f.run(t)

	require.Eventually(t, func() bool { return f.scanner.Stats().Running }, time.Second, 5*time.Millisecond)

	err := f.scanner.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrAlreadyStarted)
}

func TestScanner_WaitIdleTimeout(t *testing.T) {
	f := newScannerFixture(t, Config{})
	require.NoError(t, f.scanner.EnqueueFull("/data"))

	// Not running, so the scan never completes
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.scanner.WaitIdle(ctx), context.DeadlineExceeded)
}

func TestScanner_MissingRootSweepsIndex(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	touch(t, filepath.Join(root, "f.txt"))

	f := newScannerFixture(t, Config{})
	f.run(t)

	require.NoError(t, f.scanner.EnqueueFull(root))
	f.waitIdle(t)
	require.True(t, f.indexed(t, filepath.Join(root, "f.txt")))

	require.NoError(t, os.RemoveAll(root))
	require.NoError(t, f.scanner.EnqueueFull(root))
	f.waitIdle(t)

	assert.False(t, f.indexed(t, root))
	assert.False(t, f.indexed(t, filepath.Join(root, "f.txt")))
}
