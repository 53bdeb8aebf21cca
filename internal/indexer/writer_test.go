package indexer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/fileindex-mcp/internal/storage"
	"github.com/dshills/fileindex-mcp/pkg/types"
)

const backpressurePollInterval = 100 * time.Millisecond

func newTestScanState(t *testing.T, store storage.Storage, kind types.ScanKind, root string) *scanState {
	t.Helper()
	record := &storage.ScanRecord{Path: root, Kind: kind}
	require.NoError(t, store.CreateScan(context.Background(), record))
	return &scanState{record: record, startedAt: time.Now()}
}

func runWriter(t *testing.T, w *Writer, store storage.Storage) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, store)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestWriter_Backpressure(t *testing.T) {
	store := setupMemoryStore(t)
	state := newTestScanState(t, store, types.ScanKindFull, "/data")
	w := NewWriter(DefaultMaxPendingBatches, nil, nil)
	ctx := context.Background()

	batch := []types.FileEntry{{Path: "/data/a.txt", ModTime: time.Now()}}
	for i := 0; i < DefaultMaxPendingBatches; i++ {
		require.NoError(t, w.enqueue(ctx, writeJob{kind: jobIndex, scan: state, entries: batch}))
	}
	assert.Equal(t, DefaultMaxPendingBatches, w.Pending())

	// Start draining only after one poll interval
	time.AfterFunc(backpressurePollInterval, func() { runWriter(t, w, store) })

	start := time.Now()
	require.NoError(t, w.enqueue(ctx, writeJob{kind: jobIndex, scan: state, entries: batch}))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, backpressurePollInterval)
	assert.Equal(t, int64(1), w.BackpressureEvents())
}

func TestWriter_EnqueueCancelledWhileBlocked(t *testing.T) {
	store := setupMemoryStore(t)
	state := newTestScanState(t, store, types.ScanKindFull, "/data")
	w := NewWriter(1, nil, nil)

	require.NoError(t, w.enqueue(context.Background(), writeJob{kind: jobIndex, scan: state}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := w.enqueue(ctx, writeJob{kind: jobIndex, scan: state})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWriter_PreservesOrder(t *testing.T) {
	store := setupMemoryStore(t)
	state := newTestScanState(t, store, types.ScanKindIncremental, "/data")
	finished := make(chan struct{})
	state.done = func() { close(finished) }

	var commits atomic.Int32
	w := NewWriter(DefaultMaxPendingBatches, nil, func() { commits.Add(1) })
	ctx := context.Background()

	// Queued before the writer runs, so a single pass drains all three
	entries := []types.FileEntry{{Path: "/data/x.txt", ModTime: time.Now()}}
	require.NoError(t, w.enqueue(ctx, writeJob{kind: jobIndex, scan: state, entries: entries}))
	require.NoError(t, w.enqueue(ctx, writeJob{kind: jobDelete, scan: state, paths: []string{"/data/x.txt"}}))
	require.NoError(t, w.enqueue(ctx, writeJob{kind: jobFinish, scan: state}))

	runWriter(t, w, store)
	<-finished

	_, err := store.RetrieveIndexedLastModified(ctx, "/data/x.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, int32(1), commits.Load())
	assert.Equal(t, int64(1), state.indexed.Load())
	assert.Equal(t, int64(1), state.deleted.Load())

	record, err := store.GetScan(ctx, state.record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ScanStatusFinished, record.Status)
}

func TestWriter_FinishFullScanSweepsStaleRows(t *testing.T) {
	store := setupMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, store.IndexFiles(ctx, []types.FileEntry{{Path: "/data/stale.txt", ModTime: time.Now()}}))
	time.Sleep(5 * time.Millisecond)

	state := newTestScanState(t, store, types.ScanKindFull, "/data")
	finished := make(chan struct{})
	state.done = func() { close(finished) }

	w := NewWriter(DefaultMaxPendingBatches, nil, nil)
	fresh := []types.FileEntry{{Path: "/data", IsDir: true, ModTime: time.Now()}, {Path: "/data/fresh.txt", ModTime: time.Now()}}
	require.NoError(t, w.enqueue(ctx, writeJob{kind: jobIndex, scan: state, entries: fresh}))
	require.NoError(t, w.enqueue(ctx, writeJob{kind: jobFinish, scan: state}))

	runWriter(t, w, store)
	<-finished

	_, err := store.RetrieveIndexedLastModified(ctx, "/data/stale.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.RetrieveIndexedLastModified(ctx, "/data/fresh.txt")
	assert.NoError(t, err)
}

func TestWriter_FailedScanSkipsSweep(t *testing.T) {
	store := setupMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, store.IndexFiles(ctx, []types.FileEntry{{Path: "/data/stale.txt", ModTime: time.Now()}}))
	time.Sleep(5 * time.Millisecond)

	state := newTestScanState(t, store, types.ScanKindFull, "/data")
	state.failed.Store(true)
	finished := make(chan struct{})
	state.done = func() { close(finished) }

	w := NewWriter(DefaultMaxPendingBatches, nil, nil)
	require.NoError(t, w.enqueue(ctx, writeJob{kind: jobFinish, scan: state}))

	runWriter(t, w, store)
	<-finished

	_, err := store.RetrieveIndexedLastModified(ctx, "/data/stale.txt")
	assert.NoError(t, err)

	record, err := store.GetScan(ctx, state.record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ScanStatusFailed, record.Status)
}
