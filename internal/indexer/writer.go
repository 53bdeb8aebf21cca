package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dshills/fileindex-mcp/internal/storage"
	"github.com/dshills/fileindex-mcp/pkg/types"
)

type jobKind int

const (
	jobIndex  jobKind = iota // Upsert entries
	jobDelete                // Delete paths with their subtrees
	jobFinish                // Close the scan record
)

// writeJob is one unit of work for the Writer
type writeJob struct {
	kind    jobKind
	scan    *scanState
	entries []types.FileEntry
	paths   []string
}

// scanState is shared between the scan loop and the writer for one scan
type scanState struct {
	record    *storage.ScanRecord
	startedAt time.Time

	failed atomic.Bool
	// Some directories could not be listed, so rows below them were not refreshed
	partial atomic.Bool
	indexed atomic.Int64
	deleted atomic.Int64

	// Called once the scan has fully left the pipeline
	done func()
}

// Writer owns every mutation of the path index. It consumes jobs from a bounded
// channel, so producers block once MaxPendingBatches jobs are waiting.
type Writer struct {
	jobs         chan writeJob
	logger       *slog.Logger
	onCommit     func()
	backpressure atomic.Int64
}

// NewWriter creates a writer whose queue holds at most capacity jobs
func NewWriter(capacity int, logger *slog.Logger, onCommit func()) *Writer {
	if capacity <= 0 {
		capacity = DefaultMaxPendingBatches
	}
	if logger == nil {
		logger = slog.Default()
	}
	if onCommit == nil {
		onCommit = func() {}
	}
	return &Writer{
		jobs:     make(chan writeJob, capacity),
		logger:   logger,
		onCommit: onCommit,
	}
}

// Pending returns the number of queued jobs
func (w *Writer) Pending() int {
	return len(w.jobs)
}

// BackpressureEvents returns how many sends found the queue full
func (w *Writer) BackpressureEvents() int64 {
	return w.backpressure.Load()
}

// enqueue hands a job to the writer, blocking while the queue is full
func (w *Writer) enqueue(ctx context.Context, job writeJob) error {
	select {
	case w.jobs <- job:
		return nil
	default:
	}

	w.backpressure.Add(1)
	w.logger.Debug("write queue full, waiting for writer",
		slog.Int("pending", len(w.jobs)))

	select {
	case w.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes jobs until ctx is cancelled. Jobs still queued at that point are
// dropped; their scans stay Started and are retried on the next start.
func (w *Writer) Run(ctx context.Context, store storage.Storage) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-w.jobs:
			batch := []writeJob{job}
		drain:
			for {
				select {
				case next := <-w.jobs:
					batch = append(batch, next)
				default:
					break drain
				}
			}
			w.process(ctx, store, batch)
		}
	}
}

// process applies drained jobs in enqueue order
func (w *Writer) process(ctx context.Context, store storage.Storage, batch []writeJob) {
	committed := false
	for _, job := range batch {
		var err error
		switch job.kind {
		case jobIndex:
			err = store.IndexFiles(ctx, job.entries)
			if err == nil {
				job.scan.indexed.Add(int64(len(job.entries)))
			}
		case jobDelete:
			var n int
			n, err = store.DeleteIndexedFiles(ctx, job.paths)
			if err == nil {
				job.scan.deleted.Add(int64(n))
			}
		case jobFinish:
			err = w.finish(ctx, store, job.scan)
		}

		if err != nil {
			job.scan.failed.Store(true)
			w.logger.Warn("failed to write batch, dropping it",
				slog.Int64("scan_id", job.scan.record.ID),
				slog.String("path", job.scan.record.Path),
				slog.String("error", err.Error()))
		} else {
			committed = true
		}

		if job.kind == jobFinish && job.scan.done != nil {
			job.scan.done()
		}
	}

	if committed {
		w.onCommit()
	}
}

// sweeps reports whether a finished scan refreshed every row under its root,
// so rows it did not touch are gone from disk
func (s *scanState) sweeps() bool {
	return s.record.Kind == types.ScanKindFull &&
		s.record.MaxDepth == nil &&
		!s.failed.Load() &&
		!s.partial.Load()
}

// finish sweeps stale rows after a full scan and closes the scan record in one transaction
func (w *Writer) finish(ctx context.Context, store storage.Storage, scan *scanState) error {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status := types.ScanStatusFinished
	if scan.failed.Load() {
		status = types.ScanStatusFailed
	}

	pruned := 0
	if scan.sweeps() {
		pruned, err = tx.PruneIndexedFiles(ctx, scan.record.Path, scan.startedAt)
		if err != nil {
			return err
		}
	} else if scan.record.Kind == types.ScanKindFull {
		w.logger.Debug("skipping sweep of incomplete full scan",
			slog.Int64("scan_id", scan.record.ID),
			slog.String("path", scan.record.Path))
	}

	if err := tx.UpdateScanStatus(ctx, scan.record.ID, status); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scan %d: %w", scan.record.ID, err)
	}

	scan.record.Status = status
	w.logger.Info("scan completed",
		slog.Int64("scan_id", scan.record.ID),
		slog.String("path", scan.record.Path),
		slog.String("kind", string(scan.record.Kind)),
		slog.String("status", string(status)),
		slog.Int64("indexed", scan.indexed.Load()),
		slog.Int64("deleted", scan.deleted.Load()+int64(pruned)),
		slog.Duration("duration", time.Since(scan.startedAt)))
	return nil
}
