package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/fileindex-mcp/internal/storage"
	"github.com/dshills/fileindex-mcp/internal/walker"
	"github.com/dshills/fileindex-mcp/pkg/types"
)

const (
	// DefaultBatchSize is the number of entries handed to the writer at once
	DefaultBatchSize = 10000

	// DefaultMaxPendingBatches bounds the write queue
	DefaultMaxPendingBatches = 10

	// DefaultScanQueueSize bounds the number of queued scan requests
	DefaultScanQueueSize = 256

	idlePollInterval = 20 * time.Millisecond
)

// Config contains configuration for the scanner
type Config struct {
	BatchSize         int    // Entries per write batch (default: 10000)
	MaxPendingBatches int    // Write queue capacity (default: 10)
	ScanQueueSize     int    // Scan request queue capacity (default: 256)
	SessionID         string // Identifies this process run on scan records (default: random uuid)
	Walker            walker.Options
}

// Stats is a point-in-time view of the scan pipeline
type Stats struct {
	SessionID          string
	Running            bool
	QueuedScans        int
	InFlightScans      int64
	PendingBatches     int
	BackpressureEvents int64
	Generation         uint64
	CurrentScan        string // Path being walked, empty when idle
}

// Opener opens a storage connection owned by one goroutine
type Opener func() (storage.Storage, error)

// Scanner serves scan requests in FIFO order. Run drives two goroutines: the scan
// loop, which walks the filesystem and produces batches, and the Writer, which
// persists them over its own connection.
type Scanner struct {
	open      Opener
	config    Config
	walker    *walker.Walker
	writer    *Writer
	logger    *slog.Logger
	sessionID string

	scans      chan types.EnqueuedScan
	inflight   atomic.Int64
	generation atomic.Uint64
	lock       IndexLock

	mu      sync.Mutex
	current string
}

// NewScanner creates a scanner. Nothing runs until Run is called, but scans may
// be enqueued beforehand.
func NewScanner(open Opener, config Config, logger *slog.Logger) (*Scanner, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.MaxPendingBatches <= 0 {
		config.MaxPendingBatches = DefaultMaxPendingBatches
	}
	if config.ScanQueueSize <= 0 {
		config.ScanQueueSize = DefaultScanQueueSize
	}
	if config.SessionID == "" {
		config.SessionID = uuid.NewString()
	}
	if logger == nil {
		logger = slog.Default()
	}

	walkOpts := config.Walker
	if walkOpts.Logger == nil {
		walkOpts.Logger = logger
	}
	w, err := walker.New(walkOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create walker: %w", err)
	}

	s := &Scanner{
		open:      open,
		config:    config,
		walker:    w,
		logger:    logger,
		sessionID: config.SessionID,
		scans:     make(chan types.EnqueuedScan, config.ScanQueueSize),
	}
	s.writer = NewWriter(config.MaxPendingBatches, logger, func() { s.generation.Add(1) })
	return s, nil
}

// SessionID returns the id stamped on scan records created by this scanner
func (s *Scanner) SessionID() string {
	return s.sessionID
}

// Generation increases every time the writer commits a change to the index
func (s *Scanner) Generation() uint64 {
	return s.generation.Load()
}

// Enqueue queues a scan request without blocking. It is safe for concurrent use.
func (s *Scanner) Enqueue(req types.EnqueuedScan) error {
	if err := req.Validate(); err != nil {
		return err
	}
	req.Path = filepath.Clean(req.Path)

	s.inflight.Add(1)
	select {
	case s.scans <- req:
		s.logger.Debug("scan enqueued",
			slog.String("path", req.Path),
			slog.String("kind", string(req.Kind)))
		return nil
	default:
		s.inflight.Add(-1)
		return types.ErrScanQueueFull
	}
}

// EnqueueFull queues an unbounded full scan of path
func (s *Scanner) EnqueueFull(path string) error {
	return s.Enqueue(types.EnqueuedScan{Path: path, Kind: types.ScanKindFull})
}

// Run serves scans until ctx is cancelled. A Scanner runs at most once at a time.
func (s *Scanner) Run(ctx context.Context) error {
	if !s.lock.TryAcquire() {
		return types.ErrAlreadyStarted
	}
	defer s.lock.Release()

	scanStore, err := s.open()
	if err != nil {
		return fmt.Errorf("failed to open scanner storage: %w", err)
	}
	defer func() { _ = scanStore.Close() }()

	writerStore, err := s.open()
	if err != nil {
		return fmt.Errorf("failed to open writer storage: %w", err)
	}
	defer func() { _ = writerStore.Close() }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.writer.Run(gctx, writerStore)
	})
	g.Go(func() error {
		return s.loop(gctx, scanStore)
	})
	return g.Wait()
}

// WaitIdle blocks until no scan is queued, running or waiting for the writer
func (s *Scanner) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for s.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Stats returns a snapshot of the pipeline
func (s *Scanner) Stats() Stats {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	return Stats{
		SessionID:          s.sessionID,
		Running:            s.lock.Held(),
		QueuedScans:        len(s.scans),
		InFlightScans:      s.inflight.Load(),
		PendingBatches:     s.writer.Pending(),
		BackpressureEvents: s.writer.BackpressureEvents(),
		Generation:         s.generation.Load(),
		CurrentScan:        current,
	}
}

func (s *Scanner) loop(ctx context.Context, store storage.Storage) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-s.scans:
			s.execute(ctx, store, req)
		}
	}
}

func (s *Scanner) setCurrent(path string) {
	s.mu.Lock()
	s.current = path
	s.mu.Unlock()
}

// execute runs one scan. Errors never leave this function; they end up in the
// scan record's status and the log.
func (s *Scanner) execute(ctx context.Context, store storage.Storage, req types.EnqueuedScan) {
	record := &storage.ScanRecord{
		Path:      req.Path,
		Kind:      req.Kind,
		Status:    types.ScanStatusStarted,
		MaxDepth:  req.MaxDepth,
		SessionID: s.sessionID,
	}
	if err := store.CreateScan(ctx, record); err != nil {
		s.logger.Warn("failed to create scan record",
			slog.String("path", req.Path),
			slog.String("error", err.Error()))
		s.inflight.Add(-1)
		return
	}

	var once sync.Once
	state := &scanState{
		record:    record,
		startedAt: time.Now(),
		done:      func() { once.Do(func() { s.inflight.Add(-1) }) },
	}

	s.setCurrent(req.Path)
	defer s.setCurrent("")

	s.logger.Info("scan started",
		slog.Int64("scan_id", record.ID),
		slog.String("path", record.Path),
		slog.String("kind", string(record.Kind)))

	sink := &queuedSink{writer: s.writer, scan: state}

	var err error
	switch req.Kind {
	case types.ScanKindFull:
		err = s.fullScan(ctx, req, sink, state)
	case types.ScanKindIncremental:
		inc := NewIncrementalScanner(store, sink, s.walker, s.config.BatchSize, s.logger)
		_, err = inc.Scan(ctx, req.Path, req.MaxDepth)
	}

	if err != nil {
		if ctx.Err() != nil {
			// Shutdown: the record stays Started and is retried on the next start
			state.done()
			return
		}
		state.failed.Store(true)
		s.logger.Warn("scan failed",
			slog.Int64("scan_id", record.ID),
			slog.String("path", record.Path),
			slog.String("error", err.Error()))
	}

	if err := s.writer.enqueue(ctx, writeJob{kind: jobFinish, scan: state}); err != nil {
		state.done()
	}
}

// fullScan walks the whole subtree and hands entries to the writer in batches.
// Directories that exist but cannot be listed mark the scan partial.
func (s *Scanner) fullScan(ctx context.Context, req types.EnqueuedScan, sink Sink, state *scanState) error {
	batch := make([]types.FileEntry, 0, s.config.BatchSize)

	info, err := os.Stat(req.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Nothing to index; the sweep removes whatever was recorded below it
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", req.Path, err)
	}
	batch = append(batch, types.FileEntry{Path: req.Path, IsDir: info.IsDir(), ModTime: info.ModTime()})

	w := s.walker.WithMaxDepth(req.MaxDepth).WithReadErrorHandler(func(dir string, err error) {
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		state.partial.Store(true)
		s.logger.Warn("directory unreadable, keeping its indexed entries",
			slog.String("path", dir),
			slog.String("error", err.Error()))
	})

	err = w.Walk(ctx, req.Path, func(e types.FileEntry) error {
		batch = append(batch, e)
		if len(batch) < s.config.BatchSize {
			return nil
		}
		if err := sink.IndexFiles(ctx, batch); err != nil {
			return err
		}
		batch = make([]types.FileEntry, 0, s.config.BatchSize)
		return nil
	})
	if err != nil {
		return err
	}

	return sink.IndexFiles(ctx, batch)
}

// queuedSink turns scan output into writer jobs
type queuedSink struct {
	writer *Writer
	scan   *scanState
}

func (q *queuedSink) IndexFiles(ctx context.Context, entries []types.FileEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return q.writer.enqueue(ctx, writeJob{kind: jobIndex, scan: q.scan, entries: entries})
}

// DeleteIndexedFiles queues the delete and reports the number of paths handed over
func (q *queuedSink) DeleteIndexedFiles(ctx context.Context, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	if err := q.writer.enqueue(ctx, writeJob{kind: jobDelete, scan: q.scan, paths: paths}); err != nil {
		return 0, err
	}
	return len(paths), nil
}
