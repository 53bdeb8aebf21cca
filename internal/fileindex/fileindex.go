package fileindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dshills/fileindex-mcp/internal/indexer"
	"github.com/dshills/fileindex-mcp/internal/searcher"
	"github.com/dshills/fileindex-mcp/internal/storage"
	"github.com/dshills/fileindex-mcp/pkg/types"
)

// DefaultIncrementalMaxDepth bounds the warm-start incremental scan
const DefaultIncrementalMaxDepth = 5

// Config contains configuration for a FileIndex
type Config struct {
	DatabasePath        string
	IncrementalMaxDepth int // Depth of the warm-start incremental scan (default: 5)
	Scanner             indexer.Config
	Search              searcher.Config
}

// QueryResult resolves a QueryAsync call
type QueryResult struct {
	Files []types.IndexerFileResult
	Err   error // Set when the query failed; Files is then empty
}

// Status describes the index and its pipeline
type Status struct {
	Entrypoints      []string
	Started          bool
	InterruptedScans int
	Index            *storage.IndexStatus
	Pipeline         indexer.Stats
}

// FileIndex is the entry point other subsystems use: it owns the scan pipeline
// and answers queries.
type FileIndex struct {
	config   Config
	logger   *slog.Logger
	scanner  *indexer.Scanner
	searcher *searcher.Searcher

	mu          sync.Mutex
	entrypoints []types.Entrypoint
	startup     []types.EnqueuedScan
	started     bool
	stopped     bool
	cancel      context.CancelFunc
	done        chan error
}

// New creates a FileIndex. The database file and its directory are created and
// migrated, but no scan runs until Start.
func New(config Config, logger *slog.Logger) (*FileIndex, error) {
	if config.DatabasePath == "" {
		return nil, errors.New("database path is required")
	}
	if config.IncrementalMaxDepth <= 0 {
		config.IncrementalMaxDepth = DefaultIncrementalMaxDepth
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(config.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	f := &FileIndex{config: config, logger: logger}

	// Applies migrations once before any goroutine opens its own connection
	store, err := f.open()
	if err != nil {
		return nil, err
	}
	_ = store.Close()

	f.scanner, err = indexer.NewScanner(f.open, config.Scanner, logger)
	if err != nil {
		return nil, err
	}

	f.searcher, err = searcher.NewSearcher(f.open, config.Search, f.scanner.Generation, logger)
	if err != nil {
		return nil, err
	}

	return f, nil
}

func (f *FileIndex) open() (storage.Storage, error) {
	return storage.NewSQLiteStorage(f.config.DatabasePath)
}

// SetEntrypoints replaces the roots the index is responsible for. It must be
// called before Start.
func (f *FileIndex) SetEntrypoints(entrypoints []types.Entrypoint) error {
	cleaned := make([]types.Entrypoint, 0, len(entrypoints))
	for _, ep := range entrypoints {
		if err := ep.Validate(); err != nil {
			return err
		}
		cleaned = append(cleaned, types.Entrypoint{Root: filepath.Clean(ep.Root)})
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return types.ErrAlreadyStarted
	}
	f.entrypoints = cleaned
	return nil
}

// Entrypoints returns the configured roots
func (f *FileIndex) Entrypoints() []types.Entrypoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Entrypoint(nil), f.entrypoints...)
}

// Start recovers from the previous run and starts the scan pipeline:
//   - fresh database: a Full scan per entrypoint
//   - scans left Started by an earlier process: marked Failed and retried once each
//   - otherwise: an Incremental scan per entrypoint
func (f *FileIndex) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.stopped:
		return types.ErrStopped
	case f.started:
		return types.ErrAlreadyStarted
	case len(f.entrypoints) == 0:
		return types.ErrNoEntrypoints
	}

	requests, err := f.startupScans(ctx)
	if err != nil {
		return err
	}
	for _, req := range requests {
		if err := f.scanner.Enqueue(req); err != nil {
			return fmt.Errorf("failed to enqueue startup scan of %s: %w", req.Path, err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan error, 1)
	f.startup = requests
	f.started = true

	go func() {
		err := f.scanner.Run(runCtx)
		if err != nil {
			f.logger.Error("scan pipeline stopped", slog.String("error", err.Error()))
		}
		f.done <- err
	}()

	f.logger.Info("file index started",
		slog.Int("entrypoints", len(f.entrypoints)),
		slog.Int("startup_scans", len(requests)),
		slog.String("session", f.scanner.SessionID()))
	return nil
}

// startupScans decides what to scan when the pipeline starts
func (f *FileIndex) startupScans(ctx context.Context) ([]types.EnqueuedScan, error) {
	store, err := f.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	requests := make([]types.EnqueuedScan, 0, len(f.entrypoints))

	_, err = store.GetLastScan(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		for _, ep := range f.entrypoints {
			requests = append(requests, types.EnqueuedScan{Path: ep.Root, Kind: types.ScanKindFull})
		}
		return requests, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last scan: %w", err)
	}

	interrupted, err := store.ListInterruptedScans(ctx, f.scanner.SessionID())
	if err != nil {
		return nil, fmt.Errorf("failed to list interrupted scans: %w", err)
	}

	if len(interrupted) == 0 {
		for _, ep := range f.entrypoints {
			requests = append(requests, types.EnqueuedScan{
				Path:     ep.Root,
				Kind:     types.ScanKindIncremental,
				MaxDepth: types.DepthPtr(f.config.IncrementalMaxDepth),
			})
		}
		return requests, nil
	}

	for _, rec := range interrupted {
		if err := store.UpdateScanStatus(ctx, rec.ID, types.ScanStatusFailed); err != nil {
			return nil, fmt.Errorf("failed to mark scan %d failed: %w", rec.ID, err)
		}
		f.logger.Warn("retrying interrupted scan",
			slog.Int64("scan_id", rec.ID),
			slog.String("path", rec.Path),
			slog.String("kind", string(rec.Kind)))
	}
	return dedupeRetries(interrupted), nil
}

type retryKey struct {
	path string
	kind types.ScanKind
}

// dedupeRetries collapses interrupted scans of the same path and kind into one
// request, keeping the deepest bound (nil is unbounded)
func dedupeRetries(records []*storage.ScanRecord) []types.EnqueuedScan {
	index := make(map[retryKey]int)
	requests := make([]types.EnqueuedScan, 0, len(records))

	for _, rec := range records {
		req := rec.Request()
		key := retryKey{path: filepath.Clean(req.Path), kind: req.Kind}
		i, seen := index[key]
		if !seen {
			index[key] = len(requests)
			requests = append(requests, req)
			continue
		}
		existing := requests[i].MaxDepth
		if existing != nil && (req.MaxDepth == nil || *req.MaxDepth > *existing) {
			requests[i].MaxDepth = req.MaxDepth
		}
	}
	return requests
}

// FullScanQueued reports whether Start queued an unbounded Full scan of every
// entrypoint, as it does on a fresh database. A rebuild right after such a
// start would only repeat the work.
func (f *FileIndex) FullScanQueued() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.started {
		return false
	}
	for _, ep := range f.entrypoints {
		queued := false
		for _, req := range f.startup {
			if req.Kind == types.ScanKindFull && req.MaxDepth == nil && req.Path == ep.Root {
				queued = true
				break
			}
		}
		if !queued {
			return false
		}
	}
	return true
}

// RebuildIndex queues a Full scan of every entrypoint
func (f *FileIndex) RebuildIndex() error {
	f.mu.Lock()
	entrypoints := append([]types.Entrypoint(nil), f.entrypoints...)
	stopped := f.stopped
	f.mu.Unlock()

	if stopped {
		return types.ErrStopped
	}
	if len(entrypoints) == 0 {
		return types.ErrNoEntrypoints
	}

	var errs []error
	for _, ep := range entrypoints {
		if err := f.scanner.EnqueueFull(ep.Root); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ep.Root, err))
		}
	}
	return errors.Join(errs...)
}

// Enqueue queues a scan request. Safe for concurrent use, never blocks.
func (f *FileIndex) Enqueue(req types.EnqueuedScan) error {
	f.mu.Lock()
	stopped := f.stopped
	f.mu.Unlock()

	if stopped {
		return types.ErrStopped
	}
	return f.scanner.Enqueue(req)
}

// QueryAsync runs a prefix query on its own goroutine. The returned channel
// receives exactly one result. Failures are logged and resolve to an empty list.
func (f *FileIndex) QueryAsync(ctx context.Context, query string, params types.SearchParams) <-chan QueryResult {
	result := make(chan QueryResult, 1)
	go func() {
		files, err := f.Query(ctx, query, params)
		if err != nil {
			f.logger.Warn("query failed",
				slog.String("query", query),
				slog.String("error", err.Error()))
			files = make([]types.IndexerFileResult, 0)
		}
		result <- QueryResult{Files: files, Err: err}
	}()
	return result
}

// Query runs a prefix query and waits for the result
func (f *FileIndex) Query(ctx context.Context, query string, params types.SearchParams) ([]types.IndexerFileResult, error) {
	resp, err := f.searcher.Search(ctx, searcher.SearchRequest{Query: query, Limit: params.Limit})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// WaitIdle blocks until every queued scan has been persisted
func (f *FileIndex) WaitIdle(ctx context.Context) error {
	f.mu.Lock()
	started := f.started
	f.mu.Unlock()

	if !started {
		return types.ErrNotStarted
	}
	return f.scanner.WaitIdle(ctx)
}

// Status reports index statistics and the state of the scan pipeline
func (f *FileIndex) Status(ctx context.Context) (*Status, error) {
	f.mu.Lock()
	status := &Status{
		Started:     f.started && !f.stopped,
		Entrypoints: make([]string, 0, len(f.entrypoints)),
	}
	for _, ep := range f.entrypoints {
		status.Entrypoints = append(status.Entrypoints, ep.Root)
	}
	f.mu.Unlock()

	store, err := f.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	status.Index, err = store.GetStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read index status: %w", err)
	}

	interrupted, err := store.ListInterruptedScans(ctx, f.scanner.SessionID())
	if err != nil {
		return nil, fmt.Errorf("failed to list interrupted scans: %w", err)
	}
	status.InterruptedScans = len(interrupted)
	status.Pipeline = f.scanner.Stats()

	return status, nil
}

// Stop shuts the pipeline down and waits for it. Scans still in progress stay
// Started and are retried on the next Start.
func (f *FileIndex) Stop() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	cancel, done := f.cancel, f.done
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := <-done

	f.logger.Info("file index stopped")
	return err
}
