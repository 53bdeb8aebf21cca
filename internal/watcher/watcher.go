package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/dshills/fileindex-mcp/internal/ignore"
	"github.com/dshills/fileindex-mcp/internal/walker"
	"github.com/dshills/fileindex-mcp/pkg/types"
)

const (
	// DefaultDepth is how many directory levels below each root are watched
	DefaultDepth = 2

	// DefaultDebounce is the quiet period before a changed directory is rescanned
	DefaultDebounce = 2 * time.Second

	// DefaultMaxRescansPerSecond throttles rescans during bursts of changes
	DefaultMaxRescansPerSecond = 2.0

	// rescanDepth bounds the incremental scan queued for a changed directory
	rescanDepth = 1
)

// Enqueuer accepts scan requests
type Enqueuer interface {
	Enqueue(req types.EnqueuedScan) error
}

// Config contains configuration for the watcher
type Config struct {
	Depth               int           // Watched levels below each root (default: 2)
	Debounce            time.Duration // Quiet period per directory (default: 2s)
	MaxRescansPerSecond float64       // Rescan rate limit (default: 2)
	Walker              walker.Options
}

// Watcher turns filesystem events into incremental scans of the changed
// directories. It is best effort: events can be missed, and the next startup
// scan reconciles whatever was.
type Watcher struct {
	target  Enqueuer
	roots   []string
	config  Config
	fsw     *fsnotify.Watcher
	walker  *walker.Walker
	ignore  *ignore.Chain
	limiter *rate.Limiter
	logger  *slog.Logger
	fileSet map[string]struct{} // Ignore file names
	rootSet map[string]int      // Root -> component count

	mu      sync.Mutex
	pending map[string]time.Time // Directory -> last event time
	watched map[string]struct{}
}

// New creates a watcher over roots. Nothing is watched until Run.
func New(target Enqueuer, roots []string, config Config, logger *slog.Logger) (*Watcher, error) {
	if config.Depth < 0 {
		return nil, types.ErrInvalidMaxDepth
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.MaxRescansPerSecond <= 0 {
		config.MaxRescansPerSecond = DefaultMaxRescansPerSecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	walkOpts := config.Walker
	walkOpts.Recursive = true
	if walkOpts.Logger == nil {
		walkOpts.Logger = logger
	}
	if walkOpts.Ignore == nil {
		chain, err := ignore.NewChain(walkOpts.IgnoreFileNames, 0)
		if err != nil {
			return nil, err
		}
		walkOpts.Ignore = chain
	}
	w, err := walker.New(walkOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create walker: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	wt := &Watcher{
		target:  target,
		config:  config,
		fsw:     fsw,
		walker:  w,
		ignore:  walkOpts.Ignore,
		limiter: rate.NewLimiter(rate.Limit(config.MaxRescansPerSecond), 1),
		logger:  logger,
		fileSet: make(map[string]struct{}, len(walkOpts.IgnoreFileNames)),
		rootSet: make(map[string]int, len(roots)),
		pending: make(map[string]time.Time),
		watched: make(map[string]struct{}),
	}
	for _, name := range walkOpts.IgnoreFileNames {
		wt.fileSet[name] = struct{}{}
	}
	for _, r := range roots {
		r = filepath.Clean(r)
		wt.roots = append(wt.roots, r)
		wt.rootSet[r] = componentCount(r)
	}
	return wt, nil
}

// Run watches until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	for _, root := range w.roots {
		w.addTree(ctx, root)
	}
	w.logger.Info("watching entrypoints",
		slog.Int("roots", len(w.roots)),
		slog.Int("directories", w.WatchedCount()))

	interval := w.config.Debounce / 4
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-ticker.C:
			if err := w.flush(ctx); err != nil {
				return nil
			}
		}
	}
}

// WatchedCount returns the number of watched directories
func (w *Watcher) WatchedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

// PendingCount returns the number of directories waiting for their debounce period
func (w *Watcher) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	path := filepath.Clean(event.Name)
	dir := filepath.Dir(path)

	if _, ok := w.fileSet[filepath.Base(path)]; ok {
		w.ignore.Forget(dir)
	}

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Lstat(path); err == nil && info.IsDir() && w.withinDepth(path) {
			w.addTree(ctx, path)
		}
	}
	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		w.mu.Lock()
		delete(w.watched, path)
		w.mu.Unlock()
	}

	w.mu.Lock()
	w.pending[dir] = time.Now()
	w.mu.Unlock()
}

// flush enqueues every directory whose debounce period has elapsed
func (w *Watcher) flush(ctx context.Context) error {
	now := time.Now()

	w.mu.Lock()
	ready := make([]string, 0)
	for dir, last := range w.pending {
		if now.Sub(last) >= w.config.Debounce {
			ready = append(ready, dir)
		}
	}
	w.mu.Unlock()

	for _, dir := range ready {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}

		err := w.target.Enqueue(types.EnqueuedScan{
			Path:     dir,
			Kind:     types.ScanKindIncremental,
			MaxDepth: types.DepthPtr(rescanDepth),
		})
		if errors.Is(err, types.ErrScanQueueFull) {
			// Stays pending and is retried on the next tick
			w.logger.Debug("scan queue full, deferring rescan", slog.String("path", dir))
			continue
		}
		if err != nil {
			w.logger.Warn("failed to enqueue rescan",
				slog.String("path", dir),
				slog.String("error", err.Error()))
		}

		w.mu.Lock()
		if last, ok := w.pending[dir]; ok && !last.After(now) {
			delete(w.pending, dir)
		}
		w.mu.Unlock()
	}
	return nil
}

// addTree watches dir and its subdirectories within the configured depth
func (w *Watcher) addTree(ctx context.Context, dir string) {
	w.add(dir)
	if w.config.Depth == 0 {
		return
	}

	remaining := w.config.Depth - w.depthOf(dir)
	if remaining <= 0 {
		return
	}
	sub := w.walker.WithMaxDepth(types.DepthPtr(remaining - 1))
	_ = sub.Walk(ctx, dir, func(e types.FileEntry) error {
		if e.IsDir {
			w.add(e.Path)
		}
		return nil
	})
}

func (w *Watcher) add(dir string) {
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Debug("failed to watch directory",
			slog.String("path", dir),
			slog.String("error", err.Error()))
		return
	}
	w.mu.Lock()
	w.watched[dir] = struct{}{}
	w.mu.Unlock()
}

// depthOf returns the depth of path below its closest root
func (w *Watcher) depthOf(path string) int {
	best := -1
	count := componentCount(path)
	for root, rootCount := range w.rootSet {
		if path == root || isBelow(root, path) {
			if d := count - rootCount; best == -1 || d < best {
				best = d
			}
		}
	}
	if best == -1 {
		return 0
	}
	return best
}

func (w *Watcher) withinDepth(path string) bool {
	return w.depthOf(path) <= w.config.Depth
}

func isBelow(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != "." && rel != ".." &&
		!strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// componentCount returns the number of path elements, the filesystem root counting as zero
func componentCount(path string) int {
	count := 0
	for dir := filepath.Clean(path); filepath.Dir(dir) != dir; dir = filepath.Dir(dir) {
		count++
	}
	return count
}
