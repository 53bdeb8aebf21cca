package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/fileindex-mcp/internal/storage"
	"github.com/dshills/fileindex-mcp/internal/walker"
	"github.com/dshills/fileindex-mcp/pkg/types"
)

// unreconciled is recorded for directories whose children have not been
// reconciled yet, so the next incremental scan always revisits them
var unreconciled = time.Unix(0, 0)

// Sink receives the index mutations produced by a scan.
// *storage.SQLiteStorage satisfies it directly; the Scanner routes them through the Writer.
type Sink interface {
	IndexFiles(ctx context.Context, entries []types.FileEntry) error
	DeleteIndexedFiles(ctx context.Context, paths []string) (int, error)
}

// Reader is the read side an incremental scan compares the disk against
type Reader interface {
	ListIndexedDirectoryFiles(ctx context.Context, dirPath string) ([]string, error)
	RetrieveIndexedLastModified(ctx context.Context, path string) (time.Time, error)
}

// IncrementalStats summarizes an incremental scan
type IncrementalStats struct {
	DirectoriesChecked int
	DirectoriesScanned int
	EntriesIndexed     int
	EntriesDeleted     int
}

// IncrementalScanner revisits only directories whose modification time moved
// since they were last indexed, and reconciles their children with the index.
type IncrementalScanner struct {
	reader    Reader
	sink      Sink
	walker    *walker.Walker
	batchSize int
	logger    *slog.Logger
}

// NewIncrementalScanner creates an incremental scanner
func NewIncrementalScanner(reader Reader, sink Sink, w *walker.Walker, batchSize int, logger *slog.Logger) *IncrementalScanner {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IncrementalScanner{
		reader:    reader,
		sink:      sink,
		walker:    w,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Scan brings the index for root up to date
func (s *IncrementalScanner) Scan(ctx context.Context, root string, maxDepth *int) (*IncrementalStats, error) {
	stats := &IncrementalStats{}

	dirs, checked, err := s.scannableDirectories(ctx, root, maxDepth)
	if err != nil {
		return stats, err
	}
	stats.DirectoriesChecked = checked

	for _, dir := range dirs {
		indexed, deleted, err := s.ProcessDirectory(ctx, dir)
		if err != nil {
			return stats, err
		}
		stats.DirectoriesScanned++
		stats.EntriesIndexed += indexed
		stats.EntriesDeleted += deleted
	}

	s.logger.Debug("incremental scan walked",
		slog.String("path", root),
		slog.Int("checked", stats.DirectoriesChecked),
		slog.Int("scanned", stats.DirectoriesScanned))
	return stats, nil
}

// ScannableDirectories returns root and every directory below it, within maxDepth,
// that is unknown to the index or was modified after its recorded time
func (s *IncrementalScanner) ScannableDirectories(ctx context.Context, root string, maxDepth *int) ([]string, error) {
	dirs, _, err := s.scannableDirectories(ctx, root, maxDepth)
	return dirs, err
}

func (s *IncrementalScanner) scannableDirectories(ctx context.Context, root string, maxDepth *int) ([]string, int, error) {
	root = filepath.Clean(root)
	dirs := []string{root}
	checked := 0

	err := s.walker.WithMaxDepth(maxDepth).Walk(ctx, root, func(e types.FileEntry) error {
		if !e.IsDir {
			return nil
		}
		checked++

		recorded, err := s.reader.RetrieveIndexedLastModified(ctx, e.Path)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			dirs = append(dirs, e.Path)
		case err != nil:
			s.logger.Warn("failed to read indexed modification time",
				slog.String("path", e.Path),
				slog.String("error", err.Error()))
			dirs = append(dirs, e.Path)
		case e.ModTime.After(recorded):
			dirs = append(dirs, e.Path)
		}
		return nil
	})
	if err != nil {
		return nil, checked, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return dirs, checked, nil
}

// ProcessDirectory reconciles the indexed children of dir with the disk:
// children no longer present are deleted, dir and its current children are upserted.
// Child directories keep their recorded modification time; only their own
// reconciliation moves it.
func (s *IncrementalScanner) ProcessDirectory(ctx context.Context, dir string) (indexed, deleted int, err error) {
	dir = filepath.Clean(dir)

	indexedFiles, err := s.reader.ListIndexedDirectoryFiles(ctx, dir)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list indexed children of %s: %w", dir, err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// The directory itself is gone
			n, err := s.sink.DeleteIndexedFiles(ctx, []string{dir})
			return 0, n, err
		}
		s.logger.Debug("failed to stat directory",
			slog.String("path", dir),
			slog.String("error", err.Error()))
		return 0, 0, nil
	}

	children, err := s.walker.Children(ctx, dir)
	if err != nil {
		return 0, 0, err
	}

	for i := range children {
		if children[i].IsDir {
			children[i].ModTime = s.recordedModTime(ctx, children[i].Path)
		}
	}

	current := make([]types.FileEntry, 0, len(children)+1)
	current = append(current, types.FileEntry{Path: dir, IsDir: info.IsDir(), ModTime: info.ModTime()})
	current = append(current, children...)

	onDisk := make(map[string]struct{}, len(current))
	for _, e := range current {
		onDisk[e.Path] = struct{}{}
	}

	gone := make([]string, 0)
	for _, p := range indexedFiles {
		if _, ok := onDisk[p]; !ok {
			gone = append(gone, p)
		}
	}

	if len(gone) > 0 {
		if deleted, err = s.sink.DeleteIndexedFiles(ctx, gone); err != nil {
			return 0, deleted, err
		}
	}

	for start := 0; start < len(current); start += s.batchSize {
		end := start + s.batchSize
		if end > len(current) {
			end = len(current)
		}
		if err := s.sink.IndexFiles(ctx, current[start:end]); err != nil {
			return indexed, deleted, err
		}
		indexed += end - start
	}

	return indexed, deleted, nil
}

// recordedModTime returns the indexed modification time of dir, or unreconciled
func (s *IncrementalScanner) recordedModTime(ctx context.Context, dir string) time.Time {
	recorded, err := s.reader.RetrieveIndexedLastModified(ctx, dir)
	if err != nil {
		return unreconciled
	}
	return recorded
}
