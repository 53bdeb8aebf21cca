package walker

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/fileindex-mcp/internal/ignore"
	"github.com/dshills/fileindex-mcp/pkg/types"
)

// Default exclusion sets
var (
	// DefaultExcludedPaths are pseudo and volatile filesystems
	DefaultExcludedPaths = []string{
		"/sys", "/proc", "/dev", "/tmp", "/run", "/var/run", "/var/tmp",
		"/var/cache", "/var/lib", "/snap", "/lost+found",
	}

	// DefaultExcludedNames are names skipped wherever they appear
	DefaultExcludedNames = []string{
		".git", ".cache", "node_modules", "__pycache__", ".venv", ".svn", ".hg", ".Trash",
	}
)

// Options configures a Walker
type Options struct {
	IgnoreFileNames   []string // Ignore files consulted in every ancestor directory
	Recursive         bool     // Descend into subdirectories
	IgnoreHiddenPaths bool     // Skip entries with a component below the walk root starting with "."; the root's own components are not checked
	MaxDepth          *int     // Nil means unbounded
	ExcludedPaths     []string // Absolute paths skipped together with their subtree
	ExcludedNames     []string // File names skipped at any depth

	// Ignore is a shared ancestor lookup. When nil one is built from IgnoreFileNames.
	Ignore *ignore.Chain
	Logger *slog.Logger

	// ReadDir lists a directory. Nil means os.ReadDir.
	ReadDir func(name string) ([]fs.DirEntry, error)
}

// ReadErrorFunc is told about every directory whose listing failed
type ReadErrorFunc func(dir string, err error)

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		IgnoreFileNames: []string{ignore.DefaultFileName},
		Recursive:       true,
		ExcludedPaths:   append([]string(nil), DefaultExcludedPaths...),
		ExcludedNames:   append([]string(nil), DefaultExcludedNames...),
	}
}

// WalkFunc is called for every entry that survives filtering.
// Returning an error stops the walk and Walk returns that error.
type WalkFunc func(entry types.FileEntry) error

// Walker walks directory trees with an explicit stack
type Walker struct {
	opts          Options
	excludedPaths map[string]struct{}
	excludedNames map[string]struct{}
	ignore        *ignore.Chain
	logger        *slog.Logger
	readDir       func(name string) ([]fs.DirEntry, error)
	onReadError   ReadErrorFunc
}

// New creates a Walker
func New(opts Options) (*Walker, error) {
	if opts.MaxDepth != nil && *opts.MaxDepth < 0 {
		return nil, types.ErrInvalidMaxDepth
	}

	chain := opts.Ignore
	if chain == nil {
		var err error
		chain, err = ignore.NewChain(opts.IgnoreFileNames, 0)
		if err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Walker{
		opts:          opts,
		excludedPaths: make(map[string]struct{}, len(opts.ExcludedPaths)),
		excludedNames: make(map[string]struct{}, len(opts.ExcludedNames)),
		ignore:        chain,
		logger:        logger,
		readDir:       opts.ReadDir,
	}
	if w.readDir == nil {
		w.readDir = os.ReadDir
	}
	for _, p := range opts.ExcludedPaths {
		w.excludedPaths[filepath.Clean(p)] = struct{}{}
	}
	for _, n := range opts.ExcludedNames {
		w.excludedNames[n] = struct{}{}
	}
	return w, nil
}

// WithMaxDepth returns a walker sharing this one's configuration and ignore cache
// with a different depth bound
func (w *Walker) WithMaxDepth(maxDepth *int) *Walker {
	clone := *w
	clone.opts.MaxDepth = maxDepth
	return &clone
}

// WithReadErrorHandler returns a walker that reports unreadable directories to fn.
// Walk itself still skips them.
func (w *Walker) WithReadErrorHandler(fn ReadErrorFunc) *Walker {
	clone := *w
	clone.onReadError = fn
	return &clone
}

// Walk visits every entry below root. Root itself is not reported.
func (w *Walker) Walk(ctx context.Context, root string, fn WalkFunc) error {
	root = filepath.Clean(root)
	rootDepth := componentCount(root)

	stack := []string{root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		// ReadDir returns whatever it could read before failing
		children, err := w.readDir(dir)
		if err != nil {
			w.logger.Debug("failed to read directory",
				slog.String("path", dir),
				slog.String("error", err.Error()))
			if w.onReadError != nil {
				w.onReadError(dir, err)
			}
		}

		for _, child := range children {
			path := filepath.Join(dir, child.Name())
			if child.Type()&fs.ModeSymlink != 0 {
				continue
			}
			if w.skip(root, path, child.Name()) {
				continue
			}

			info, err := child.Info()
			if err != nil {
				// Vanished between listing and stat
				continue
			}

			if child.IsDir() && w.opts.Recursive && w.withinDepth(componentCount(path)-rootDepth) {
				stack = append(stack, path)
			}

			if err := fn(types.FileEntry{Path: path, IsDir: child.IsDir(), ModTime: info.ModTime()}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Children lists the direct children of dir with the same filters as Walk
func (w *Walker) Children(ctx context.Context, dir string) ([]types.FileEntry, error) {
	flat := *w
	flat.opts.Recursive = false

	entries := make([]types.FileEntry, 0)
	err := flat.Walk(ctx, dir, func(e types.FileEntry) error {
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// Collect walks root and returns every reported entry
func (w *Walker) Collect(ctx context.Context, root string) ([]types.FileEntry, error) {
	entries := make([]types.FileEntry, 0)
	err := w.Walk(ctx, root, func(e types.FileEntry) error {
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

func (w *Walker) withinDepth(depth int) bool {
	return w.opts.MaxDepth == nil || depth <= *w.opts.MaxDepth
}

func (w *Walker) skip(root, path, name string) bool {
	if w.opts.IgnoreHiddenPaths && isHidden(root, path) {
		return true
	}
	if _, ok := w.excludedPaths[path]; ok {
		return true
	}
	if _, ok := w.excludedNames[name]; ok {
		return true
	}
	return w.ignore.Ignored(path)
}

// isHidden reports whether any component of path below root starts with a dot
func isHidden(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

// componentCount returns the number of path elements, "/" counting as zero
func componentCount(path string) int {
	trimmed := strings.Trim(filepath.ToSlash(path), "/")
	if trimmed == "" {
		return 0
	}
	return strings.Count(trimmed, "/") + 1
}
