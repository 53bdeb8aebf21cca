package walker

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/fileindex-mcp/pkg/types"
)

// testOptions are the defaults without excluded paths, since t.TempDir lives under /tmp
func testOptions() Options {
	opts := DefaultOptions()
	opts.ExcludedPaths = nil
	return opts
}

func makeTree(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		if filepath.Ext(p) == "" {
			require.NoError(t, os.MkdirAll(full, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
	}
}

func walkRel(t *testing.T, w *Walker, root string) []string {
	t.Helper()
	entries, err := w.Collect(context.Background(), root)
	require.NoError(t, err)
	return relPaths(root, entries)
}

func relPaths(root string, entries []types.FileEntry) []string {
	rel := make([]string, 0, len(entries))
	for _, e := range entries {
		r, err := filepath.Rel(root, e.Path)
		if err != nil {
			r = e.Path
		}
		rel = append(rel, filepath.ToSlash(r))
	}
	sort.Strings(rel)
	return rel
}

func TestWalk_VisitsAllEntries(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, "a/f1.txt", "b/f2.txt", "b/c/f3.txt", "top.txt")

	w, err := New(testOptions())
	require.NoError(t, err)

	got := walkRel(t, w, root)
	assert.Equal(t, []string{"a", "a/f1.txt", "b", "b/c", "b/c/f3.txt", "b/f2.txt", "top.txt"}, got)

	// Unchanged tree, same result
	assert.Equal(t, got, walkRel(t, w, root))
}

func TestWalk_ReportsDirectoryFlagAndModTime(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, "dir/file.txt")

	w, err := New(testOptions())
	require.NoError(t, err)

	entries, err := w.Collect(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, e := range entries {
		assert.False(t, e.ModTime.IsZero())
		assert.Equal(t, filepath.Ext(e.Path) == "", e.IsDir, e.Path)
	}
}

func TestWalk_SkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, "real/file.txt")
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "link")))
	require.NoError(t, os.Symlink(filepath.Join(root, "real", "file.txt"), filepath.Join(root, "filelink")))

	w, err := New(testOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"real", "real/file.txt"}, walkRel(t, w, root))
}

func TestWalk_HiddenPaths(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, ".hidden/inner.txt", "visible/.dotfile.txt", "visible/ok.txt")

	opts := testOptions()
	w, err := New(opts)
	require.NoError(t, err)
	assert.Equal(t, []string{".hidden", ".hidden/inner.txt", "visible", "visible/.dotfile.txt", "visible/ok.txt"}, walkRel(t, w, root))

	opts.IgnoreHiddenPaths = true
	w, err = New(opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"visible", "visible/ok.txt"}, walkRel(t, w, root))
}

func TestWalk_HiddenRootIsWalked(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".config")
	makeTree(t, root, "app/settings.toml")

	opts := testOptions()
	opts.IgnoreHiddenPaths = true
	w, err := New(opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"app", "app/settings.toml"}, walkRel(t, w, root))
}

func TestWalk_ExcludedPathsAndNames(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, "keep/a.txt", "skipme/b.txt", "deep/node_modules/pkg.js", "deep/c.txt")

	opts := testOptions()
	opts.ExcludedPaths = []string{filepath.Join(root, "skipme")}
	w, err := New(opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"deep", "deep/c.txt", "keep", "keep/a.txt"}, walkRel(t, w, root))
}

func TestWalk_IgnoreFiles(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, "p/a.log", "p/a.txt", "p/sub/b.log", "sibling/c.log")
	require.NoError(t, os.WriteFile(filepath.Join(root, "p", ".gitignore"), []byte("*.log\n"), 0o644))

	w, err := New(testOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"p", "p/.gitignore", "p/a.txt", "p/sub", "sibling", "sibling/c.log"}, walkRel(t, w, root))
}

func TestWalk_MaxDepth(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, "a/b/c/deep.txt", "top.txt")

	tests := []struct {
		name     string
		maxDepth *int
		want     []string
	}{
		{"depth 0", types.DepthPtr(0), []string{"a", "top.txt"}},
		{"depth 1", types.DepthPtr(1), []string{"a", "a/b", "top.txt"}},
		{"depth 2", types.DepthPtr(2), []string{"a", "a/b", "a/b/c", "top.txt"}},
		{"unbounded", nil, []string{"a", "a/b", "a/b/c", "a/b/c/deep.txt", "top.txt"}},
	}

	base, err := New(testOptions())
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, walkRel(t, base.WithMaxDepth(tt.maxDepth), root))
		})
	}
}

func TestWalk_NonRecursive(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, "a/inner.txt", "top.txt")

	opts := testOptions()
	opts.Recursive = false
	w, err := New(opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "top.txt"}, walkRel(t, w, root))
}

func TestChildren(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, "a/inner.txt", "top.txt", ".git/HEAD.txt")

	w, err := New(testOptions())
	require.NoError(t, err)

	children, err := w.Children(context.Background(), root)
	require.NoError(t, err)

	names := make([]string, 0, len(children))
	for _, c := range children {
		names = append(names, filepath.Base(c.Path))
	}
	assert.ElementsMatch(t, []string{"a", "top.txt"}, names)
}

func TestWalk_MissingRoot(t *testing.T) {
	w, err := New(testOptions())
	require.NoError(t, err)

	entries, err := w.Collect(context.Background(), filepath.Join(t.TempDir(), "gone"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWalk_ReadErrorIsReportedAndSkipped(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, "locked/secret.txt", "open/visible.txt", "top.txt")
	locked := filepath.Join(root, "locked")
	denied := &fs.PathError{Op: "open", Path: locked, Err: fs.ErrPermission}

	opts := testOptions()
	opts.ReadDir = func(name string) ([]fs.DirEntry, error) {
		if name == locked {
			return nil, denied
		}
		return os.ReadDir(name)
	}
	w, err := New(opts)
	require.NoError(t, err)

	var failed []string
	entries, err := w.WithReadErrorHandler(func(dir string, err error) {
		assert.ErrorIs(t, err, fs.ErrPermission)
		failed = append(failed, dir)
	}).Collect(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{locked}, failed)
	assert.ElementsMatch(t, []string{"locked", "open", "open/visible.txt", "top.txt"}, relPaths(root, entries))

	// Without a handler the failure is only logged
	entries, err = w.Collect(context.Background(), root)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestWalk_CallbackErrorStops(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, "a.txt", "b.txt", "c.txt")

	w, err := New(testOptions())
	require.NoError(t, err)

	stop := errors.New("stop")
	visited := 0
	err = w.Walk(context.Background(), root, func(types.FileEntry) error {
		visited++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, visited)
}

func TestWalk_ContextCancelled(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, "a.txt")

	w, err := New(testOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = w.Walk(ctx, root, func(types.FileEntry) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_InvalidMaxDepth(t *testing.T) {
	opts := testOptions()
	opts.MaxDepth = types.DepthPtr(-1)
	_, err := New(opts)
	assert.ErrorIs(t, err, types.ErrInvalidMaxDepth)
}

func TestComponentCount(t *testing.T) {
	assert.Equal(t, 0, componentCount("/"))
	assert.Equal(t, 1, componentCount("/data"))
	assert.Equal(t, 3, componentCount("/data/a/b"))
}

func BenchmarkWalk(b *testing.B) {
	root := b.TempDir()
	for i := 0; i < 20; i++ {
		dir := filepath.Join(root, "dir", string(rune('a'+i)))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			b.Fatal(err)
		}
		for j := 0; j < 20; j++ {
			if err := os.WriteFile(filepath.Join(dir, string(rune('a'+j))+".txt"), nil, 0o644); err != nil {
				b.Fatal(err)
			}
		}
	}

	opts := DefaultOptions()
	opts.ExcludedPaths = nil
	w, err := New(opts)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := w.Collect(context.Background(), root); err != nil {
			b.Fatal(err)
		}
	}
}
