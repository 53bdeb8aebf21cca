package ignore

import (
	"fmt"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of directories whose matchers are cached
const DefaultCacheSize = 4096

// Chain matches paths against the ignore files of all their ancestor directories
type Chain struct {
	fileNames []string
	// A nil entry records a directory without any ignore file
	cache *lru.Cache[string, *Matcher]
}

// NewChain creates a chain reading the given ignore file names in every directory.
// An empty fileNames disables ignore handling.
func NewChain(fileNames []string, cacheSize int) (*Chain, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *Matcher](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create ignore cache: %w", err)
	}
	return &Chain{
		fileNames: append([]string(nil), fileNames...),
		cache:     cache,
	}, nil
}

// Ignored reports whether an ignore file in any ancestor of path matches it.
// Ancestors are visited upward to the filesystem root.
func (c *Chain) Ignored(path string) bool {
	if len(c.fileNames) == 0 {
		return false
	}

	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	for {
		if m := c.matcherFor(dir); m != nil && m.Matches(path) {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}

// Forget drops the cached matcher of dir, used after its ignore file changed
func (c *Chain) Forget(dir string) {
	c.cache.Remove(filepath.Clean(dir))
}

// matcherFor returns the merged matcher of dir's ignore files, or nil when it has none
func (c *Chain) matcherFor(dir string) *Matcher {
	if m, ok := c.cache.Get(dir); ok {
		return m
	}

	var merged *Matcher
	for _, name := range c.fileNames {
		m := &Matcher{}
		// Missing or unreadable ignore files are treated as absent
		if err := m.load(filepath.Join(dir, name)); err != nil || m.Len() == 0 {
			continue
		}
		if merged == nil {
			merged = m
			continue
		}
		merged.patterns = append(merged.patterns, m.patterns...)
	}

	c.cache.Add(dir, merged)
	return merged
}
