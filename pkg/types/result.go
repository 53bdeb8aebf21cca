package types

import "time"

// FileEntry is a filesystem entry discovered by a walk or a directory listing
type FileEntry struct {
	Path    string
	IsDir   bool
	ModTime time.Time
}

// IndexerFileResult is a single search hit
type IndexerFileResult struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

// SearchParams bounds a search
type SearchParams struct {
	Limit int // Maximum number of results (<= 0 selects the default)
}

// DefaultSearchLimit is used when SearchParams.Limit is not positive
const DefaultSearchLimit = 100
