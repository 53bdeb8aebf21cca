// Package types provides shared type definitions for the file index.
//
// This package defines domain types used across multiple components:
// scan bookkeeping (kinds and statuses), filesystem entries discovered by
// the walker, and the results returned by prefix search.
//
// # Scans
//
// A scan is either Full (re-walk an entire subtree) or Incremental (revisit
// only directories whose modification time moved):
//
//	kind := types.ScanKindIncremental
//	if err := kind.Validate(); err != nil {
//	    return err
//	}
//
// Persisted scans move through Started -> Finished | Failed. A record left
// in Started by a previous process is treated as interrupted and retried.
//
// # Entries
//
// FileEntry is the unit the walker reports and the writer persists:
//
//	entry := types.FileEntry{
//	    Path:    "/home/me/notes/todo.md",
//	    IsDir:   false,
//	    ModTime: info.ModTime(),
//	}
//
// # Search Results
//
// IndexerFileResult is what a query resolves with. An empty result list is
// a normal outcome and never an error.
package types
