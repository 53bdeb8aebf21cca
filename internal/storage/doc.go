// Package storage provides SQLite-based persistence for the file index.
//
// The storage layer manages:
//   - Scan bookkeeping (kind, status, depth, owning session)
//   - One row per indexed filesystem entry
//   - An FTS5 index over entry names and full paths
//
// # Database Schema
//
// Tables:
//   - scan_history: every scan ever requested and how it ended
//   - indexed_file: path, parent path, name, directory flag and timestamps
//   - indexed_file_fts: FTS5 external-content table kept in sync by triggers
//   - schema_version: applied migrations
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("/var/lib/fileindex/index.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.IndexFiles(ctx, []types.FileEntry{
//	    {Path: "/data/report.pdf", ModTime: info.ModTime()},
//	})
//
// # Connections
//
// Every Storage value holds a single connection. SQLite allows many readers
// and one writer, so each logical owner (the scan loop, the writer, each
// query) opens its own value on the same file. WAL mode keeps readers from
// blocking the writer.
//
// # Transactions
//
// Use transactions when several mutations must land together:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if _, err := tx.PruneIndexedFiles(ctx, root, scanStart); err != nil {
//	    return err
//	}
//	if err := tx.UpdateScanStatus(ctx, scanID, types.ScanStatusFinished); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Subtree Deletes
//
// DeleteIndexedFiles removes a path together with everything below it, so a
// deleted directory never leaves orphaned descendants in search results.
//
// # Full-Text Search
//
// Search takes an FTS5 MATCH expression. BuildPrefixQuery turns user input
// into one, treating the last word as a prefix:
//
//	match := storage.BuildPrefixQuery("quarterly rep")
//	results, err := db.Search(ctx, match, types.SearchParams{Limit: 20})
//
// Results are ranked with bm25, weighting the entry name above its path.
//
// # Build Tags
//
// Pure Go (default, or the purego tag):
//
//   - Uses modernc.org/sqlite driver
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build ./...
//
// CGO (sqlite_cgo tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Requires C compiler and the sqlite_fts5 tag
//
//     CGO_ENABLED=1 go build -tags "sqlite_cgo sqlite_fts5" ./...
package storage
