package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/fileindex-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// BusyTimeout is how long a connection waits on a locked database before failing
const BusyTimeout = 5 * time.Second

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// One connection per owner: the scanner, the writer and every query open their own
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", BusyTimeout.Milliseconds()),
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	return db, nil
}

// NewSQLiteStorage opens (creating if needed) the index database and applies migrations
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// withTx runs fn inside a transaction that is committed when fn succeeds
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Scan bookkeeping

const scanColumns = `id, path, kind, status, max_depth, session_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanScanRecord(row rowScanner) (*ScanRecord, error) {
	var (
		rec       ScanRecord
		kind      string
		status    string
		maxDepth  sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&rec.ID, &rec.Path, &kind, &status, &maxDepth, &rec.SessionID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Kind = types.ScanKind(kind)
	rec.Status = types.ScanStatus(status)
	if maxDepth.Valid {
		depth := int(maxDepth.Int64)
		rec.MaxDepth = &depth
	}
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.UpdatedAt = time.Unix(0, updatedAt)
	return &rec, nil
}

// createScanWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) createScanWithQuerier(ctx context.Context, q querier, scan *ScanRecord) error {
	if err := scan.Kind.Validate(); err != nil {
		return err
	}
	if scan.Status == "" {
		scan.Status = types.ScanStatusStarted
	}
	if err := scan.Status.Validate(); err != nil {
		return err
	}

	var maxDepth interface{}
	if scan.MaxDepth != nil {
		maxDepth = *scan.MaxDepth
	}

	query := `
		INSERT INTO scan_history (path, kind, status, max_depth, session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := q.ExecContext(ctx, query,
		scan.Path, string(scan.Kind), string(scan.Status), maxDepth, scan.SessionID,
		now.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create scan: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	scan.ID = id
	scan.CreatedAt = now
	scan.UpdatedAt = now
	return nil
}

// CreateScan persists a new scan record, Started unless another status is set
func (s *SQLiteStorage) CreateScan(ctx context.Context, scan *ScanRecord) error {
	return s.createScanWithQuerier(ctx, s.querier(), scan)
}

// updateScanStatusWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) updateScanStatusWithQuerier(ctx context.Context, q querier, scanID int64, status types.ScanStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}
	result, err := q.ExecContext(ctx,
		`UPDATE scan_history SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UnixNano(), scanID)
	if err != nil {
		return fmt.Errorf("failed to update scan status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateScanStatus moves a scan to a new status
func (s *SQLiteStorage) UpdateScanStatus(ctx context.Context, scanID int64, status types.ScanStatus) error {
	return s.updateScanStatusWithQuerier(ctx, s.querier(), scanID, status)
}

// getScanWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getScanWithQuerier(ctx context.Context, q querier, scanID int64) (*ScanRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scan_history WHERE id = ?`, scanID)
	rec, err := scanScanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// GetScan retrieves a scan record by ID
func (s *SQLiteStorage) GetScan(ctx context.Context, scanID int64) (*ScanRecord, error) {
	return s.getScanWithQuerier(ctx, s.querier(), scanID)
}

// getLastScanWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getLastScanWithQuerier(ctx context.Context, q querier) (*ScanRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scan_history ORDER BY id DESC LIMIT 1`)
	rec, err := scanScanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// GetLastScan returns the most recent scan record, ErrNotFound on a fresh database
func (s *SQLiteStorage) GetLastScan(ctx context.Context) (*ScanRecord, error) {
	return s.getLastScanWithQuerier(ctx, s.querier())
}

// listScansWithQuerier runs a scan_history query and collects the rows
func (s *SQLiteStorage) listScansWithQuerier(ctx context.Context, q querier, query string, args ...interface{}) ([]*ScanRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	scans := make([]*ScanRecord, 0)
	for rows.Next() {
		rec, err := scanScanRecord(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, rec)
	}
	return scans, rows.Err()
}

// ListInterruptedScans returns scans still marked Started that belong to another
// session than currentSession. An empty currentSession matches every Started scan.
func (s *SQLiteStorage) ListInterruptedScans(ctx context.Context, currentSession string) ([]*ScanRecord, error) {
	return s.listScansWithQuerier(ctx, s.querier(),
		`SELECT `+scanColumns+` FROM scan_history WHERE status = ? AND session_id != ? ORDER BY id`,
		string(types.ScanStatusStarted), currentSession)
}

// ListScans returns the most recent scans, newest first
func (s *SQLiteStorage) ListScans(ctx context.Context, limit int) ([]*ScanRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.listScansWithQuerier(ctx, s.querier(),
		`SELECT `+scanColumns+` FROM scan_history ORDER BY id DESC LIMIT ?`, limit)
}

// Index operations

// indexFilesWithQuerier upserts entries with a single prepared statement
func (s *SQLiteStorage) indexFilesWithQuerier(ctx context.Context, q querier, entries []types.FileEntry) error {
	if len(entries) == 0 {
		return nil
	}

	stmt, err := q.PrepareContext(ctx, `
		INSERT INTO indexed_file (path, parent_path, name, is_dir, last_modified, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			is_dir = excluded.is_dir,
			last_modified = excluded.last_modified,
			indexed_at = excluded.indexed_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixNano()
	for _, entry := range entries {
		path := filepath.Clean(entry.Path)
		_, err := stmt.ExecContext(ctx,
			path, filepath.Dir(path), filepath.Base(path), entry.IsDir,
			entry.ModTime.UnixNano(), now)
		if err != nil {
			return fmt.Errorf("failed to index %s: %w", path, err)
		}
	}
	return nil
}

// IndexFiles inserts entries or refreshes their modification time, in one transaction
func (s *SQLiteStorage) IndexFiles(ctx context.Context, entries []types.FileEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.withTx(ctx, func(q querier) error {
		return s.indexFilesWithQuerier(ctx, q, entries)
	})
}

// subtreeBounds returns the half-open range of paths strictly below root.
// Paths sort bytewise and '0' follows '/', so [root/, root0) holds exactly the descendants.
func subtreeBounds(root string) (lower, upper string) {
	prefix := strings.TrimSuffix(filepath.Clean(root), "/") + "/"
	return prefix, prefix[:len(prefix)-1] + "0"
}

// deleteIndexedFilesWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteIndexedFilesWithQuerier(ctx context.Context, q querier, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}

	stmt, err := q.PrepareContext(ctx, `
		DELETE FROM indexed_file
		WHERE path = ? OR (path >= ? AND path < ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	deleted := 0
	for _, p := range paths {
		path := filepath.Clean(p)
		lower, upper := subtreeBounds(path)
		result, err := stmt.ExecContext(ctx, path, lower, upper)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete %s: %w", path, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return deleted, err
		}
		deleted += int(n)
	}
	return deleted, nil
}

// DeleteIndexedFiles removes entries together with every indexed descendant
func (s *SQLiteStorage) DeleteIndexedFiles(ctx context.Context, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	var deleted int
	err := s.withTx(ctx, func(q querier) error {
		var err error
		deleted, err = s.deleteIndexedFilesWithQuerier(ctx, q, paths)
		return err
	})
	return deleted, err
}

// pruneIndexedFilesWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) pruneIndexedFilesWithQuerier(ctx context.Context, q querier, root string, indexedBefore time.Time) (int, error) {
	root = filepath.Clean(root)
	lower, upper := subtreeBounds(root)
	result, err := q.ExecContext(ctx, `
		DELETE FROM indexed_file
		WHERE (path = ? OR (path >= ? AND path < ?)) AND indexed_at < ?
	`, root, lower, upper, indexedBefore.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune %s: %w", root, err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// PruneIndexedFiles deletes rows at or below root that were not refreshed since indexedBefore
func (s *SQLiteStorage) PruneIndexedFiles(ctx context.Context, root string, indexedBefore time.Time) (int, error) {
	return s.pruneIndexedFilesWithQuerier(ctx, s.querier(), root, indexedBefore)
}

// listIndexedDirectoryFilesWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listIndexedDirectoryFilesWithQuerier(ctx context.Context, q querier, dirPath string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT path FROM indexed_file WHERE parent_path = ? AND path != parent_path ORDER BY path`,
		filepath.Clean(dirPath))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	paths := make([]string, 0)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// ListIndexedDirectoryFiles returns the direct children recorded for a directory
func (s *SQLiteStorage) ListIndexedDirectoryFiles(ctx context.Context, dirPath string) ([]string, error) {
	return s.listIndexedDirectoryFilesWithQuerier(ctx, s.querier(), dirPath)
}

// retrieveIndexedLastModifiedWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) retrieveIndexedLastModifiedWithQuerier(ctx context.Context, q querier, path string) (time.Time, error) {
	var lastModified int64
	err := q.QueryRowContext(ctx,
		`SELECT last_modified FROM indexed_file WHERE path = ?`,
		filepath.Clean(path)).Scan(&lastModified)
	if err == sql.ErrNoRows {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, lastModified), nil
}

// RetrieveIndexedLastModified returns the recorded modification time of path, ErrNotFound if unindexed
func (s *SQLiteStorage) RetrieveIndexedLastModified(ctx context.Context, path string) (time.Time, error) {
	return s.retrieveIndexedLastModifiedWithQuerier(ctx, s.querier(), path)
}

// Search operations

// searchWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) searchWithQuerier(ctx context.Context, q querier, matchQuery string, params types.SearchParams) ([]types.IndexerFileResult, error) {
	results := make([]types.IndexerFileResult, 0)
	if matchQuery == "" {
		return results, nil
	}

	limit := params.Limit
	if limit <= 0 {
		limit = types.DefaultSearchLimit
	}

	// bm25 weights: name column counts ten times more than the full path.
	// Lower scores are better matches.
	sqlQuery := `
		SELECT f.path, f.is_dir
		FROM indexed_file_fts
		JOIN indexed_file f ON f.id = indexed_file_fts.rowid
		WHERE indexed_file_fts MATCH ?
		ORDER BY bm25(indexed_file_fts, 10.0, 1.0), f.path
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, sqlQuery, matchQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var result types.IndexerFileResult
		if err := rows.Scan(&result.Path, &result.IsDir); err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// Search runs an FTS5 MATCH expression (see BuildPrefixQuery) ordered by relevance
func (s *SQLiteStorage) Search(ctx context.Context, matchQuery string, params types.SearchParams) ([]types.IndexerFileResult, error) {
	return s.searchWithQuerier(ctx, s.querier(), matchQuery, params)
}

// Status operations

// getStatusWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier) (*IndexStatus, error) {
	status := &IndexStatus{}

	err := q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN is_dir = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_dir = 1 THEN 1 ELSE 0 END), 0)
		FROM indexed_file
	`).Scan(&status.FilesCount, &status.DirectoriesCount)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*) FROM scan_history GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			scanStatus string
			count      int
		)
		if err := rows.Scan(&scanStatus, &count); err != nil {
			_ = rows.Close()
			return nil, err
		}
		switch types.ScanStatus(scanStatus) {
		case types.ScanStatusStarted:
			status.ScansStarted = count
		case types.ScanStatusFinished:
			status.ScansFinished = count
		case types.ScanStatusFailed:
			status.ScansFailed = count
		}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	last, err := s.getLastScanWithQuerier(ctx, q)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	status.LastScan = last

	// Calculate database size
	var pageCount, pageSize int
	if err := q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	var ftsName string
	ftsErr := q.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='indexed_file_fts'").Scan(&ftsName)

	version, err := currentVersion(ctx, q)
	if err != nil {
		return nil, err
	}

	status.Health = HealthStatus{
		DatabaseAccessible: true,
		FTSIndexBuilt:      ftsErr == nil,
		SchemaVersion:      version.String(),
	}

	return status, nil
}

// GetStatus reports index statistics and health
func (s *SQLiteStorage) GetStatus(ctx context.Context) (*IndexStatus, error) {
	return s.getStatusWithQuerier(ctx, s.querier())
}

// Transaction implementations, all routed through the transaction querier.
// The connection pool holds one connection, so going through s.db here would deadlock.

func (t *sqliteTx) CreateScan(ctx context.Context, scan *ScanRecord) error {
	return t.storage.createScanWithQuerier(ctx, t.querier(), scan)
}

func (t *sqliteTx) UpdateScanStatus(ctx context.Context, scanID int64, status types.ScanStatus) error {
	return t.storage.updateScanStatusWithQuerier(ctx, t.querier(), scanID, status)
}

func (t *sqliteTx) GetScan(ctx context.Context, scanID int64) (*ScanRecord, error) {
	return t.storage.getScanWithQuerier(ctx, t.querier(), scanID)
}

func (t *sqliteTx) GetLastScan(ctx context.Context) (*ScanRecord, error) {
	return t.storage.getLastScanWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) ListInterruptedScans(ctx context.Context, currentSession string) ([]*ScanRecord, error) {
	return t.storage.listScansWithQuerier(ctx, t.querier(),
		`SELECT `+scanColumns+` FROM scan_history WHERE status = ? AND session_id != ? ORDER BY id`,
		string(types.ScanStatusStarted), currentSession)
}

func (t *sqliteTx) ListScans(ctx context.Context, limit int) ([]*ScanRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return t.storage.listScansWithQuerier(ctx, t.querier(),
		`SELECT `+scanColumns+` FROM scan_history ORDER BY id DESC LIMIT ?`, limit)
}

func (t *sqliteTx) IndexFiles(ctx context.Context, entries []types.FileEntry) error {
	return t.storage.indexFilesWithQuerier(ctx, t.querier(), entries)
}

func (t *sqliteTx) DeleteIndexedFiles(ctx context.Context, paths []string) (int, error) {
	return t.storage.deleteIndexedFilesWithQuerier(ctx, t.querier(), paths)
}

func (t *sqliteTx) PruneIndexedFiles(ctx context.Context, root string, indexedBefore time.Time) (int, error) {
	return t.storage.pruneIndexedFilesWithQuerier(ctx, t.querier(), root, indexedBefore)
}

func (t *sqliteTx) ListIndexedDirectoryFiles(ctx context.Context, dirPath string) ([]string, error) {
	return t.storage.listIndexedDirectoryFilesWithQuerier(ctx, t.querier(), dirPath)
}

func (t *sqliteTx) RetrieveIndexedLastModified(ctx context.Context, path string) (time.Time, error) {
	return t.storage.retrieveIndexedLastModifiedWithQuerier(ctx, t.querier(), path)
}

func (t *sqliteTx) Search(ctx context.Context, matchQuery string, params types.SearchParams) ([]types.IndexerFileResult, error) {
	return t.storage.searchWithQuerier(ctx, t.querier(), matchQuery, params)
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*IndexStatus, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
