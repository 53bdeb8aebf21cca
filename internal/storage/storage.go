package storage

import (
	"context"
	"time"

	"github.com/dshills/fileindex-mcp/pkg/types"
)

// Storage defines the interface for persisting scan bookkeeping and the searchable path index.
// A Storage value owns one connection and must not be shared across goroutines that
// perform concurrent writes; each logical owner opens its own.
type Storage interface {
	// Scan bookkeeping
	CreateScan(ctx context.Context, scan *ScanRecord) error
	UpdateScanStatus(ctx context.Context, scanID int64, status types.ScanStatus) error
	GetScan(ctx context.Context, scanID int64) (*ScanRecord, error)
	GetLastScan(ctx context.Context) (*ScanRecord, error)
	ListInterruptedScans(ctx context.Context, currentSession string) ([]*ScanRecord, error)
	ListScans(ctx context.Context, limit int) ([]*ScanRecord, error)

	// Index operations
	IndexFiles(ctx context.Context, entries []types.FileEntry) error
	DeleteIndexedFiles(ctx context.Context, paths []string) (deletedCount int, err error)
	PruneIndexedFiles(ctx context.Context, root string, indexedBefore time.Time) (prunedCount int, err error)
	ListIndexedDirectoryFiles(ctx context.Context, dirPath string) ([]string, error)
	RetrieveIndexedLastModified(ctx context.Context, path string) (time.Time, error)

	// Search operations
	Search(ctx context.Context, matchQuery string, params types.SearchParams) ([]types.IndexerFileResult, error)

	// Status operations
	GetStatus(ctx context.Context) (*IndexStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// ScanRecord is the persisted bookkeeping row for one scan
type ScanRecord struct {
	ID        int64
	Path      string
	Kind      types.ScanKind
	Status    types.ScanStatus
	MaxDepth  *int   // Nullable, nil means unbounded
	SessionID string // Process run that created the record
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Request converts the record back into a scan request, used to retry interrupted scans
func (r *ScanRecord) Request() types.EnqueuedScan {
	return types.EnqueuedScan{
		Path:     r.Path,
		Kind:     r.Kind,
		MaxDepth: r.MaxDepth,
	}
}

// IndexedFile is one row of the searchable path index
type IndexedFile struct {
	ID           int64
	Path         string
	ParentPath   string
	Name         string
	IsDir        bool
	LastModified time.Time
	IndexedAt    time.Time
}

// IndexStatus contains statistics about the index
type IndexStatus struct {
	FilesCount       int
	DirectoriesCount int
	ScansStarted     int
	ScansFinished    int
	ScansFailed      int
	LastScan         *ScanRecord // Nil before the first scan
	IndexSizeMB      float64
	Health           HealthStatus
}

// HealthStatus represents the health of the index
type HealthStatus struct {
	DatabaseAccessible bool
	FTSIndexBuilt      bool
	SchemaVersion      string
}
