package searcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/fileindex-mcp/internal/storage"
	"github.com/dshills/fileindex-mcp/pkg/types"
)

const (
	// DefaultMaxConcurrent bounds the number of queries hitting the database at once
	DefaultMaxConcurrent = 4

	// DefaultCacheSize is the number of cached query results
	DefaultCacheSize = 256
)

// Config contains configuration for the searcher
type Config struct {
	MaxConcurrent int // Concurrent queries (default: 4)
	CacheSize     int // Cached results, 0 selects the default (default: 256)
	DefaultLimit  int // Limit used when a request has none (default: 100)
}

// Opener opens a short-lived storage connection for one query
type Opener func() (storage.Storage, error)

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query string
	Limit int
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results    []types.IndexerFileResult
	MatchQuery string // FTS5 expression the query was turned into
	Duration   time.Duration
	CacheHit   bool
}

// Searcher runs prefix queries against the path index. Every query uses its own
// connection, never the scanner's or the writer's.
type Searcher struct {
	open         Opener
	sem          *semaphore.Weighted
	cache        *lru.Cache[[32]byte, []types.IndexerFileResult]
	generation   func() uint64
	defaultLimit int
	logger       *slog.Logger
}

// NewSearcher creates a new Searcher instance. generation must change whenever the
// index does; cached results are keyed by it.
func NewSearcher(open Opener, config Config, generation func() uint64, logger *slog.Logger) (*Searcher, error) {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultCacheSize
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = types.DefaultSearchLimit
	}
	if generation == nil {
		generation = func() uint64 { return 0 }
	}
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[[32]byte, []types.IndexerFileResult](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	return &Searcher{
		open:         open,
		sem:          semaphore.NewWeighted(int64(config.MaxConcurrent)),
		cache:        cache,
		generation:   generation,
		defaultLimit: config.DefaultLimit,
		logger:       logger,
	}, nil
}

// Search performs a prefix search. A query that matches nothing, or contains
// nothing searchable, yields an empty result and no error.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if req.Limit <= 0 {
		req.Limit = s.defaultLimit
	}

	response := &SearchResponse{
		Results:    make([]types.IndexerFileResult, 0),
		MatchQuery: storage.BuildPrefixQuery(req.Query),
	}
	if response.MatchQuery == "" {
		response.Duration = time.Since(startTime)
		return response, nil
	}

	key := computeQueryHash(s.generation(), response.MatchQuery, req.Limit)
	if cached, ok := s.cache.Get(key); ok {
		response.Results = copyResults(cached)
		response.CacheHit = true
		response.Duration = time.Since(startTime)
		return response, nil
	}

	// Keyed by the generation observed before the query ran
	results, err := s.query(ctx, response.MatchQuery, req.Limit)
	if err != nil {
		return nil, err
	}

	s.cache.Add(key, copyResults(results))
	response.Results = results
	response.Duration = time.Since(startTime)

	s.logger.Debug("search completed",
		slog.String("query", req.Query),
		slog.Int("results", len(results)),
		slog.Duration("duration", response.Duration))
	return response, nil
}

func (s *Searcher) query(ctx context.Context, matchQuery string, limit int) ([]types.IndexerFileResult, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	store, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	results, err := store.Search(ctx, matchQuery, types.SearchParams{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return results, nil
}

// InvalidateCache drops every cached result
func (s *Searcher) InvalidateCache() {
	s.cache.Purge()
}

// CacheLen returns the number of cached results
func (s *Searcher) CacheLen() int {
	return s.cache.Len()
}

func copyResults(src []types.IndexerFileResult) []types.IndexerFileResult {
	return append(make([]types.IndexerFileResult, 0, len(src)), src...)
}

// computeQueryHash computes the cache key for a query at one index generation
func computeQueryHash(generation uint64, matchQuery string, limit int) [32]byte {
	var data strings.Builder
	data.WriteString(strconv.FormatUint(generation, 10))
	data.WriteString("|")
	data.WriteString(strconv.Itoa(limit))
	data.WriteString("|")
	data.WriteString(matchQuery)
	return sha256.Sum256([]byte(data.String()))
}
