package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/fileindex-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams  = -32602 // Invalid method parameters
	ErrorCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrorCodeScanQueueFull  = -32002 // Too many scans are already queued
	ErrorCodeIndexNotActive = -32003 // File index not started or already stopped
	ErrorCodeEmptyQuery     = -32004 // Query parameter is empty
)

// handleSearchFiles handles the search_files tool invocation
func (s *Server) handleSearchFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", 0)
	if _, given := args["limit"]; given && (limit < minSearchLimit || limit > maxSearchLimit) {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between %d and %d", minSearchLimit, maxSearchLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	start := time.Now()
	files, err := s.index.Query(ctx, query, types.SearchParams{Limit: limit})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"query":       query,
		"count":       len(files),
		"results":     files,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleScanPath handles the scan_path tool invocation
func (s *Server) handleScanPath(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	req := types.EnqueuedScan{Path: filepath.Clean(path), Kind: types.ScanKindIncremental}
	if getBoolDefault(args, "full", false) {
		req.Kind = types.ScanKindFull
	}
	if _, given := args["max_depth"]; given {
		depth := getIntDefault(args, "max_depth", -1)
		if depth < 0 {
			return nil, newMCPError(ErrorCodeInvalidParams, "max_depth must be >= 0", map[string]interface{}{
				"param": "max_depth",
				"value": args["max_depth"],
			})
		}
		req.MaxDepth = types.DepthPtr(depth)
	}

	if err := s.index.Enqueue(req); err != nil {
		return nil, enqueueError(err)
	}

	response := map[string]interface{}{
		"queued": true,
		"path":   req.Path,
		"kind":   req.Kind,
	}
	if req.MaxDepth != nil {
		response["max_depth"] = *req.MaxDepth
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRebuildIndex handles the rebuild_index tool invocation
func (s *Server) handleRebuildIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.index.RebuildIndex(); err != nil {
		return nil, enqueueError(err)
	}

	response := map[string]interface{}{
		"queued":  true,
		"message": "Full scan queued for every entrypoint. Existing results stay searchable until it completes.",
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndexStatus handles the index_status tool invocation
func (s *Server) handleIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.index.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"started":           status.Started,
		"entrypoints":       status.Entrypoints,
		"interrupted_scans": status.InterruptedScans,
		"pipeline": map[string]interface{}{
			"session_id":          status.Pipeline.SessionID,
			"running":             status.Pipeline.Running,
			"queued_scans":        status.Pipeline.QueuedScans,
			"in_flight_scans":     status.Pipeline.InFlightScans,
			"pending_batches":     status.Pipeline.PendingBatches,
			"backpressure_events": status.Pipeline.BackpressureEvents,
			"current_scan":        status.Pipeline.CurrentScan,
		},
	}

	if idx := status.Index; idx != nil {
		statistics := map[string]interface{}{
			"files_count":       idx.FilesCount,
			"directories_count": idx.DirectoriesCount,
			"scans_started":     idx.ScansStarted,
			"scans_finished":    idx.ScansFinished,
			"scans_failed":      idx.ScansFailed,
			"index_size_mb":     fmt.Sprintf("%.2f", idx.IndexSizeMB),
		}
		if last := idx.LastScan; last != nil {
			statistics["last_scan"] = map[string]interface{}{
				"path":       last.Path,
				"kind":       last.Kind,
				"status":     last.Status,
				"updated_at": last.UpdatedAt.Format(time.RFC3339),
			}
		}
		response["statistics"] = statistics
		response["health"] = map[string]interface{}{
			"database_accessible": idx.Health.DatabaseAccessible,
			"fts_index_built":     idx.Health.FTSIndexBuilt,
			"schema_version":      idx.Health.SchemaVersion,
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// arguments returns the tool arguments, treating absent arguments as empty
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// enqueueError maps a scan queueing failure onto an MCP error
func enqueueError(err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, types.ErrScanQueueFull):
		return newMCPError(ErrorCodeScanQueueFull, "scan queue is full, retry later", data)
	case errors.Is(err, types.ErrStopped), errors.Is(err, types.ErrNoEntrypoints):
		return newMCPError(ErrorCodeIndexNotActive, "file index is not active", data)
	case errors.Is(err, types.ErrRelativeEntrypoint), errors.Is(err, types.ErrInvalidMaxDepth):
		return newMCPError(ErrorCodeInvalidParams, "invalid scan request", data)
	}
	return newMCPError(ErrorCodeInternalError, "failed to queue scan", data)
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
