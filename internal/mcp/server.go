package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/fileindex-mcp/internal/fileindex"
	"github.com/dshills/fileindex-mcp/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "fileindex-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Index is the part of the file index the tools drive
type Index interface {
	Query(ctx context.Context, query string, params types.SearchParams) ([]types.IndexerFileResult, error)
	RebuildIndex() error
	Enqueue(req types.EnqueuedScan) error
	Status(ctx context.Context) (*fileindex.Status, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp    *server.MCPServer
	index  Index
	logger *slog.Logger
}

// NewServer creates an MCP server exposing index. The index must already be
// started; the server never starts or stops it.
func NewServer(index Index, version string, logger *slog.Logger) *Server {
	if version == "" {
		version = ServerVersion
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			version,
			server.WithToolCapabilities(false),
		),
		index:  index,
		logger: logger,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol on stdio until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio", slog.String("server", ServerName))
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchFilesTool(), s.handleSearchFiles)
	s.mcp.AddTool(scanPathTool(), s.handleScanPath)
	s.mcp.AddTool(rebuildIndexTool(), s.handleRebuildIndex)
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
}
