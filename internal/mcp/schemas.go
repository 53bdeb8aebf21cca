package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Bounds of the search_files limit parameter
const (
	minSearchLimit = 1
	maxSearchLimit = 1000
)

// searchFilesTool returns the tool definition for search_files
func searchFilesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_files",
		Description: "Find files and directories whose name or path words start with the query words",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Words to look for; the last word may be incomplete (e.g. 'quarterly rep')",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-1000)",
					"default":     100,
					"minimum":     minSearchLimit,
					"maximum":     maxSearchLimit,
				},
			},
			Required: []string{"query"},
		},
	}
}

// scanPathTool returns the tool definition for scan_path
func scanPathTool() mcp.Tool {
	return mcp.Tool{
		Name:        "scan_path",
		Description: "Queue a rescan of a directory so recent changes become searchable",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of the directory to rescan",
				},
				"max_depth": map[string]interface{}{
					"type":        "integer",
					"description": "Directory levels below path to revisit; omit for no limit",
					"minimum":     0,
				},
				"full": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, walk and re-index the whole subtree instead of only changed directories",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// rebuildIndexTool returns the tool definition for rebuild_index
func rebuildIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "rebuild_index",
		Description: "Queue a full re-index of every configured entrypoint",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// indexStatusTool returns the tool definition for index_status
func indexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_status",
		Description: "Report index statistics, scan history and pipeline state",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
