// Package mcp implements the Model Context Protocol (MCP) server for the file index.
//
// The MCP server exposes four tools:
//   - search_files: Prefix search over indexed file and directory names
//   - scan_path: Queue a rescan of one directory
//   - rebuild_index: Queue a full re-index of every entrypoint
//   - index_status: Report index statistics and pipeline state
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only, so logs go to stderr.
//
// # Basic Usage
//
// The MCP server is started via the serve command:
//
//	fileindex serve
//
// # Tool: search_files
//
//	Request:
//	{
//	  "name": "search_files",
//	  "arguments": {"query": "quarterly rep", "limit": 20}
//	}
//
//	Response:
//	{
//	  "query": "quarterly rep",
//	  "count": 1,
//	  "results": [{"path": "/home/alice/docs/quarterly-report.pdf", "is_dir": false}],
//	  "duration_ms": 3
//	}
//
// Every query word must match the start of a word in the entry name or path.
// Results are ranked with name matches first.
//
// # Tool: scan_path
//
//	Request:
//	{
//	  "name": "scan_path",
//	  "arguments": {"path": "/home/alice/docs", "max_depth": 2}
//	}
//
// Scans run in the background. The tool returns once the request is queued.
//
// # Error Handling
//
// Failures are returned as MCPError values:
//   - -32602: Invalid parameters
//   - -32603: Internal error
//   - -32002: Scan queue full
//   - -32003: File index not active
//   - -32004: Empty query
package mcp
