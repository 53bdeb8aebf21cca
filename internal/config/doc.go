// Package config loads the service configuration.
//
// Settings come from three layers, later ones winning:
//
//  1. Built-in defaults (Default)
//  2. A TOML file (Load)
//  3. FILEINDEX_DB_PATH, FILEINDEX_ENTRYPOINTS and FILEINDEX_LOG_LEVEL
//
// A minimal file:
//
//	database_path = "/var/lib/fileindex/file-index.db"
//	entrypoints   = ["/home/alice", "/srv/shared"]
//
//	[scan]
//	ignore_hidden_paths = true
//	excluded_names      = [".git", "node_modules"]
//
//	[watch]
//	enabled  = true
//	debounce = "5s"
//
// Unknown keys are rejected so a typo never silently falls back to a default.
// The converters (FileIndexConfig, WalkerOptions, WatcherConfig, NewLogger)
// hand each subsystem its own typed configuration.
package config
