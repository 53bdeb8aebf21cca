package types

import "errors"

// Domain errors shared across packages
var (
	// Scan errors
	ErrInvalidScanKind   = errors.New("invalid scan kind")
	ErrInvalidScanStatus = errors.New("invalid scan status")
	ErrInvalidMaxDepth   = errors.New("max depth must be >= 0")
	ErrScanQueueFull     = errors.New("scan queue is full")

	// Entrypoint errors
	ErrNoEntrypoints      = errors.New("no entrypoints configured")
	ErrRelativeEntrypoint = errors.New("entrypoint must be an absolute path")

	// Lifecycle errors
	ErrNotStarted     = errors.New("file index not started")
	ErrAlreadyStarted = errors.New("file index already started")
	ErrStopped        = errors.New("file index stopped")
)
