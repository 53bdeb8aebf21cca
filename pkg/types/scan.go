package types

import (
	"fmt"
	"path/filepath"
)

// ScanKind selects how a subtree is (re)indexed
type ScanKind string

const (
	ScanKindFull        ScanKind = "full"        // Walk and upsert the whole subtree
	ScanKindIncremental ScanKind = "incremental" // Revisit directories whose mtime moved
)

// Validate checks that the kind is known
func (k ScanKind) Validate() error {
	switch k {
	case ScanKindFull, ScanKindIncremental:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidScanKind, string(k))
}

// ScanStatus is the persisted lifecycle state of a scan
type ScanStatus string

const (
	ScanStatusStarted  ScanStatus = "started"
	ScanStatusFinished ScanStatus = "finished"
	ScanStatusFailed   ScanStatus = "failed"
)

// Validate checks that the status is known
func (s ScanStatus) Validate() error {
	switch s {
	case ScanStatusStarted, ScanStatusFinished, ScanStatusFailed:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidScanStatus, string(s))
}

// Entrypoint is a root path the index is responsible for
type Entrypoint struct {
	Root string
}

// Validate checks that the entrypoint is an absolute path
func (e Entrypoint) Validate() error {
	if !filepath.IsAbs(e.Root) {
		return fmt.Errorf("%w: %q", ErrRelativeEntrypoint, e.Root)
	}
	return nil
}

// EnqueuedScan is an in-memory scan request waiting for the scan loop.
// MaxDepth nil means unbounded.
type EnqueuedScan struct {
	Path     string
	Kind     ScanKind
	MaxDepth *int
}

// Validate checks the request before it is queued
func (e EnqueuedScan) Validate() error {
	if err := e.Kind.Validate(); err != nil {
		return err
	}
	if !filepath.IsAbs(e.Path) {
		return fmt.Errorf("%w: %q", ErrRelativeEntrypoint, e.Path)
	}
	if e.MaxDepth != nil && *e.MaxDepth < 0 {
		return ErrInvalidMaxDepth
	}
	return nil
}

// DepthPtr returns a pointer to depth, for building EnqueuedScan literals
func DepthPtr(depth int) *int {
	return &depth
}
