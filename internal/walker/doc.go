// Package walker enumerates directory trees without recursion.
//
// Directories are visited from an explicit stack, so tree depth is never
// limited by the goroutine stack. The walker reports files and directories
// alike and skips:
//   - symbolic links (never followed, never reported)
//   - hidden entries when IgnoreHiddenPaths is set
//   - configured excluded paths and excluded file names
//   - entries matched by an ignore file in any ancestor directory
//
// I/O errors on individual entries are logged at debug level and skipped; a
// walk only stops early when the context is cancelled or the callback fails.
//
//	w, err := walker.New(walker.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	err = w.Walk(ctx, "/data", func(e types.FileEntry) error {
//	    fmt.Println(e.Path)
//	    return nil
//	})
package walker
