// Package watcher queues incremental rescans when watched directories change.
//
// Every entrypoint and its subdirectories down to Config.Depth are watched
// with fsnotify. An event marks the directory holding the changed entry as
// pending; once it has been quiet for Config.Debounce, an Incremental scan of
// that directory (one level deep) is queued, rate limited by
// golang.org/x/time/rate.
//
// Changes to an ignore file drop the cached matcher of its directory so the
// next walk sees the new patterns.
package watcher
