// Package indexer keeps the path index in sync with the filesystem.
//
// A Scanner serves scan requests strictly in FIFO order. Each request is either
// Full (walk the whole subtree) or Incremental (revisit directories whose
// modification time moved, see IncrementalScanner).
//
// # Pipeline
//
// Run starts two goroutines under an errgroup, each with its own storage
// connection:
//
//  1. Scan loop: takes a request, records it as Started, walks the filesystem
//     and hands entries to the writer in batches of BatchSize.
//  2. Writer: the only goroutine that mutates the index. It drains every job
//     already queued in one pass and applies them in order.
//
// The write queue holds MaxPendingBatches jobs. When it is full the scan loop
// blocks, which bounds memory no matter how fast the disk can be walked.
//
// # Scan Records
//
// The scan loop queues a completion job after its last batch. The writer then
// marks the record Finished, or Failed if any batch was dropped. After a Full
// scan it also removes rows below the root that the scan did not refresh.
// A process that dies before that point leaves the record Started; the next
// process start treats it as interrupted and retries it.
//
// # Basic Usage
//
//	scanner, err := indexer.NewScanner(func() (storage.Storage, error) {
//	    return storage.NewSQLiteStorage(dbPath)
//	}, indexer.Config{Walker: walker.DefaultOptions()}, logger)
//	if err != nil {
//	    return err
//	}
//
//	go scanner.Run(ctx)
//
//	_ = scanner.EnqueueFull("/data")
//	_ = scanner.WaitIdle(ctx)
package indexer
