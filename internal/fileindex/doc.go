// Package fileindex is the single entry point to the background file index.
//
// A FileIndex keeps a searchable index of every path below a set of
// entrypoints. Scans run on a background pipeline (see package indexer);
// queries run on their own goroutines with their own connections and never
// wait for a scan.
//
//	idx, err := fileindex.New(fileindex.Config{DatabasePath: dbPath}, logger)
//	if err != nil {
//	    return err
//	}
//	defer idx.Stop()
//
//	if err := idx.SetEntrypoints([]types.Entrypoint{{Root: "/home/me"}}); err != nil {
//	    return err
//	}
//	if err := idx.Start(ctx); err != nil {
//	    return err
//	}
//
//	res := <-idx.QueryAsync(ctx, "quarterly rep", types.SearchParams{Limit: 20})
//
// # Startup
//
// Start looks at the scan history. A fresh database gets a Full scan of every
// entrypoint. Scans an earlier process left in Started are marked Failed and
// retried, once per path and kind. Otherwise each entrypoint gets a shallow
// Incremental scan.
package fileindex
