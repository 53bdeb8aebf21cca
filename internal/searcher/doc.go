// Package searcher answers prefix queries against the path index.
//
// Raw input is turned into an FTS5 expression by storage.BuildPrefixQuery, so
// every word matches as a token prefix:
//
//	s, err := searcher.NewSearcher(open, searcher.Config{}, scanner.Generation, logger)
//	if err != nil {
//	    return err
//	}
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{Query: "quarterly rep", Limit: 20})
//	for _, r := range resp.Results {
//	    fmt.Println(r.Path)
//	}
//
// # Concurrency
//
// Each query opens its own short-lived connection. A weighted semaphore caps
// how many run at once so a burst of queries cannot exhaust file handles or
// starve the writer.
//
// # Caching
//
// Results are kept in an LRU cache keyed by a SHA-256 of the index generation,
// the limit and the match expression. The generation is bumped on every writer
// commit, so a cached result never outlives the index state it was read from.
package searcher
