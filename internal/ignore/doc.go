// Package ignore filters walked paths using ignore files such as .gitignore.
//
// A Matcher holds the raw lines of one ignore file. Each line is a shell glob
// tested against the final component of a candidate path only:
//
//	m, err := ignore.Load("/data/.gitignore")
//	if err != nil {
//	    return err
//	}
//	m.Matches("/data/sub/server.log") // true for a "*.log" line
//
// This is a best-effort filter, not a gitignore implementation. Comments,
// negation and directory-scoped patterns have no special meaning.
//
// A Chain answers the question the walker actually asks: is this path matched
// by an ignore file in any of its ancestor directories? Parsed matchers are
// kept in an LRU cache keyed by directory so a walk reads each ignore file once.
package ignore
