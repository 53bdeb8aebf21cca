package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultFileName is the ignore file consulted when none is configured
const DefaultFileName = ".gitignore"

// Matcher tests paths against the patterns of one or more ignore files
type Matcher struct {
	patterns []string
}

// NewMatcher builds a matcher from raw pattern lines
func NewMatcher(patterns ...string) *Matcher {
	m := &Matcher{}
	m.add(patterns...)
	return m
}

// Load reads an ignore file, one pattern per line
func Load(path string) (*Matcher, error) {
	m := &Matcher{}
	if err := m.load(path); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Matcher) load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.add(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

func (m *Matcher) add(patterns ...string) {
	for _, p := range patterns {
		p = strings.TrimRight(p, "\r")
		if p == "" {
			continue
		}
		m.patterns = append(m.patterns, translateExtGlob(strings.TrimPrefix(p, "/")))
	}
}

// translateExtGlob rewrites extended glob alternation, @(a|b), into the brace
// form {a,b} doublestar understands. Commas inside a group are escaped so they
// stay literal. Unbalanced patterns are returned unchanged.
func translateExtGlob(pattern string) string {
	if !strings.Contains(pattern, "@(") {
		return pattern
	}

	var b strings.Builder
	var groups []bool // One per open parenthesis: true for an @( group
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		inGroup := len(groups) > 0 && groups[len(groups)-1]
		switch {
		case c == '\\' && i+1 < len(pattern):
			b.WriteByte(c)
			b.WriteByte(pattern[i+1])
			i++
		case c == '@' && i+1 < len(pattern) && pattern[i+1] == '(':
			b.WriteByte('{')
			groups = append(groups, true)
			i++
		case c == '(':
			b.WriteByte(c)
			groups = append(groups, false)
		case c == ')' && len(groups) > 0:
			if inGroup {
				b.WriteByte('}')
			} else {
				b.WriteByte(c)
			}
			groups = groups[:len(groups)-1]
		case c == '|' && inGroup:
			b.WriteByte(',')
		case c == ',' && inGroup:
			b.WriteString(`\,`)
		default:
			b.WriteByte(c)
		}
	}
	if len(groups) > 0 {
		return pattern
	}
	return b.String()
}

// Patterns returns the loaded patterns in matching form: leading slash removed,
// @(a|b) groups rewritten as {a,b}
func (m *Matcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

// Len returns the number of patterns
func (m *Matcher) Len() int {
	return len(m.patterns)
}

// Matches reports whether the base name of path matches any pattern.
// Patterns support *, ?, bracket classes and alternation in both the
// {a,b} and @(a|b) forms. Malformed patterns never match.
func (m *Matcher) Matches(path string) bool {
	name := filepath.Base(path)
	for _, pattern := range m.patterns {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
