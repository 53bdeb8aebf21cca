package storage

import (
	"strings"
	"unicode"
)

// BuildPrefixQuery turns raw user input into an FTS5 MATCH expression.
//
// The input is split on whitespace, each word is quoted on its own and the last
// one gets a trailing wildcard, so an unfinished last word still matches:
//
//	BuildPrefixQuery("repo rea") == `"repo" "rea"*`
//
// Words without any letter or digit produce no token and are dropped.
// An empty result means nothing can match.
func BuildPrefixQuery(raw string) string {
	words := strings.Fields(raw)
	terms := make([]string, 0, len(words))
	for _, word := range words {
		if !hasTokenChars(word) {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(word, `"`, `""`)+`"`)
	}
	if len(terms) == 0 {
		return ""
	}
	terms[len(terms)-1] += "*"
	return strings.Join(terms, " ")
}

// hasTokenChars reports whether the unicode61 tokenizer would keep anything of word
func hasTokenChars(word string) bool {
	for _, r := range word {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
