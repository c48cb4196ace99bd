package fallback

import (
	"regexp"
	"strings"
)

var punctuation = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)

var stopWords = map[string]bool{
	"the":        true,
	"a":          true,
	"an":         true,
	"and":        true,
	"or":         true,
	"&":          true,
	"restaurant": true,
	"bar":        true,
	"grill":      true,
	"kitchen":    true,
	"at":         true,
	"of":         true,
}

// Normalize lowercases s, replaces punctuation with spaces and collapses
// whitespace.
func Normalize(s string) string {
	s = punctuation.ReplaceAllString(strings.ToLower(s), " ")
	return strings.Join(strings.Fields(s), " ")
}

// SignificantWords returns the normalized words of name that are not stop
// words. A name made only of stop words keeps all of them.
func SignificantWords(name string) []string {
	all := strings.Fields(Normalize(name))
	var out []string
	for _, w := range all {
		if !stopWords[w] {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}

// Validate reports whether text (a page title plus headings) names the
// entity. Names with at most two significant words must appear whole; longer
// names need every significant word somewhere in the text.
func Validate(name, text string) bool {
	normName := Normalize(name)
	if normName == "" {
		return false
	}
	normText := Normalize(text)
	words := SignificantWords(name)
	if len(words) <= 2 {
		return strings.Contains(" "+normText+" ", " "+normName+" ")
	}
	tokens := make(map[string]bool)
	for _, w := range strings.Fields(normText) {
		tokens[w] = true
	}
	for _, w := range words {
		if !tokens[w] {
			return false
		}
	}
	return true
}
