package search

import "strings"

// minKeywordLength drops tokens too short to be useful search terms.
const minKeywordLength = 2

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "in": {}, "is": {}, "it": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "to": {}, "was": {},
	"will": {}, "with": {},
}

// tokenize lowercases s, strips punctuation, drops stop words and
// anything shorter than minKeywordLength, generalizing util.go's
// sanitize/trim idiom from filenames to search keywords.
func tokenize(s string) []string {
	folded := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return ' '
		}
	}, s)

	fields := strings.Fields(folded)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < minKeywordLength {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
