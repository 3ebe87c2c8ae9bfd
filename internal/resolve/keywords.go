package resolve

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "in": {}, "of": {}, "for": {},
	"by": {}, "and": {}, "or": {}, "to": {}, "show": {}, "me": {},
	"what": {}, "how": {}, "many": {}, "much": {}, "which": {}, "who": {},
	"where": {}, "get": {}, "find": {}, "list": {}, "give": {}, "with": {},
	"per": {}, "are": {}, "was": {}, "were": {}, "do": {}, "does": {},
}

// Keywords reduces a question to its content-bearing tokens: case-folded,
// stop-words removed, duplicates collapsed. First-seen order is preserved
// so downstream results stay deterministic.
func Keywords(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	keywords := make([]string, 0, len(fields))
	for _, field := range fields {
		if _, stop := stopWords[field]; stop {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		keywords = append(keywords, field)
	}
	return keywords
}
