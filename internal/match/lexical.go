package match

import (
	"strings"

	"github.com/agext/levenshtein"
)

// Lexical scores a keyword against an identifier with partial-overlap
// edit-distance similarity. Identifier casing conventions (snake_case,
// camelCase, kebab-case) are flattened before comparison, so "unit price",
// "unit_price" and "unitPrice" all score alike. Pure and deterministic.
type Lexical struct{}

// Score returns a similarity in [0,100]. An exact substring relationship
// scores 100; unrelated strings score near 0.
func (Lexical) Score(a, b string) float64 {
	na := normalizeIdentifier(a)
	nb := normalizeIdentifier(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 100
	}

	short, long := []rune(na), []rune(nb)
	if len(short) > len(long) {
		short, long = long, short
	}
	if strings.Contains(string(long), string(short)) {
		return 100
	}

	// Windows are sliced on rune boundaries so multi-byte identifiers
	// score the same as ASCII ones. The window one rune wider than the
	// needle catches off-by-one overlaps the fixed-width scan misses.
	best := 0.0
	needle := string(short)
	for width := len(short); width <= len(short)+1 && width <= len(long); width++ {
		for i := 0; i+width <= len(long); i++ {
			similarity := levenshtein.Similarity(needle, string(long[i:i+width]), nil)
			if similarity > best {
				best = similarity
			}
		}
	}
	return best * 100
}

// Ratio compares the two whole strings, without the partial-overlap
// windowing of Score. Used where a substring relationship must not count
// as near-identity, e.g. relationship inference between column names.
func (Lexical) Ratio(a, b string) float64 {
	na := normalizeIdentifier(a)
	nb := normalizeIdentifier(b)
	if na == "" || nb == "" {
		return 0
	}
	return levenshtein.Similarity(na, nb, nil) * 100
}

func normalizeIdentifier(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		switch r {
		case ' ', '_', '-', '.', '\t':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
