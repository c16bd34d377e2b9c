package catalog

import (
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "in": true,
	"is": true, "it": true, "its": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "this": true, "to": true, "was": true,
	"were": true, "with": true, "who": true, "his": true, "her": true,
}

// tokenize lowercases s and splits it on anything that is not a letter or
// digit, dropping stopwords and single characters.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// trigrams returns the padded character trigrams of one token.
func trigrams(token string) []string {
	r := []rune("#" + token + "#")
	if len(r) < 3 {
		return nil
	}
	out := make([]string, 0, len(r)-2)
	for i := 0; i+3 <= len(r); i++ {
		out = append(out, string(r[i:i+3]))
	}
	return out
}

// features is the token and trigram set used to decide whether a query and a
// document share anything at all.
func features(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens)*4)
	for _, t := range tokens {
		set["w:"+t] = struct{}{}
		for _, g := range trigrams(t) {
			set["g:"+g] = struct{}{}
		}
	}
	return set
}

// normalizeForComparison lowercases, strips punctuation and collapses
// whitespace so that fuzzy field lookups ignore formatting differences.
func normalizeForComparison(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r) || r == '-' || r == '_':
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// normalizeISBN keeps digits and a trailing X.
func normalizeISBN(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if unicode.IsDigit(r) || r == 'X' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// similarity returns 1 for equal strings, 0.8 when one contains the other and
// the Levenshtein ratio otherwise.
func similarity(a, b string) (float64, string) {
	a, b = normalizeForComparison(a), normalizeForComparison(b)
	if a == "" || b == "" {
		return 0, methodNoMatch
	}
	if a == b {
		return 1, methodExact
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.8, methodSubstring
	}
	maxLen := max(len([]rune(a)), len([]rune(b)))
	score := 1 - float64(levenshtein(a, b))/float64(maxLen)
	switch {
	case score > 0.7:
		return score, methodFuzzyHigh
	case score > 0.4:
		return score, methodFuzzyMedium
	}
	return score, methodNoMatch
}
