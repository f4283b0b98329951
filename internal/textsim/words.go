// Package textsim provides word tokenization and text similarity for transcript merging.
package textsim

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Normalize applies NFKC and Unicode case folding.
func Normalize(s string) string {
	return folder.String(norm.NFKC.String(s))
}

// Words splits text into normalized word tokens. Punctuation is dropped;
// apostrophes inside a word are kept ("don't"). Han, Hiragana, Katakana and
// Hangul runes become one token each since those scripts carry no spaces.
func Words(s string) []string {
	return tokenize(Normalize(s))
}

// Fields splits text on whitespace without normalizing, for rebuilding text
// from original words. Its tokens align with Words only for space-delimited scripts.
func Fields(s string) []string {
	return strings.Fields(s)
}

// NormalizeWord folds one raw token into its comparison form ("" if it has no letters or digits).
func NormalizeWord(w string) string {
	toks := tokenize(Normalize(w))
	return strings.Join(toks, "")
}

func tokenize(s string) []string {
	var (
		out []string
		cur []rune
	)
	flush := func() {
		word := strings.Trim(string(cur), "'")
		if word != "" {
			out = append(out, word)
		}
		cur = cur[:0]
	}

	for _, r := range s {
		switch {
		case isIdeographic(r):
			flush()
			out = append(out, string(r))
		case unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r):
			cur = append(cur, r)
		case r == '\'' || r == '’':
			if len(cur) > 0 {
				cur = append(cur, '\'')
			}
		default:
			flush()
		}
	}
	flush()
	return out
}

func isIdeographic(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// Jaccard returns |A∩B| / |A∪B| over the word sets of a and b.
// Two texts without any words score 0.
func Jaccard(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	words := Words(s)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// HasIdeographic reports whether s contains a rune from a script written without spaces.
func HasIdeographic(s string) bool {
	for _, r := range s {
		if isIdeographic(r) {
			return true
		}
	}
	return false
}
