package merger

import (
	"strings"
	"unicode"

	"github.com/houzhh15/chunkscribe/internal/textsim"
)

// Stitch joins two overlapping renderings of the same speech.
//
// It looks for the longest run of words that ends one text and begins the
// other, in either order, and emits the words of both with that run kept once
// (the primary's copy). Without any such run both texts are kept, primary first.
//
//	Stitch("brown fox jumps over", "the quick brown fox") == "the quick brown fox jumps over"
func Stitch(primary, secondary string) string {
	return stitch(primary, secondary, false)
}

// stitch is Stitch with the fallback order chosen by the caller:
// secondaryFirst puts the secondary text first when no shared run exists.
func stitch(primary, secondary string, secondaryFirst bool) string {
	primary = strings.TrimSpace(primary)
	secondary = strings.TrimSpace(secondary)
	if secondary == "" {
		return primary
	}
	if primary == "" {
		return secondary
	}

	runeMode := textsim.HasIdeographic(primary) || textsim.HasIdeographic(secondary)
	pw, sep := stitchTokens(primary, runeMode)
	sw, _ := stitchTokens(secondary, runeMode)
	pn := normalizeTokens(pw)
	sn := normalizeTokens(sw)

	minRun := 1
	if runeMode {
		minRun = 2
	}

	// primary 尾部与 secondary 头部重叠
	kTail := longestSuffixPrefix(pn, sn)
	// secondary 尾部与 primary 头部重叠
	kHead := longestSuffixPrefix(sn, pn)

	switch {
	case kTail >= kHead && kTail >= minRun:
		return joinTokens(append(clone(pw), sw[kTail:]...), sep)
	case kHead >= minRun:
		return joinTokens(append(clone(sw[:len(sw)-kHead]), pw...), sep)
	case secondaryFirst:
		return joinTokens(append(clone(sw), pw...), sep)
	default:
		return joinTokens(append(clone(pw), sw...), sep)
	}
}

func stitchTokens(s string, runeMode bool) ([]string, string) {
	if !runeMode {
		return textsim.Fields(s), " "
	}
	var toks []string
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		toks = append(toks, string(r))
	}
	return toks, ""
}

func normalizeTokens(toks []string) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		n := textsim.NormalizeWord(t)
		if n == "" {
			// 纯标点保留原样参与比较
			n = t
		}
		out[i] = n
	}
	return out
}

// longestSuffixPrefix returns the largest k such that a[len(a)-k:] equals b[:k].
func longestSuffixPrefix(a, b []string) int {
	maxK := min(len(a), len(b))
	for k := maxK; k > 0; k-- {
		if equalTokens(a[len(a)-k:], b[:k]) {
			return k
		}
	}
	return 0
}

func equalTokens(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}

func joinTokens(toks []string, sep string) string {
	return strings.Join(toks, sep)
}
