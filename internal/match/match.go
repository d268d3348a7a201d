// internal/match/match.go
// Package match scores candidate option texts against a target value.
// Dropdown options in the wild rarely equal the value a caller wants
// verbatim ("San Francisco, CA" vs "San Francisco", "UC Berkeley" vs
// "University of California, Berkeley"), so scoring layers exact equality,
// containment, token overlap, answer polarity and character similarity,
// and takes the best score across generated variants of the target.
package match

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Score weights. Exact equality must outrank containment, containment must
// outrank token overlap and raw similarity, so the caller's tie-breaking by
// enumeration order only applies within one evidence class.
const (
	scoreExact         = 1.0
	scoreContainBase   = 0.8
	scorePolarity      = 0.85
	tokenOverlapWeight = 0.8
	similarityWeight   = 0.75
)

// Normalize lowercases, trims, strips punctuation and collapses runs of
// whitespace. All scoring operates on normalized text.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '/' || r == ',':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Similarity returns a character-level similarity ratio in [0,1] between
// the normalized forms of a and b.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1.0
	}
	if na == "" || nb == "" {
		return 0.0
	}
	dist := levenshtein.ComputeDistance(na, nb)
	longest := len([]rune(na))
	if l := len([]rune(nb)); l > longest {
		longest = l
	}
	return 1.0 - float64(dist)/float64(longest)
}

// TokenOverlap returns the fraction of the target's tokens present in the
// option. Asymmetric on purpose: a long option that contains every word of
// the target is a strong match, the reverse is not.
func TokenOverlap(target, option string) float64 {
	targetTokens := strings.Fields(Normalize(target))
	if len(targetTokens) == 0 {
		return 0.0
	}
	optionTokens := make(map[string]struct{})
	for _, t := range strings.Fields(Normalize(option)) {
		optionTokens[t] = struct{}{}
	}
	hit := 0
	for _, t := range targetTokens {
		if _, ok := optionTokens[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(targetTokens))
}

// stopwords excluded from initials and treated as filler in variants.
var stopwords = map[string]struct{}{
	"of": {}, "the": {}, "and": {}, "at": {}, "in": {}, "for": {},
}

// institutionPrefixes are leading phrases commonly dropped in colloquial
// names ("University of California, Berkeley" is listed as "UC Berkeley"
// or just "Berkeley" on many forms).
var institutionPrefixes = []string{
	"university of",
	"college of",
	"institute of",
	"school of",
	"the university of",
}

// Variants generates alternate spellings of the target value worth trying
// against option text: the normalized form itself, the part before a comma
// (city without state, institution without campus), an initialism for
// multi-word values, and institution-prefix-stripped forms.
func Variants(target string) []string {
	norm := Normalize(target)
	if norm == "" {
		return nil
	}
	seen := map[string]struct{}{norm: {}}
	variants := []string{norm}
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		variants = append(variants, v)
	}

	// "San Francisco, CA" -> "san francisco". Comma is normalized to a
	// space, so split the raw input.
	if i := strings.IndexByte(target, ','); i > 0 {
		add(Normalize(target[:i]))
	}

	for _, prefix := range institutionPrefixes {
		if rest, ok := strings.CutPrefix(norm, prefix+" "); ok {
			add(rest)
		}
	}

	tokens := strings.Fields(norm)
	if len(tokens) >= 2 {
		var initials strings.Builder
		for _, t := range tokens {
			if _, skip := stopwords[t]; skip {
				continue
			}
			initials.WriteByte(t[0])
		}
		if initials.Len() >= 2 {
			add(initials.String())
		}
	}
	return variants
}

// Score rates how well an option's text matches the target value,
// returning a value in [0,1]. The best score across all target variants
// wins.
func Score(target, option string) float64 {
	normOption := Normalize(option)
	if normOption == "" {
		return 0.0
	}

	best := 0.0
	for _, variant := range Variants(target) {
		if variant == normOption {
			return scoreExact
		}
		if s := containmentScore(variant, normOption); s > best {
			best = s
		}
		if strings.ContainsRune(variant, ' ') {
			if s := TokenOverlap(variant, normOption) * tokenOverlapWeight; s > best {
				best = s
			}
		}
		if s := Similarity(variant, normOption) * similarityWeight; s > best {
			best = s
		}
	}

	if pt, po := Classify(target), Classify(option); pt != PolarityUnknown && pt == po {
		if scorePolarity > best {
			best = scorePolarity
		}
	}
	return best
}

// containmentScore scores substring containment in either direction. The
// base of 0.8 grows with how much of the longer string the shorter one
// covers, so "san francisco" in "san francisco ca" beats "sa" in
// "san francisco ca".
func containmentScore(a, b string) float64 {
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) < 2 || !strings.Contains(long, short) {
		return 0.0
	}
	return scoreContainBase + (scoreExact-scoreContainBase)*float64(len(short))/float64(len(long))
}

// Best returns the index and score of the highest-scoring option at or
// above the threshold. Ties are broken by enumeration order. ok is false
// when nothing clears the threshold.
func Best(target string, options []string, threshold float64) (index int, score float64, ok bool) {
	index = -1
	for i, opt := range options {
		s := Score(target, opt)
		if s > score {
			score = s
			index = i
		}
	}
	if index < 0 || score < threshold {
		return -1, score, false
	}
	return index, score, true
}
