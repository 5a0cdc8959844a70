package matching

import (
	"math"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/floats"

	"github.com/erazemk/najdeno/internal/model"
)

// NoSimilarity is returned by VectorSimilarity when the vectors cannot be
// compared.
const NoSimilarity = -1.0

// DefaultMinOverlap is the number of shared description tokens required
// when no explicit minimum is given.
const DefaultMinOverlap = 2

// minTokenLen is the shortest token kept, in runes.
const minTokenLen = 3

// VectorSimilarity returns the cosine similarity of a and b in [-1, 1].
// It returns NoSimilarity if either vector is empty, the lengths differ,
// either has zero magnitude or contains a non-finite value.
func VectorSimilarity(a, b model.Embedding) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return NoSimilarity
	}
	if hasNonFinite(a) || hasNonFinite(b) {
		return NoSimilarity
	}

	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 || math.IsInf(na, 0) || math.IsInf(nb, 0) {
		return NoSimilarity
	}

	sim := floats.Dot(a, b) / (na * nb)
	switch {
	case math.IsNaN(sim):
		return NoSimilarity
	case sim > 1:
		return 1
	case sim < -1:
		return -1
	}
	return sim
}

func hasNonFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return true
		}
	}
	return false
}

// TextOverlap reports whether the two texts share at least minOverlap
// distinct normalized tokens. A minOverlap <= 0 means DefaultMinOverlap.
func TextOverlap(textA, textB string, minOverlap int) bool {
	if minOverlap <= 0 {
		minOverlap = DefaultMinOverlap
	}

	a := Tokens(textA)
	if len(a) < minOverlap {
		return false
	}

	shared := 0
	for tok := range Tokens(textB) {
		if _, ok := a[tok]; ok {
			shared++
			if shared >= minOverlap {
				return true
			}
		}
	}
	return false
}

// Tokens returns the set of distinct tokens of text: lowercased, stripped of
// everything but letters, digits and whitespace, and at least three runes long.
func Tokens(text string) map[string]struct{} {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, text)

	set := make(map[string]struct{})
	for _, tok := range strings.Fields(cleaned) {
		if len([]rune(tok)) >= minTokenLen {
			set[tok] = struct{}{}
		}
	}
	return set
}
