package tagger

import "strings"

// Ratio computes gestalt pattern-matching similarity in [0, 1]: twice the
// number of matching characters over the total length, with matches found by
// recursive longest-common-substring splitting.
func Ratio(a, b string) float64 {
	if len(a)+len(b) == 0 {
		return 0
	}
	m := matchingBlocks(a, b)
	return 2.0 * float64(m) / float64(len(a)+len(b))
}

func matchingBlocks(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchingBlocks(a[:ai], b[:bi]) +
		matchingBlocks(a[ai+size:], b[bi+size:])
}

// longestMatch finds the longest common substring of a and b, earliest in a
// on ties.
func longestMatch(a, b string) (ai, bi, size int) {
	// b-index positions per byte value, rebuilt per call; tags are short so
	// the quadratic walk is fine.
	positions := make(map[byte][]int, len(b))
	for i := 0; i < len(b); i++ {
		positions[b[i]] = append(positions[b[i]], i)
	}

	lengths := make(map[int]int)
	for i := 0; i < len(a); i++ {
		next := make(map[int]int)
		for _, j := range positions[a[i]] {
			k := lengths[j-1] + 1
			next[j] = k
			if k > size {
				ai, bi, size = i-k+1, j-k+1, k
			}
		}
		lengths = next
	}
	return ai, bi, size
}

// FuzzyMapToTaxonomy maps a freeform tag to the closest taxonomy tag at or
// above threshold, returning the canonical name and the similarity ratio.
func FuzzyMapToTaxonomy(freeform string, taxonomyTags []string, threshold float64) (string, float64, bool) {
	freeform = strings.ToLower(strings.TrimSpace(freeform))
	if freeform == "" {
		return "", 0, false
	}
	for _, tag := range taxonomyTags {
		if strings.ToLower(tag) == freeform {
			return tag, 1.0, true
		}
	}

	bestTag, bestRatio := "", 0.0
	for _, tag := range taxonomyTags {
		if r := Ratio(freeform, strings.ToLower(tag)); r > bestRatio {
			bestTag, bestRatio = tag, r
		}
	}
	if bestRatio >= threshold {
		return bestTag, bestRatio, true
	}
	return "", 0, false
}
