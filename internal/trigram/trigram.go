// Package trigram normalizes text and decomposes it into character
// trigrams, the unit the fuzzy-match index is built from.
package trigram

import (
	"regexp"
	"strings"
)

// Length of an extracted gram, in runes.
const N = 3

// Any run of characters that is neither a letter nor a digit (underscore
// included) collapses to a single space during normalization.
var nonWord = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Normalize lowercases s and collapses every maximal run of
// non-alphanumeric characters into a single space.
func Normalize(s string) string {
	return nonWord.ReplaceAllString(strings.ToLower(s), " ")
}

// Tokenize returns the distinct trigrams of the normalized form of s, in
// first-occurrence order. Strings whose normalized form is shorter than
// three characters yield no grams at all; such a value is unmatchable by
// queries until it grows long enough, which is intended.
func Tokenize(s string) []string {
	norm := []rune(Normalize(s))
	if len(norm) < N {
		return nil
	}

	seen := make(map[string]struct{}, len(norm))
	grams := make([]string, 0, len(norm)-N+1)
	for i := 0; i+N <= len(norm); i++ {
		g := string(norm[i : i+N])
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		grams = append(grams, g)
	}
	return grams
}
