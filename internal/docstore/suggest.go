package docstore

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// jaroWinklerThreshold is the minimum similarity for a candidate name to be
// offered as a suggestion. Phonetically equal names are accepted at a lower
// bar since editors typing names they heard spoken tend to get the sound
// right and the spelling wrong.
const (
	jaroWinklerThreshold = 0.85
	phoneticThreshold    = 0.70
)

// ClosestName returns the candidate most similar to name, when one is close
// enough to plausibly be the intended speaker. Comparison is case-insensitive
// and combines Jaro-Winkler string similarity with double-metaphone phonetic
// equality.
func ClosestName(name string, candidates []string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", false
	}
	namePrimary, nameSecondary := matchr.DoubleMetaphone(name)

	best := ""
	bestScore := 0.0
	for _, cand := range candidates {
		lower := strings.ToLower(cand)
		score := matchr.JaroWinkler(name, lower, false)

		candPrimary, candSecondary := matchr.DoubleMetaphone(lower)
		phonetic := namePrimary != "" && (namePrimary == candPrimary ||
			(nameSecondary != "" && nameSecondary == candSecondary))

		threshold := jaroWinklerThreshold
		if phonetic {
			threshold = phoneticThreshold
		}
		if score >= threshold && score > bestScore {
			best = cand
			bestScore = score
		}
	}
	return best, best != ""
}
