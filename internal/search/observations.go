package search

import "strings"

// Observation scoring weights.
const (
	PhraseWeight  = 0.6
	OverlapWeight = 0.4
)

// ObservationScore rates an observation text against a query. The whole
// lower-cased query occurring in the text adds PhraseWeight; the share of
// distinct query words that are also words of the text adds up to
// OverlapWeight. A score of 0 means no match.
func ObservationScore(query, text string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	queryWords := wordSet(q)
	if len(queryWords) == 0 {
		return 0
	}
	t := strings.ToLower(text)

	var score float64
	if strings.Contains(t, q) {
		score += PhraseWeight
	}
	textWords := wordSet(t)
	shared := 0
	for w := range queryWords {
		if _, ok := textWords[w]; ok {
			shared++
		}
	}
	score += float64(shared) / float64(len(queryWords)) * OverlapWeight
	return score
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(s)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
