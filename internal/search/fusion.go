package search

import (
	"sort"
	"strings"

	"github.com/fyrsmithlabs/kgraph/internal/models"
)

// Candidate is a vector search hit before fusion.
type Candidate struct {
	Entity      *models.Entity
	VectorScore float64
}

// Result is a ranked hybrid search hit.
type Result struct {
	Entity       *models.Entity `json:"entity"`
	VectorScore  float64        `json:"vectorScore"`
	KeywordMatch float64        `json:"keywordMatch"`
	Score        float64        `json:"score"`
}

// Weights controls fusion.
type Weights struct {
	Vector   float64
	Keyword  float64
	MinScore float64
}

// Tokens splits a query into lower-cased whitespace-separated tokens.
func Tokens(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// KeywordMatch is 1 when any token is a substring of the entity's lower-cased
// name and description, 0 otherwise.
func KeywordMatch(tokens []string, e *models.Entity) float64 {
	if len(tokens) == 0 || e == nil {
		return 0
	}
	text := strings.ToLower(e.Name + " " + e.Description)
	for _, tok := range tokens {
		if strings.Contains(text, tok) {
			return 1
		}
	}
	return 0
}

// Fuse scores candidates as vectorScore*w.Vector + keywordMatch*w.Keyword,
// with the vector score clamped to [0, 1],
// drops those under w.MinScore and returns the best limit of them. A limit
// of zero or less keeps everything. The order is total: fused score
// descending, then vector score descending, then entity id ascending, so
// equal inputs always rank identically.
func Fuse(candidates []Candidate, query string, w Weights, limit int) []Result {
	tokens := Tokens(query)
	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if c.Entity == nil {
			continue
		}
		// Cosine similarity can be negative; keep the fused score non-negative.
		vs := min(max(c.VectorScore, 0), 1)
		km := KeywordMatch(tokens, c.Entity)
		score := vs*w.Vector + km*w.Keyword
		if score < w.MinScore {
			continue
		}
		out = append(out, Result{
			Entity:       c.Entity,
			VectorScore:  vs,
			KeywordMatch: km,
			Score:        score,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].VectorScore != out[j].VectorScore {
			return out[i].VectorScore > out[j].VectorScore
		}
		return out[i].Entity.ID < out[j].Entity.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
