package embedding

import (
	"math"
	"sort"
)

// Candidate is a vector keyed by the id of the document it belongs to.
type Candidate struct {
	ID     string
	Vector []float32
}

// Scored is a ranked candidate.
type Scored struct {
	ID    string
	Score float64
}

// Cosine returns dot(a,b)/(|a||b|). Mismatched lengths and zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Rank scores candidates against query, keeps those at or above threshold and
// returns at most limit of them, best first. Equal scores keep input order.
// A non-positive limit means no truncation.
func Rank(query []float32, candidates []Candidate, threshold float64, limit int) []Scored {
	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		score := Cosine(query, c.Vector)
		if score < threshold {
			continue
		}
		out = append(out, Scored{ID: c.ID, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
