package rank

import (
	"sort"

	"engram/backend/internal/normalize"
)

// ============================================================================
// Reciprocal Rank Fusion
// ============================================================================

// DefaultK is the standard RRF constant; it damps the advantage of rank 1
// over rank 2 so that agreement across signals outweighs position in one.
const DefaultK = 60.0

// Interpolation range for turning a raw RRF score into a similarity. Observed
// RRF scores cluster in [0.01, 0.05]; they map onto [0.3, 0.6] and the result
// is clamped to [0, 1]. Tuned values, not structural invariants.
const (
	minObservedRRF   = 0.01
	maxObservedRRF   = 0.05
	similarityFloor  = 0.3
	similarityTarget = 0.6
)

// Candidate is one scored entry inside a Signal. Score is the producing
// signal's own score (cosine similarity, text match ratio, fixed relationship
// score) and is not comparable across signals; fusion only uses positions.
type Candidate struct {
	ID          string
	Type        normalize.EntityType
	Name        string
	Description string
	Score       float64
}

// Signal is one independently ranked candidate list, sorted by the producer
// in descending score order. Never persisted.
type Signal struct {
	Name       string
	Candidates []Candidate
}

// Boost sets a similarity floor for results that were matched by every signal
// named in RequiredSignals.
type Boost struct {
	RequiredSignals []string
	MinSimilarity   float64
}

// Result is a fused candidate. Candidate metadata comes from the first signal
// (in input order) that contained the id. Never persisted.
type Result struct {
	Candidate
	RRFScore       float64
	Similarity     float64
	MatchedSignals []string
}

// Combine fuses the signals with reciprocal rank fusion: every id scores
// Σ 1/(k+rank) over the signals containing it, rank 1 being the first
// element. Results are sorted by fused score descending, ties keeping
// first-seen signal order, and cut to topK (topK <= 0 means no cut). Each
// result carries a similarity derived from its fused score and the boosts.
func Combine(signals []Signal, k float64, topK int, boosts []Boost) []Result {
	if k <= 0 {
		k = DefaultK
	}

	// Per-signal rank maps, 1-indexed. A duplicate id inside one signal keeps
	// its best (first) rank.
	ranks := make([]map[string]int, len(signals))
	for i, sig := range signals {
		m := make(map[string]int, len(sig.Candidates))
		for pos, c := range sig.Candidates {
			if _, seen := m[c.ID]; !seen {
				m[c.ID] = pos + 1
			}
		}
		ranks[i] = m
	}

	// First-seen order doubles as the tie-break order and picks the metadata
	// source for each id.
	var order []string
	meta := make(map[string]Candidate)
	for _, sig := range signals {
		for _, c := range sig.Candidates {
			if _, ok := meta[c.ID]; !ok {
				meta[c.ID] = c
				order = append(order, c.ID)
			}
		}
	}

	results := make([]Result, 0, len(order))
	for _, id := range order {
		var rrf float64
		var matched []string
		for i := range signals {
			if rnk, ok := ranks[i][id]; ok {
				rrf += 1.0 / (k + float64(rnk))
				matched = append(matched, signals[i].Name)
			}
		}
		results = append(results, Result{
			Candidate:      meta[id],
			RRFScore:       rrf,
			MatchedSignals: matched,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RRFScore > results[j].RRFScore
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	for i := range results {
		results[i].Similarity = similarityFor(results[i].RRFScore, results[i].MatchedSignals, boosts)
	}

	return results
}

// similarityFor maps a fused score into an interpretable similarity, then
// raises it to the highest floor among the satisfied boost rules.
func similarityFor(rrfScore float64, matchedSignals []string, boosts []Boost) float64 {
	sim := interpolate(rrfScore)

	for _, b := range boosts {
		if len(b.RequiredSignals) == 0 {
			continue
		}
		if containsAll(matchedSignals, b.RequiredSignals) && b.MinSimilarity > sim {
			sim = b.MinSimilarity
		}
	}

	return clamp01(sim)
}

func interpolate(rrfScore float64) float64 {
	t := (rrfScore - minObservedRRF) / (maxObservedRRF - minObservedRRF)
	return clamp01(similarityFloor + t*(similarityTarget-similarityFloor))
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
