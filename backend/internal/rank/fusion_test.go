package rank

import (
	"math"
	"testing"

	"engram/backend/internal/normalize"
)

const scoreTolerance = 1e-12

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < scoreTolerance
}

func signal(name string, ids ...string) Signal {
	s := Signal{Name: name}
	for i, id := range ids {
		s.Candidates = append(s.Candidates, Candidate{
			ID:    id,
			Type:  normalize.TypeConcept,
			Name:  id,
			Score: 1.0 - float64(i)*0.1,
		})
	}
	return s
}

func TestCombineSingleSignal(t *testing.T) {
	results := Combine([]Signal{signal("vector", "a", "b", "c")}, DefaultK, 0, nil)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	wantOrder := []string{"a", "b", "c"}
	wantScores := []float64{1.0 / 61.0, 1.0 / 62.0, 1.0 / 63.0}
	for i, r := range results {
		if r.ID != wantOrder[i] {
			t.Errorf("position %d: got %s, want %s", i, r.ID, wantOrder[i])
		}
		if !almostEqual(r.RRFScore, wantScores[i]) {
			t.Errorf("%s: rrf score %v, want %v", r.ID, r.RRFScore, wantScores[i])
		}
	}
}

func TestCombineAgreementOutranksSingleSignal(t *testing.T) {
	signals := []Signal{
		signal("vector:q1", "x"),
		signal("vector:q2", "x"),
		signal("text:q1", "x"),
		signal("relationship:q1", "y"),
	}

	results := Combine(signals, DefaultK, 0, nil)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "x" {
		t.Fatalf("expected triple-signal candidate first, got %s", results[0].ID)
	}
	if !almostEqual(results[0].RRFScore, 3.0/61.0) {
		t.Errorf("x rrf score %v, want %v", results[0].RRFScore, 3.0/61.0)
	}
	if !almostEqual(results[1].RRFScore, 1.0/61.0) {
		t.Errorf("y rrf score %v, want %v", results[1].RRFScore, 1.0/61.0)
	}
	if len(results[0].MatchedSignals) != 3 {
		t.Errorf("x matched signals %v, want 3 entries", results[0].MatchedSignals)
	}
}

func TestCombineBoostHighestFloorWins(t *testing.T) {
	signals := []Signal{
		signal("vector", "a"),
		signal("text", "a"),
	}
	boosts := []Boost{
		{RequiredSignals: []string{"vector", "text"}, MinSimilarity: 0.7},
		{RequiredSignals: []string{"vector"}, MinSimilarity: 0.95},
	}

	results := Combine(signals, DefaultK, 0, boosts)

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !almostEqual(results[0].Similarity, 0.95) {
		t.Errorf("similarity %v, want 0.95 (larger of the satisfied floors)", results[0].Similarity)
	}
}

func TestCombineBoostRequiresAllSignals(t *testing.T) {
	signals := []Signal{signal("vector", "a")}
	boosts := []Boost{
		{RequiredSignals: []string{"vector", "text"}, MinSimilarity: 0.9},
	}

	results := Combine(signals, DefaultK, 0, boosts)

	// Only the vector signal matched, so the boost must not apply.
	if results[0].Similarity >= 0.9 {
		t.Errorf("similarity %v, boost should not have applied", results[0].Similarity)
	}
}

func TestCombineSimilarityInterpolation(t *testing.T) {
	tests := []struct {
		name string
		rrf  float64
		want float64
	}{
		{"bottom of range", 0.01, 0.3},
		{"top of range", 0.05, 0.6},
		{"midpoint", 0.03, 0.45},
		{"below range clamps toward zero", -10.0, 0.0},
		{"far above range clamps to one", 0.25, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := interpolate(tt.rrf)
			if !almostEqual(got, tt.want) {
				t.Errorf("interpolate(%v) = %v, want %v", tt.rrf, got, tt.want)
			}
		})
	}
}

func TestCombineMetadataFromFirstSignal(t *testing.T) {
	signals := []Signal{
		{Name: "vector", Candidates: []Candidate{
			{ID: "a", Type: normalize.TypeConcept, Name: "Machine learning", Description: "from vector", Score: 0.93},
		}},
		{Name: "text", Candidates: []Candidate{
			{ID: "a", Type: normalize.TypeConcept, Name: "machine-learning", Description: "from text", Score: 0.5},
		}},
	}

	results := Combine(signals, DefaultK, 0, nil)

	if results[0].Description != "from vector" {
		t.Errorf("metadata came from %q, want the first signal containing the id", results[0].Description)
	}
	if !almostEqual(results[0].Score, 0.93) {
		t.Errorf("original score %v, want the first signal's score", results[0].Score)
	}
}

func TestCombineTieOrderIsFirstSeen(t *testing.T) {
	// Both ids rank 1 in exactly one signal: identical fused scores.
	signals := []Signal{
		signal("vector", "first"),
		signal("text", "second"),
	}

	results := Combine(signals, DefaultK, 0, nil)

	if results[0].ID != "first" || results[1].ID != "second" {
		t.Errorf("tie order %s,%s; want first-seen order preserved", results[0].ID, results[1].ID)
	}
}

func TestCombineTopKCut(t *testing.T) {
	results := Combine([]Signal{signal("vector", "a", "b", "c", "d", "e")}, DefaultK, 2, nil)

	if len(results) != 2 {
		t.Fatalf("expected topK=2 results, got %d", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Errorf("got %s,%s; want the two best", results[0].ID, results[1].ID)
	}
}

func TestCombineDuplicateWithinSignalKeepsBestRank(t *testing.T) {
	s := Signal{Name: "vector", Candidates: []Candidate{
		{ID: "a", Score: 0.9},
		{ID: "a", Score: 0.4},
		{ID: "b", Score: 0.3},
	}}

	results := Combine([]Signal{s}, DefaultK, 0, nil)

	if len(results) != 2 {
		t.Fatalf("expected duplicate id collapsed, got %d results", len(results))
	}
	if !almostEqual(results[0].RRFScore, 1.0/61.0) {
		t.Errorf("duplicate id scored %v, want rank-1 score %v", results[0].RRFScore, 1.0/61.0)
	}
}
