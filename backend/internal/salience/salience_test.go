package salience

import (
	"context"
	"testing"
)

func TestBoostNeverExceedsOne(t *testing.T) {
	s := 0.5
	for i := 0; i < 100; i++ {
		s = Boost(s)
		if s > 1.0 {
			t.Fatalf("salience exceeded 1.0 after %d accesses: %v", i+1, s)
		}
	}
	if s != 1.0 {
		t.Errorf("expected salience pinned at 1.0, got %v", s)
	}
}

func TestBoostStep(t *testing.T) {
	if got := Boost(0.0); got != AccessBoost {
		t.Errorf("Boost(0) = %v, want %v", got, AccessBoost)
	}
	if got := Boost(0.98); got != 1.0 {
		t.Errorf("Boost(0.98) = %v, want clamp to 1.0", got)
	}
}

func TestNextStatePromotion(t *testing.T) {
	tests := []struct {
		name        string
		current     State
		accessCount int
		want        State
	}{
		{"first access promotes to active", StateCandidate, 1, StateActive},
		{"untouched entity stays candidate", StateCandidate, 0, StateCandidate},
		{"tenth access promotes to core", StateActive, 10, StateCore},
		{"candidate can jump straight to core", StateCandidate, 10, StateCore},
		{"core is terminal", StateCore, 0, StateCore},
		{"active never falls back to candidate", StateActive, 0, StateActive},
		{"beyond threshold stays core", StateCore, 500, StateCore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextState(tt.current, tt.accessCount); got != tt.want {
				t.Errorf("NextState(%s, %d) = %s, want %s", tt.current, tt.accessCount, got, tt.want)
			}
		})
	}
}

// fakeAccessStore applies the package rules in memory, mirroring what the
// graph repository does in a single Cypher statement.
type fakeAccessStore struct {
	salience    map[string]float64
	accessCount map[string]int
	state       map[string]State
	batchCalls  int
}

func newFakeAccessStore() *fakeAccessStore {
	return &fakeAccessStore{
		salience:    make(map[string]float64),
		accessCount: make(map[string]int),
		state:       make(map[string]State),
	}
}

func (f *fakeAccessStore) IncrementAccess(ctx context.Context, entityKey string) error {
	f.accessCount[entityKey]++
	f.salience[entityKey] = Boost(f.salience[entityKey])
	cur, ok := f.state[entityKey]
	if !ok {
		cur = StateCandidate
	}
	f.state[entityKey] = NextState(cur, f.accessCount[entityKey])
	return nil
}

func (f *fakeAccessStore) BatchIncrementAccess(ctx context.Context, entityKeys []string) error {
	f.batchCalls++
	for _, k := range entityKeys {
		if err := f.IncrementAccess(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeAccessStore) AdjustSalience(ctx context.Context, entityKey string, delta float64) error {
	f.salience[entityKey] = Clamp(f.salience[entityKey] + delta)
	return nil
}

func TestTrackerTenAccessesReachCore(t *testing.T) {
	store := newFakeAccessStore()
	store.salience["k1"] = 0.5
	store.state["k1"] = StateCandidate
	tracker := NewTracker(store)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := tracker.RecordAccess(ctx, "k1"); err != nil {
			t.Fatalf("RecordAccess failed: %v", err)
		}
	}

	if store.state["k1"] != StateCore {
		t.Errorf("state after 10 accesses = %s, want core", store.state["k1"])
	}
	if store.salience["k1"] != 1.0 {
		t.Errorf("salience after 10 accesses = %v, want capped at 1.0", store.salience["k1"])
	}
	if store.accessCount["k1"] != 10 {
		t.Errorf("access count = %d, want 10", store.accessCount["k1"])
	}
}

func TestTrackerBatchDedupsAndSkipsEmpty(t *testing.T) {
	store := newFakeAccessStore()
	tracker := NewTracker(store)
	ctx := context.Background()

	if err := tracker.RecordAccessBatch(ctx, []string{"a", "", "b", "a", "b"}); err != nil {
		t.Fatalf("RecordAccessBatch failed: %v", err)
	}

	if store.batchCalls != 1 {
		t.Errorf("expected one bulk call, got %d", store.batchCalls)
	}
	if store.accessCount["a"] != 1 || store.accessCount["b"] != 1 {
		t.Errorf("duplicates must collapse to one access: a=%d b=%d", store.accessCount["a"], store.accessCount["b"])
	}
	if _, ok := store.accessCount[""]; ok {
		t.Error("empty key must be dropped")
	}
}

func TestTrackerBatchEmptyIsNoop(t *testing.T) {
	store := newFakeAccessStore()
	tracker := NewTracker(store)

	if err := tracker.RecordAccessBatch(context.Background(), nil); err != nil {
		t.Fatalf("empty batch should be a no-op, got %v", err)
	}
	if store.batchCalls != 0 {
		t.Errorf("expected no bulk call, got %d", store.batchCalls)
	}
}

func TestTrackerRejectsEmptyKey(t *testing.T) {
	tracker := NewTracker(newFakeAccessStore())

	if err := tracker.RecordAccess(context.Background(), ""); err == nil {
		t.Error("expected error for empty entity key")
	}
	if err := tracker.Adjust(context.Background(), "", -0.1); err == nil {
		t.Error("expected error for empty entity key")
	}
}

func TestAdjustNegativeDeltaClampsAtZero(t *testing.T) {
	store := newFakeAccessStore()
	store.salience["k1"] = 0.1
	tracker := NewTracker(store)

	if err := tracker.Adjust(context.Background(), "k1", -0.5); err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}
	if store.salience["k1"] != 0.0 {
		t.Errorf("salience = %v, want clamped to 0", store.salience["k1"])
	}
}
