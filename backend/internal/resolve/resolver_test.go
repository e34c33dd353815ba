package resolve

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"engram/backend/internal/adapter"
	"engram/backend/internal/graph"
	"engram/backend/internal/normalize"
	pkgerrors "engram/backend/pkg/errors"
)

// mockStore implements Store in memory and counts calls per operation so
// tests can assert which tiers actually ran.
type mockStore struct {
	entities map[string]*graph.Entity // by entity key
	aliases  map[string]string        // normalized|type -> entity key
	hits     []graph.SearchHit

	calls map[string]int
	fail  map[string]error
}

func newMockStore() *mockStore {
	return &mockStore{
		entities: make(map[string]*graph.Entity),
		aliases:  make(map[string]string),
		calls:    make(map[string]int),
		fail:     make(map[string]error),
	}
}

func (s *mockStore) addEntity(name string, entityType normalize.EntityType, userID string) *graph.Entity {
	key := normalize.EntityKey(name, entityType, userID)
	e := &graph.Entity{
		EntityKey:     key,
		UserID:        userID,
		Type:          entityType,
		Name:          name,
		CanonicalName: normalize.Normalize(name),
	}
	s.entities[key] = e
	return e
}

func (s *mockStore) record(op string) error {
	s.calls[op]++
	return s.fail[op]
}

func (s *mockStore) GetEntityByKey(ctx context.Context, entityKey, userID string) (*graph.Entity, error) {
	if err := s.record("get_by_key"); err != nil {
		return nil, err
	}
	e := s.entities[entityKey]
	if e == nil || e.UserID != userID {
		return nil, nil
	}
	return e, nil
}

func (s *mockStore) FindPersonByName(ctx context.Context, name, userID string) (*graph.Entity, error) {
	if err := s.record("person_name"); err != nil {
		return nil, err
	}
	for _, e := range s.entities {
		if e.Type == normalize.TypePerson && e.UserID == userID && strings.EqualFold(e.Name, name) {
			return e, nil
		}
	}
	return nil, nil
}

func (s *mockStore) FindAliasTarget(ctx context.Context, normalizedName string, entityType normalize.EntityType, userID string) (*graph.Entity, error) {
	if err := s.record("alias_lookup"); err != nil {
		return nil, err
	}
	if key, ok := s.aliases[normalizedName+"|"+string(entityType)]; ok {
		return s.entities[key], nil
	}
	return nil, nil
}

func (s *mockStore) VectorSearchByType(ctx context.Context, embedding []float32, entityType normalize.EntityType, threshold float64, userID string, limit int) ([]graph.SearchHit, error) {
	if err := s.record("vector_search"); err != nil {
		return nil, err
	}
	return s.hits, nil
}

func (s *mockStore) FuzzyContainmentMatch(ctx context.Context, name string, entityType normalize.EntityType, userID string) (*graph.Entity, error) {
	if err := s.record("containment"); err != nil {
		return nil, err
	}
	norm := normalize.Normalize(name)
	for _, e := range s.entities {
		if e.Type != entityType || e.UserID != userID {
			continue
		}
		if contains(e.CanonicalName, norm) || contains(norm, e.CanonicalName) {
			return e, nil
		}
	}
	return nil, nil
}

func (s *mockStore) CreateEntity(ctx context.Context, in graph.EntityInput) (*graph.Entity, bool, error) {
	if err := s.record("create"); err != nil {
		return nil, false, err
	}
	key := normalize.EntityKey(in.Name, in.Type, in.UserID)
	if existing, ok := s.entities[key]; ok {
		return existing, false, nil
	}
	e := s.addEntity(in.Name, in.Type, in.UserID)
	return e, true, nil
}

func (s *mockStore) UpsertAlias(ctx context.Context, normalizedName string, entityType normalize.EntityType, entityKey, userID string) error {
	if err := s.record("alias_upsert"); err != nil {
		return err
	}
	s.aliases[normalizedName+"|"+string(entityType)] = entityKey
	return nil
}

// mockDisambiguator returns a fixed verdict and counts calls.
type mockDisambiguator struct {
	calls  int
	result adapter.DisambiguationResult
	err    error
}

func (d *mockDisambiguator) Disambiguate(ctx context.Context, name, context string, candidates []adapter.DisambiguationCandidate) (*adapter.DisambiguationResult, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return &d.result, nil
}

func contains(haystack, needle string) bool {
	return needle != "" && strings.Contains(haystack, needle)
}

func TestResolveExactKeyShortCircuits(t *testing.T) {
	store := newMockStore()
	store.addEntity("Machine learning", normalize.TypeConcept, "user1")
	disambiguator := &mockDisambiguator{}
	resolver := NewResolver(store, disambiguator, 5, 0, nil)

	res, err := resolver.Resolve(context.Background(), Mention{
		Name:      "machine learning",
		Type:      normalize.TypeConcept,
		UserID:    "user1",
		Embedding: []float32{0.1, 0.2},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.IsNew {
		t.Error("expected an existing entity, got isNew")
	}
	if res.Tier != "exact_key" {
		t.Errorf("matched tier %q, want exact_key", res.Tier)
	}
	if res.Confidence != ExactMatchConfidence {
		t.Errorf("confidence %v, want %v", res.Confidence, ExactMatchConfidence)
	}
	// The expensive tiers must not have run.
	if store.calls["vector_search"] != 0 {
		t.Errorf("vector search ran %d times after an exact match", store.calls["vector_search"])
	}
	if disambiguator.calls != 0 {
		t.Errorf("disambiguator ran %d times after an exact match", disambiguator.calls)
	}
}

func TestResolveCreatesNewEntity(t *testing.T) {
	store := newMockStore()
	resolver := NewResolver(store, nil, 5, 0, nil)

	res, err := resolver.Resolve(context.Background(), Mention{
		Name:   "Quantum computing",
		Type:   normalize.TypeConcept,
		UserID: "user1",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if !res.IsNew {
		t.Error("expected a new entity")
	}
	if res.Confidence != NewEntityConfidence {
		t.Errorf("confidence %v, want %v", res.Confidence, NewEntityConfidence)
	}
	if res.EntityKey != normalize.EntityKey("Quantum computing", normalize.TypeConcept, "user1") {
		t.Error("entity key does not match the deterministic derivation")
	}
}

func TestResolveDedupAcrossSurfaceForms(t *testing.T) {
	store := newMockStore()
	resolver := NewResolver(store, nil, 5, 0, nil)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, Mention{Name: "startups", Type: normalize.TypeConcept, UserID: "user1"})
	if err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	second, err := resolver.Resolve(ctx, Mention{Name: "startup", Type: normalize.TypeConcept, UserID: "user1"})
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}

	if !first.IsNew {
		t.Error("first mention should create the entity")
	}
	if second.IsNew {
		t.Error("second mention created a duplicate entity")
	}
	if first.EntityKey != second.EntityKey {
		t.Errorf("keys differ: %s vs %s", first.EntityKey, second.EntityKey)
	}
	if len(store.entities) != 1 {
		t.Errorf("store holds %d entities, want 1", len(store.entities))
	}
}

func TestResolveVectorAutoResolve(t *testing.T) {
	store := newMockStore()
	target := store.addEntity("Artificial intelligence", normalize.TypeConcept, "user1")
	store.hits = []graph.SearchHit{
		{EntityKey: target.EntityKey, Type: normalize.TypeConcept, Name: target.Name, Score: 0.96},
	}
	disambiguator := &mockDisambiguator{}
	resolver := NewResolver(store, disambiguator, 5, 0, nil)

	res, err := resolver.Resolve(context.Background(), Mention{
		Name:      "AI research",
		Type:      normalize.TypeConcept,
		UserID:    "user1",
		Embedding: []float32{0.5, 0.5},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.EntityKey != target.EntityKey {
		t.Errorf("resolved to %s, want the vector match", res.EntityKey)
	}
	if res.Tier != "vector" {
		t.Errorf("tier %q, want vector", res.Tier)
	}
	if res.Confidence < 0.92 || res.Confidence > 0.96 {
		t.Errorf("confidence %v outside the auto-resolve band", res.Confidence)
	}
	if disambiguator.calls != 0 {
		t.Error("disambiguator ran on a score above the auto-resolve threshold")
	}
	// The surface form differs from the stored name, so an alias is recorded.
	if store.calls["alias_upsert"] != 1 {
		t.Errorf("alias upserts %d, want 1", store.calls["alias_upsert"])
	}
}

func TestResolveVectorAmbiguousConsultsDisambiguator(t *testing.T) {
	store := newMockStore()
	target := store.addEntity("Neural networks", normalize.TypeConcept, "user1")
	other := store.addEntity("Neural architecture search", normalize.TypeConcept, "user1")
	store.hits = []graph.SearchHit{
		{EntityKey: target.EntityKey, Type: normalize.TypeConcept, Name: target.Name, Score: 0.90},
		{EntityKey: other.EntityKey, Type: normalize.TypeConcept, Name: other.Name, Score: 0.87},
	}
	disambiguator := &mockDisambiguator{
		result: adapter.DisambiguationResult{MatchedEntityKey: target.EntityKey, Confidence: 0.9},
	}
	resolver := NewResolver(store, disambiguator, 5, 0, nil)

	res, err := resolver.Resolve(context.Background(), Mention{
		Name:      "deep nets",
		Type:      normalize.TypeConcept,
		UserID:    "user1",
		Embedding: []float32{0.5, 0.5},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if disambiguator.calls != 1 {
		t.Fatalf("disambiguator calls %d, want 1", disambiguator.calls)
	}
	if res.EntityKey != target.EntityKey {
		t.Errorf("resolved to %s, want the confirmed match", res.EntityKey)
	}
	if res.Confidence != DisambiguatedConfidence {
		t.Errorf("confidence %v, want %v", res.Confidence, DisambiguatedConfidence)
	}
}

func TestResolveVectorRejectionFallsThrough(t *testing.T) {
	store := newMockStore()
	existing := store.addEntity("Neural networks", normalize.TypeConcept, "user1")
	store.hits = []graph.SearchHit{
		{EntityKey: existing.EntityKey, Type: normalize.TypeConcept, Name: existing.Name, Score: 0.90},
	}
	disambiguator := &mockDisambiguator{} // rejects: empty matched key
	resolver := NewResolver(store, disambiguator, 5, 0, nil)

	res, err := resolver.Resolve(context.Background(), Mention{
		Name:      "Graph databases",
		Type:      normalize.TypeConcept,
		UserID:    "user1",
		Embedding: []float32{0.5, 0.5},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if disambiguator.calls != 1 {
		t.Fatalf("disambiguator calls %d, want 1", disambiguator.calls)
	}
	if !res.IsNew {
		t.Error("rejected disambiguation should fall through to creation")
	}
}

func TestResolveContainmentMatch(t *testing.T) {
	store := newMockStore()
	existing := store.addEntity("Stanford University", normalize.TypeNamedEntity, "user1")
	resolver := NewResolver(store, nil, 5, 0, nil)

	res, err := resolver.Resolve(context.Background(), Mention{
		Name:   "Stanford",
		Type:   normalize.TypeNamedEntity,
		UserID: "user1",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.EntityKey != existing.EntityKey {
		t.Errorf("resolved to %s, want the containment match", res.EntityKey)
	}
	if res.Tier != "containment" {
		t.Errorf("tier %q, want containment", res.Tier)
	}
}

func TestResolveStoreFailureIsFatal(t *testing.T) {
	store := newMockStore()
	store.fail["get_by_key"] = errors.New("connection refused")
	resolver := NewResolver(store, nil, 5, 0, nil)

	_, err := resolver.Resolve(context.Background(), Mention{
		Name:   "anything",
		Type:   normalize.TypeConcept,
		UserID: "user1",
	})
	if err == nil {
		t.Fatal("expected a store failure to propagate")
	}
	if !pkgerrors.IsErrorType(err, pkgerrors.ErrorTypeUpstreamFailure) {
		t.Errorf("error %v, want an upstream failure", err)
	}
	// A store failure must never fall through to creation.
	if store.calls["create"] != 0 {
		t.Error("resolution created an entity despite the store failure")
	}
}

func TestResolveVectorSearchTimeoutSurfacesAsTimeout(t *testing.T) {
	store := newMockStore()
	store.fail["vector_search"] = context.DeadlineExceeded
	resolver := NewResolver(store, nil, 5, 0, nil)

	_, err := resolver.Resolve(context.Background(), Mention{
		Name:      "anything",
		Type:      normalize.TypeConcept,
		UserID:    "user1",
		Embedding: []float32{0.5, 0.5},
	})
	if err == nil {
		t.Fatal("expected a timed-out vector search to propagate")
	}
	if !pkgerrors.IsErrorType(err, pkgerrors.ErrorTypeUpstreamTimeout) {
		t.Errorf("error %v, want an upstream timeout", err)
	}
	if store.calls["create"] != 0 {
		t.Error("resolution created an entity despite the timeout")
	}
}

func TestResolveRejectsInvalidMentions(t *testing.T) {
	resolver := NewResolver(newMockStore(), nil, 5, 0, nil)
	ctx := context.Background()

	cases := []Mention{
		{Name: "", Type: normalize.TypeConcept, UserID: "user1"},
		{Name: "x", Type: "Banana", UserID: "user1"},
		{Name: "x", Type: normalize.TypeConcept, UserID: ""},
	}
	for _, m := range cases {
		if _, err := resolver.Resolve(ctx, m); !pkgerrors.IsErrorType(err, pkgerrors.ErrorTypeInvalidArgument) {
			t.Errorf("mention %+v: got %v, want invalid argument", m, err)
		}
	}
}

func TestResolvePersonNameTier(t *testing.T) {
	store := newMockStore()
	// Stored under a former name and renamed in place, so the stored key
	// differs from what the mention derives and the exact-key tier misses.
	existing := store.addEntity("Grace Murray", normalize.TypePerson, "user1")
	existing.Name = "Grace Hopper"
	existing.CanonicalName = normalize.Normalize("Grace Hopper")
	resolver := NewResolver(store, nil, 5, 0, nil)

	res, err := resolver.Resolve(context.Background(), Mention{
		Name:   "GRACE HOPPER",
		Type:   normalize.TypePerson,
		UserID: "user1",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.EntityKey != existing.EntityKey {
		t.Errorf("resolved to %s, want the person-name match", res.EntityKey)
	}
	if res.Tier != "person_name" {
		t.Errorf("tier %q, want person_name", res.Tier)
	}
}

// blockingDisambiguator never answers on its own; it only returns once the
// call's context is cancelled.
type blockingDisambiguator struct {
	calls int
}

func (d *blockingDisambiguator) Disambiguate(ctx context.Context, name, context string, candidates []adapter.DisambiguationCandidate) (*adapter.DisambiguationResult, error) {
	d.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestResolveDisambiguationIsBounded(t *testing.T) {
	store := newMockStore()
	existing := store.addEntity("Neural networks", normalize.TypeConcept, "user1")
	store.hits = []graph.SearchHit{
		{EntityKey: existing.EntityKey, Type: normalize.TypeConcept, Name: existing.Name, Score: 0.90},
	}
	disambiguator := &blockingDisambiguator{}
	resolver := NewResolver(store, disambiguator, 5, 50*time.Millisecond, nil)

	start := time.Now()
	res, err := resolver.Resolve(context.Background(), Mention{
		Name:      "Graph databases",
		Type:      normalize.TypeConcept,
		UserID:    "user1",
		Embedding: []float32{0.5, 0.5},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// A hung disambiguator must be cut off by the per-call deadline, not
	// block the resolution on the caller's context.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Resolve took %v, want the per-call timeout to bound it", elapsed)
	}
	if disambiguator.calls != 1 {
		t.Fatalf("disambiguator calls %d, want 1", disambiguator.calls)
	}
	if !res.IsNew {
		t.Error("timed-out disambiguation should fall through to creation")
	}
}
