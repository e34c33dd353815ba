package resolve

import (
	"context"
	"sort"
	"time"

	"github.com/agnivade/levenshtein"

	"engram/backend/internal/adapter"
	"engram/backend/internal/graph"
	"engram/backend/internal/normalize"
	"engram/backend/internal/rank"
)

// ============================================================================
// Resolution Tiers
// ============================================================================

// exactKeyTier looks the mention's own deterministic key up directly. Any two
// mentions that normalize to the same string land here.
type exactKeyTier struct {
	store Store
}

func (t exactKeyTier) name() string { return "exact_key" }

func (t exactKeyTier) tryMatch(ctx context.Context, m Mention) (*Resolution, error) {
	entityKey := normalize.EntityKey(m.Name, m.Type, m.UserID)
	entity, err := t.store.GetEntityByKey(ctx, entityKey, m.UserID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, nil
	}
	return &Resolution{EntityKey: entity.EntityKey, Confidence: ExactMatchConfidence}, nil
}

// personNameTier matches Person mentions against stored display names,
// case-insensitive. People are commonly re-mentioned with capitalization or
// diacritic variations that normalization does not fold to the same key.
type personNameTier struct {
	store Store
}

func (t personNameTier) name() string { return "person_name" }

func (t personNameTier) tryMatch(ctx context.Context, m Mention) (*Resolution, error) {
	if m.Type != normalize.TypePerson {
		return nil, nil
	}
	entity, err := t.store.FindPersonByName(ctx, m.Name, m.UserID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, nil
	}
	return &Resolution{EntityKey: entity.EntityKey, Confidence: ExactMatchConfidence}, nil
}

// aliasTier checks whether this surface form was previously recorded as an
// alias of some entity.
type aliasTier struct {
	store Store
}

func (t aliasTier) name() string { return "alias" }

func (t aliasTier) tryMatch(ctx context.Context, m Mention) (*Resolution, error) {
	entity, err := t.store.FindAliasTarget(ctx, normalize.Normalize(m.Name), m.Type, m.UserID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, nil
	}
	return &Resolution{EntityKey: entity.EntityKey, Confidence: ExactMatchConfidence}, nil
}

// vectorTier compares the mention's embedding against same-type entities.
// Above AutoResolveThreshold the top hit wins outright; in the band between
// the thresholds the LLM disambiguator arbitrates over the fused top-K. Both
// external calls carry their own deadline so a hung upstream cannot stall the
// whole resolution.
type vectorTier struct {
	store         Store
	disambiguator Disambiguator
	topK          int
	callTimeout   time.Duration
}

func (t vectorTier) name() string { return "vector" }

func (t vectorTier) tryMatch(ctx context.Context, m Mention) (*Resolution, error) {
	if len(m.Embedding) == 0 {
		return nil, nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, t.callTimeout)
	hits, err := t.store.VectorSearchByType(searchCtx, m.Embedding, m.Type, DisambiguateThreshold, m.UserID, t.topK*2)
	cancel()
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	top := hits[0]
	for _, h := range hits[1:] {
		if h.Score > top.Score {
			top = h
		}
	}

	if top.Score > AutoResolveThreshold {
		return &Resolution{
			EntityKey:  top.EntityKey,
			Confidence: autoConfidence(top.Score),
		}, nil
	}
	if top.Score <= DisambiguateThreshold || t.disambiguator == nil {
		return nil, nil
	}

	candidates := t.rankCandidates(m, hits)

	disCtx, cancel := context.WithTimeout(ctx, t.callTimeout)
	result, err := t.disambiguator.Disambiguate(disCtx, m.Name, m.ContextText, candidates)
	cancel()
	if err != nil {
		// The mention was ambiguous to begin with; a failed or timed-out
		// arbitration falls through to the cheaper tiers instead of failing
		// the resolution.
		return nil, nil
	}
	if result.MatchedEntityKey == "" {
		return nil, nil
	}

	return &Resolution{
		EntityKey:  result.MatchedEntityKey,
		Confidence: DisambiguatedConfidence,
	}, nil
}

// rankCandidates fuses the embedding ranking with a surface-form ranking of
// the same hits, so candidates that agree on both meaning and spelling reach
// the disambiguator first.
func (t vectorTier) rankCandidates(m Mention, hits []graph.SearchHit) []adapter.DisambiguationCandidate {
	vectorSignal := rank.Signal{Name: "vector"}
	for _, h := range hits {
		vectorSignal.Candidates = append(vectorSignal.Candidates, rank.Candidate{
			ID:          h.EntityKey,
			Type:        h.Type,
			Name:        h.Name,
			Description: h.Description,
			Score:       h.Score,
		})
	}

	nameSignal := rank.Signal{Name: "name"}
	mentionNorm := normalize.Normalize(m.Name)
	for _, h := range hits {
		nameSignal.Candidates = append(nameSignal.Candidates, rank.Candidate{
			ID:    h.EntityKey,
			Type:  h.Type,
			Name:  h.Name,
			Score: nameSimilarity(mentionNorm, normalize.Normalize(h.Name)),
		})
	}
	sort.SliceStable(nameSignal.Candidates, func(i, j int) bool {
		return nameSignal.Candidates[i].Score > nameSignal.Candidates[j].Score
	})

	fused := rank.Combine([]rank.Signal{vectorSignal, nameSignal}, rank.DefaultK, t.topK, nil)

	candidates := make([]adapter.DisambiguationCandidate, 0, len(fused))
	for _, f := range fused {
		candidates = append(candidates, adapter.DisambiguationCandidate{
			EntityKey:   f.ID,
			Name:        f.Name,
			Description: f.Description,
			Score:       f.Score,
		})
	}
	return candidates
}

// containmentTier is the last matching tier: the normalized mention contains
// or is contained by an existing same-type canonical name. Short mentions are
// skipped; containment on two or three characters matches almost anything.
type containmentTier struct {
	store Store
}

func (t containmentTier) name() string { return "containment" }

func (t containmentTier) tryMatch(ctx context.Context, m Mention) (*Resolution, error) {
	if len([]rune(normalize.Normalize(m.Name))) < minContainmentRunes {
		return nil, nil
	}
	entity, err := t.store.FuzzyContainmentMatch(ctx, m.Name, m.Type, m.UserID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, nil
	}
	return &Resolution{EntityKey: entity.EntityKey, Confidence: ExactMatchConfidence}, nil
}

// autoConfidence scales a vector score above the auto-resolve threshold
// linearly into [0.92, 0.96].
func autoConfidence(score float64) float64 {
	if score > 1.0 {
		score = 1.0
	}
	span := (score - AutoResolveThreshold) / (1.0 - AutoResolveThreshold)
	return autoConfidenceFloor + span*(autoConfidenceCeiling-autoConfidenceFloor)
}

// nameSimilarity maps edit distance between two normalized forms into [0, 1].
func nameSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	sim := 1.0 - float64(dist)/float64(longest)
	if sim < 0 {
		return 0
	}
	return sim
}
