package resolve

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"engram/backend/internal/adapter"
	"engram/backend/internal/graph"
	"engram/backend/internal/normalize"
	pkgerrors "engram/backend/pkg/errors"
	"engram/backend/pkg/logger"
	"engram/backend/pkg/metrics"
)

// ============================================================================
// Entity Resolver
// ============================================================================

// Confidence levels per matching tier. The deterministic tiers (key, name,
// alias, containment) all resolve at the same confidence; the vector tier
// scales with similarity and the fallback creation sits lowest.
const (
	ExactMatchConfidence    = 0.95
	DisambiguatedConfidence = 0.88
	NewEntityConfidence     = 0.80
)

// Vector tier thresholds. Above AutoResolveThreshold the top hit wins
// outright, with confidence scaled linearly into [0.92, 0.96] by score.
// Between DisambiguateThreshold and AutoResolveThreshold the LLM arbitrates.
// Tuned values, not structural invariants.
const (
	AutoResolveThreshold  = 0.92
	DisambiguateThreshold = 0.85
	autoConfidenceFloor   = 0.92
	autoConfidenceCeiling = 0.96
)

// minContainmentRunes guards the containment tier: a mention shorter than
// this only matches by equality, since substring containment on very short
// strings matches almost anything.
const minContainmentRunes = 4

// Mention is a freshly extracted reference to resolve against the graph.
type Mention struct {
	Name        string
	Type        normalize.EntityType
	UserID      string
	Description string
	Embedding   []float32
	ContextText string
}

// Resolution is the outcome: an existing entity's key, or a newly created one.
type Resolution struct {
	EntityKey  string  `json:"entity_key"`
	Confidence float64 `json:"confidence"`
	IsNew      bool    `json:"is_new"`
	Tier       string  `json:"tier"`
}

// Store is the graph surface the resolver reads and writes. A failure from
// any of these is fatal to the resolution; it is never treated as "no match".
type Store interface {
	GetEntityByKey(ctx context.Context, entityKey, userID string) (*graph.Entity, error)
	FindPersonByName(ctx context.Context, name, userID string) (*graph.Entity, error)
	FindAliasTarget(ctx context.Context, normalizedName string, entityType normalize.EntityType, userID string) (*graph.Entity, error)
	VectorSearchByType(ctx context.Context, embedding []float32, entityType normalize.EntityType, threshold float64, userID string, limit int) ([]graph.SearchHit, error)
	FuzzyContainmentMatch(ctx context.Context, name string, entityType normalize.EntityType, userID string) (*graph.Entity, error)
	CreateEntity(ctx context.Context, in graph.EntityInput) (*graph.Entity, bool, error)
	UpsertAlias(ctx context.Context, normalizedName string, entityType normalize.EntityType, entityKey, userID string) error
}

// Disambiguator arbitrates ambiguous vector matches.
type Disambiguator interface {
	Disambiguate(ctx context.Context, mentionName, mentionContext string, candidates []adapter.DisambiguationCandidate) (*adapter.DisambiguationResult, error)
}

// matcher is one resolution tier. A nil match with nil error means "no
// opinion, try the next tier"; any error aborts the whole resolution.
type matcher interface {
	name() string
	tryMatch(ctx context.Context, m Mention) (*Resolution, error)
}

// Resolver maps mentions to stable graph entities without creating
// duplicates. Tiers run in strict order and the first match short-circuits
// the rest, which bounds both latency and per-mention LLM cost: vector search
// and disambiguation never run when a cheaper tier already matched.
type Resolver struct {
	store       Store
	tiers       []matcher
	callTimeout time.Duration
	collector   metrics.Collector
	logger      *zap.Logger
}

// NewResolver builds a resolver over the store with the standard tier order:
// exact key, person name, alias, vector (with LLM arbitration), containment.
// callTimeout bounds each expensive external call in the vector tier (the
// vector search and the disambiguator) individually.
func NewResolver(store Store, disambiguator Disambiguator, topK int, callTimeout time.Duration, collector metrics.Collector) *Resolver {
	if topK < 1 {
		topK = 5
	}
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}
	return &Resolver{
		store: store,
		tiers: []matcher{
			exactKeyTier{store},
			personNameTier{store},
			aliasTier{store},
			vectorTier{store: store, disambiguator: disambiguator, topK: topK, callTimeout: callTimeout},
			containmentTier{store},
		},
		callTimeout: callTimeout,
		collector:   collector,
		logger:      logger.Get(),
	}
}

// Resolve walks the tiers and falls back to creating the entity when none
// match. Re-resolving the same mention, even concurrently, lands on one node:
// creation is an upsert keyed by the deterministic entity key.
func (r *Resolver) Resolve(ctx context.Context, m Mention) (*Resolution, error) {
	start := time.Now()

	if m.Name == "" {
		return nil, pkgerrors.NewInvalidArgument("name", "mention name is empty")
	}
	if m.UserID == "" {
		return nil, pkgerrors.NewInvalidArgument("user_id", "mention user id is empty")
	}
	if !m.Type.Valid() {
		return nil, pkgerrors.NewInvalidArgument("type", "unknown entity type")
	}

	for _, tier := range r.tiers {
		res, err := tier.tryMatch(ctx, m)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				r.collector.RecordError("resolve", string(pkgerrors.ErrorTypeUpstreamTimeout))
				return nil, pkgerrors.NewUpstreamTimeout("resolve tier "+tier.name(), r.callTimeout, err)
			}
			r.collector.RecordError("resolve", string(pkgerrors.ErrorTypeUpstreamFailure))
			return nil, pkgerrors.NewUpstreamFailure("resolve tier "+tier.name(), err)
		}
		if res == nil {
			continue
		}

		res.Tier = tier.name()
		if err := r.recordAlias(ctx, m, res.EntityKey); err != nil {
			r.collector.RecordError("resolve", string(pkgerrors.ErrorTypeUpstreamFailure))
			return nil, pkgerrors.NewUpstreamFailure("alias upsert", err)
		}

		r.collector.RecordResolution(res.Tier, false, time.Since(start).Seconds())
		r.logger.Debug("Mention resolved",
			zap.String("name", m.Name),
			zap.String("tier", res.Tier),
			zap.Float64("confidence", res.Confidence),
		)
		return res, nil
	}

	return r.createEntity(ctx, m, start)
}

// createEntity is the fallback tier: upsert the entity under its
// deterministic key. A concurrent duplicate attempt matches the node the
// other attempt created, so isNew reflects what actually happened.
func (r *Resolver) createEntity(ctx context.Context, m Mention, start time.Time) (*Resolution, error) {
	entity, created, err := r.store.CreateEntity(ctx, graph.EntityInput{
		UserID:      m.UserID,
		Type:        m.Type,
		Name:        m.Name,
		Description: m.Description,
		Embedding:   m.Embedding,
	})
	if err != nil {
		if pkgerrors.IsErrorType(err, pkgerrors.ErrorTypeDataIntegrity) {
			r.collector.RecordError("resolve", string(pkgerrors.ErrorTypeDataIntegrity))
			return nil, err
		}
		r.collector.RecordError("resolve", string(pkgerrors.ErrorTypeUpstreamFailure))
		return nil, pkgerrors.NewUpstreamFailure("entity creation", err)
	}

	r.collector.RecordResolution("create", created, time.Since(start).Seconds())
	r.logger.Info("Mention resolved to new entity",
		zap.String("name", m.Name),
		zap.String("entity_key", entity.EntityKey),
		zap.Bool("created", created),
	)

	return &Resolution{
		EntityKey:  entity.EntityKey,
		Confidence: NewEntityConfidence,
		IsNew:      created,
		Tier:       "create",
	}, nil
}

// recordAlias notes the surface form when it resolved to an entity whose key
// differs from the one the mention itself would derive.
func (r *Resolver) recordAlias(ctx context.Context, m Mention, resolvedKey string) error {
	mentionKey := normalize.EntityKey(m.Name, m.Type, m.UserID)
	if mentionKey == resolvedKey {
		return nil
	}
	return r.store.UpsertAlias(ctx, normalize.Normalize(m.Name), m.Type, resolvedKey, m.UserID)
}
