package explore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"engram/backend/internal/graph"
	"engram/backend/internal/normalize"
	"engram/backend/internal/rank"
	"engram/backend/internal/salience"
	pkgerrors "engram/backend/pkg/errors"
	"engram/backend/pkg/logger"
	"engram/backend/pkg/metrics"
)

// ============================================================================
// Retrieval Orchestrator
// ============================================================================

const (
	// FusedTopK bounds the fused candidate list before selection.
	FusedTopK = 50

	// RelationshipSignalScore is the fixed score assigned to nodes discovered
	// through relationship search; the signal has no native similarity.
	RelationshipSignalScore = 0.7

	// signalFetchLimit bounds each gather-phase store query.
	signalFetchLimit = 50
)

// Per-type selection caps, applied in this order to build the expansion seed
// set.
var selectionOrder = []struct {
	Type normalize.EntityType
	Cap  int
}{
	{normalize.TypeConcept, 5},
	{normalize.TypeNamedEntity, 3},
	{normalize.TypePerson, 3},
	{normalize.TypeSource, 5},
}

// Query is one vector-search criterion.
type Query struct {
	Query     string  `json:"query"`
	Threshold float64 `json:"threshold"`
}

// Request carries the retrieval criteria. At least one of Queries and
// TextMatches must be non-empty.
type Request struct {
	UserID              string   `json:"user_id"`
	Queries             []Query  `json:"queries,omitempty"`
	TextMatches         []string `json:"text_matches,omitempty"`
	SearchRelationships bool     `json:"search_relationships"`
	ReturnExplanations  bool     `json:"return_explanations"`
}

// ScoredNode is one retrieved node with its ranking breakdown. CombinedScore
// is the fused similarity plus the node's current salience, additive.
type ScoredNode struct {
	EntityKey      string               `json:"entity_key"`
	Type           normalize.EntityType `json:"type"`
	Name           string               `json:"name"`
	Description    string               `json:"description,omitempty"`
	Similarity     float64              `json:"similarity"`
	Salience       float64              `json:"salience"`
	CombinedScore  float64              `json:"combined_score"`
	MatchedSignals []string             `json:"matched_signals,omitempty"`
}

// Explanations describes how the result set was assembled.
type Explanations struct {
	SignalHits     map[string]int `json:"signal_hits"`
	SelectedByType map[string]int `json:"selected_by_type"`
}

// Result is the ordered, bounded neighborhood returned to the caller.
type Result struct {
	Nodes        []ScoredNode        `json:"nodes"`
	Edges        []graph.Edge        `json:"edges"`
	Neighbors    map[string][]string `json:"neighbors"`
	Explanations *Explanations       `json:"explanations,omitempty"`
}

// Store is the read surface the orchestrator gathers from and expands over.
type Store interface {
	VectorSearch(ctx context.Context, embedding []float32, threshold float64, userID string, limit int) ([]graph.SearchHit, error)
	FuzzyTextMatch(ctx context.Context, text, userID string, limit int) ([]graph.SearchHit, error)
	FindNodesViaRelationshipSearch(ctx context.Context, text, userID string, limit int) ([]graph.SearchHit, error)
	GetSalienceBatch(ctx context.Context, entityKeys []string) (map[string]float64, error)
	ExpandGraph(ctx context.Context, entityKeys []string, userID string) (*graph.Expansion, error)
}

// Embedder turns query text into vectors for the vector signals.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Orchestrator composes gather, fusion, salience, selection, and expansion
// into one retrieval call.
type Orchestrator struct {
	store         Store
	embedder      Embedder
	signalTimeout time.Duration
	collector     metrics.Collector
	logger        *zap.Logger
}

// NewOrchestrator builds the retrieval orchestrator. signalTimeout bounds
// each gather-phase signal independently.
func NewOrchestrator(store Store, embedder Embedder, signalTimeout time.Duration, collector metrics.Collector) *Orchestrator {
	if signalTimeout <= 0 {
		signalTimeout = 5 * time.Second
	}
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}
	return &Orchestrator{
		store:         store,
		embedder:      embedder,
		signalTimeout: signalTimeout,
		collector:     collector,
		logger:        logger.Get(),
	}
}

// Explore runs the full retrieval pipeline. Signals that time out or fail are
// degraded to empty and fusion proceeds with whatever succeeded; the call only
// fails outright on invalid arguments.
func (o *Orchestrator) Explore(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if req.UserID == "" {
		return nil, pkgerrors.NewInvalidArgument("user_id", "user id is required")
	}
	if len(req.Queries) == 0 && len(req.TextMatches) == 0 {
		o.collector.RecordExplore("invalid", time.Since(start).Seconds())
		return nil, pkgerrors.NewInvalidArgument("criteria", "at least one query or text match is required")
	}

	gatherStart := time.Now()
	signals := o.gather(ctx, req)
	o.collector.RecordStage("gather", time.Since(gatherStart).Seconds())

	fuseStart := time.Now()
	fused := rank.Combine(signals, rank.DefaultK, FusedTopK, nil)
	scored, err := o.applySalience(ctx, fused)
	if err != nil {
		o.collector.RecordExplore("error", time.Since(start).Seconds())
		return nil, pkgerrors.NewUpstreamFailure("salience read", err)
	}
	o.collector.RecordStage("fuse", time.Since(fuseStart).Seconds())

	selected, selectedByType := selectByType(scored)

	expandStart := time.Now()
	result, err := o.expand(ctx, req.UserID, selected)
	if err != nil {
		o.collector.RecordExplore("error", time.Since(start).Seconds())
		return nil, pkgerrors.NewUpstreamFailure("graph expansion", err)
	}
	o.collector.RecordStage("expand", time.Since(expandStart).Seconds())

	if req.ReturnExplanations {
		hits := make(map[string]int, len(signals))
		for _, s := range signals {
			hits[s.Name] = len(s.Candidates)
		}
		result.Explanations = &Explanations{
			SignalHits:     hits,
			SelectedByType: selectedByType,
		}
	}

	o.collector.RecordExplore("ok", time.Since(start).Seconds())
	o.logger.Debug("Explore complete",
		zap.Int("signals", len(signals)),
		zap.Int("fused", len(fused)),
		zap.Int("selected", len(selected)),
		zap.Int("edges", len(result.Edges)),
	)

	return result, nil
}

// gather runs every signal concurrently, each under its own timeout. A failed
// or timed-out signal contributes an empty candidate list; the others are
// unaffected.
func (o *Orchestrator) gather(ctx context.Context, req Request) []rank.Signal {
	var specs []func(ctx context.Context) (rank.Signal, error)

	for _, q := range req.Queries {
		q := q
		specs = append(specs, func(ctx context.Context) (rank.Signal, error) {
			return o.vectorSignal(ctx, req.UserID, q)
		})
	}
	for _, text := range req.TextMatches {
		text := text
		specs = append(specs, func(ctx context.Context) (rank.Signal, error) {
			return o.textSignal(ctx, req.UserID, text)
		})
	}
	if req.SearchRelationships {
		for _, q := range req.Queries {
			q := q
			specs = append(specs, func(ctx context.Context) (rank.Signal, error) {
				return o.relationshipSignal(ctx, req.UserID, q.Query)
			})
		}
	}

	// Each goroutine owns one slot, so no locking is needed around results.
	results := make([]rank.Signal, len(specs))
	g, groupCtx := errgroup.WithContext(ctx)

	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			signalCtx, cancel := context.WithTimeout(groupCtx, o.signalTimeout)
			defer cancel()

			sig, err := spec(signalCtx)
			if err != nil {
				// Degraded, not fatal: fusion proceeds without this signal.
				o.collector.RecordSignalDegraded(sig.Name)
				o.logger.Warn("Signal degraded to empty",
					zap.String("signal", sig.Name),
					zap.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
					zap.Error(err),
				)
				sig.Candidates = nil
			}
			results[i] = sig
			return nil
		})
	}
	_ = g.Wait()

	// Keep only signals that produced candidates; empty ones carry no rank
	// information.
	signals := make([]rank.Signal, 0, len(results))
	for _, s := range results {
		if len(s.Candidates) > 0 {
			signals = append(signals, s)
		}
	}
	return signals
}

// vectorSignal embeds the query and searches node embeddings above the
// caller's threshold.
func (o *Orchestrator) vectorSignal(ctx context.Context, userID string, q Query) (rank.Signal, error) {
	sig := rank.Signal{Name: "vector:" + q.Query}

	embedding, err := o.embedder.Embed(ctx, q.Query)
	if err != nil {
		return sig, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := o.store.VectorSearch(ctx, embedding, q.Threshold, userID, signalFetchLimit)
	if err != nil {
		return sig, err
	}

	sig.Candidates = dedupBest(hits)
	return sig, nil
}

// textSignal fuzzy-matches node names against the text.
func (o *Orchestrator) textSignal(ctx context.Context, userID, text string) (rank.Signal, error) {
	sig := rank.Signal{Name: "text:" + text}

	hits, err := o.store.FuzzyTextMatch(ctx, text, userID, signalFetchLimit)
	if err != nil {
		return sig, err
	}

	sig.Candidates = dedupBest(hits)
	return sig, nil
}

// relationshipSignal discovers nodes reachable through relationships whose
// description matches the query, each at the fixed relationship score.
func (o *Orchestrator) relationshipSignal(ctx context.Context, userID, query string) (rank.Signal, error) {
	sig := rank.Signal{Name: "relationship:" + query}

	hits, err := o.store.FindNodesViaRelationshipSearch(ctx, query, userID, signalFetchLimit)
	if err != nil {
		return sig, err
	}

	for i := range hits {
		hits[i].Score = RelationshipSignalScore
	}
	sig.Candidates = dedupBest(hits)
	return sig, nil
}

// dedupBest collapses duplicate ids within one signal, keeping the max score,
// and returns candidates sorted by score descending.
func dedupBest(hits []graph.SearchHit) []rank.Candidate {
	best := make(map[string]rank.Candidate, len(hits))
	var order []string
	for _, h := range hits {
		c, seen := best[h.EntityKey]
		if !seen {
			order = append(order, h.EntityKey)
		}
		if !seen || h.Score > c.Score {
			best[h.EntityKey] = rank.Candidate{
				ID:          h.EntityKey,
				Type:        h.Type,
				Name:        h.Name,
				Description: h.Description,
				Score:       h.Score,
			}
		}
	}

	out := make([]rank.Candidate, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// applySalience reads current salience for every fused candidate in one batch
// and computes the additive combined score, then sorts by it.
func (o *Orchestrator) applySalience(ctx context.Context, fused []rank.Result) ([]ScoredNode, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(fused))
	for _, f := range fused {
		keys = append(keys, f.ID)
	}

	salienceByKey, err := o.store.GetSalienceBatch(ctx, keys)
	if err != nil {
		return nil, err
	}

	nodes := make([]ScoredNode, 0, len(fused))
	for _, f := range fused {
		s := salience.Clamp(salienceByKey[f.ID])
		nodes = append(nodes, ScoredNode{
			EntityKey:      f.ID,
			Type:           f.Type,
			Name:           f.Name,
			Description:    f.Description,
			Similarity:     f.Similarity,
			Salience:       s,
			CombinedScore:  f.Similarity + s,
			MatchedSignals: f.MatchedSignals,
		})
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].CombinedScore > nodes[j].CombinedScore
	})
	return nodes, nil
}

// selectByType partitions the scored nodes by type and takes the per-type
// caps, concatenated in selection order, as the expansion seed set.
func selectByType(nodes []ScoredNode) ([]ScoredNode, map[string]int) {
	byType := make(map[normalize.EntityType][]ScoredNode)
	for _, n := range nodes {
		byType[n.Type] = append(byType[n.Type], n)
	}

	var selected []ScoredNode
	counts := make(map[string]int, len(selectionOrder))
	for _, sel := range selectionOrder {
		group := byType[sel.Type]
		if len(group) > sel.Cap {
			group = group[:sel.Cap]
		}
		selected = append(selected, group...)
		counts[string(sel.Type)] = len(group)
	}
	return selected, counts
}

// expand fetches the 1-hop neighborhood of the seed set and orders its edges.
func (o *Orchestrator) expand(ctx context.Context, userID string, selected []ScoredNode) (*Result, error) {
	result := &Result{
		Nodes:     selected,
		Neighbors: map[string][]string{},
	}
	if len(selected) == 0 {
		return result, nil
	}

	keys := make([]string, 0, len(selected))
	for _, n := range selected {
		keys = append(keys, n.EntityKey)
	}

	expansion, err := o.store.ExpandGraph(ctx, keys, userID)
	if err != nil {
		return nil, err
	}

	result.Edges = OrderEdges(expansion.Edges, MaxEdges)
	result.Neighbors = expansion.Neighbors
	return result, nil
}
