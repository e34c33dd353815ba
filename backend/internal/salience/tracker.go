package salience

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"engram/backend/pkg/logger"
)

// AccessStore is the persistence surface the tracker drives. Implementations
// must apply each update atomically per entity (the graph repository does the
// counter math inside a single statement) so concurrent retrieval and
// ingestion never lose updates.
type AccessStore interface {
	IncrementAccess(ctx context.Context, entityKey string) error
	BatchIncrementAccess(ctx context.Context, entityKeys []string) error
	AdjustSalience(ctx context.Context, entityKey string, delta float64) error
}

// Tracker records entity accesses and applies the promotion rules above
// through the store.
type Tracker struct {
	store  AccessStore
	logger *zap.Logger
}

// NewTracker creates a salience tracker backed by the given store.
func NewTracker(store AccessStore) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger.Get(),
	}
}

// RecordAccess bumps counters, salience, and promotion state for one entity.
func (t *Tracker) RecordAccess(ctx context.Context, entityKey string) error {
	if entityKey == "" {
		return fmt.Errorf("entity key is empty")
	}

	if err := t.store.IncrementAccess(ctx, entityKey); err != nil {
		return fmt.Errorf("failed to record access: %w", err)
	}

	return nil
}

// RecordAccessBatch bumps counters for many entities in one bulk statement.
// Empty and duplicate keys are dropped first; a duplicate in one batch still
// counts as a single access.
func (t *Tracker) RecordAccessBatch(ctx context.Context, entityKeys []string) error {
	unique := dedupKeys(entityKeys)
	if len(unique) == 0 {
		return nil
	}

	if err := t.store.BatchIncrementAccess(ctx, unique); err != nil {
		return fmt.Errorf("failed to record access batch: %w", err)
	}

	t.logger.Debug("Recorded access batch", zap.Int("entities", len(unique)))
	return nil
}

// Adjust applies a signed salience delta to one entity without touching
// counters or state. The periodic decay job calls this with negative deltas.
func (t *Tracker) Adjust(ctx context.Context, entityKey string, delta float64) error {
	if entityKey == "" {
		return fmt.Errorf("entity key is empty")
	}

	if err := t.store.AdjustSalience(ctx, entityKey, delta); err != nil {
		return fmt.Errorf("failed to adjust salience: %w", err)
	}

	return nil
}

func dedupKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
