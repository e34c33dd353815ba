package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"engram/backend/internal/salience"
)

// ============================================================================
// Salience Operations
// ============================================================================

// The counter math lives in the statement so each update is atomic per
// entity; concurrent retrieval and ingestion never lose increments. The
// clause mirrors the rules in the salience package, with the constants passed
// in as parameters.
const accessUpdateClause = `
	SET n.access_count = coalesce(n.access_count, 0) + 1,
	    n.recall_frequency = coalesce(n.recall_frequency, 0) + 1,
	    n.last_accessed_at = datetime($now),
	    n.salience = CASE
	        WHEN coalesce(n.salience, 0) + $boost > 1.0 THEN 1.0
	        ELSE coalesce(n.salience, 0) + $boost
	    END
	WITH n
	SET n.state = CASE
	    WHEN n.state = $stateCore THEN $stateCore
	    WHEN n.access_count >= $coreThreshold THEN $stateCore
	    WHEN n.access_count >= $activeThreshold THEN $stateActive
	    ELSE coalesce(n.state, $stateCandidate)
	END
`

func accessUpdateParams() map[string]interface{} {
	return map[string]interface{}{
		"now":             time.Now().UTC().Format(time.RFC3339),
		"boost":           salience.AccessBoost,
		"coreThreshold":   salience.CoreAccessThreshold,
		"activeThreshold": salience.ActiveAccessThreshold,
		"stateCore":       string(salience.StateCore),
		"stateActive":     string(salience.StateActive),
		"stateCandidate":  string(salience.StateCandidate),
	}
}

// IncrementAccess bumps one entity's access counters, salience, and
// promotion state in a single statement.
func (r *Repository) IncrementAccess(ctx context.Context, entityKey string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (n:Entity {entity_key: $entityKey})
	` + accessUpdateClause + `
		RETURN n.entity_key as entity_key
	`

	params := accessUpdateParams()
	params["entityKey"] = entityKey

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return fmt.Errorf("failed to increment access: %w", err)
	}

	if _, err := result.Single(ctx); err != nil {
		return fmt.Errorf("failed to increment access, entity may not exist: %w", err)
	}

	return nil
}

// BatchIncrementAccess applies the access update to many entities as one
// bulk statement, not N round trips. Unknown keys are skipped.
func (r *Repository) BatchIncrementAccess(ctx context.Context, entityKeys []string) error {
	if len(entityKeys) == 0 {
		return nil
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		UNWIND $entityKeys as key
		MATCH (n:Entity {entity_key: key})
	` + accessUpdateClause + `
		RETURN count(n) as updated
	`

	params := accessUpdateParams()
	params["entityKeys"] = entityKeys

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return fmt.Errorf("failed to batch increment access: %w", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return fmt.Errorf("failed to read batch increment result: %w", err)
	}

	updated := getInt64FromRecord(record, "updated")
	if int(updated) < len(entityKeys) {
		r.logger.Warn("Batch access update skipped unknown entities",
			zap.Int("requested", len(entityKeys)),
			zap.Int64("updated", updated),
		)
	}

	return nil
}

// AdjustSalience applies a signed delta to one entity's salience, clamped to
// [0, 1]. Counters and promotion state are untouched; the periodic decay job
// is the expected caller.
func (r *Repository) AdjustSalience(ctx context.Context, entityKey string, delta float64) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (n:Entity {entity_key: $entityKey})
		SET n.salience = CASE
			WHEN coalesce(n.salience, 0) + $delta > 1.0 THEN 1.0
			WHEN coalesce(n.salience, 0) + $delta < 0.0 THEN 0.0
			ELSE coalesce(n.salience, 0) + $delta
		END
		RETURN n.entity_key as entity_key
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"entityKey": entityKey,
		"delta":     delta,
	})
	if err != nil {
		return fmt.Errorf("failed to adjust salience: %w", err)
	}

	if _, err := result.Single(ctx); err != nil {
		return fmt.Errorf("failed to adjust salience, entity may not exist: %w", err)
	}

	return nil
}

// GetSalience returns one entity's current salience.
func (r *Repository) GetSalience(ctx context.Context, entityKey string) (float64, error) {
	salienceByKey, err := r.GetSalienceBatch(ctx, []string{entityKey})
	if err != nil {
		return 0, err
	}
	return salienceByKey[entityKey], nil
}

// GetSalienceBatch returns current salience for many entities in one read.
// Keys without a node are absent from the result map.
func (r *Repository) GetSalienceBatch(ctx context.Context, entityKeys []string) (map[string]float64, error) {
	out := make(map[string]float64, len(entityKeys))
	if len(entityKeys) == 0 {
		return out, nil
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		UNWIND $entityKeys as key
		MATCH (n:Entity {entity_key: key})
		RETURN n.entity_key as entity_key, coalesce(n.salience, 0) as salience
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"entityKeys": entityKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch salience: %w", err)
	}

	for result.Next(ctx) {
		record := result.Record()
		out[getStringFromRecord(record, "entity_key")] = getFloat64FromRecord(record, "salience")
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read salience records: %w", err)
	}

	return out, nil
}
