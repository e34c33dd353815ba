package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// ============================================================================
// Edge Operations
// ============================================================================

// Entity-to-entity edges are all stored as RELATES_TO relationships carrying a
// relationship_type property, so one MERGE pattern keys every edge by
// (from, to, type).

// UpsertEdge creates or updates the edge between two entities, keyed by
// from+to+type. Repeating the call never duplicates the edge: attitude,
// proximity, and relevance are refreshed, a note (when given) is appended, and
// updated_at is bumped.
func (r *Repository) UpsertEdge(ctx context.Context, in EdgeInput) (*Edge, error) {
	if in.FromKey == "" || in.ToKey == "" || in.Type == "" {
		return nil, fmt.Errorf("edge requires from, to, and type")
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		MATCH (a:Entity {entity_key: $fromKey, user_id: $userID})
		MATCH (b:Entity {entity_key: $toKey, user_id: $userID})
		MERGE (a)-[rel:RELATES_TO {relationship_type: $relType}]->(b)
		ON CREATE SET
			rel.notes = [],
			rel.created_at = datetime($now)
		SET rel.attitude = $attitude,
		    rel.proximity = $proximity,
		    rel.updated_at = datetime($now),
		    rel.notes = CASE
		        WHEN $note = '' THEN rel.notes
		        ELSE (coalesce(rel.notes, []) + $note)[-$maxNotes..]
		    END,
		    rel.relevance = CASE WHEN $hasRelevance THEN $relevance ELSE rel.relevance END
		RETURN rel.relationship_type as relationship_type,
			rel.attitude as attitude,
			rel.proximity as proximity,
			rel.relevance as relevance,
			rel.notes as notes,
			rel.created_at as created_at,
			rel.updated_at as updated_at
	`

	relevance := 0.0
	if in.Relevance != nil {
		relevance = *in.Relevance
	}

	result, err := session.Run(ctx, query, map[string]interface{}{
		"fromKey":      in.FromKey,
		"toKey":        in.ToKey,
		"userID":       in.UserID,
		"relType":      in.Type,
		"attitude":     clampScale(in.Attitude),
		"proximity":    clampScale(in.Proximity),
		"note":         in.Note,
		"maxNotes":     MaxNotesPerEntity,
		"hasRelevance": in.Relevance != nil,
		"relevance":    relevance,
		"now":          now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert edge: %w", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert edge, entities may not exist: %w", err)
	}

	edge := edgeFromRecord(record, in.FromKey, in.ToKey)

	r.logger.Debug("Edge upserted",
		zap.String("from", in.FromKey),
		zap.String("to", in.ToKey),
		zap.String("type", in.Type),
	)

	return edge, nil
}

// GetEdges returns every edge touching the entity, in store order.
func (r *Repository) GetEdges(ctx context.Context, entityKey, userID string) ([]Edge, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (a:Entity {entity_key: $entityKey, user_id: $userID})-[rel:RELATES_TO]-(b:Entity)
		RETURN startNode(rel).entity_key as from_key,
			endNode(rel).entity_key as to_key,
			rel.relationship_type as relationship_type,
			rel.attitude as attitude,
			rel.proximity as proximity,
			rel.relevance as relevance,
			rel.notes as notes,
			rel.created_at as created_at,
			rel.updated_at as updated_at
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"entityKey": entityKey,
		"userID":    userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch edges: %w", err)
	}

	var edges []Edge
	for result.Next(ctx) {
		record := result.Record()
		edge := edgeFromRecord(record,
			getStringFromRecord(record, "from_key"),
			getStringFromRecord(record, "to_key"))
		edges = append(edges, *edge)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read edge records: %w", err)
	}

	return edges, nil
}

// edgeFromRecord builds an Edge from the standard edge projection. The
// relevance column distinguishes absent from zero: only carriers get a
// non-nil pointer.
func edgeFromRecord(record *neo4j.Record, fromKey, toKey string) *Edge {
	edge := &Edge{
		FromKey:   fromKey,
		ToKey:     toKey,
		Type:      getStringFromRecord(record, "relationship_type"),
		Attitude:  int(getInt64FromRecord(record, "attitude")),
		Proximity: int(getInt64FromRecord(record, "proximity")),
		Notes:     getStringSliceFromRecord(record, "notes"),
		CreatedAt: getTimeFromRecord(record, "created_at"),
		UpdatedAt: getTimeFromRecord(record, "updated_at"),
	}
	if val, ok := record.Get("relevance"); ok && val != nil {
		if f, ok := val.(float64); ok {
			edge.Relevance = &f
		}
	}
	return edge
}

// clampScale bounds attitude/proximity values to the 1-5 scale.
func clampScale(v int) int {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}
