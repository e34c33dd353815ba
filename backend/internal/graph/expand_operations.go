package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"engram/backend/internal/normalize"
	"engram/backend/internal/salience"
)

// ============================================================================
// Expansion Operations
// ============================================================================

// ExpandGraph fetches the 1-hop neighborhood of a seed set: the seed nodes
// themselves, their direct neighbors, the connecting edges, and a map from
// each seed key to its neighbor keys. Traversal never goes deeper than one
// hop; callers that want more expand again from an explicit key set.
func (r *Repository) ExpandGraph(ctx context.Context, entityKeys []string, userID string) (*Expansion, error) {
	expansion := &Expansion{Neighbors: make(map[string][]string)}
	if len(entityKeys) == 0 {
		return expansion, nil
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		UNWIND $entityKeys as key
		MATCH (seed:Entity {entity_key: key, user_id: $userID})
		OPTIONAL MATCH (seed)-[rel:RELATES_TO|MENTIONS]-(neighbor:Entity {user_id: $userID})
		RETURN seed.entity_key as seed_key,
			seed.user_id as seed_user_id,
			seed.entity_type as seed_type,
			seed.name as seed_name,
			seed.canonical_name as seed_canonical,
			seed.description as seed_description,
			seed.salience as seed_salience,
			seed.state as seed_state,
			seed.access_count as seed_access_count,
			seed.recall_frequency as seed_recall_frequency,
			neighbor.entity_key as neighbor_key,
			neighbor.user_id as neighbor_user_id,
			neighbor.entity_type as neighbor_type,
			neighbor.name as neighbor_name,
			neighbor.canonical_name as neighbor_canonical,
			neighbor.description as neighbor_description,
			neighbor.salience as neighbor_salience,
			neighbor.state as neighbor_state,
			startNode(rel).entity_key as edge_from,
			endNode(rel).entity_key as edge_to,
			type(rel) as edge_kind,
			rel.relationship_type as relationship_type,
			rel.attitude as attitude,
			rel.proximity as proximity,
			rel.relevance as relevance,
			rel.notes as notes,
			rel.created_at as created_at,
			rel.updated_at as updated_at
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"entityKeys": entityKeys,
		"userID":     userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expand graph: %w", err)
	}

	seenNodes := make(map[string]bool)
	seenEdges := make(map[string]bool)
	seenNeighbors := make(map[string]map[string]bool)

	for result.Next(ctx) {
		record := result.Record()

		seedKey := getStringFromRecord(record, "seed_key")
		if seedKey == "" {
			continue
		}
		if !seenNodes[seedKey] {
			seenNodes[seedKey] = true
			expansion.Nodes = append(expansion.Nodes, *prefixedEntityFromRecord(record, "seed_"))
		}
		if _, ok := expansion.Neighbors[seedKey]; !ok {
			expansion.Neighbors[seedKey] = []string{}
			seenNeighbors[seedKey] = make(map[string]bool)
		}

		neighborKey := getStringFromRecord(record, "neighbor_key")
		if neighborKey == "" {
			continue
		}
		if !seenNodes[neighborKey] {
			seenNodes[neighborKey] = true
			expansion.Nodes = append(expansion.Nodes, *prefixedEntityFromRecord(record, "neighbor_"))
		}
		if !seenNeighbors[seedKey][neighborKey] {
			seenNeighbors[seedKey][neighborKey] = true
			expansion.Neighbors[seedKey] = append(expansion.Neighbors[seedKey], neighborKey)
		}

		edgeFrom := getStringFromRecord(record, "edge_from")
		edgeTo := getStringFromRecord(record, "edge_to")
		edgeType := getStringFromRecord(record, "relationship_type")
		if edgeType == "" {
			edgeType = getStringFromRecord(record, "edge_kind")
		}
		edgeID := edgeFrom + "|" + edgeTo + "|" + edgeType
		if !seenEdges[edgeID] {
			seenEdges[edgeID] = true
			edge := edgeFromRecord(record, edgeFrom, edgeTo)
			edge.Type = edgeType
			expansion.Edges = append(expansion.Edges, *edge)
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read expansion records: %w", err)
	}

	return expansion, nil
}

// prefixedEntityFromRecord reads the entity projection under a column prefix,
// used by the expansion query where seed and neighbor share one row.
func prefixedEntityFromRecord(record *neo4j.Record, prefix string) *Entity {
	get := func(col string) string {
		return getStringFromRecord(record, prefix+col)
	}
	e := &Entity{
		EntityKey:     get("key"),
		UserID:        get("user_id"),
		Name:          get("name"),
		CanonicalName: get("canonical"),
		Description:   get("description"),
	}
	e.Type = normalize.EntityType(get("type"))
	e.State = salience.State(get("state"))
	if val, ok := record.Get(prefix + "salience"); ok && val != nil {
		if f, ok := val.(float64); ok {
			e.Salience = f
		}
	}
	if val, ok := record.Get(prefix + "access_count"); ok && val != nil {
		if i, ok := val.(int64); ok {
			e.AccessCount = i
		}
	}
	if val, ok := record.Get(prefix + "recall_frequency"); ok && val != nil {
		if i, ok := val.(int64); ok {
			e.RecallFrequency = i
		}
	}
	return e
}
