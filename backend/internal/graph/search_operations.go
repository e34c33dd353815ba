package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"engram/backend/internal/normalize"
)

// ============================================================================
// Search Operations
// ============================================================================

// EmbeddingIndexName is the vector index over Entity.embedding created by the
// schema migration.
const EmbeddingIndexName = "entity_embedding"

// VectorSearch finds the user's entities whose embeddings score at or above
// threshold against the query vector, best first.
func (r *Repository) VectorSearch(ctx context.Context, embedding []float32, threshold float64, userID string, limit int) ([]SearchHit, error) {
	return r.vectorSearch(ctx, embedding, threshold, userID, "", limit)
}

// VectorSearchByType is VectorSearch restricted to one entity type; the
// resolver uses it to compare a mention only against same-type candidates.
func (r *Repository) VectorSearchByType(ctx context.Context, embedding []float32, entityType normalize.EntityType, threshold float64, userID string, limit int) ([]SearchHit, error) {
	return r.vectorSearch(ctx, embedding, threshold, userID, string(entityType), limit)
}

func (r *Repository) vectorSearch(ctx context.Context, embedding []float32, threshold float64, userID, entityType string, limit int) ([]SearchHit, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if limit < 1 {
		limit = 10
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	// The index spans all users, so overfetch before filtering down to this
	// user's nodes.
	k := limit * 4
	if k < 50 {
		k = 50
	}

	query := `
		CALL db.index.vector.queryNodes($indexName, $k, $embedding)
		YIELD node, score
		WHERE node.user_id = $userID
		  AND score >= $threshold
		  AND ($entityType = '' OR node.entity_type = $entityType)
		RETURN node.entity_key as entity_key,
			node.entity_type as entity_type,
			node.name as name,
			node.description as description,
			score
		ORDER BY score DESC
		LIMIT $limit
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"indexName":  EmbeddingIndexName,
		"k":          k,
		"embedding":  toFloat64Slice(embedding),
		"userID":     userID,
		"threshold":  threshold,
		"entityType": entityType,
		"limit":      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}

	var hits []SearchHit
	for result.Next(ctx) {
		record := result.Record()
		hits = append(hits, SearchHit{
			EntityKey:   getStringFromRecord(record, "entity_key"),
			Type:        normalize.EntityType(getStringFromRecord(record, "entity_type")),
			Name:        getStringFromRecord(record, "name"),
			Description: getStringFromRecord(record, "description"),
			Score:       getFloat64FromRecord(record, "score"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vector search records: %w", err)
	}

	return hits, nil
}

// FuzzyTextMatch finds the user's entities whose name or canonical name
// contains the text, scored by normalized edit distance against the closer of
// the two forms, best first.
func (r *Repository) FuzzyTextMatch(ctx context.Context, text, userID string, limit int) ([]SearchHit, error) {
	lower := strings.ToLower(strings.TrimSpace(text))
	normalized := normalize.Normalize(text)
	if lower == "" {
		return nil, nil
	}
	if limit < 1 {
		limit = 20
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (n:Entity {user_id: $userID})
		WHERE toLower(n.name) CONTAINS $lower
		   OR n.canonical_name CONTAINS $normalized
		RETURN n.entity_key as entity_key,
			n.entity_type as entity_type,
			n.name as name,
			n.canonical_name as canonical_name,
			n.description as description
		LIMIT $limit
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userID":     userID,
		"lower":      lower,
		"normalized": normalized,
		"limit":      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run fuzzy text match: %w", err)
	}

	var hits []SearchHit
	for result.Next(ctx) {
		record := result.Record()
		name := getStringFromRecord(record, "name")
		canonical := getStringFromRecord(record, "canonical_name")

		score := editSimilarity(lower, strings.ToLower(name))
		if s := editSimilarity(normalized, canonical); s > score {
			score = s
		}

		hits = append(hits, SearchHit{
			EntityKey:   getStringFromRecord(record, "entity_key"),
			Type:        normalize.EntityType(getStringFromRecord(record, "entity_type")),
			Name:        name,
			Description: getStringFromRecord(record, "description"),
			Score:       score,
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fuzzy match records: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	return hits, nil
}

// FindNodesViaRelationshipSearch discovers the user's entities reachable over
// a relationship whose type or notes mention the query text.
func (r *Repository) FindNodesViaRelationshipSearch(ctx context.Context, text, userID string, limit int) ([]SearchHit, error) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return nil, nil
	}
	if limit < 1 {
		limit = 20
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (:Entity {user_id: $userID})-[rel:RELATES_TO]-(n:Entity {user_id: $userID})
		WHERE toLower(replace(rel.relationship_type, '_', ' ')) CONTAINS $lower
		   OR any(note IN coalesce(rel.notes, []) WHERE toLower(note) CONTAINS $lower)
		RETURN DISTINCT n.entity_key as entity_key,
			n.entity_type as entity_type,
			n.name as name,
			n.description as description
		LIMIT $limit
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userID": userID,
		"lower":  lower,
		"limit":  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run relationship search: %w", err)
	}

	var hits []SearchHit
	for result.Next(ctx) {
		record := result.Record()
		hits = append(hits, SearchHit{
			EntityKey:   getStringFromRecord(record, "entity_key"),
			Type:        normalize.EntityType(getStringFromRecord(record, "entity_type")),
			Name:        getStringFromRecord(record, "name"),
			Description: getStringFromRecord(record, "description"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read relationship search records: %w", err)
	}

	return hits, nil
}

// FuzzyContainmentMatch finds one same-type entity whose name contains or is
// contained by the mention, preferring the closest length. Callers guard
// against short mentions; containment on a 2-character string matches almost
// anything.
func (r *Repository) FuzzyContainmentMatch(ctx context.Context, name string, entityType normalize.EntityType, userID string) (*Entity, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	normalized := normalize.Normalize(name)
	if normalized == "" {
		return nil, nil
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (n:Entity {user_id: $userID, entity_type: $entityType})
		WHERE size(n.canonical_name) > 0
		  AND (n.canonical_name CONTAINS $normalized
		       OR $normalized CONTAINS n.canonical_name
		       OR toLower(n.name) CONTAINS $lower
		       OR $lower CONTAINS toLower(n.name))
		RETURN n.entity_key as entity_key,
			n.user_id as user_id,
			n.entity_type as entity_type,
			n.name as name,
			n.canonical_name as canonical_name,
			n.description as description,
			n.salience as salience,
			n.state as state,
			n.access_count as access_count,
			n.recall_frequency as recall_frequency
		ORDER BY abs(size(n.canonical_name) - size($normalized)) ASC
		LIMIT 1
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userID":     userID,
		"entityType": string(entityType),
		"normalized": normalized,
		"lower":      lower,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run containment match: %w", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to read containment match record: %w", err)
		}
		return nil, nil
	}

	return entityFromRecord(result.Record()), nil
}

// editSimilarity maps levenshtein distance into [0, 1], 1 being identical.
func editSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}
