package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"engram/backend/internal/normalize"
	"engram/backend/internal/salience"
)

// ============================================================================
// Source Operations
// ============================================================================

// Sources are provenance nodes, one per ingestion unit, stored as
// :Entity:Source so retrieval treats them like any other node type. The
// entity key derives from the caller's external id, making re-registration of
// the same unit an upsert.

// RegisterSource upserts a Source node and MENTIONS edges to the entities it
// mentions, all in one statement. Returns the source's entity key.
func (r *Repository) RegisterSource(ctx context.Context, in SourceInput, mentionedKeys []string) (string, error) {
	if in.ExternalID == "" {
		return "", fmt.Errorf("source requires an external id")
	}
	if in.UserID == "" {
		return "", fmt.Errorf("source requires a user id")
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	sourceKey := normalize.EntityKey(in.ExternalID, normalize.TypeSource, in.UserID)
	now := time.Now().UTC().Format(time.RFC3339)

	name := in.Title
	if name == "" {
		name = in.ExternalID
	}

	query := `
		MERGE (s:Entity:Source {entity_key: $sourceKey})
		ON CREATE SET
			s.user_id = $userID,
			s.entity_type = $entityType,
			s.external_id = $externalID,
			s.canonical_name = $canonical,
			s.salience = $salience,
			s.state = $state,
			s.access_count = 0,
			s.recall_frequency = 0,
			s.created_at = datetime($now)
		SET s.name = $name,
		    s.kind = $kind,
		    s.excerpt = $excerpt,
		    s.url = $url,
		    s.updated_at = datetime($now)
		WITH s
		UNWIND CASE WHEN size($mentionedKeys) = 0 THEN [null] ELSE $mentionedKeys END as key
		OPTIONAL MATCH (e:Entity {entity_key: key, user_id: $userID})
		FOREACH (_ IN CASE WHEN e IS NULL THEN [] ELSE [1] END |
			MERGE (s)-[m:MENTIONS]->(e)
			ON CREATE SET m.created_at = datetime($now)
			SET m.updated_at = datetime($now)
		)
		RETURN count(e) as linked
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"sourceKey":     sourceKey,
		"userID":        in.UserID,
		"entityType":    string(normalize.TypeSource),
		"externalID":    in.ExternalID,
		"canonical":     normalize.Normalize(name),
		"salience":      NewEntitySalience,
		"state":         string(salience.StateCandidate),
		"name":          name,
		"kind":          in.Kind,
		"excerpt":       in.Excerpt,
		"url":           in.URL,
		"now":           now,
		"mentionedKeys": mentionedKeys,
	})
	if err != nil {
		return "", fmt.Errorf("failed to register source: %w", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read source registration result: %w", err)
	}

	linked := getInt64FromRecord(record, "linked")
	if int(linked) < len(mentionedKeys) {
		r.logger.Warn("Source registration skipped unknown entities",
			zap.String("source_key", sourceKey),
			zap.Int("requested", len(mentionedKeys)),
			zap.Int64("linked", linked),
		)
	}

	r.logger.Info("Source registered",
		zap.String("source_key", sourceKey),
		zap.String("kind", in.Kind),
		zap.Int64("mentions", linked),
	)

	return sourceKey, nil
}

// GetSourceMentions returns the entity keys a source mentions.
func (r *Repository) GetSourceMentions(ctx context.Context, sourceKey, userID string) ([]string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (s:Source {entity_key: $sourceKey, user_id: $userID})-[:MENTIONS]->(e:Entity)
		RETURN e.entity_key as entity_key
		ORDER BY e.entity_key
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"sourceKey": sourceKey,
		"userID":    userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source mentions: %w", err)
	}

	var keys []string
	for result.Next(ctx) {
		keys = append(keys, getStringFromRecord(result.Record(), "entity_key"))
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mention records: %w", err)
	}

	return keys, nil
}
