package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"engram/backend/internal/normalize"
	"engram/backend/internal/salience"
	pkgerrors "engram/backend/pkg/errors"
)

// ============================================================================
// Entity Operations
// ============================================================================

// NewEntitySalience is the salience a freshly created entity starts with.
const NewEntitySalience = 0.5

// MaxNotesPerEntity bounds the note list; older notes beyond it are trimmed.
const MaxNotesPerEntity = 100

// CreateEntity upserts an entity keyed by its entity key. Concurrent create
// attempts for the same normalized name collapse into one node. If the key
// already belongs to a node with a different owner, type, or canonical name,
// the write is aborted with a data integrity error.
func (r *Repository) CreateEntity(ctx context.Context, in EntityInput) (*Entity, bool, error) {
	if !in.Type.Valid() {
		return nil, false, fmt.Errorf("invalid entity type: %q", in.Type)
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	canonical := normalize.Normalize(in.Name)
	entityKey := normalize.EntityKey(in.Name, in.Type, in.UserID)
	now := time.Now().UTC().Format(time.RFC3339)

	// MERGE keys on :Entity alone so a cross-type key collision matches the
	// existing node instead of creating a twin; the integrity check below
	// rejects it. The type label is interpolated from the validated enum;
	// everything else is parameterized.
	query := fmt.Sprintf(`
		MERGE (n:Entity {entity_key: $entityKey})
		ON CREATE SET
			n.user_id = $userID,
			n.entity_type = $entityType,
			n.name = $name,
			n.canonical_name = $canonical,
			n.description = $description,
			n.salience = $salience,
			n.state = $state,
			n.access_count = 0,
			n.recall_frequency = 0,
			n.created_at = datetime($now),
			n.updated_at = datetime($now),
			n.inserted = true
		WITH n, coalesce(n.inserted, false) as created
		REMOVE n.inserted
		FOREACH (_ IN CASE WHEN created THEN [1] ELSE [] END | SET n:%s)
		SET n.embedding = CASE WHEN created AND size($embedding) > 0 THEN $embedding ELSE n.embedding END
		RETURN created,
			n.entity_key as entity_key,
			n.user_id as user_id,
			n.entity_type as entity_type,
			n.name as name,
			n.canonical_name as canonical_name,
			n.description as description,
			n.salience as salience,
			n.state as state,
			n.access_count as access_count,
			n.recall_frequency as recall_frequency
	`, in.Type)

	result, err := session.Run(ctx, query, map[string]interface{}{
		"entityKey":   entityKey,
		"userID":      in.UserID,
		"entityType":  string(in.Type),
		"name":        in.Name,
		"canonical":   canonical,
		"description": in.Description,
		"salience":    NewEntitySalience,
		"state":       string(salience.StateCandidate),
		"now":         now,
		"embedding":   toFloat64Slice(in.Embedding),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create entity: %w", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read created entity: %w", err)
	}

	entity := entityFromRecord(record)
	created := getBoolFromRecord(record, "created")

	if !created && (entity.UserID != in.UserID || entity.Type != in.Type || entity.CanonicalName != canonical) {
		return nil, false, pkgerrors.NewDataIntegrity(entityKey,
			fmt.Sprintf("existing node is %s/%s owned by %s", entity.Type, entity.CanonicalName, entity.UserID))
	}

	if created {
		r.logger.Info("Entity created",
			zap.String("entity_key", entityKey),
			zap.String("type", string(in.Type)),
			zap.String("user_id", in.UserID),
		)
	}

	return entity, created, nil
}

// GetEntityByKey fetches one entity. Returns (nil, nil) when no node has the
// key, so callers can treat absence as an ordinary miss.
func (r *Repository) GetEntityByKey(ctx context.Context, entityKey, userID string) (*Entity, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (n:Entity {entity_key: $entityKey, user_id: $userID})
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
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"entityKey": entityKey,
		"userID":    userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch entity: %w", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to read entity record: %w", err)
		}
		return nil, nil
	}

	return entityFromRecord(result.Record()), nil
}

// FindPersonByName matches a Person by stored display name, case-insensitive.
// This catches mentions whose surface form matches an existing person even
// when normalization would derive a different key.
func (r *Repository) FindPersonByName(ctx context.Context, name, userID string) (*Entity, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (n:Person {user_id: $userID})
		WHERE toLower(n.name) = toLower($name)
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
		LIMIT 1
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"name":   name,
		"userID": userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find person by name: %w", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to read person record: %w", err)
		}
		return nil, nil
	}

	return entityFromRecord(result.Record()), nil
}

// UpsertAlias records a surface form that resolved to an entity under a
// different canonical name. Idempotent on (normalized_name, type, user).
func (r *Repository) UpsertAlias(ctx context.Context, normalizedName string, entityType normalize.EntityType, entityKey, userID string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (a:Alias {normalized_name: $normalizedName, type: $type, user_id: $userID})
		ON CREATE SET a.created_at = datetime($now)
		SET a.entity_key = $entityKey,
		    a.updated_at = datetime($now)
		RETURN a.normalized_name as normalized_name
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"normalizedName": normalizedName,
		"type":           string(entityType),
		"userID":         userID,
		"entityKey":      entityKey,
		"now":            time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert alias: %w", err)
	}

	r.logger.Debug("Alias recorded",
		zap.String("normalized_name", normalizedName),
		zap.String("entity_key", entityKey),
	)
	return nil
}

// FindAliasTarget resolves (normalized name, type) through the alias table to
// its entity. Returns (nil, nil) when no alias matches.
func (r *Repository) FindAliasTarget(ctx context.Context, normalizedName string, entityType normalize.EntityType, userID string) (*Entity, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (a:Alias {normalized_name: $normalizedName, type: $type, user_id: $userID})
		MATCH (n:Entity {entity_key: a.entity_key})
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
		LIMIT 1
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"normalizedName": normalizedName,
		"type":           string(entityType),
		"userID":         userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up alias: %w", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to read alias record: %w", err)
		}
		return nil, nil
	}

	return entityFromRecord(result.Record()), nil
}

// AppendNote appends one note to an entity and trims the list to the most
// recent MaxNotesPerEntity.
func (r *Repository) AppendNote(ctx context.Context, entityKey, userID string, note Note) (string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	noteID := note.ID
	if noteID == "" {
		noteID = uuid.New().String()
	}
	now := time.Now().UTC().Format(time.RFC3339)

	expiresAt := ""
	if note.ExpiresAt != nil {
		expiresAt = note.ExpiresAt.UTC().Format(time.RFC3339)
	}

	query := `
		MATCH (n:Entity {entity_key: $entityKey, user_id: $userID})
		CREATE (note:Note {
			id: $noteID,
			content: $content,
			added_by: $addedBy,
			source_id: $sourceID,
			added_at: datetime($now)
		})
		SET note.expires_at = CASE WHEN $expiresAt = '' THEN null ELSE datetime($expiresAt) END
		CREATE (n)-[:HAS_NOTE]->(note)
		SET n.updated_at = datetime($now)
		WITH n
		MATCH (n)-[:HAS_NOTE]->(existing:Note)
		WITH existing ORDER BY existing.added_at DESC, existing.id
		WITH collect(existing) as ordered
		FOREACH (stale IN ordered[$maxNotes..] | DETACH DELETE stale)
		RETURN size(ordered) as total
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"entityKey": entityKey,
		"userID":    userID,
		"noteID":    noteID,
		"content":   note.Content,
		"addedBy":   note.AddedBy,
		"sourceID":  note.SourceID,
		"now":       now,
		"expiresAt": expiresAt,
		"maxNotes":  MaxNotesPerEntity,
	})
	if err != nil {
		return "", fmt.Errorf("failed to append note: %w", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to append note, entity may not exist: %w", err)
	}

	if total := getInt64FromRecord(record, "total"); total > MaxNotesPerEntity {
		r.logger.Debug("Trimmed entity notes",
			zap.String("entity_key", entityKey),
			zap.Int64("before_trim", total),
		)
	}

	return noteID, nil
}

// GetNotes returns an entity's notes, most recent first.
func (r *Repository) GetNotes(ctx context.Context, entityKey, userID string) ([]Note, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (n:Entity {entity_key: $entityKey, user_id: $userID})-[:HAS_NOTE]->(note:Note)
		RETURN note.id as id,
			note.content as content,
			note.added_by as added_by,
			note.source_id as source_id,
			note.added_at as added_at,
			note.expires_at as expires_at
		ORDER BY note.added_at DESC, note.id
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"entityKey": entityKey,
		"userID":    userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notes: %w", err)
	}

	var notes []Note
	for result.Next(ctx) {
		record := result.Record()
		n := Note{
			ID:       getStringFromRecord(record, "id"),
			Content:  getStringFromRecord(record, "content"),
			AddedBy:  getStringFromRecord(record, "added_by"),
			SourceID: getStringFromRecord(record, "source_id"),
			AddedAt:  getTimeFromRecord(record, "added_at"),
		}
		if exp, ok := getOptionalTimeFromRecord(record, "expires_at"); ok {
			n.ExpiresAt = &exp
		}
		notes = append(notes, n)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read note records: %w", err)
	}

	return notes, nil
}

// SetEmbedding stores or replaces an entity's embedding vector.
func (r *Repository) SetEmbedding(ctx context.Context, entityKey, userID string, embedding []float32) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (n:Entity {entity_key: $entityKey, user_id: $userID})
		SET n.embedding = $embedding,
		    n.updated_at = datetime($now)
		RETURN n.entity_key as entity_key
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"entityKey": entityKey,
		"userID":    userID,
		"embedding": toFloat64Slice(embedding),
		"now":       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to set embedding: %w", err)
	}

	if _, err := result.Single(ctx); err != nil {
		return fmt.Errorf("failed to set embedding, entity may not exist: %w", err)
	}

	return nil
}
