package graph

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"engram/backend/internal/normalize"
	"engram/backend/internal/salience"
)

// ============================================================================
// Helper Functions
// ============================================================================

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getBoolFromRecord(record *neo4j.Record, key string) bool {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return false
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return false
}

func getInt64FromRecord(record *neo4j.Record, key string) int64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	if i, ok := val.(int64); ok {
		return i
	}
	if i, ok := val.(int); ok {
		return int64(i)
	}
	return 0
}

func getFloat64FromRecord(record *neo4j.Record, key string) float64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0.0
	}
	if f, ok := val.(float64); ok {
		return f
	}
	if i, ok := val.(int64); ok {
		return float64(i)
	}
	return 0.0
}

func getTimeFromRecord(record *neo4j.Record, key string) time.Time {
	t, _ := getOptionalTimeFromRecord(record, key)
	return t
}

// getOptionalTimeFromRecord reports whether the value was present; Neo4j
// datetime values come back as time.Time.
func getOptionalTimeFromRecord(record *neo4j.Record, key string) (time.Time, bool) {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return time.Time{}, false
	}
	if t, ok := val.(time.Time); ok {
		return t, true
	}
	return time.Time{}, false
}

func getStringSliceFromRecord(record *neo4j.Record, key string) []string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	if slice, ok := val.([]interface{}); ok {
		result := make([]string, 0, len(slice))
		for _, v := range slice {
			if str, ok := v.(string); ok {
				result = append(result, str)
			}
		}
		return result
	}
	return nil
}

// entityFromRecord builds an Entity from the standard projection used by the
// entity queries in this package.
func entityFromRecord(record *neo4j.Record) *Entity {
	e := &Entity{
		EntityKey:       getStringFromRecord(record, "entity_key"),
		UserID:          getStringFromRecord(record, "user_id"),
		Type:            normalize.EntityType(getStringFromRecord(record, "entity_type")),
		Name:            getStringFromRecord(record, "name"),
		CanonicalName:   getStringFromRecord(record, "canonical_name"),
		Description:     getStringFromRecord(record, "description"),
		Salience:        getFloat64FromRecord(record, "salience"),
		State:           salience.State(getStringFromRecord(record, "state")),
		AccessCount:     getInt64FromRecord(record, "access_count"),
		RecallFrequency: getInt64FromRecord(record, "recall_frequency"),
	}
	if t, ok := getOptionalTimeFromRecord(record, "last_accessed_at"); ok {
		e.LastAccessedAt = t
	}
	if t, ok := getOptionalTimeFromRecord(record, "created_at"); ok {
		e.CreatedAt = t
	}
	if t, ok := getOptionalTimeFromRecord(record, "updated_at"); ok {
		e.UpdatedAt = t
	}
	return e
}

// toFloat64Slice converts an embedding for the driver; Neo4j list properties
// are float64.
func toFloat64Slice(embedding []float32) []float64 {
	out := make([]float64, len(embedding))
	for i, v := range embedding {
		out[i] = float64(v)
	}
	return out
}
