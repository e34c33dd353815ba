package graph

import (
	"time"

	"engram/backend/internal/normalize"
	"engram/backend/internal/salience"
)

// ============================================================================
// Graph Types
// ============================================================================

// Entity is a node in a user's knowledge graph. EntityKey is derived from the
// normalized name, the type, and the owning user, so re-mentions land on the
// same node.
type Entity struct {
	EntityKey       string               `json:"entity_key"`
	UserID          string               `json:"user_id"`
	Type            normalize.EntityType `json:"type"`
	Name            string               `json:"name"`
	CanonicalName   string               `json:"canonical_name"`
	Description     string               `json:"description,omitempty"`
	Salience        float64              `json:"salience"`
	State           salience.State       `json:"state"`
	AccessCount     int64                `json:"access_count"`
	RecallFrequency int64                `json:"recall_frequency"`
	LastAccessedAt  time.Time            `json:"last_accessed_at,omitempty"`
	CreatedAt       time.Time            `json:"created_at,omitempty"`
	UpdatedAt       time.Time            `json:"updated_at,omitempty"`
}

// Note is one append-only annotation on an entity. An entity keeps at most
// the 100 most recent notes.
type Note struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	AddedBy   string     `json:"added_by,omitempty"`
	SourceID  string     `json:"source_id,omitempty"`
	AddedAt   time.Time  `json:"added_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Edge is a typed relationship between two entities, or a Source mention.
// Edges are upserted keyed by (from, to, type) and never duplicated.
type Edge struct {
	FromKey   string    `json:"from_key"`
	ToKey     string    `json:"to_key"`
	Type      string    `json:"type"`
	Attitude  int       `json:"attitude,omitempty"`
	Proximity int       `json:"proximity,omitempty"`
	Relevance *float64  `json:"relevance,omitempty"`
	Notes     []string  `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// SearchHit is one scored row from a search operation.
type SearchHit struct {
	EntityKey   string               `json:"entity_key"`
	Type        normalize.EntityType `json:"type"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Score       float64              `json:"score"`
}

// Expansion is the raw 1-hop neighborhood of a seed set: every node involved,
// the connecting edges (unordered; callers order and cap them), and a map
// from each seed key to its neighbor keys.
type Expansion struct {
	Nodes     []Entity            `json:"nodes"`
	Edges     []Edge              `json:"edges"`
	Neighbors map[string][]string `json:"neighbors"`
}

// EntityInput carries the fields for creating an entity through the
// resolver's fallback tier.
type EntityInput struct {
	UserID      string
	Type        normalize.EntityType
	Name        string
	Description string
	Embedding   []float32
}

// EdgeInput carries the fields for an idempotent edge upsert. Attitude and
// proximity are clamped to [1, 5]; Relevance is only written when non-nil;
// Note, when set, is appended to the edge's note list.
type EdgeInput struct {
	UserID    string
	FromKey   string
	ToKey     string
	Type      string
	Attitude  int
	Proximity int
	Relevance *float64
	Note      string
}

// SourceInput describes one ingestion unit to record as a Source node.
// ExternalID keys the source (re-registering the same unit is an upsert);
// when empty the caller is expected to supply a fresh unique id.
type SourceInput struct {
	UserID     string
	ExternalID string
	Title      string
	Kind       string
	Excerpt    string
	URL        string
}
