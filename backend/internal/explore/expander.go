package explore

import (
	"sort"
	"time"

	"engram/backend/internal/graph"
)

// MaxEdges caps how many ordered edges a retrieval result carries.
const MaxEdges = 10

// OrderEdges sorts connecting edges for output and cuts them to limit.
// Primary key: the relevance property descending, with carriers sorting
// before edges that have none. Secondary key: the more recent of updated_at
// and created_at, descending.
func OrderEdges(edges []graph.Edge, limit int) []graph.Edge {
	ordered := make([]graph.Edge, len(edges))
	copy(ordered, edges)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]

		switch {
		case a.Relevance != nil && b.Relevance == nil:
			return true
		case a.Relevance == nil && b.Relevance != nil:
			return false
		case a.Relevance != nil && b.Relevance != nil && *a.Relevance != *b.Relevance:
			return *a.Relevance > *b.Relevance
		}

		return lastTouched(a).After(lastTouched(b))
	})

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}
	return ordered
}

// lastTouched is the more recent of an edge's update and creation times.
func lastTouched(e graph.Edge) time.Time {
	if e.UpdatedAt.After(e.CreatedAt) {
		return e.UpdatedAt
	}
	return e.CreatedAt
}
