package salience

// ============================================================================
// Salience Rules
// ============================================================================

// AccessBoost is added to salience on every access; 0.075 is the midpoint of
// the tuned [0.05, 0.1] design range.
const AccessBoost = 0.075

// Promotion thresholds on cumulative access count.
const (
	ActiveAccessThreshold = 1
	CoreAccessThreshold   = 10
)

// State is the promotion level of an entity.
type State string

const (
	StateCandidate State = "candidate"
	StateActive    State = "active"
	StateCore      State = "core"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateCandidate, StateActive, StateCore:
		return true
	}
	return false
}

// Clamp bounds a salience value to [0, 1].
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Boost returns the salience after one access.
func Boost(current float64) float64 {
	return Clamp(current + AccessBoost)
}

// NextState returns the promotion state given the post-update access count.
// Promotion only: core is terminal and no state ever falls back to candidate.
func NextState(current State, accessCount int) State {
	if current == StateCore {
		return StateCore
	}
	if accessCount >= CoreAccessThreshold {
		return StateCore
	}
	if accessCount >= ActiveAccessThreshold {
		return StateActive
	}
	return current
}
