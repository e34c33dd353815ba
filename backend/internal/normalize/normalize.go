package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/kljensen/snowball/english"
)

// EntityType is carried alongside entity keys everywhere; it is never parsed
// back out of the key text.
type EntityType string

const (
	TypePerson      EntityType = "Person"
	TypeConcept     EntityType = "Concept"
	TypeNamedEntity EntityType = "NamedEntity"
	TypeSource      EntityType = "Source"
)

// AllEntityTypes lists every valid entity type in display order.
var AllEntityTypes = []EntityType{TypePerson, TypeConcept, TypeNamedEntity, TypeSource}

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case TypePerson, TypeConcept, TypeNamedEntity, TypeSource:
		return true
	}
	return false
}

// ParseEntityType converts a wire string into an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type: %q", s)
	}
	return t, nil
}

var (
	// possessiveRe strips 's at any word boundary, not just the trailing one:
	// removing it mid-phrase ("Ada's engine") avoids a stray "s" token after
	// the split below.
	possessiveRe = regexp.MustCompile(`'s\b`)
	tokenSplitRe = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// Normalize canonicalizes a mention into a stable lookup form: lowercase,
// trimmed, possessives stripped, tokens stemmed to their base form, single
// spaces between tokens. Pure and deterministic.
//
// Stemming is intentionally aggressive: distinct words can collapse to the
// same stem ("university" and "universe" both become "univers"). That
// trade-off keeps plural and inflected mentions of the same thing on one key.
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = possessiveRe.ReplaceAllString(s, "")

	tokens := tokenSplitRe.Split(s, -1)
	stemmed := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		stemmed = append(stemmed, english.Stem(tok, false))
	}

	return strings.Join(stemmed, " ")
}

// EntityKey derives the stable identifier for an entity: SHA-256 over the
// normalized name, the type, and the owning user. Same inputs always produce
// the same key; different users never share one.
func EntityKey(name string, entityType EntityType, userID string) string {
	sum := sha256.Sum256([]byte(Normalize(name) + string(entityType) + userID))
	return hex.EncodeToString(sum[:])
}
