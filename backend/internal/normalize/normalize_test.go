package normalize

import (
	"strings"
	"testing"
)

func TestNormalizePluralsCollapse(t *testing.T) {
	a := Normalize("Startups")
	b := Normalize("startup")
	c := Normalize("Startup")

	if a != b || b != c {
		t.Errorf("expected identical normal forms, got %q / %q / %q", a, b, c)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", "Machine Learning", "machin learn"},
		{"trim and collapse whitespace", "  deep   learning  ", "deep learn"},
		{"possessive stripped", "Sarah's laptop", "sarah laptop"},
		{"punctuation splits tokens", "state-of-the-art", "state of the art"},
		{"gerund to base", "running", "run"},
		{"already normal", "golang", "golang"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeAggressiveStemmingKnownCollision(t *testing.T) {
	// Documented behavior: distinct words may share a stem.
	if Normalize("university") != Normalize("universities") {
		t.Error("expected singular and plural to share a normal form")
	}
}

func TestEntityKeyDeterministic(t *testing.T) {
	k1 := EntityKey("Startups", TypeConcept, "user-1")
	k2 := EntityKey("startup", TypeConcept, "user-1")

	if k1 != k2 {
		t.Errorf("mentions normalizing identically must share a key: %s != %s", k1, k2)
	}
	if len(k1) != 64 || strings.ToLower(k1) != k1 {
		t.Errorf("expected lowercase sha256 hex, got %q", k1)
	}
}

func TestEntityKeyScoping(t *testing.T) {
	base := EntityKey("startup", TypeConcept, "user-1")

	if EntityKey("startup", TypeConcept, "user-2") == base {
		t.Error("same name for different users must not share a key")
	}
	if EntityKey("startup", TypeNamedEntity, "user-1") == base {
		t.Error("same name with a different type must not share a key")
	}
}

func TestParseEntityType(t *testing.T) {
	for _, et := range AllEntityTypes {
		parsed, err := ParseEntityType(string(et))
		if err != nil {
			t.Fatalf("ParseEntityType(%q) returned error: %v", et, err)
		}
		if parsed != et {
			t.Errorf("ParseEntityType(%q) = %q", et, parsed)
		}
	}

	if _, err := ParseEntityType("Topic"); err == nil {
		t.Error("expected error for unknown entity type")
	}
}
