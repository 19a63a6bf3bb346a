package styles

import (
	"strings"
	"testing"
)

func TestAllReturnsCopy(t *testing.T) {
	first := All()
	if len(first) == 0 {
		t.Fatalf("catalog is empty")
	}
	first[0].Positive = "mutated"
	if second := All(); second[0].Positive == "mutated" {
		t.Fatalf("All leaks internal catalog state")
	}
}

func TestLookup(t *testing.T) {
	s, ok := Lookup("style2")
	if !ok || s.Name != "Disegno a matita" {
		t.Fatalf("Lookup(style2) = %+v, %v", s, ok)
	}
	if _, ok := Lookup("style99"); ok {
		t.Fatalf("Lookup accepted an unknown id")
	}
}

func TestComposeSplicesFragments(t *testing.T) {
	pos, neg := Compose("a cat", "blurry", "style2")
	if !strings.HasPrefix(pos, "a cat, ") || !strings.Contains(pos, "pencil sketch") {
		t.Fatalf("positive = %q", pos)
	}
	if !strings.HasPrefix(neg, "blurry, ") || !strings.Contains(neg, "colorful") {
		t.Fatalf("negative = %q", neg)
	}
}

func TestComposeEmptyBaseYieldsFragmentsAlone(t *testing.T) {
	pos, neg := Compose("", "", "style10")
	if pos != "vector style illustration, bidimensional" {
		t.Fatalf("positive = %q", pos)
	}
	if neg != "realistic" {
		t.Fatalf("negative = %q", neg)
	}
}

func TestComposeSkipsUnknownIDs(t *testing.T) {
	pos, neg := Compose("a cat", "", "style99", "style10")
	if pos != "a cat, vector style illustration, bidimensional" {
		t.Fatalf("positive = %q", pos)
	}
	if neg != "realistic" {
		t.Fatalf("negative = %q", neg)
	}
}

func TestComposeNoStylesPassesThrough(t *testing.T) {
	pos, neg := Compose("  a cat  ", "blurry")
	if pos != "a cat" || neg != "blurry" {
		t.Fatalf("Compose = %q, %q", pos, neg)
	}
}
