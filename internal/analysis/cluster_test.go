package analysis

import (
	"strings"
	"testing"
)

// --- NormalizeValue tests ---

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "lowercases", input: "In Store", expected: "in store"},
		{name: "hyphen is a separator", input: "In-store", expected: "in store"},
		{name: "underscore is a separator", input: "IN_STORE", expected: "in store"},
		{name: "collapses whitespace", input: "in    store", expected: "in store"},
		{name: "trims", input: "  online \t", expected: "online"},
		{name: "mixed separators", input: "click-_-and . collect", expected: "click and collect"},
		{name: "keeps digits", input: "Zone-5", expected: "zone 5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeValue(tt.input)
			if got != tt.expected {
				t.Errorf("\nexpected: %q\ngot:      %q", tt.expected, got)
			}
		})
	}
}

func TestNormalizeValue_TruncatesTo500(t *testing.T) {
	got := NormalizeValue(strings.Repeat("a", 600))
	if len(got) > 500 {
		t.Errorf("expected max 500 chars, got %d", len(got))
	}
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"In-store":         "in_store",
		"in store":         "in_store",
		"Online":           "online",
		" Click & Collect": "click_collect",
		"__x__":            "x",
		"Unit Price ($)":   "unit_price",
	}
	for in, want := range tests {
		if got := SnakeCase(in); got != want {
			t.Errorf("SnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}

// --- Fingerprint tests ---

func TestFingerprint_SpellingVariantsMatch(t *testing.T) {
	fp1 := Fingerprint("In-store")
	fp2 := Fingerprint("in store")
	fp3 := Fingerprint("IN_STORE")
	if fp1 != fp2 || fp2 != fp3 {
		t.Errorf("spelling variants should share a fingerprint:\n  %s\n  %s\n  %s", fp1, fp2, fp3)
	}
}

func TestFingerprint_DifferentValues(t *testing.T) {
	if Fingerprint("online") == Fingerprint("in-store") {
		t.Error("different values should have different fingerprints")
	}
}

func TestFingerprint_IsLowercaseHex(t *testing.T) {
	fp := Fingerprint("test value")
	if len(fp) != 64 {
		t.Errorf("expected 64 char hex string, got %d chars: %s", len(fp), fp)
	}
	for _, c := range fp {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("fingerprint contains non-lowercase-hex char: %c", c)
			break
		}
	}
}

// --- ClusterValues tests ---

func TestClusterValues_BasicGrouping(t *testing.T) {
	values := []string{"In-store", "in store", "In-store", "Online", "online", "Phone"}

	variants := ClusterValues(values)
	if len(variants) != 2 {
		t.Fatalf("expected 2 variant clusters, got %d: %+v", len(variants), variants)
	}

	if variants[0].Canonical != "in_store" || variants[0].Count != 3 {
		t.Errorf("expected in_store x3 first, got %+v", variants[0])
	}
	if variants[0].Spellings[0] != "In-store" {
		t.Errorf("most frequent spelling should be first, got %v", variants[0].Spellings)
	}
	if variants[1].Canonical != "online" || variants[1].Count != 2 {
		t.Errorf("expected online x2 second, got %+v", variants[1])
	}
}

func TestClusterValues_SingleSpellingNotReported(t *testing.T) {
	variants := ClusterValues([]string{"a", "a", "b"})
	if len(variants) != 0 {
		t.Errorf("expected no variants, got %+v", variants)
	}
}

func TestClusterValues_EmptyInput(t *testing.T) {
	variants := ClusterValues(nil)
	if variants == nil {
		t.Error("expected non-nil empty slice")
	}
	if len(variants) != 0 {
		t.Errorf("expected 0 variants, got %d", len(variants))
	}
}

func TestClusterValues_IgnoresBlank(t *testing.T) {
	variants := ClusterValues([]string{"", "  ", "\t"})
	if len(variants) != 0 {
		t.Errorf("blank values should not cluster, got %+v", variants)
	}
}

func TestClusterValues_TieBreakByCanonical(t *testing.T) {
	variants := ClusterValues([]string{"b-x", "B X", "a-x", "A X"})
	if len(variants) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(variants))
	}
	if variants[0].Canonical != "a_x" || variants[1].Canonical != "b_x" {
		t.Errorf("expected alphabetical tie-break, got %s, %s", variants[0].Canonical, variants[1].Canonical)
	}
}

func TestClusterValues_CapsSpellings(t *testing.T) {
	var values []string
	for _, sep := range []string{" ", "-", "_", ".", "/", "  ", "--", "__", "-_", "_-", " - "} {
		values = append(values, "in"+sep+"store")
	}
	variants := ClusterValues(values)
	if len(variants) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(variants))
	}
	if len(variants[0].Spellings) != maxSpellings {
		t.Errorf("expected %d spellings, got %d", maxSpellings, len(variants[0].Spellings))
	}
	if variants[0].Count != len(values) {
		t.Errorf("count should include every occurrence, got %d", variants[0].Count)
	}
}

func TestTruncateString_RespectsRunes(t *testing.T) {
	s := strings.Repeat("é", 10) // 2 bytes each
	got := truncateString(s, 5)
	if len(got) != 4 {
		t.Errorf("expected 4 bytes, got %d", len(got))
	}
}
