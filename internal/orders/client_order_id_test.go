package orders

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateFormat(t *testing.T) {
	g := NewGenerator(time.UTC)

	id, err := g.Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	parts := strings.Split(id, "-")
	if len(parts) != 4 {
		t.Fatalf("expected 4 segments, got %d in %q", len(parts), id)
	}
	if parts[0] != EnginePrefix {
		t.Errorf("expected prefix %q, got %q", EnginePrefix, parts[0])
	}
	if parts[2] != "00001" {
		t.Errorf("expected first sequence 00001, got %q", parts[2])
	}
	if len(parts[3]) != 8 {
		t.Errorf("expected 8 char suffix, got %q", parts[3])
	}
	if len(id) > MaxClientOrderIDLength {
		t.Errorf("ID too long: %d chars", len(id))
	}
}

func TestGenerateSequenceIncrements(t *testing.T) {
	g := NewGenerator(time.UTC)

	first, _ := g.Generate()
	second, _ := g.Generate()

	p1, err := Parse(first)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", first, err)
	}
	p2, err := Parse(second)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", second, err)
	}
	if p2.Sequence != p1.Sequence+1 {
		t.Errorf("expected sequence %d, got %d", p1.Sequence+1, p2.Sequence)
	}
}

func TestParseRoundTrip(t *testing.T) {
	g := NewGenerator(time.UTC)
	id, _ := g.Generate()

	parsed, err := Parse(id)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", id, err)
	}
	if parsed.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", parsed.Sequence)
	}
	if !IsEngineOrder(id) {
		t.Errorf("IsEngineOrder(%q) = false, want true", id)
	}
}

func TestParseRejectsForeignIDs(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"wrong prefix", "XXX-02SEP-00001-a3f7c2e9"},
		{"too few segments", "ENG-02SEP-00001"},
		{"bad sequence", "ENG-02SEP-abcde-a3f7c2e9"},
		{"zero sequence", "ENG-02SEP-00000-a3f7c2e9"},
		{"short suffix", "ENG-02SEP-00001-a3f7"},
		{"broker generated", "b6d7a4f2-9c1e-4f3a-8e2b-1d5c6a7b8e9f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.id); err == nil {
				t.Errorf("Parse(%q) expected error, got nil", tt.id)
			}
			if IsEngineOrder(tt.id) {
				t.Errorf("IsEngineOrder(%q) = true, want false", tt.id)
			}
		})
	}
}
