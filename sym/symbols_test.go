package sym

import (
	"testing"
	"unicode/utf8"
)

func TestRegistryCoversAllGlyphConstants(t *testing.T) {
	consts := []string{Pulse, PulseOpen, PulseClose, Dream, WS, Store, Mode, Render}
	for _, glyph := range consts {
		if Label(glyph) == "" {
			t.Errorf("registry missing entry for glyph %q", glyph)
		}
		if Describe(glyph) == "" {
			t.Errorf("registry missing description for glyph %q", glyph)
		}
	}
	if len(registry) != len(consts) {
		t.Errorf("registry has %d entries, expected %d", len(registry), len(consts))
	}
}

func TestGlyphsAreUnique(t *testing.T) {
	seen := make(map[string]string)
	for _, e := range registry {
		if prev, dup := seen[e.glyph]; dup {
			t.Errorf("glyph %q used by both %q and %q", e.glyph, prev, e.label)
		}
		seen[e.glyph] = e.label
	}
}

func TestGlyphsAreSingleRunes(t *testing.T) {
	for _, e := range registry {
		if utf8.RuneCountInString(e.glyph) != 1 {
			t.Errorf("glyph for %q is %d runes, want 1", e.label, utf8.RuneCountInString(e.glyph))
		}
	}
}

func TestUnknownGlyphLookups(t *testing.T) {
	if Label("x") != "" {
		t.Errorf("Label for unknown glyph should be empty, got %q", Label("x"))
	}
	if Describe("x") != "" {
		t.Errorf("Describe for unknown glyph should be empty, got %q", Describe("x"))
	}
}
