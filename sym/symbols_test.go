package sym

import (
	"testing"
	"unicode/utf8"
)

func TestCommandAndFromCommandAreBidirectional(t *testing.T) {
	for glyph, cmd := range glyphToCommand {
		got, ok := commandToGlyph[cmd]
		if !ok {
			t.Errorf("glyphToCommand has %q → %q, but commandToGlyph has no entry for %q", glyph, cmd, cmd)
			continue
		}
		if got != glyph {
			t.Errorf("bidirectional mismatch: glyphToCommand[%q] = %q, but commandToGlyph[%q] = %q", glyph, cmd, cmd, got)
		}
	}

	for cmd, glyph := range commandToGlyph {
		got, ok := glyphToCommand[glyph]
		if !ok {
			t.Errorf("commandToGlyph has %q → %q, but glyphToCommand has no entry for %q", cmd, glyph, glyph)
			continue
		}
		if got != cmd {
			t.Errorf("bidirectional mismatch: commandToGlyph[%q] = %q, but glyphToCommand[%q] = %q", cmd, glyph, glyph, got)
		}
	}
}

func TestMapsHaveSameSize(t *testing.T) {
	if len(glyphToCommand) != len(commandToGlyph) {
		t.Errorf("map size mismatch: glyphToCommand has %d entries, commandToGlyph has %d",
			len(glyphToCommand), len(commandToGlyph))
	}
}

func TestCommandDescriptionsCoversAllCommands(t *testing.T) {
	for cmd := range commandToGlyph {
		if _, ok := CommandDescriptions[cmd]; !ok {
			t.Errorf("CommandDescriptions missing entry for command %q", cmd)
		}
	}
}

func TestCommandDescriptionsHasNoExtraEntries(t *testing.T) {
	for cmd := range CommandDescriptions {
		if _, ok := commandToGlyph[cmd]; !ok {
			t.Errorf("CommandDescriptions has entry for %q which has no symbol", cmd)
		}
	}
}

func TestPaletteOrderContainsValidSymbols(t *testing.T) {
	for i, glyph := range PaletteOrder {
		if Command(glyph) == "" {
			t.Errorf("PaletteOrder[%d] = %q has no command", i, glyph)
		}
	}
}

func TestPaletteOrderHasNoDuplicates(t *testing.T) {
	seen := make(map[string]int, len(PaletteOrder))
	for i, glyph := range PaletteOrder {
		if prev, ok := seen[glyph]; ok {
			t.Errorf("PaletteOrder has duplicate %q at indices %d and %d", glyph, prev, i)
		}
		seen[glyph] = i
	}
}

func TestSymbolsAreValidUnicode(t *testing.T) {
	for _, e := range registry {
		if !utf8.ValidString(e.glyph) {
			t.Errorf("symbol %q is not valid UTF-8", e.glyph)
		}
		if utf8.RuneCountInString(e.glyph) == 0 {
			t.Errorf("symbol for %q is empty", e.label)
		}
	}
}

func TestNoDuplicateGlyphs(t *testing.T) {
	seen := make(map[string]string, len(registry))
	for _, e := range registry {
		if prev, ok := seen[e.glyph]; ok {
			t.Errorf("duplicate glyph %q: used by both %q and %q", e.glyph, prev, e.description)
		}
		seen[e.glyph] = e.description
	}
}

func TestFromCommandUnknownReturnsEmpty(t *testing.T) {
	if got := FromCommand("definitely-not-a-command"); got != "" {
		t.Errorf("FromCommand for unknown command = %q, want empty string", got)
	}
}
