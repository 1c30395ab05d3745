// Package sym defines canonical symbols for qac operations and system markers.
// These symbols are stable across CLI output, logs, and documentation.
package sym

// Glyph string constants — the visual expression of each operation.
//
// Primary operators — have CLI commands and progress output.
const (
	IX    = "⨳" // ix — ingest external artifacts
	Query = "⊨" // query — semantic search over the knowledge base
	Ask   = "⋈" // ask — retrieval-augmented question answering
	Trace = "⟶" // trace — links between artifacts
	Watch = "✦" // watch — filesystem observation
)

// System infrastructure symbols.
const (
	Pulse      = "꩜" // async jobs, rate limiting, budget management
	PulseOpen  = "✿" // graceful startup with orphaned job recovery
	PulseClose = "❀" // graceful shutdown with checkpoint preservation
	DB         = "⊔" // database/storage layer
	Embed      = "≋" // embedding service and vector index
	Prose      = "▣" // summaries and generated prose
	Doc        = "▤" // document/file content (PDF, etc.)
)

// entry binds a glyph to its command, label, and description.
type entry struct {
	glyph       string
	command     string
	label       string
	description string
}

// registry is the canonical mapping between glyphs and symbol metadata.
var registry = []entry{
	{IX, "ingest", "Ingest", "Import external engineering artifacts"},
	{Query, "query", "Search", "Semantic search over indexed artifacts"},
	{Ask, "ask", "Ask", "Retrieval-augmented question answering"},
	{Trace, "trace", "Trace", "Links between artifacts"},
	{Watch, "watch", "Watch", "Filesystem observation and re-ingestion"},
	{Pulse, "jobs", "Jobs", "Async jobs, rate limiting, budget management"},
	{PulseOpen, "", "", "Graceful startup with orphaned job recovery"},
	{PulseClose, "", "", "Graceful shutdown with checkpoint preservation"},
	{DB, "db", "Database", "Database/storage layer"},
	{Embed, "", "", "Embedding service and vector index"},
	{Prose, "summarize", "Summarize", "Summaries and generated prose"},
	{Doc, "", "", "Document/file content (PDF, etc.)"},
}

// Lookup tables built from the registry at init time.
var (
	glyphToCommand map[string]string
	commandToGlyph map[string]string
)

func init() {
	glyphToCommand = make(map[string]string, len(registry))
	commandToGlyph = make(map[string]string, len(registry))
	for _, e := range registry {
		if e.command == "" {
			continue
		}
		glyphToCommand[e.glyph] = e.command
		commandToGlyph[e.command] = e.glyph
	}
}

// Command returns the CLI command name for a glyph, or "" for
// system-only symbols.
func Command(glyph string) string {
	return glyphToCommand[glyph]
}

// FromCommand returns the canonical glyph for a CLI command name,
// or "" when the command has no symbol.
func FromCommand(command string) string {
	return commandToGlyph[command]
}

// PaletteOrder defines the canonical ordering for status displays and help output.
// Only includes primary operators (not system infrastructure markers).
var PaletteOrder = []string{IX, Query, Ask, Prose, Trace, Pulse, Watch}

// CommandDescriptions provides human-readable explanations for help output.
var CommandDescriptions = map[string]string{
	"ingest":    "Ingest — Import external engineering artifacts",
	"query":     "Search — Semantic search over indexed artifacts",
	"ask":       "Ask — Retrieval-augmented question answering",
	"summarize": "Summarize — Summaries and generated prose",
	"trace":     "Trace — Links between artifacts",
	"jobs":      "Jobs — Async jobs, rate limiting, budget management",
	"watch":     "Watch — Filesystem observation and re-ingestion",
	"db":        "Database — Database/storage layer",
}
