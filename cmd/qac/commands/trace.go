package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/config"
	"github.com/qacompanion/qac/display"
	"github.com/qacompanion/qac/embed"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/search"
	"github.com/qacompanion/qac/sym"
	"github.com/qacompanion/qac/trace"
)

// TraceCmd represents the trace command
var TraceCmd = &cobra.Command{
	Use:   "trace",
	Short: sym.Trace + " Traceability links between artifacts",
	Long: sym.Trace + ` Inspect and edit traceability links.

Links are directed edges between artifacts: a commit fixes a bug
report, a test result tests source code, an RCA references a commit.
Most links come from ingest-time heuristics; 'trace add' records
manual ones and 'trace suggest' proposes semantic neighbors.

Link kinds: references, fixes, tests, derived_from, duplicates.

Examples:
  qac trace list <artifact-id>             # Links touching an artifact
  qac trace list <artifact-id> --depth 2   # BFS neighborhood subgraph
  qac trace add <from-id> <to-id> fixes
  qac trace suggest <artifact-id> --apply`,
}

var traceListCmd = &cobra.Command{
	Use:   "list <artifact-id>",
	Short: "List links touching an artifact",
	Long: `List the links pointing out of and into an artifact.

With --depth above zero the BFS neighborhood is printed instead:
every artifact reachable within that many hops plus the links
connecting them.`,
	Args: cobra.ExactArgs(1),
	RunE: runTraceList,
}

var traceAddCmd = &cobra.Command{
	Use:   "add <from-id> <to-id> <kind>",
	Short: "Record a manual link between two artifacts",
	Long: `Record a directed link between two artifacts.

Re-adding an existing (from, to, kind) link keeps the higher
confidence. Both artifacts must exist.

Example:
  qac trace add 9b2f1c0e-... 4a17d2b8-... fixes --confidence 0.9`,
	Args: cobra.ExactArgs(3),
	RunE: runTraceAdd,
}

var traceSuggestCmd = &cobra.Command{
	Use:   "suggest <artifact-id>",
	Short: "Suggest semantically similar artifacts as link candidates",
	Long: `Use the vector index to find artifacts semantically close to the
given one. Candidates are printed as 'references' links with
similarity as confidence; --apply persists them.

Requires a running embedding endpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: runTraceSuggest,
}

var (
	traceDepth      int
	traceConfidence float64
	traceSuggestK   int
	traceApply      bool
)

func init() {
	traceListCmd.Flags().IntVar(&traceDepth, "depth", 0, "Print the BFS neighborhood to this depth instead of direct links")
	traceListCmd.Flags().Bool("json", false, "Output links as JSON")

	traceAddCmd.Flags().Float64Var(&traceConfidence, "confidence", 1.0, "Link confidence in (0, 1]")

	traceSuggestCmd.Flags().IntVar(&traceSuggestK, "k", 5, "Number of candidates")
	traceSuggestCmd.Flags().BoolVar(&traceApply, "apply", false, "Persist the suggested links")
	traceSuggestCmd.Flags().Bool("json", false, "Output suggestions as JSON")

	TraceCmd.AddCommand(traceListCmd)
	TraceCmd.AddCommand(traceAddCmd)
	TraceCmd.AddCommand(traceSuggestCmd)
}

func runTraceList(cmd *cobra.Command, args []string) error {
	artifactID := args[0]

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	links := trace.NewStore(database)

	if traceDepth > 0 {
		graph, err := links.Neighborhood(artifactID, traceDepth)
		if err != nil {
			return errors.Wrapf(err, "failed to build neighborhood of %s", artifactID)
		}

		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(graph)
		}

		fmt.Printf("%s Neighborhood of %s (depth %d)\n\n", sym.Trace, truncate(artifactID, 12), traceDepth)
		for _, node := range graph.Nodes {
			fmt.Printf("  %s  %-12s %s\n", truncate(node.ID, 12), node.Kind, node.Title)
		}
		fmt.Println()
		for _, link := range graph.Links {
			fmt.Printf("  %s %s %s  [%s %.2f %s]\n",
				truncate(link.FromID, 12), sym.Trace, truncate(link.ToID, 12),
				link.Kind, link.Confidence, link.Origin)
		}
		fmt.Printf("\n%d node(s), %d link(s)\n", len(graph.Nodes), len(graph.Links))
		return nil
	}

	outgoing, err := links.ListFrom(artifactID)
	if err != nil {
		return errors.Wrapf(err, "failed to list links from %s", artifactID)
	}
	incoming, err := links.ListTo(artifactID)
	if err != nil {
		return errors.Wrapf(err, "failed to list links to %s", artifactID)
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(map[string]interface{}{
			"artifact_id": artifactID,
			"outgoing":    outgoing,
			"incoming":    incoming,
		})
	}

	if len(outgoing) == 0 && len(incoming) == 0 {
		pterm.Info.Println("No links touch this artifact")
		return nil
	}

	if len(outgoing) > 0 {
		fmt.Println("Outgoing:")
		for _, link := range outgoing {
			fmt.Printf("  %s %s  [%s %.2f %s]\n",
				sym.Trace, truncate(link.ToID, 12), link.Kind, link.Confidence, link.Origin)
		}
	}
	if len(incoming) > 0 {
		if len(outgoing) > 0 {
			fmt.Println()
		}
		fmt.Println("Incoming:")
		for _, link := range incoming {
			fmt.Printf("  %s %s  [%s %.2f %s]\n",
				truncate(link.FromID, 12), sym.Trace, link.Kind, link.Confidence, link.Origin)
		}
	}
	return nil
}

func runTraceAdd(cmd *cobra.Command, args []string) error {
	fromID, toID := args[0], args[1]
	kind := trace.LinkKind(args[2])

	if !trace.ValidLinkKind(kind) {
		kinds := make([]string, len(trace.LinkKinds))
		for i, k := range trace.LinkKinds {
			kinds[i] = string(k)
		}
		return errors.NewInvalidInputError("unknown link kind %q (valid: %s)",
			args[2], strings.Join(kinds, ", "))
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	// Both endpoints must exist before the edge does
	artifacts := artifact.NewStore(database)
	if _, err := artifacts.Get(fromID); err != nil {
		return errors.Wrapf(err, "from artifact %s", fromID)
	}
	if _, err := artifacts.Get(toID); err != nil {
		return errors.Wrapf(err, "to artifact %s", toID)
	}

	link := &trace.Link{
		FromID:     fromID,
		ToID:       toID,
		Kind:       kind,
		Confidence: traceConfidence,
		Origin:     trace.OriginManual,
	}
	if err := trace.NewStore(database).Add(link); err != nil {
		return errors.Wrap(err, "failed to add link")
	}

	pterm.Success.Printf("Linked %s %s %s [%s %.2f]\n",
		truncate(fromID, 12), sym.Trace, truncate(toID, 12), kind, traceConfidence)
	return nil
}

func runTraceSuggest(cmd *cobra.Command, args []string) error {
	artifactID := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	embedder := embed.NewManaged(embed.NewOllamaService(&cfg.Embeddings))
	defer embedder.Close()
	model, dim := embedder.ModelInfo()
	index := search.NewStore(database, model, dim)

	artifacts := artifact.NewStore(database)
	links := trace.NewStore(database)
	linker := trace.NewLinker(artifacts, links, index, embedder)

	suggestions, err := linker.Suggest(cmd.Context(), artifactID, traceSuggestK)
	if err != nil {
		return errors.Wrapf(err, "failed to suggest links for %s", artifactID)
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(suggestions)
	}

	if len(suggestions) == 0 {
		pterm.Info.Println("No semantic neighbors found")
		return nil
	}

	for _, link := range suggestions {
		target, err := artifacts.Get(link.ToID)
		title := link.ToID
		if err == nil {
			title = fmt.Sprintf("%s %s (%s)", target.Kind, target.Title, truncate(target.ID, 12))
		}
		fmt.Printf("  %s %s  [%.2f]\n", sym.Trace, title, link.Confidence)
	}

	if !traceApply {
		fmt.Println()
		pterm.Info.Println("Re-run with --apply to persist these links")
		return nil
	}

	added := 0
	for i := range suggestions {
		if err := links.Add(&suggestions[i]); err != nil {
			return errors.Wrap(err, "failed to persist suggestion")
		}
		added++
	}
	pterm.Success.Printf("Persisted %d link(s)\n", added)
	return nil
}
