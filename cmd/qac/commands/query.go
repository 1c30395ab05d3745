package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/qacompanion/qac/config"
	"github.com/qacompanion/qac/display"
	"github.com/qacompanion/qac/embed"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/search"
	"github.com/qacompanion/qac/sym"
)

// QueryCmd represents the query command
var QueryCmd = &cobra.Command{
	Use:   "query <terms...>",
	Short: sym.Query + " Semantic search over the knowledge base",
	Long: sym.Query + ` Semantic search over ingested artifacts.

The query is embedded and matched against indexed chunks by vector
similarity. kind:<kind> and repo:<name> tokens filter without counting
as search terms. Requires a running embedding endpoint (see the
embeddings section of the config).

Examples:
  qac query "login timeout"
  qac query "retry logic kind:source_code"
  qac query "flaky checkout test" --k 10
  qac query "payment errors repo:acme/payments" --threshold 0.5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

var (
	queryK         int
	queryThreshold float64
)

func init() {
	QueryCmd.Flags().IntVar(&queryK, "k", 0, "Number of results (0 uses the configured default)")
	QueryCmd.Flags().Float64Var(&queryThreshold, "threshold", 0, "Minimum similarity (0 uses the configured default)")
	QueryCmd.Flags().Bool("json", false, "Output results as JSON")
}

func runQuery(cmd *cobra.Command, args []string) error {
	raw := strings.Join(args, " ")

	text, parsed, err := search.ParseQuery(raw)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	opts := cliSearchOptions(cfg, queryK, queryThreshold)
	opts.Kinds = parsed.Kinds
	opts.Repo = parsed.Repo

	ctx := cmd.Context()
	embedder := embed.NewManaged(embed.NewOllamaService(&cfg.Embeddings))
	defer embedder.Close()

	vector, err := embedder.Embed(ctx, text)
	if err != nil {
		return errors.Wrap(err, "failed to embed query (is the embedding endpoint running?)")
	}

	model, dim := embedder.ModelInfo()
	index := search.NewStore(database, model, dim)

	results, err := index.Search(ctx, vector, opts)
	if err != nil {
		return errors.Wrap(err, "search failed")
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(map[string]interface{}{
			"query":   raw,
			"results": results,
			"count":   len(results),
		})
	}

	if len(results) == 0 {
		pterm.Info.Println("No matches above the similarity threshold")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%d. [%.2f] %s %s\n", i+1, r.Similarity, r.Kind, r.Title)
		fmt.Printf("   %s  (%s)\n", r.SourceID, truncate(r.ArtifactID, 12))
		fmt.Printf("   %s\n", r.Snippet)
		if i < len(results)-1 {
			fmt.Println()
		}
	}
	return nil
}

// cliSearchOptions layers flag overrides on the configured retrieval
// defaults. Zero flag values keep the defaults.
func cliSearchOptions(cfg *config.Config, k int, threshold float64) search.Options {
	searchCfg := cfg.GetSearchConfig()
	opts := search.Options{
		K:         searchCfg.TopK,
		Threshold: searchCfg.SimilarityThreshold,
	}
	if k > 0 {
		opts.K = k
	}
	if threshold > 0 {
		opts.Threshold = threshold
	}
	return opts
}
