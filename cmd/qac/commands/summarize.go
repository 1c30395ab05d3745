package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/config"
	"github.com/qacompanion/qac/display"
	"github.com/qacompanion/qac/embed"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/search"
	"github.com/qacompanion/qac/summarize"
	"github.com/qacompanion/qac/sym"
)

// summarizePendingCostEstimate is the per-job spend estimate attached to
// backlog summarization jobs so the budget gate can reason about them
// before the first model call reports actual cost.
const summarizePendingCostEstimate = 0.02

// SummarizeCmd represents the summarize command
var SummarizeCmd = &cobra.Command{
	Use:   "summarize <artifact-id>",
	Short: sym.Prose + " Summarize artifacts with the configured AI provider",
	Long: sym.Prose + ` Generate (or fetch) an artifact summary.

Summaries are cached by content hash: re-running on an unchanged
artifact returns the stored summary without a model call.

With --pending, one async summarization job is enqueued per artifact
whose summary is missing or stale, up to --limit. Jobs run while
'qac serve' or 'qac watch run' is active, subject to the rate and
budget gates.

Examples:
  qac summarize 9b2f1c0e-...            # Summarize one artifact
  qac summarize --pending               # Queue the summary backlog
  qac summarize --pending --limit 50`,
	RunE: runSummarize,
}

var (
	summarizePending bool
	summarizeLimit   int
)

func init() {
	SummarizeCmd.Flags().BoolVar(&summarizePending, "pending", false, "Enqueue jobs for artifacts without a current summary")
	SummarizeCmd.Flags().IntVar(&summarizeLimit, "limit", 20, "Maximum artifacts to queue with --pending")
	SummarizeCmd.Flags().Bool("json", false, "Output the summary as JSON")
}

func runSummarize(cmd *cobra.Command, args []string) error {
	if summarizePending {
		if len(args) > 0 {
			return errors.NewInvalidInputError("--pending does not take an artifact id")
		}
		return runSummarizePending(cmd)
	}

	if len(args) != 1 {
		return errors.NewInvalidInputError("expected exactly one artifact id (or --pending)")
	}
	return runSummarizeOne(cmd, args[0])
}

func runSummarizeOne(cmd *cobra.Command, artifactID string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	provider, err := summarize.NewProvider(cfg)
	if err != nil {
		return errors.Wrap(err, "no summarization provider configured")
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
	summarizer := summarize.NewSummarizer(database, artifact.NewStore(database), index, embedder, provider)

	useJSON := display.ShouldOutputJSON(cmd)
	var spinner *pterm.SpinnerPrinter
	if !useJSON {
		spinner, _ = pterm.DefaultSpinner.Start("Summarizing...")
	}

	summary, err := summarizer.Summarize(cmd.Context(), artifactID)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return errors.Wrapf(err, "failed to summarize %s", artifactID)
	}

	if useJSON {
		return display.OutputJSON(summary)
	}

	fmt.Println(summary.Text)
	fmt.Println()
	pterm.Info.Printf("Model: %s (%s), generated %s\n",
		summary.Model, summary.Provider, summary.UpdatedAt.Format("2006-01-02 15:04"))
	return nil
}

func runSummarizePending(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	// The sweep only reads artifact/summary rows; provider and embedder
	// are exercised later by the workers that execute the jobs.
	embedder := embed.NewManaged(embed.NewOllamaService(&cfg.Embeddings))
	defer embedder.Close()
	model, dim := embedder.ModelInfo()
	index := search.NewStore(database, model, dim)
	provider, err := summarize.NewProvider(cfg)
	if err != nil {
		provider = nil
	}
	summarizer := summarize.NewSummarizer(database, artifact.NewStore(database), index, embedder, provider)

	queue := jobs.NewQueue(database)
	queued, err := summarize.EnqueuePending(summarizer, queue, summarizeLimit, summarizePendingCostEstimate)
	if err != nil {
		return errors.Wrap(err, "failed to enqueue pending summaries")
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(queued)
	}

	if len(queued) == 0 {
		pterm.Info.Println("Nothing to summarize: every artifact has a current summary")
		return nil
	}

	pterm.Success.Printf("Queued %d summarization job(s)\n", len(queued))
	pterm.Printf("  Estimated spend: $%.2f\n", float64(len(queued))*summarizePendingCostEstimate)
	pterm.Printf("  Jobs run while 'qac serve' or 'qac watch run' is active\n")
	return nil
}
