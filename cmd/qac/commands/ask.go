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
	"github.com/qacompanion/qac/summarize"
	"github.com/qacompanion/qac/sym"
)

// AskCmd represents the ask command
var AskCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: sym.Ask + " Ask a question answered from the knowledge base",
	Long: sym.Ask + ` Retrieval-augmented question answering.

The question is embedded, the closest chunks are retrieved, and the
configured AI provider answers from that context. Citations in the
answer ([1], [2]...) refer to the numbered sources printed below it.

Requires a summarization provider (anthropic.api_key or a local
OpenAI-compatible endpoint in the config) and a running embedding
endpoint.

Examples:
  qac ask "why does checkout retry twice?"
  qac ask "what fixed the login timeout?" --k 10
  qac ask "which tests cover the payment flow?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var (
	askK         int
	askThreshold float64
)

func init() {
	AskCmd.Flags().IntVar(&askK, "k", 0, "Number of context chunks (0 uses the configured default)")
	AskCmd.Flags().Float64Var(&askThreshold, "threshold", 0, "Minimum source similarity (0 uses the configured default)")
	AskCmd.Flags().Bool("json", false, "Output the answer as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return errors.NewInvalidInputError("question is empty")
	}

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

	opts := cliSearchOptions(cfg, askK, askThreshold)

	useJSON := display.ShouldOutputJSON(cmd)
	var spinner *pterm.SpinnerPrinter
	if !useJSON {
		spinner, _ = pterm.DefaultSpinner.Start("Retrieving context and asking the model...")
	}

	answer, err := summarizer.Ask(cmd.Context(), question, opts)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return errors.Wrap(err, "ask failed")
	}

	if useJSON {
		return display.OutputJSON(map[string]interface{}{
			"question": question,
			"answer":   answer.Text,
			"sources":  answer.Sources,
		})
	}

	fmt.Println(answer.Text)
	if len(answer.Sources) > 0 {
		fmt.Println()
		pterm.Info.Println("Sources:")
		for i, src := range answer.Sources {
			fmt.Printf("  [%d] %s %s (%s, %.2f)\n", i+1, src.Kind, src.Title, src.SourceID, src.Similarity)
		}
	}
	return nil
}
