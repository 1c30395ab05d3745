package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qacompanion/qac/cmd/qac/commands"
	"github.com/qacompanion/qac/logger"
)

var rootCmd = &cobra.Command{
	Use:   "qac",
	Short: "qac - QA companion for software engineering artifacts",
	Long: `qac - retrieval-augmented QA companion for software engineering artifacts.

qac ingests source code, commit history, design docs, bug reports, test
results, and RCA records into a local SQLite knowledge base. Artifacts are
chunked, embedded, and indexed for semantic search; traceability links
connect them across kinds; an LLM layer answers questions grounded in what
the knowledge base has read.

Available commands:
  ingest    - Ingest files, git history, or GitHub issues/PRs
  list      - List ingested artifacts
  query     - Semantic search over the knowledge base
  ask       - Ask a question answered from retrieved context
  summarize - Summarize artifacts with the configured AI provider
  trace     - Inspect and edit traceability links between artifacts
  jobs      - Inspect the async job queue and AI spend
  watch     - Manage filesystem watchers that re-ingest changes
  serve     - Start the HTTP/WebSocket server
  mcp       - Serve qac tools over the Model Context Protocol (stdio)

Examples:
  qac ingest ./docs --kind design_doc     # Ingest a directory of design docs
  qac ingest git .                        # Ingest git commit history
  qac query "login timeout kind:bug_report"
  qac ask "why does checkout retry twice?"
  qac trace list <artifact-id>            # Show links touching an artifact
  qac serve                               # Start the server`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The MCP server speaks JSON-RPC over stdout; the logger stays
		// nop there so protocol frames are never interleaved with logs.
		if cmd.Name() == "mcp" {
			return nil
		}

		verbosity, _ := cmd.Flags().GetCount("verbosity")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbosity", "v", "Increase log verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs instead of console output")

	rootCmd.AddCommand(commands.VersionCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.IngestCmd)
	rootCmd.AddCommand(commands.ListCmd)
	rootCmd.AddCommand(commands.QueryCmd)
	rootCmd.AddCommand(commands.AskCmd)
	rootCmd.AddCommand(commands.SummarizeCmd)
	rootCmd.AddCommand(commands.TraceCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.WatchCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.McpCmd)
}

func main() {
	err := rootCmd.Execute()
	logger.Cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
