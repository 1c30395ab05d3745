package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qacompanion/qac/config"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/server"
)

// McpCmd exposes the knowledge base as MCP tools over stdio
var McpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio for AI assistant integration",
	Long: `Expose the knowledge base to MCP clients (editors, AI assistants)
over stdio. Registered tools:

  qac_search     - Semantic search across ingested artifacts
  qac_ask        - Retrieval-augmented question answering
  qac_trace      - Traceability neighborhood for an artifact
  qac_summarize  - Summarize an artifact

stdout carries the JSON-RPC stream, so logs are suppressed for this
command. Point your MCP client at 'qac mcp' as a stdio server.`,
	RunE: runMcp,
}

func runMcp(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	srv, err := server.NewMCPServer(database, cfg)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	return srv.Serve()
}
