package server

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/qacompanion/qac/config"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/search"
	"github.com/qacompanion/qac/version"
)

// MCPServer exposes the knowledge base to MCP clients over stdio: agents
// get the same search, ask, trace, and summarize operations the HTTP API
// serves, without running the full server.
type MCPServer struct {
	deps   *serverDependencies
	cfg    *config.Config
	server *mcpserver.MCPServer
	logger *zap.SugaredLogger
}

// NewMCPServer assembles the store and service graph and registers the
// qac tools.
func NewMCPServer(db *sql.DB, cfg *config.Config) (*MCPServer, error) {
	if db == nil {
		return nil, errors.New("database connection cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("configuration cannot be nil")
	}

	deps, err := createServerDependencies(db, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create MCP server dependencies")
	}

	s := &MCPServer{
		deps:   deps,
		cfg:    cfg,
		logger: logger.ComponentLogger("mcp"),
	}

	s.server = mcpserver.NewMCPServer(
		"qac",
		version.Get().Version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s, nil
}

// registerTools registers all MCP tools for knowledge base operations
func (s *MCPServer) registerTools() {
	searchTool := mcp.NewTool("qac_search",
		mcp.WithDescription("Semantic search across ingested engineering artifacts (code, docs, commits, bug reports, test results)"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search terms; kind:<kind> and repo:<repo> filter tokens are honored"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum results to return (default from config)"),
		),
	)
	s.server.AddTool(searchTool, s.handleSearchTool)

	askTool := mcp.NewTool("qac_ask",
		mcp.WithDescription("Ask a question against the knowledge base; the answer cites retrieved artifacts as [n]"),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Natural-language question"),
		),
		mcp.WithNumber("k",
			mcp.Description("How many chunks to retrieve as context (default from config)"),
		),
	)
	s.server.AddTool(askTool, s.handleAskTool)

	traceTool := mcp.NewTool("qac_trace",
		mcp.WithDescription("Traceability neighborhood of an artifact: which requirements, commits, tests, and bug reports link to it"),
		mcp.WithString("artifact_id",
			mcp.Required(),
			mcp.Description("Artifact ID to trace from"),
		),
		mcp.WithNumber("depth",
			mcp.Description("Link-following depth, 1-5 (default 1)"),
		),
	)
	s.server.AddTool(traceTool, s.handleTraceTool)

	summarizeTool := mcp.NewTool("qac_summarize",
		mcp.WithDescription("Summary of one artifact; generates and caches it when none is stored yet"),
		mcp.WithString("artifact_id",
			mcp.Required(),
			mcp.Description("Artifact ID to summarize"),
		),
		mcp.WithBoolean("refresh",
			mcp.Description("Regenerate even when a cached summary exists (default: false)"),
		),
	)
	s.server.AddTool(summarizeTool, s.handleSummarizeTool)
}

// searchOptions resolves result count and similarity threshold from config.
func (s *MCPServer) searchOptions(k int) search.Options {
	searchCfg := s.cfg.GetSearchConfig()
	opts := search.Options{
		K:         searchCfg.TopK,
		Threshold: searchCfg.SimilarityThreshold,
	}
	if k > 0 {
		opts.K = k
	}
	return opts
}

// handleSearchTool handles qac_search tool calls
func (s *MCPServer) handleSearchTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	k := request.GetInt("k", 0)

	text, parsed, err := search.ParseQuery(query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid query: %v", err)), nil
	}

	opts := s.searchOptions(k)
	opts.Kinds = parsed.Kinds
	opts.Repo = parsed.Repo

	vector, err := s.deps.embedder.Embed(ctx, text)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to embed query: %v", err)), nil
	}

	results, err := s.deps.index.Search(ctx, vector, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v", err)), nil
	}

	if len(results) == 0 {
		return mcp.NewToolResultText("No results found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d result(s):\n", len(results))
	for i, res := range results {
		fmt.Fprintf(&b, "%d. [%s] %s (id: %s, similarity: %.3f)\n", i+1, res.Kind, res.Title, res.ArtifactID, res.Similarity)
		if res.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", strings.ReplaceAll(res.Snippet, "\n", " "))
		}
	}

	return mcp.NewToolResultText(b.String()), nil
}

// handleAskTool handles qac_ask tool calls
func (s *MCPServer) handleAskTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	k := request.GetInt("k", 0)

	answer, err := s.deps.summarizer.Ask(ctx, question, s.searchOptions(k))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Ask failed: %v", err)), nil
	}

	var b strings.Builder
	b.WriteString(answer.Text)
	if len(answer.Sources) > 0 {
		b.WriteString("\n\nSources:\n")
		for i, src := range answer.Sources {
			fmt.Fprintf(&b, "[%d] %s (%s, id: %s)\n", i+1, src.Title, src.Kind, src.ArtifactID)
		}
	}

	return mcp.NewToolResultText(b.String()), nil
}

// handleTraceTool handles qac_trace tool calls
func (s *MCPServer) handleTraceTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	artifactID, err := request.RequireString("artifact_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	depth := request.GetInt("depth", 1)

	graph, err := s.deps.links.Neighborhood(artifactID, depth)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Trace failed: %v", err)), nil
	}

	titles := make(map[string]string, len(graph.Nodes))
	var b strings.Builder
	fmt.Fprintf(&b, "Neighborhood of %s (depth %d): %d artifact(s), %d link(s)\n\nArtifacts:\n", artifactID, depth, len(graph.Nodes), len(graph.Links))
	for _, node := range graph.Nodes {
		titles[node.ID] = node.Title
		fmt.Fprintf(&b, "- [%s] %s (id: %s)\n", node.Kind, node.Title, node.ID)
	}

	if len(graph.Links) > 0 {
		b.WriteString("\nLinks:\n")
		for _, link := range graph.Links {
			fmt.Fprintf(&b, "- %s --%s--> %s (confidence %.2f, %s)\n",
				titles[link.FromID], link.Kind, titles[link.ToID], link.Confidence, link.Origin)
		}
	}

	return mcp.NewToolResultText(b.String()), nil
}

// handleSummarizeTool handles qac_summarize tool calls
func (s *MCPServer) handleSummarizeTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	artifactID, err := request.RequireString("artifact_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	refresh := request.GetBool("refresh", false)

	if !refresh {
		if summary, err := s.deps.summarizer.GetSummary(artifactID); err == nil {
			return mcp.NewToolResultText(summary.Text), nil
		} else if !errors.IsNotFound(err) {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to load summary: %v", err)), nil
		}
	}

	summary, err := s.deps.summarizer.Summarize(ctx, artifactID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Summarization failed: %v", err)), nil
	}

	return mcp.NewToolResultText(summary.Text), nil
}

// Serve starts the MCP server using stdio transport
func (s *MCPServer) Serve() error {
	s.logger.Infow("Serving MCP over stdio", "version", version.Get().Version)
	return mcpserver.ServeStdio(s.server)
}
