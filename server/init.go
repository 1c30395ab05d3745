package server

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/chunk"
	"github.com/qacompanion/qac/config"
	"github.com/qacompanion/qac/embed"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/ingest"
	"github.com/qacompanion/qac/ingest/git"
	"github.com/qacompanion/qac/ingest/github"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/search"
	"github.com/qacompanion/qac/summarize"
	"github.com/qacompanion/qac/trace"
	"github.com/qacompanion/qac/watch"
)

// serverDependencies holds the stores and services assembled for Server
type serverDependencies struct {
	artifacts  *artifact.Store
	index      *search.Store
	embedder   *embed.Managed
	summarizer *summarize.Summarizer
	usage      *summarize.UsageTracker
	links      *trace.Store
	linker     *trace.Linker
	registry   *jobs.Registry
}

// NewServer assembles the qac server: stores, the embedding service,
// the summarization provider, the job worker pool, and (when enabled)
// the filesystem watch engine.
func NewServer(db *sql.DB, dbPath string, cfg *config.Config) (*Server, error) {
	if db == nil {
		return nil, errors.New("database connection cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("configuration cannot be nil")
	}

	serverLogger := logger.ComponentLogger("server")

	// Create cancellation context for lifecycle management
	ctx, cancel := context.WithCancel(context.Background())

	deps, err := createServerDependencies(db, cfg)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to create server dependencies")
	}

	// Worker pool shares the server context so Stop() drains both
	poolCfg := jobs.DefaultWorkerPoolConfig()
	if cfg.Jobs.Workers > 0 {
		poolCfg.Workers = cfg.Jobs.Workers
	}
	budget := jobs.NewBudgetTracker(db, jobs.BudgetLimits{
		DailyUSD:   cfg.Jobs.DailyBudgetUSD,
		WeeklyUSD:  cfg.Jobs.WeeklyBudgetUSD,
		MonthlyUSD: cfg.Jobs.MonthlyBudgetUSD,
	})
	rate := jobs.NewRateLimiter(cfg.Jobs.MaxRequestsPerMinute)
	pool := jobs.NewWorkerPool(ctx, db, poolCfg, deps.registry, budget, rate)

	server := &Server{
		db:         db,
		dbPath:     dbPath,
		cfg:        cfg,
		artifacts:  deps.artifacts,
		index:      deps.index,
		embedder:   deps.embedder,
		summarizer: deps.summarizer,
		usage:      deps.usage,
		links:      deps.links,
		linker:     deps.linker,
		pool:       pool,
		watchers:   watch.NewStore(db),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		mux:        http.NewServeMux(),
		ctx:        ctx,
		cancel:     cancel,
		logger:     serverLogger,
	}
	server.state.Store(int32(ServerStateRunning))

	// Watch engine is opt-in: it shares the pool's queue so watcher
	// fires dedupe against manually enqueued ingests.
	if cfg.Watch.Enabled {
		server.watcher = watch.NewEngine(db, pool.GetQueue(), cfg.GetWatchConfig())
	}

	server.setupRoutes()

	return server, nil
}

// createServerDependencies wires the store and service graph shared by
// HTTP handlers, WebSocket clients, and job handlers.
func createServerDependencies(db *sql.DB, cfg *config.Config) (*serverDependencies, error) {
	artifacts := artifact.NewStore(db)
	runs := ingest.NewRunStore(db)
	links := trace.NewStore(db)
	usage := summarize.NewUsageTracker(db)

	ingestCfg := cfg.GetIngestConfig()
	splitter := chunk.NewSplitter(ingestCfg.ChunkSize, ingestCfg.ChunkOverlap)

	embedder := embed.NewManaged(embed.NewOllamaService(&cfg.Embeddings))
	model, dim := embedder.ModelInfo()
	index := search.NewStore(db, model, dim)

	linker := trace.NewLinker(artifacts, links, index, embedder)

	// A missing provider is not fatal: search, browse, trace, and ingest
	// all work without one. Ask and summarize return 503 until a
	// provider is configured.
	provider, err := summarize.NewProvider(cfg)
	if err != nil {
		logger.Warnw("No summarization provider, ask and summarize disabled", "error", err)
		provider = nil
	}
	summarizer := summarize.NewSummarizer(db, artifacts, index, embedder, provider)

	// Job handler registry: every async operation the server can enqueue
	queue := jobs.NewQueue(db)
	pipeline := ingest.NewPipeline(artifacts, runs, splitter, queue)
	gitIngester := git.NewIngester(artifacts, runs, splitter, queue, linker)
	ghClient := github.NewClient(cfg.GitHub.Token)
	ghIngester := github.NewIngester(ghClient, artifacts, runs, splitter, queue)

	registry := jobs.NewRegistry()
	registry.Register(ingest.NewFSHandler(pipeline, queue, ingestCfg))
	registry.Register(git.NewHandler(gitIngester, queue))
	registry.Register(github.NewHandler(ghIngester, queue))
	registry.Register(embed.NewBacklogHandler(artifacts, embedder, index, queue, cfg.Embeddings.BatchSize))
	registry.Register(summarize.NewHandler(summarizer))
	registry.Register(trace.NewScanHandler(artifacts, linker, queue))

	return &serverDependencies{
		artifacts:  artifacts,
		index:      index,
		embedder:   embedder,
		summarizer: summarizer,
		usage:      usage,
		links:      links,
		linker:     linker,
		registry:   registry,
	}, nil
}
