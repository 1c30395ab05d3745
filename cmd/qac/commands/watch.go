package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/chunk"
	"github.com/qacompanion/qac/config"
	"github.com/qacompanion/qac/display"
	"github.com/qacompanion/qac/embed"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/ingest"
	"github.com/qacompanion/qac/ingest/git"
	"github.com/qacompanion/qac/ingest/github"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/search"
	"github.com/qacompanion/qac/summarize"
	"github.com/qacompanion/qac/sym"
	"github.com/qacompanion/qac/trace"
	"github.com/qacompanion/qac/watch"
)

var (
	watchKinds     []string
	watchRecursive bool
)

// WatchCmd represents the watch command - filesystem watcher registrations
var WatchCmd = &cobra.Command{
	Use:   "watch",
	Short: sym.Watch + " Watch directories and re-ingest on change",
	Long: sym.Watch + ` Filesystem watchers.

Registered watchers re-ingest their path when files change, with
debouncing so editor save storms produce one run. Watchers fire while
'qac serve' or 'qac watch run' is active.

Watcher commands:
  qac watch add <path>        # Register a watcher
  qac watch list              # List registered watchers
  qac watch rm <id>           # Remove a watcher
  qac watch run               # Run the watch daemon without the server`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var watchAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a directory or file watcher",
	Long: `Register a path for automatic re-ingestion. The path is stored
absolute; each path can only be watched once.

Examples:
  qac watch add ./docs
  qac watch add ./src --kind code --recursive=false`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatchAdd(args[0])
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered watchers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatchList(cmd)
	},
}

var watchRmCmd = &cobra.Command{
	Use:   "rm <watcher-id>",
	Short: "Remove a watcher",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatchRm(args[0])
	},
}

var watchRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the watch daemon in the foreground",
	Long: `Run the watch engine and job workers without the HTTP server.
Watcher fires, queued ingests, embedding backlogs, and summarization
jobs are all processed until interrupted.

Example:
  qac watch run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatchDaemon()
	},
}

func init() {
	watchAddCmd.Flags().StringSliceVar(&watchKinds, "kind", nil,
		"Restrict the watcher to artifact kinds ("+joinKinds()+")")
	watchAddCmd.Flags().BoolVar(&watchRecursive, "recursive", true, "Watch subdirectories")

	watchListCmd.Flags().Bool("json", false, "Output watchers as JSON")

	WatchCmd.AddCommand(watchAddCmd)
	WatchCmd.AddCommand(watchListCmd)
	WatchCmd.AddCommand(watchRmCmd)
	WatchCmd.AddCommand(watchRunCmd)
}

// runWatchAdd registers a watcher
func runWatchAdd(path string) error {
	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	w := &watch.Watcher{
		Path:      path,
		Kinds:     watchKinds,
		Recursive: watchRecursive,
		Enabled:   true,
	}
	if err := watch.NewStore(database).Create(w); err != nil {
		return err
	}

	pterm.Success.Printf("Watching %s\n", w.Path)
	fmt.Printf("  Watcher ID: %s\n", w.ID)
	if len(w.Kinds) > 0 {
		fmt.Printf("  Kinds: %s\n", strings.Join(w.Kinds, ", "))
	}
	fmt.Println("\nWatchers fire while 'qac serve' or 'qac watch run' is active.")
	return nil
}

// runWatchList lists registered watchers
func runWatchList(cmd *cobra.Command) error {
	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	watchers, err := watch.NewStore(database).List(false)
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(watchers)
	}

	if len(watchers) == 0 {
		fmt.Printf("%s No watchers registered\n", sym.Watch)
		return nil
	}

	fmt.Printf("%-15s %-40s %-20s %-9s %-8s %s\n", "WATCHER ID", "PATH", "KINDS", "RECURSIVE", "ENABLED", "LAST EVENT")
	fmt.Printf("%-15s %-40s %-20s %-9s %-8s %s\n", "----------", "----", "-----", "---------", "-------", "----------")

	for _, w := range watchers {
		kinds := "all"
		if len(w.Kinds) > 0 {
			kinds = strings.Join(w.Kinds, ",")
		}
		lastEvent := "never"
		if w.LastEventAt != nil {
			lastEvent = w.LastEventAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("%-15s %-40s %-20s %-9t %-8t %s\n",
			truncate(w.ID, 15),
			truncate(w.Path, 40),
			truncate(kinds, 20),
			w.Recursive,
			w.Enabled,
			lastEvent)
	}

	fmt.Printf("\nTotal: %d watcher(s)\n", len(watchers))
	return nil
}

// runWatchRm removes a watcher
func runWatchRm(id string) error {
	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	if err := watch.NewStore(database).Delete(id); err != nil {
		return err
	}

	pterm.Success.Printf("Watcher %s removed\n", id)
	return nil
}

// runWatchDaemon runs the watch engine plus job workers in the
// foreground. It is the serverless counterpart of 'qac serve': the
// same handler registry and gates, without the HTTP surface.
func runWatchDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Same dependency graph the server builds, minus HTTP
	artifacts := artifact.NewStore(database)
	runs := ingest.NewRunStore(database)
	links := trace.NewStore(database)

	ingestCfg := cfg.GetIngestConfig()
	splitter := chunk.NewSplitter(ingestCfg.ChunkSize, ingestCfg.ChunkOverlap)

	embedder := embed.NewManaged(embed.NewOllamaService(&cfg.Embeddings))
	defer embedder.Close()
	model, dim := embedder.ModelInfo()
	index := search.NewStore(database, model, dim)

	linker := trace.NewLinker(artifacts, links, index, embedder)

	provider, err := summarize.NewProvider(cfg)
	if err != nil {
		logger.Warnw("No summarization provider, summarize jobs will fail", "error", err)
		provider = nil
	}
	summarizer := summarize.NewSummarizer(database, artifacts, index, embedder, provider)

	queue := jobs.NewQueue(database)
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

	poolCfg := jobs.DefaultWorkerPoolConfig()
	if cfg.Jobs.Workers > 0 {
		poolCfg.Workers = cfg.Jobs.Workers
	}
	budget := jobs.NewBudgetTracker(database, jobs.BudgetLimits{
		DailyUSD:   cfg.Jobs.DailyBudgetUSD,
		WeeklyUSD:  cfg.Jobs.WeeklyBudgetUSD,
		MonthlyUSD: cfg.Jobs.MonthlyBudgetUSD,
	})
	rate := jobs.NewRateLimiter(cfg.Jobs.MaxRequestsPerMinute)
	pool := jobs.NewWorkerPool(ctx, database, poolCfg, registry, budget, rate)
	pool.Start()

	engine := watch.NewEngine(database, pool.GetQueue(), cfg.GetWatchConfig())
	if err := engine.Start(); err != nil {
		pool.Stop()
		return errors.Wrap(err, "failed to start watch engine")
	}

	enabled, err := watch.NewStore(database).List(true)
	if err != nil {
		logger.Warnw("Failed to count enabled watchers", "error", err)
	}
	pterm.Info.Printf("%s Watch daemon running: %d watcher(s), %d worker(s)\n",
		sym.Watch, len(enabled), poolCfg.Workers)
	pterm.Info.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	pterm.Info.Println("Shutting down...")
	engine.Stop()
	pool.Stop()
	pterm.Success.Println("Watch daemon stopped")
	return nil
}
