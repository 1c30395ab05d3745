package commands

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/chunk"
	"github.com/qacompanion/qac/config"
	"github.com/qacompanion/qac/display"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/ingest"
	"github.com/qacompanion/qac/ingest/git"
	"github.com/qacompanion/qac/ingest/github"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/sym"
	"github.com/qacompanion/qac/trace"
)

// IngestCmd represents the ingest command
var IngestCmd = &cobra.Command{
	Use:   "ingest <source>",
	Short: sym.IX + " Ingest engineering artifacts",
	Long: sym.IX + ` Ingest files into the qac knowledge base.

The source may be a local file or directory, or a remote source
(git URL, archive URL) which is fetched into a temp directory first.
Discovered files are validated, classified by loaders (source code,
markdown, PDF, JUnit XML, Go cover profiles), chunked, and stored.
An embed backlog job is enqueued so vectors catch up asynchronously.

The pipeline plans first (discover + validate) and asks for
confirmation before processing; --yes skips the prompt and --dry-run
stops after the plan.

Examples:
  qac ingest ./docs --kind design_doc      # Ingest a directory of docs
  qac ingest ./reports --recursive=false   # Only the top level
  qac ingest . --dry-run                   # Preview without writing
  qac ingest ./src --repo acme/payments    # Label artifacts with a repo
  qac ingest ./docs --async                # Enqueue instead of running inline
  qac ingest ./docs --report run.json      # Write a JSON run report

Subcommands ingest other artifact sources:
  qac ingest git .                         # Commit history of a repository
  qac ingest github owner/repo             # Issues and PRs from GitHub`,
	Args: cobra.ExactArgs(1),
	RunE: runIngestFS,
}

var ingestGitCmd = &cobra.Command{
	Use:   "git <repository-path>",
	Short: "Ingest git commit history",
	Long: `Ingest a repository's commit history into the knowledge base.

Each commit becomes a commit artifact (message, author, stats, modified
paths). Release tags annotate commits with their nearest release, and
dependency manifests (go.mod, pyproject.toml, Cargo.toml) become
requirement artifacts. After storing, the trace linker scans new
commits for issue references.

Examples:
  qac ingest git .                         # Current repository
  qac ingest git /path/to/repo --since 2026-01-01
  qac ingest git . --since a1b2c3d         # Commits after a hash
  qac ingest git . --async                 # Enqueue instead of running inline`,
	Args: cobra.ExactArgs(1),
	RunE: runIngestGit,
}

var ingestGithubCmd = &cobra.Command{
	Use:   "github <owner/repo>",
	Short: "Ingest GitHub issues and pull requests",
	Long: `Ingest issues and pull requests from a GitHub repository.

Issues become bug_report artifacts; PRs become design_doc artifacts
when labeled "design", bug_report context otherwise. Set a token via
QAC_GITHUB_TOKEN or GITHUB_TOKEN (or github.token in config) to raise
the rate limit and read private repositories.

Examples:
  qac ingest github golang/go --state open
  qac ingest github owner/repo --since 2026-06-01
  qac ingest github owner/repo --labels bug,p1
  qac ingest github owner/repo --async`,
	Args: cobra.ExactArgs(1),
	RunE: runIngestGithub,
}

var (
	ingestRepo      string
	ingestKind      string
	ingestRecursive bool
	ingestDryRun    bool
	ingestYes       bool
	ingestAsync     bool
	ingestReport    string

	ingestGitSince string

	ingestGithubState  string
	ingestGithubSince  string
	ingestGithubLabels []string
)

func init() {
	IngestCmd.Flags().StringVar(&ingestRepo, "repo", "", "Repository label applied to every ingested artifact")
	IngestCmd.Flags().StringVar(&ingestKind, "kind", "", "Force an artifact kind instead of letting loaders classify")
	IngestCmd.Flags().BoolVar(&ingestRecursive, "recursive", true, "Walk subdirectories below the source")
	IngestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "Plan only: show what would be ingested without writing")
	IngestCmd.Flags().BoolVarP(&ingestYes, "yes", "y", false, "Skip the confirmation prompt")
	IngestCmd.Flags().BoolVar(&ingestAsync, "async", false, "Enqueue an async job instead of ingesting inline")
	IngestCmd.Flags().StringVar(&ingestReport, "report", "", "Write a JSON run report to this path")
	IngestCmd.Flags().Bool("json", false, "Output the run result as JSON")

	ingestGitCmd.Flags().StringVar(&ingestRepo, "repo", "", "Repository label (derived from the path when empty)")
	ingestGitCmd.Flags().StringVar(&ingestGitSince, "since", "", "Skip commits at or before: RFC3339 time, date, or commit hash")
	ingestGitCmd.Flags().BoolVar(&ingestAsync, "async", false, "Enqueue an async job instead of ingesting inline")
	ingestGitCmd.Flags().Bool("json", false, "Output the run result as JSON")

	ingestGithubCmd.Flags().StringVar(&ingestRepo, "repo", "", "Repository label (defaults to the repository name)")
	ingestGithubCmd.Flags().StringVar(&ingestGithubState, "state", "all", "Filter issues/PRs by state: open, closed, all")
	ingestGithubCmd.Flags().StringVar(&ingestGithubSince, "since", "", "Only items updated at or after this time (RFC3339 or date)")
	ingestGithubCmd.Flags().StringSliceVar(&ingestGithubLabels, "labels", nil, "Only issues carrying every listed label")
	ingestGithubCmd.Flags().BoolVar(&ingestAsync, "async", false, "Enqueue an async job instead of ingesting inline")
	ingestGithubCmd.Flags().Bool("json", false, "Output the run result as JSON")

	IngestCmd.AddCommand(ingestGitCmd)
	IngestCmd.AddCommand(ingestGithubCmd)
}

func runIngestFS(cmd *cobra.Command, args []string) error {
	input := args[0]
	useJSON := display.ShouldOutputJSON(cmd)
	verbosity, _ := cmd.Flags().GetCount("verbosity")

	if ingestKind != "" && !artifact.ValidKind(artifact.Kind(ingestKind)) {
		return errors.NewInvalidInputError("unknown artifact kind %q (valid: %s)",
			ingestKind, joinKinds())
	}

	if ingestAsync {
		payload, err := json.Marshal(ingest.FSPayload{
			Source:    input,
			Repo:      ingestRepo,
			Kind:      ingestKind,
			Recursive: ingestRecursive,
		})
		if err != nil {
			return errors.Wrap(err, "failed to encode job payload")
		}
		return enqueueIngestJob(jobs.HandlerIngestFS, input, payload, useJSON)
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

	ctx := cmd.Context()

	// Remote sources (git URLs, archives) are fetched to a temp dir
	source, err := ingest.Resolve(ctx, input)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve source %q", input)
	}
	defer source.Cleanup()

	if !useJSON && source.Fetched {
		pterm.Info.Printf("Fetched %s\n", input)
	}

	ingestCfg := cfg.GetIngestConfig()
	splitter := chunk.NewSplitter(ingestCfg.ChunkSize, ingestCfg.ChunkOverlap)
	queue := jobs.NewQueue(database)
	pipeline := ingest.NewPipeline(artifact.NewStore(database), ingest.NewRunStore(database), splitter, queue)

	opts := ingest.Options{
		Recursive:     ingestRecursive,
		MaxFileSizeMB: float64(ingestCfg.MaxFileSizeMB),
		Repo:          ingestRepo,
		Kind:          artifact.Kind(ingestKind),
		DryRun:        ingestDryRun,
	}

	// Plan first so the user confirms what will actually be processed
	files, skipped, err := pipeline.Plan(source.LocalPath, opts)
	if err != nil {
		return errors.Wrapf(err, "failed to plan ingestion of %s", input)
	}

	if !useJSON {
		printIngestPlan(input, files, skipped, verbosity)
	}

	if ingestDryRun {
		if useJSON {
			return display.OutputJSON(map[string]interface{}{
				"source":  input,
				"dry_run": true,
				"valid":   files,
				"skipped": skipped,
			})
		}
		pterm.Info.Println("Dry run: nothing was ingested")
		return nil
	}

	if len(files) == 0 {
		if useJSON {
			return display.OutputJSON(map[string]interface{}{
				"source": input,
				"valid":  files,
			})
		}
		pterm.Warning.Println("No ingestable files found")
		return nil
	}

	if !ingestYes && !useJSON {
		ok, _ := pterm.DefaultInteractiveConfirm.
			WithDefaultValue(true).
			Show(fmt.Sprintf("Ingest %d file(s)?", len(files)))
		if !ok {
			pterm.Info.Println("Aborted")
			return nil
		}
	}

	if !useJSON {
		pipeline = pipeline.WithEmitter(ingest.NewCLIEmitter(verbosity))
	}

	startTime := time.Now()
	result, err := pipeline.Execute(ctx, files, skipped, input, opts)
	if err != nil {
		return errors.Wrapf(err, "ingestion of %s failed", input)
	}

	if ingestReport != "" {
		if err := ingest.WriteReport(result, ingestReport); err != nil {
			return errors.Wrap(err, "failed to write report")
		}
		if !useJSON {
			pterm.Info.Printf("Report written to %s\n", ingestReport)
		}
	}

	if useJSON {
		return display.OutputJSON(result)
	}

	printRunSummary(result.Run, time.Since(startTime))
	return nil
}

func runIngestGit(cmd *cobra.Command, args []string) error {
	input := args[0]
	useJSON := display.ShouldOutputJSON(cmd)

	if ingestAsync {
		payload, err := json.Marshal(git.Payload{
			Source: input,
			Repo:   ingestRepo,
			Since:  ingestGitSince,
		})
		if err != nil {
			return errors.Wrap(err, "failed to encode job payload")
		}
		return enqueueIngestJob(jobs.HandlerIngestGit, input, payload, useJSON)
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

	ctx := cmd.Context()

	// Remote repositories are cloned into a temp dir before walking
	source, err := ingest.Resolve(ctx, input)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve source %q", input)
	}
	defer source.Cleanup()

	if !git.IsRepository(source.LocalPath) {
		return errors.NewInvalidInputError("%s is not a git repository", input)
	}

	ingester := newGitIngester(database, cfg)

	var spinner *pterm.SpinnerPrinter
	if !useJSON {
		spinner, _ = pterm.DefaultSpinner.Start("Walking commit history...")
	}

	result, err := ingester.Ingest(ctx, source.LocalPath, git.Options{
		Repo:  ingestRepo,
		Since: ingestGitSince,
	})
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return errors.Wrapf(err, "git ingestion of %s failed", input)
	}

	if useJSON {
		return display.OutputJSON(result)
	}

	pterm.Success.Println("Git history ingested")
	pterm.Printf("  Commits:      %d\n", result.Commits)
	pterm.Printf("  Manifests:    %d\n", result.Manifests)
	pterm.Printf("  Releases:     %d\n", result.Releases)
	pterm.Printf("  Trace links:  %d\n", result.Links)
	printRunSummary(result.Run, result.Run.Duration())
	return nil
}

func runIngestGithub(cmd *cobra.Command, args []string) error {
	input := args[0]
	useJSON := display.ShouldOutputJSON(cmd)

	if !strings.Contains(input, "/") {
		return errors.NewInvalidInputError("repository must be owner/repo, got %q", input)
	}

	if ingestAsync {
		payload, err := json.Marshal(github.Payload{
			Source: input,
			Repo:   ingestRepo,
			State:  ingestGithubState,
			Since:  ingestGithubSince,
			Labels: ingestGithubLabels,
		})
		if err != nil {
			return errors.Wrap(err, "failed to encode job payload")
		}
		return enqueueIngestJob(jobs.HandlerIngestGitHub, input, payload, useJSON)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var since time.Time
	if ingestGithubSince != "" {
		since, err = parseSince(ingestGithubSince)
		if err != nil {
			return err
		}
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	ingestCfg := cfg.GetIngestConfig()
	splitter := chunk.NewSplitter(ingestCfg.ChunkSize, ingestCfg.ChunkOverlap)
	queue := jobs.NewQueue(database)
	client := github.NewClient(cfg.GitHub.Token)
	ingester := github.NewIngester(client, artifact.NewStore(database), ingest.NewRunStore(database), splitter, queue)

	var spinner *pterm.SpinnerPrinter
	if !useJSON {
		spinner, _ = pterm.DefaultSpinner.Start(fmt.Sprintf("Pulling issues and PRs from %s...", input))
	}

	result, err := ingester.Ingest(cmd.Context(), input, github.Options{
		Repo:   ingestRepo,
		State:  ingestGithubState,
		Since:  since,
		Labels: ingestGithubLabels,
	})
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return errors.Wrapf(err, "github ingestion of %s failed", input)
	}

	if useJSON {
		return display.OutputJSON(result)
	}

	pterm.Success.Println("GitHub repository ingested")
	pterm.Printf("  Issues:  %d\n", result.Issues)
	pterm.Printf("  PRs:     %d\n", result.Pulls)
	printRunSummary(result.Run, result.Run.Duration())
	return nil
}

// newGitIngester wires the git ingester with a heuristic-only linker;
// inline CLI runs do not need the embedding service for commit scans.
func newGitIngester(database *sql.DB, cfg *config.Config) *git.Ingester {
	ingestCfg := cfg.GetIngestConfig()
	splitter := chunk.NewSplitter(ingestCfg.ChunkSize, ingestCfg.ChunkOverlap)
	queue := jobs.NewQueue(database)
	artifacts := artifact.NewStore(database)
	linker := trace.NewLinker(artifacts, trace.NewStore(database), nil, nil)
	return git.NewIngester(artifacts, ingest.NewRunStore(database), splitter, queue, linker)
}

// enqueueIngestJob enqueues a deduped async ingest job and reports its id.
func enqueueIngestJob(handlerName, source string, payload json.RawMessage, useJSON bool) error {
	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	job, err := jobs.NewJob(handlerName, source, payload, 0, 0)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	queue := jobs.NewQueue(database)
	enqueued, err := queue.EnqueueDeduped(job)
	if err != nil {
		return errors.Wrap(err, "failed to enqueue job")
	}

	if useJSON {
		return display.OutputJSON(enqueued)
	}

	if enqueued.ID != job.ID {
		pterm.Info.Printf("Already queued as %s\n", enqueued.ID)
	} else {
		pterm.Success.Printf("Queued %s job %s\n", handlerName, enqueued.ID)
	}
	pterm.Printf("  Track it: qac jobs status %s\n", enqueued.ID)
	pterm.Printf("  Jobs run while 'qac serve' or 'qac watch run' is active\n")
	return nil
}

// printIngestPlan shows the validated file set before confirmation.
func printIngestPlan(input string, files []ingest.FileInfo, skipped []ingest.SkippedFile, verbosity int) {
	pterm.DefaultHeader.WithFullWidth().Printf("Ingest - %s", input)
	pterm.Println()
	pterm.Info.Printf("%d file(s) to ingest, %d skipped\n", len(files), len(skipped))

	if verbosity > 0 {
		for _, f := range files {
			pterm.Printf("  + %s (%.2f MB)\n", f.Path, f.SizeMB)
		}
		for _, s := range skipped {
			pterm.Printf("  - %s: %s\n", s.Path, s.Reason)
		}
	} else if len(skipped) > 0 {
		pterm.Printf("  (use -v to list skipped files and reasons)\n")
	}
	pterm.Println()
}

// printRunSummary reports the stored run counts.
func printRunSummary(run *ingest.Run, elapsed time.Duration) {
	if run == nil {
		return
	}
	pterm.Println()
	pterm.Info.Printf("Run %s\n", run.ID)
	pterm.Printf("  Processed: %d\n", run.Processed)
	pterm.Printf("  Unchanged: %d\n", run.Unchanged)
	pterm.Printf("  Skipped:   %d\n", run.Skipped)
	pterm.Printf("  Failed:    %d\n", run.Failed)
	pterm.Printf("  Chunks:    %d\n", run.Chunks)
	pterm.Printf("  Elapsed:   %s\n", elapsed.Round(time.Millisecond))
}

// parseSince accepts an RFC3339 timestamp or a bare date.
func parseSince(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Time{}, errors.NewInvalidInputError(
		"cannot parse --since %q (want RFC3339 or YYYY-MM-DD)", value)
}

// joinKinds lists the valid artifact kinds for error messages.
func joinKinds() string {
	kinds := make([]string, len(artifact.Kinds))
	for i, k := range artifact.Kinds {
		kinds[i] = string(k)
	}
	return strings.Join(kinds, ", ")
}
