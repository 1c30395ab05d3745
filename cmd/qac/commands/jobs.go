package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qacompanion/qac/config"
	"github.com/qacompanion/qac/display"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/summarize"
	"github.com/qacompanion/qac/sym"
)

// JobsCmd represents the jobs command - async queue operations
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Pulse + " Inspect the async job queue and AI spend",
	Long: sym.Pulse + ` Async job management.

Ingestion, embedding, summarization, and trace scans run as async
jobs. Jobs execute while 'qac serve' or 'qac watch run' is active,
subject to rate and budget gates.

Job management commands:
  qac jobs list               # List jobs
  qac jobs status <id>        # Show job details
  qac jobs cancel <id>        # Cancel a queued or running job
  qac jobs usage              # AI spend, tokens, and budget headroom`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List async jobs",
	Long: `List async jobs, optionally filtered by status.

Status filters:
  queued    - Jobs waiting to be processed
  running   - Jobs currently being processed
  paused    - Jobs halted by a gate or by request
  completed - Successfully completed jobs
  failed    - Jobs that failed with errors
  cancelled - Jobs cancelled before completion

Examples:
  qac jobs list                    # List recent jobs
  qac jobs list --status running   # Only running jobs
  qac jobs list --limit 50         # Show up to 50 jobs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobsList(cmd, statusFilter, limit)
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show status of an async job",
	Long: `Display detailed status information for an async job:
- Job ID, handler, and source
- Current status and progress
- Cost estimate and actual cost
- Timestamps (created, started, completed)

Example:
  qac jobs status 9b2f1c0e-...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsStatus(args[0])
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued, running, or paused job",
	Long: `Cancel an async job. Running jobs stop at their next checkpoint;
work already persisted stays.

Example:
  qac jobs cancel 9b2f1c0e-...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsCancel(args[0])
	},
}

var jobsUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show AI usage, cost, and budget headroom",
	Long: `Aggregate recorded model calls: request counts, tokens, cost,
per-model breakdown, and spend against the configured budgets.

Examples:
  qac jobs usage                   # Last 24 hours
  qac jobs usage --since 168h      # Last week`,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetDuration("since")
		return runJobsUsage(cmd, since)
	},
}

func init() {
	jobsListCmd.Flags().String("status", "", "Filter by status (queued, running, paused, completed, failed, cancelled)")
	jobsListCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")
	jobsListCmd.Flags().Bool("json", false, "Output jobs as JSON")

	jobsUsageCmd.Flags().Duration("since", 24*time.Hour, "Aggregation window")
	jobsUsageCmd.Flags().Bool("json", false, "Output usage as JSON")

	JobsCmd.AddCommand(jobsListCmd)
	JobsCmd.AddCommand(jobsStatusCmd)
	JobsCmd.AddCommand(jobsCancelCmd)
	JobsCmd.AddCommand(jobsUsageCmd)
}

// runJobsList lists async jobs
func runJobsList(cmd *cobra.Command, statusFilter string, limit int) error {
	if statusFilter != "" && !jobs.ValidStatus(statusFilter) {
		return errors.NewInvalidInputError("unknown job status %q", statusFilter)
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	store := jobs.NewStore(database)

	// Empty filter means all statuses
	var status *jobs.Status
	if statusFilter != "" {
		s := jobs.Status(statusFilter)
		status = &s
	}

	list, err := store.ListJobs(status, limit)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(list)
	}

	if len(list) == 0 {
		fmt.Printf("%s No jobs found\n", sym.Pulse)
		return nil
	}

	// Print table header
	fmt.Printf("%-15s %-10s %-20s %-28s %-15s %s\n", "JOB ID", "STATUS", "HANDLER", "SOURCE", "PROGRESS", "CREATED")
	fmt.Printf("%-15s %-10s %-20s %-28s %-15s %s\n", "------", "------", "-------", "------", "--------", "-------")

	for _, job := range list {
		progress := fmt.Sprintf("%d/%d (%.0f%%)",
			job.Progress.Current, job.Progress.Total, job.Progress.Percentage())

		fmt.Printf("%-15s %-10s %-20s %-28s %-15s %s\n",
			truncate(job.ID, 15),
			job.Status,
			truncate(job.HandlerName, 20),
			truncate(job.Source, 28),
			progress,
			job.CreatedAt.Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d job(s)\n", len(list))
	return nil
}

// runJobsStatus displays detailed status for a job
func runJobsStatus(jobID string) error {
	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	queue := jobs.NewQueue(database)
	job, err := queue.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	fmt.Printf("%s Job ID: %s\n", sym.Pulse, job.ID)
	fmt.Printf("  Handler: %s\n", job.HandlerName)
	fmt.Printf("  Source: %s\n", job.Source)
	fmt.Printf("  Status: %s\n", job.Status)
	if job.ParentJobID != "" {
		fmt.Printf("  Parent: %s\n", job.ParentJobID)
	}
	if job.RetryCount > 0 {
		fmt.Printf("  Retries: %d\n", job.RetryCount)
	}
	fmt.Printf("\n")

	fmt.Printf("Progress: %d/%d (%.1f%%)\n",
		job.Progress.Current, job.Progress.Total, job.Progress.Percentage())
	fmt.Printf("\n")

	if job.CostEstimate > 0 {
		fmt.Printf("Cost Estimate: $%.3f\n", job.CostEstimate)
	}
	if job.CostActual > 0 {
		fmt.Printf("Actual Cost: $%.3f\n", job.CostActual)
	}
	if job.Error != "" {
		fmt.Printf("Error: %s\n", job.Error)
	}
	if gate := job.GateState; gate != nil && gate.Paused {
		fmt.Printf("Paused: %s\n", gate.PauseReason)
	}
	fmt.Printf("\n")

	fmt.Printf("Created: %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if job.StartedAt != nil {
		fmt.Printf("Started: %s\n", job.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if job.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", job.CompletedAt.Format("2006-01-02 15:04:05"))
	}

	return nil
}

// runJobsCancel cancels a job
func runJobsCancel(jobID string) error {
	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	queue := jobs.NewQueue(database)
	if err := queue.CancelJob(jobID, "cancelled from CLI"); err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	fmt.Printf("%s Job %s cancelled\n", sym.Pulse, jobID)
	return nil
}

// runJobsUsage reports AI spend and budget headroom
func runJobsUsage(cmd *cobra.Command, since time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	cutoff := time.Now().UTC().Add(-since)
	tracker := summarize.NewUsageTracker(database)

	stats, err := tracker.GetUsageStats(cutoff)
	if err != nil {
		return fmt.Errorf("failed to aggregate usage: %w", err)
	}
	breakdown, err := tracker.GetModelBreakdown(cutoff)
	if err != nil {
		return fmt.Errorf("failed to aggregate model breakdown: %w", err)
	}

	budget := jobs.NewBudgetTracker(database, jobs.BudgetLimits{
		DailyUSD:   cfg.Jobs.DailyBudgetUSD,
		WeeklyUSD:  cfg.Jobs.WeeklyBudgetUSD,
		MonthlyUSD: cfg.Jobs.MonthlyBudgetUSD,
	})
	budgetStatus, err := budget.Status()
	if err != nil {
		return fmt.Errorf("failed to read budget status: %w", err)
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(map[string]interface{}{
			"since":  since.String(),
			"stats":  stats,
			"models": breakdown,
			"budget": budgetStatus,
		})
	}

	fmt.Printf("%s AI Usage (last %s)\n", sym.Pulse, since)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Requests:  %d (%d succeeded, %.1f%%)\n",
		stats.TotalRequests, stats.SuccessfulRequests, stats.SuccessRate*100)
	fmt.Printf("Tokens:    %d\n", stats.TotalTokens)
	fmt.Printf("Cost:      $%.4f\n", stats.TotalCost)
	fmt.Printf("Models:    %d\n", stats.UniqueModels)
	fmt.Println()

	if len(breakdown) > 0 {
		fmt.Println("Model breakdown:")
		for _, m := range breakdown {
			fmt.Printf("  %-30s %4d requests  %8d tokens  $%.4f  avg %.1fs\n",
				truncate(m.ModelName, 30), m.RequestCount, m.TotalTokens, m.TotalCost, m.AvgLatencySec)
		}
		fmt.Println()
	}

	fmt.Println("Budget (sliding windows):")
	printBudgetLine("Daily", budgetStatus.DailySpend, budgetStatus.DailyRemaining, cfg.Jobs.DailyBudgetUSD)
	printBudgetLine("Weekly", budgetStatus.WeeklySpend, budgetStatus.WeeklyRemaining, cfg.Jobs.WeeklyBudgetUSD)
	printBudgetLine("Monthly", budgetStatus.MonthlySpend, budgetStatus.MonthlyRemaining, cfg.Jobs.MonthlyBudgetUSD)

	return nil
}

// printBudgetLine formats one budget window; a zero limit means the
// window is uncapped.
func printBudgetLine(window string, spend, remaining, limit float64) {
	if limit <= 0 {
		fmt.Printf("  %-8s $%.4f spent (no limit)\n", window, spend)
		return
	}
	fmt.Printf("  %-8s $%.4f spent, $%.4f remaining of $%.2f\n", window, spend, remaining, limit)
}

// truncate truncates a string to maxLen characters
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
