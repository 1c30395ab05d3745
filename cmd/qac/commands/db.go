package commands

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the qac database",
	Long: sym.DB + ` db — Manage qac database operations

Run schema migrations and inspect database health.

Examples:
  qac db migrate                  # Apply pending schema migrations
  qac db status                   # Show schema version and table counts`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long:  "Open the database and apply any schema migrations that have not run yet",
	RunE:  runDbMigrate,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database status",
	Long:  "Display the database path, schema version, and per-table row counts",
	RunE:  runDbStatus,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatusCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	dbPath := resolvedDatabasePath()

	// openDatabase migrates as part of opening
	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	version, err := schemaVersion(database)
	if err != nil {
		return err
	}

	fmt.Printf("%s Migrations applied\n", sym.DB)
	fmt.Printf("  Database: %s\n", dbPath)
	fmt.Printf("  Schema version: %s\n", version)
	return nil
}

func runDbStatus(cmd *cobra.Command, args []string) error {
	dbPath := resolvedDatabasePath()

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	version, err := schemaVersion(database)
	if err != nil {
		return err
	}

	fmt.Printf("%s Database Status\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Path:           %s\n", dbPath)
	if info, err := os.Stat(dbPath); err == nil {
		fmt.Printf("Size:           %.2f MB\n", float64(info.Size())/(1024*1024))
	}
	fmt.Printf("Schema version: %s\n", version)
	fmt.Println()

	counts, err := artifact.NewStore(database).CountByKind()
	if err != nil {
		return fmt.Errorf("failed to count artifacts: %w", err)
	}
	var totalArtifacts int
	for _, n := range counts {
		totalArtifacts += n
	}

	fmt.Printf("Artifacts: %d\n", totalArtifacts)
	for _, kind := range artifact.Kinds {
		if n := counts[kind]; n > 0 {
			fmt.Printf("  %-14s %d\n", kind, n)
		}
	}
	fmt.Println()

	chunks, err := tableCount(database, "chunks")
	if err != nil {
		return err
	}
	embeddings, err := tableCount(database, "embeddings")
	if err != nil {
		return err
	}
	links, err := tableCount(database, "trace_links")
	if err != nil {
		return err
	}
	summaries, err := tableCount(database, "summaries")
	if err != nil {
		return err
	}
	watchers, err := tableCount(database, "watchers")
	if err != nil {
		return err
	}

	fmt.Printf("Chunks:      %d\n", chunks)
	fmt.Printf("Embeddings:  %d", embeddings)
	if backlog := chunks - embeddings; backlog > 0 {
		fmt.Printf("  (%d awaiting embedding)", backlog)
	}
	fmt.Println()
	fmt.Printf("Trace links: %d\n", links)
	fmt.Printf("Summaries:   %d\n", summaries)
	fmt.Printf("Watchers:    %d\n", watchers)
	fmt.Println()

	jobCounts, err := jobs.NewStore(database).CountByStatus()
	if err != nil {
		return fmt.Errorf("failed to count jobs: %w", err)
	}
	var totalJobs int
	for _, n := range jobCounts {
		totalJobs += n
	}
	fmt.Printf("Jobs: %d\n", totalJobs)
	for _, status := range []jobs.Status{
		jobs.StatusQueued, jobs.StatusRunning, jobs.StatusPaused,
		jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusCancelled,
	} {
		if n := jobCounts[status]; n > 0 {
			fmt.Printf("  %-14s %d\n", status, n)
		}
	}

	return nil
}

// schemaVersion returns the newest applied migration version.
func schemaVersion(database *sql.DB) (string, error) {
	var version sql.NullString
	err := database.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return "", fmt.Errorf("failed to read schema version: %w", err)
	}
	if !version.Valid {
		return "none", nil
	}
	return version.String, nil
}

// tableCount counts rows in a table known to the schema.
func tableCount(database *sql.DB, table string) (int, error) {
	var n int
	if err := database.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
