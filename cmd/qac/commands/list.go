package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/display"
	"github.com/qacompanion/qac/errors"
)

// ListCmd represents the list command
var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested artifacts",
	Long: `List artifacts in the knowledge base, most recently updated first.

Examples:
  qac list                         # Most recent artifacts
  qac list --kind bug_report       # Only bug reports
  qac list --repo acme/payments    # Only one repository
  qac list --limit 50              # Show up to 50 artifacts
  qac list --json                  # Machine-readable output`,
	RunE: runList,
}

var (
	listKind  string
	listRepo  string
	listLimit int
)

func init() {
	ListCmd.Flags().StringVar(&listKind, "kind", "", "Filter by artifact kind")
	ListCmd.Flags().StringVar(&listRepo, "repo", "", "Filter by repository label")
	ListCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of artifacts to display")
	ListCmd.Flags().Bool("json", false, "Output artifacts as JSON")
}

func runList(cmd *cobra.Command, args []string) error {
	if listKind != "" && !artifact.ValidKind(artifact.Kind(listKind)) {
		return errors.NewInvalidInputError("unknown artifact kind %q (valid: %s)",
			listKind, joinKinds())
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	store := artifact.NewStore(database)
	artifacts, err := store.List(artifact.ListOptions{
		Kind:  artifact.Kind(listKind),
		Repo:  listRepo,
		Limit: listLimit,
	})
	if err != nil {
		return errors.Wrap(err, "failed to list artifacts")
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(artifacts)
	}

	if len(artifacts) == 0 {
		pterm.Info.Println("No artifacts found")
		return nil
	}

	tableData := pterm.TableData{
		{"ID", "KIND", "TITLE", "REPO", "SOURCE", "UPDATED"},
	}
	for _, a := range artifacts {
		tableData = append(tableData, []string{
			truncate(a.ID, 12),
			string(a.Kind),
			truncate(a.Title, 40),
			truncate(a.Repo, 20),
			truncate(a.SourceID, 32),
			a.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}

	if err := pterm.DefaultTable.WithHasHeader().WithData(tableData).Render(); err != nil {
		return errors.Wrap(err, "failed to render table")
	}

	fmt.Printf("\nTotal: %d artifact(s)\n", len(artifacts))
	return nil
}
