package display

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// ShouldOutputJSON determines whether a command should emit JSON instead of
// the human-readable pterm rendering. The per-command --json flag wins when
// set; otherwise QAC_OUTPUT=json (or compact) selects JSON for callers that
// pipe qac into other tooling.
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd != nil && cmd.Flags().Changed("json") {
		jsonFlag, _ := cmd.Flags().GetBool("json")
		return jsonFlag
	}

	switch os.Getenv("QAC_OUTPUT") {
	case "json", "compact":
		return true
	}
	return false
}

// OutputJSON marshals and prints a value using display.MarshalJSON
func OutputJSON(v interface{}) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
