package display

import (
	"encoding/json"
	"os"
)

// MarshalJSON marshals a value for terminal output. Output is pretty-printed
// unless QAC_OUTPUT=compact is set, which tooling that re-parses command
// output (scripts, MCP hosts) can use to avoid multi-line payloads.
func MarshalJSON(v interface{}) ([]byte, error) {
	if os.Getenv("QAC_OUTPUT") == "compact" {
		return json.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}
