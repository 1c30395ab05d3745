package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/qacompanion/qac/config"
)

// ConfigCmd represents the config command
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage qac configuration",
	Long: `Display and manage qac configuration settings.

Configuration sources (in order of precedence):
1. Environment variables (QAC_* prefix)
2. Project config (./qac.toml or ./config.toml, searched upward)
3. User config (~/.qac/qac.toml or ~/.qac/config.toml)
4. System config (/etc/qac/config.toml)
5. Default values

'config set' writes to the user config (~/.qac/qac.toml) and rotates
backups (.back1, .back2, .back3) before every write.

Examples:
  qac config list                        # Show current configuration
  qac config list --format json          # Show configuration as JSON
  qac config get database.path           # Get a specific value
  qac config set search.top_k 10         # Persist a value to the user config`,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show current configuration",
	Long:  "Display the merged qac configuration from all sources",
	RunE:  runConfigList,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a configuration value using dot notation (e.g., database.path, jobs.workers)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value to the user config",
	Long: `Set a configuration value using dot notation and persist it to
~/.qac/qac.toml. The previous file is rotated into .back1/.back2/.back3.

Values are parsed as bool, integer, or float when they look like one,
otherwise stored as strings.

Examples:
  qac config set search.top_k 10
  qac config set jobs.daily_budget_usd 2.50
  qac config set watch.enabled true
  qac config set embeddings.model all-minilm`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configFormat string

func init() {
	configListCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json")

	ConfigCmd.AddCommand(configListCmd)
	ConfigCmd.AddCommand(configGetCmd)
	ConfigCmd.AddCommand(configSetCmd)
}

func runConfigList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# qac configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json)", configFormat)
	}

	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	v := config.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}

	value := config.Get(key)
	fmt.Println(value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := parseConfigValue(args[1])

	if err := config.Set(key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	fmt.Printf("✓ Set %s = %v\n", key, value)
	fmt.Printf("  Written to %s\n", config.GetUserConfigPath())
	return nil
}

// parseConfigValue converts a CLI argument into the most specific TOML
// type it parses as, so "true" persists as a bool and "10" as an integer.
func parseConfigValue(raw string) interface{} {
	if b, err := strconv.ParseBool(raw); err == nil && (raw == "true" || raw == "false") {
		return b
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
