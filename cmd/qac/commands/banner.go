package commands

import (
	"fmt"

	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
	"github.com/qacompanion/qac/version"
)

// printStartupBanner renders the qac server banner with version and database info
func printStartupBanner(verbosity int, dbPath string, port int) {
	// ANSI escape codes
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	blue := "\033[34m"
	magenta := "\033[35m"
	white := "\033[37m"
	bgBlack := "\033[40m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔═══════════════════════════════════════════════════╗\n")
	fmt.Printf("   ║                                                   ║\n")
	fmt.Printf("   ║     %s%s%s ██████   █████    ██████  %s                  ║\n", white, bold, bgBlack, reset+cyan+bold)
	fmt.Printf("   ║     %s%s%s██    ██ ██   ██  ██       %s                  ║\n", white, bold, bgBlack, reset+cyan+bold)
	fmt.Printf("   ║     %s%s%s██    ██ ███████  ██       %s                  ║\n", white, bold, bgBlack, reset+cyan+bold)
	fmt.Printf("   ║     %s%s%s██ ▄▄ ██ ██   ██  ██       %s                  ║\n", white, bold, bgBlack, reset+cyan+bold)
	fmt.Printf("   ║     %s%s%s ██████  ██   ██   ██████  %s                  ║\n", white, bold, bgBlack, reset+cyan+bold)
	fmt.Printf("   ║     %s%s%s    ▀▀                     %s                  ║\n", white, bold, bgBlack, reset+cyan+bold)
	fmt.Printf("   ║                                                   ║\n")
	fmt.Printf("   ║   %s%s%s Ingest  %s%s%s Query  %s%s%s Ask  %s%s%s Pulse             ║\n",
		blue, sym.IX, reset+cyan+bold, yellow, sym.Query, reset+cyan+bold, green, sym.Ask, reset+cyan+bold, magenta, sym.Pulse, reset+cyan+bold)
	fmt.Printf("   ║                                                   ║\n")
	fmt.Printf("   ╚═══════════════════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ qac Info ──────────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	fmt.Printf("%s│%s Built:     %s\n", green, reset, versionInfo.BuildTime)
	fmt.Printf("%s│%s Verbosity: %s\n", green, reset, logger.LevelName(verbosity))
	if dbPath != "" {
		fmt.Printf("%s│%s Database:  %s\n", green, reset, dbPath)
	}
	fmt.Printf("%s│%s Listen:    http://localhost:%d\n", green, reset, port)
	fmt.Printf("%s└─────────────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s✨ REST and WebSocket clients can connect now%s\n", yellow, bold, reset)
	fmt.Printf("%s💡 Press Ctrl+C to stop%s\n\n", blue, reset)
}
