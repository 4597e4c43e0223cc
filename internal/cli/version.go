package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build information, set via -ldflags at release time.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("vigil %s (commit %s, built %s)\n", version, gitCommit, buildDate)
	},
}
