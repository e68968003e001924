package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "clawdev",
	Short: "Autonomous delivery supervisor for coding agents",
	Long: `clawdev drives an external coding-agent CLI through a multi-step
delivery blueprint on a single host.

Core Commands:
  supervise    Run the supervisor loop against a repository
  trigger      Queue an event-driven supervisor run
  status       Show the current run status
  watch        Live view of run status and the outcome log
  version      Show version information

All run state lives in the target repository under agent/ (STATUS.json,
BLUEPRINT.json, TRIGGER.json) and memory/supervisor_nightly.log, so the
supervisor can stop and resume at any point.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.clawdev/config.yaml)")
}

// VerbosePrintf prints only when verbose mode is enabled.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format, args...)
	}
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(cfgFile)
	if path == "" {
		return
	}
	_ = os.Setenv("CLAWDEV_CONFIG", path)
}
