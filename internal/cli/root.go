// Package cli provides the command-line interface for insight.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

const defaultConfigDir = ".insight"

var (
	configDir   string
	metricsFile string
)

var rootCmd = &cobra.Command{
	Use:   "insight",
	Short: "Aggregate posts from many sources into one resilient feed",
	Long: "insight fetches RSS, YouTube, Reddit, Hacker News, and Telegram sources concurrently, " +
		"isolates failing sources, merges the results into one ordered feed, and can group a day's posts " +
		"into a topic briefing.",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "insight %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", defaultConfigDir, "config directory")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus textfile metrics here after a run")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(briefingCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(doctorCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
