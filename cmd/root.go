// Package cmd defines the CLI commands for the reviewcrawler executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviewcrawler",
		Short: "Incremental review and image capture engine.",
		Long: `reviewcrawler crawls review listing pages, captures each review as a
structured record plus its images, and skips anything already captured
on previous runs. Output commits atomically, so an interrupted run never
corrupts previously captured state.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
