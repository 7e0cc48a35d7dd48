package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sheetflow/sheetflow/cmd/sheetflow/commands"
	"github.com/sheetflow/sheetflow/config"
	"github.com/sheetflow/sheetflow/logger"
)

var rootCmd = &cobra.Command{
	Use:   "sheetflow",
	Short: "sheetflow - apply LLM prompts to tabular data",
	Long: `sheetflow - apply templated LLM prompts to CSV rows.

sheetflow renders prompt templates against each data row, sends them to a
completion endpoint (synchronously or via the provider's discounted batch
API), and writes the structured JSON answers back as new columns.

Available commands:
  run    - Process rows synchronously, one request at a time
  batch  - Submit, track, and apply asynchronous batches
  config - Inspect the effective configuration
  db     - Manage the sheetflow database

Examples:
  sheetflow run reviews.csv --prompts prompts.toml
  sheetflow batch submit reviews.csv --prompts prompts.toml
  sheetflow batch check            # Refresh batch statuses
  sheetflow batch apply reviews.csv
  sheetflow batch ls`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-log")
		debug, _ := cmd.Flags().GetBool("debug")
		if !debug {
			if cfg, err := config.Load(); err == nil {
				debug = cfg.Debug
			}
		}
		if err := logger.Initialize(jsonOutput, debug); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-log", false, "Emit logs as JSON instead of console output")
	rootCmd.PersistentFlags().Bool("debug", false, "Include debug log entries")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.BatchCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
