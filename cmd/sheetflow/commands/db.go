package commands

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sheetflow/sheetflow/ai/tracker"
	"github.com/sheetflow/sheetflow/config"
	"github.com/sheetflow/sheetflow/errors"
)

// DbCmd groups database management commands
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the sheetflow database",
	Long: `Manage the sheetflow sqlite database: the batch ledger and the usage
and error logs.

Examples:
  sheetflow db migrate          # Apply pending schema migrations
  sheetflow db stats            # Show ledger and usage statistics
  sheetflow db stats --since 7  # Limit usage stats to the last 7 days`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger and usage statistics",
	RunE:  runDbStats,
}

var statsSinceDaysFlag int

func init() {
	dbStatsCmd.Flags().IntVar(&statsSinceDaysFlag, "since", 0, "Limit usage stats to the last N days (0 = all time)")

	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	// openDatabase migrates as a side effect of opening.
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Println("Database schema is up to date")
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	var totalBatches, unprocessedBatches int
	err = database.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN processed = 0 THEN 1 ELSE 0 END), 0)
		FROM batches`).Scan(&totalBatches, &unprocessedBatches)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "failed to query batch counts")
	}

	since := time.Time{}
	if statsSinceDaysFlag > 0 {
		since = time.Now().UTC().AddDate(0, 0, -statsSinceDaysFlag)
	}

	tr := tracker.New(database)
	stats, err := tr.GetStats(since)
	if err != nil {
		return err
	}

	fmt.Println("Database Statistics")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Printf("Database Path:   %s\n", cfg.GetDatabasePath())
	fmt.Printf("Batches:         %d (%d unprocessed)\n", totalBatches, unprocessedBatches)
	fmt.Printf("Requests priced: %d\n", stats.TotalRequests)
	fmt.Printf("Tokens:          %d\n", stats.TotalTokens)
	fmt.Printf("Cost:            $%.6f\n", stats.TotalCost)
	fmt.Printf("Errors logged:   %d\n", stats.ErrorCount)
	fmt.Println()

	breakdown, err := tr.GetPromptBreakdown(since)
	if err != nil {
		return err
	}
	if len(breakdown) == 0 {
		fmt.Println("No usage recorded yet")
		return nil
	}

	fmt.Println("Usage by prompt (most expensive first):")
	for _, b := range breakdown {
		fmt.Printf("  %-24s %-14s %6d requests %10d tokens  $%.6f\n",
			b.PromptName, b.Model, b.RequestCount, b.TotalTokens, b.TotalCost)
	}
	return nil
}
