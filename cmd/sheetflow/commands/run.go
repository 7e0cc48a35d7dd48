package commands

import (
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/sheetflow/sheetflow/ai/openai"
	"github.com/sheetflow/sheetflow/ai/tracker"
	"github.com/sheetflow/sheetflow/config"
	"github.com/sheetflow/sheetflow/errors"
	"github.com/sheetflow/sheetflow/oplock"
	"github.com/sheetflow/sheetflow/runner"
)

// RunCmd processes rows synchronously
var RunCmd = &cobra.Command{
	Use:   "run <sheet.csv>",
	Short: "Process rows synchronously, one completion request at a time",
	Long: `Process eligible rows against every active prompt using synchronous
completion requests. Results land in the sheet as soon as each request
returns, priced at standard rates.

Rows already processed (status set or batch id stamped) are skipped.

Examples:
  sheetflow run reviews.csv --prompts prompts.toml
  sheetflow run reviews.csv --prompts prompts.toml --limit 10`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runPromptsFlag string
	runLimitFlag   int
)

func init() {
	RunCmd.Flags().StringVar(&runPromptsFlag, "prompts", "prompts.toml", "Prompt definitions file")
	RunCmd.Flags().IntVar(&runLimitFlag, "limit", 0, "Maximum rows to process (0 = all eligible)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	client, err := newProviderClient(cfg)
	if err != nil {
		return err
	}

	prompts, err := loadActivePrompts(runPromptsFlag, cfg.OpenAI.Model)
	if err != nil {
		return err
	}

	grid, err := loadGrid(args[0])
	if err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	release, err := oplock.New(database).Acquire(oplock.LockRun)
	if err != nil {
		return err
	}
	defer release()

	pricing := openai.PricingSync
	if cfg.Pricing.SyncMode == "batch" {
		pricing = openai.PricingBatch
	}

	r := runner.New(grid, prompts, client, tracker.New(database), runner.Config{
		RequestsPerMinute: cfg.Run.RequestsPerMinute,
		PricingMode:       pricing,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pterm.Info.Printf("Processing %s with %d prompt(s)\n", args[0], len(prompts))

	res, err := r.Run(ctx, runLimitFlag)
	if err != nil {
		return err
	}

	pterm.Success.Println("Run complete")
	pterm.Printf("  Rows processed: %d\n", res.Rows)
	pterm.Printf("  Requests:       %d (%d ok, %d failed)\n", res.Requests, res.Success, res.Failed)
	pterm.Printf("  Cost:           $%.6f\n", res.Cost)
	return nil
}
