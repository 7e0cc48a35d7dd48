package commands

import (
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/sheetflow/sheetflow/ai/tracker"
	"github.com/sheetflow/sheetflow/batch"
	"github.com/sheetflow/sheetflow/config"
	"github.com/sheetflow/sheetflow/errors"
	"github.com/sheetflow/sheetflow/oplock"
)

// BatchCmd groups the asynchronous batch pipeline commands
var BatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Submit, track, and apply asynchronous batches",
	Long: `Manage the asynchronous batch pipeline.

Batched requests execute within the provider's completion window at half the
standard price. The pipeline has three steps, each safe to repeat:

  submit - package eligible rows into a batch and upload it
  check  - refresh local batch statuses from the provider
  apply  - write a completed batch's results back onto the sheet

Examples:
  sheetflow batch submit reviews.csv --prompts prompts.toml
  sheetflow batch check
  sheetflow batch apply reviews.csv
  sheetflow batch ls
  sheetflow batch status 5f3a...
  sheetflow batch cancel 5f3a...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var batchSubmitCmd = &cobra.Command{
	Use:   "submit <sheet.csv>",
	Short: "Package eligible rows into a provider batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchSubmit,
}

var batchCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Refresh batch statuses from the provider",
	RunE:  runBatchCheck,
}

var batchApplyCmd = &cobra.Command{
	Use:   "apply <sheet.csv>",
	Short: "Write completed batch results back onto the sheet",
	Long: `Apply the oldest completed, unapplied batch to the sheet. Statuses are
refreshed first, so a batch that just finished is picked up without a
separate check. Pass --id to apply a specific batch instead.

Applying is idempotent: re-applying an already processed batch reports the
original summary without touching the provider.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatchApply,
}

var batchLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List tracked batches",
	RunE:  runBatchLs,
}

var batchStatusCmd = &cobra.Command{
	Use:   "status <local-id>",
	Short: "Show one batch in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchStatus,
}

var batchCancelCmd = &cobra.Command{
	Use:   "cancel <local-id>",
	Short: "Cancel an in-flight batch at the provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchCancel,
}

var (
	submitPromptsFlag string
	submitRowsFlag    int
	applyIDFlag       string
	lsLimitFlag       int
)

func init() {
	batchSubmitCmd.Flags().StringVar(&submitPromptsFlag, "prompts", "prompts.toml", "Prompt definitions file")
	batchSubmitCmd.Flags().IntVar(&submitRowsFlag, "rows", 0, "Maximum rows per batch (0 = configured batch.size_limit)")
	batchApplyCmd.Flags().StringVar(&applyIDFlag, "id", "", "Apply a specific batch by local id")
	batchLsCmd.Flags().IntVar(&lsLimitFlag, "limit", 0, "Maximum batches to list (0 = all)")

	BatchCmd.AddCommand(batchSubmitCmd)
	BatchCmd.AddCommand(batchCheckCmd)
	BatchCmd.AddCommand(batchApplyCmd)
	BatchCmd.AddCommand(batchLsCmd)
	BatchCmd.AddCommand(batchStatusCmd)
	BatchCmd.AddCommand(batchCancelCmd)
}

func runBatchSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	client, err := newProviderClient(cfg)
	if err != nil {
		return err
	}

	prompts, err := loadActivePrompts(submitPromptsFlag, cfg.OpenAI.Model)
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

	release, err := oplock.New(database).Acquire(oplock.LockSubmit)
	if err != nil {
		return err
	}
	defer release()

	rows := submitRowsFlag
	if rows <= 0 {
		rows = cfg.Batch.SizeLimit
	}

	submitter := batch.NewSubmitter(grid, prompts, client, batch.NewLedger(database), batch.SubmitterConfig{
		Temperature:      cfg.OpenAI.Temperature,
		MaxTokens:        cfg.OpenAI.MaxTokens,
		Seed:             cfg.OpenAI.Seed,
		CompletionWindow: cfg.Batch.CompletionWindow,
	})

	res, err := submitter.Submit(cmd.Context(), rows)
	if err != nil {
		if errors.IsNotFoundError(err) {
			pterm.Info.Println("No eligible rows to submit")
			return nil
		}
		return err
	}

	pterm.Success.Println("Batch submitted")
	pterm.Printf("  Local id:    %s\n", res.LocalID)
	pterm.Printf("  Provider id: %s\n", res.ProviderID)
	pterm.Printf("  Rows:        %d (%d requests, %d bytes)\n", res.RowCount, res.RequestCount, res.DocumentBytes)
	if res.RemainingRows > 0 {
		pterm.Printf("  Remaining:   %d eligible rows; submit again for the next batch\n", res.RemainingRows)
	}
	return nil
}

func runBatchCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	client, err := newProviderClient(cfg)
	if err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	// Reconciliation writes ledger rows, so it shares the apply lock.
	release, err := oplock.New(database).Acquire(oplock.LockApply)
	if err != nil {
		return err
	}
	defer release()

	entries, err := batch.NewReconciler(client, batch.NewLedger(database)).ReconcileAll(cmd.Context())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		pterm.Info.Println("No unprocessed batches to check")
		return nil
	}

	printEntryTable(entries)
	return nil
}

func runBatchApply(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	client, err := newProviderClient(cfg)
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

	release, err := oplock.New(database).Acquire(oplock.LockApply)
	if err != nil {
		return err
	}
	defer release()

	ledger := batch.NewLedger(database)
	reconciler := batch.NewReconciler(client, ledger)

	var entry *batch.Entry
	if applyIDFlag != "" {
		entry, err = ledger.Get(applyIDFlag)
		if err != nil {
			return err
		}
		if err := reconciler.ReconcileOne(cmd.Context(), entry); err != nil {
			return err
		}
	} else {
		if _, err := reconciler.ReconcileAll(cmd.Context()); err != nil {
			return err
		}
		entry, err = reconciler.NextCompletedUnprocessed()
		if err != nil {
			if errors.IsNotFoundError(err) {
				pterm.Info.Println("No completed batch is waiting to be applied")
				return nil
			}
			return err
		}
	}

	applier := batch.NewApplier(grid, client, ledger, tracker.New(database))
	res, err := applier.Apply(cmd.Context(), entry)
	if err != nil {
		return err
	}

	if res.AlreadyProcessed {
		pterm.Info.Printf("Batch %s was already applied\n", entry.LocalID)
	} else {
		pterm.Success.Printf("Batch %s applied\n", entry.LocalID)
	}
	pterm.Printf("  Results: %d total, %d applied, %d failed\n", res.Total, res.Success, res.Failed)
	return nil
}

func runBatchLs(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	entries, err := batch.NewLedger(database).List(lsLimitFlag)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		pterm.Info.Println("No batches tracked yet")
		return nil
	}

	printEntryTable(entries)
	return nil
}

func runBatchStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	ledger := batch.NewLedger(database)
	entry, err := ledger.Get(args[0])
	if err != nil {
		return err
	}

	// Refresh from the provider when possible; a missing API key still
	// shows the local view.
	if client, cerr := newProviderClient(cfg); cerr == nil {
		if rerr := batch.NewReconciler(client, ledger).ReconcileOne(cmd.Context(), entry); rerr != nil {
			pterm.Warning.Printf("Could not refresh from provider: %v\n", rerr)
		}
	}

	pterm.DefaultSection.Printf("Batch %s", entry.LocalID)
	pterm.Printf("  Provider id:  %s\n", entry.ProviderID)
	pterm.Printf("  Status:       %s\n", entry.Status)
	pterm.Printf("  Requests:     %d total, %d completed, %d failed\n", entry.Total, entry.Completed, entry.Failed)
	pterm.Printf("  Input file:   %s\n", entry.InputFileID)
	if entry.OutputFileID != "" {
		pterm.Printf("  Output file:  %s\n", entry.OutputFileID)
	}
	if entry.ErrorFileID != "" {
		pterm.Printf("  Error file:   %s\n", entry.ErrorFileID)
	}
	pterm.Printf("  Submitted:    %s\n", entry.CreatedAt.Local().Format(time.RFC3339))
	if entry.LastCheckedAt != nil {
		pterm.Printf("  Last checked: %s\n", entry.LastCheckedAt.Local().Format(time.RFC3339))
	}
	if entry.Processed {
		pterm.Printf("  Applied:      %d total, %d ok, %d failed\n", entry.ApplyTotal, entry.ApplySuccess, entry.ApplyFailed)
	}
	return nil
}

func runBatchCancel(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	client, err := newProviderClient(cfg)
	if err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	ledger := batch.NewLedger(database)
	entry, err := ledger.Get(args[0])
	if err != nil {
		return err
	}
	if entry.Processed {
		return errors.NewPreconditionError("batch %s is already applied", entry.LocalID)
	}

	cancelled, err := client.CancelBatch(cmd.Context(), entry.ProviderID)
	if err != nil {
		return err
	}

	entry.Status = cancelled.Status
	now := time.Now().UTC()
	entry.LastCheckedAt = &now
	if err := ledger.Update(entry); err != nil {
		return err
	}

	pterm.Success.Printf("Batch %s cancel requested (provider status: %s)\n", entry.LocalID, cancelled.Status)
	return nil
}

func printEntryTable(entries []*batch.Entry) {
	data := pterm.TableData{
		{"LOCAL ID", "STATUS", "REQUESTS", "COMPLETED", "FAILED", "SUBMITTED"},
	}
	for _, e := range entries {
		data = append(data, []string{
			e.LocalID,
			e.Status,
			strconv.Itoa(e.Total),
			strconv.Itoa(e.Completed),
			strconv.Itoa(e.Failed),
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
