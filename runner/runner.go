// Package runner executes prompts against sheet rows synchronously, one
// completion request at a time, writing results back as they arrive. It is
// the low-latency alternative to the batch pipeline for small row counts.
package runner

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/sheetflow/sheetflow/ai/openai"
	"github.com/sheetflow/sheetflow/ai/tracker"
	"github.com/sheetflow/sheetflow/batch"
	"github.com/sheetflow/sheetflow/errors"
	"github.com/sheetflow/sheetflow/logger"
	"github.com/sheetflow/sheetflow/prompt"
	"github.com/sheetflow/sheetflow/sheet"
)

// SyncBatchID marks rows completed by a synchronous run in the sheet's
// batch correlation column.
const SyncBatchID = "0"

// CompletionAPI is the slice of the provider client the runner needs
type CompletionAPI interface {
	Chat(ctx context.Context, req openai.ChatRequest) (*openai.ChatResponse, error)
}

// Config carries the runner's pacing and pricing settings
type Config struct {
	// RequestsPerMinute paces outbound completion requests. <= 0 disables
	// pacing.
	RequestsPerMinute int
	// PricingMode selects the rate table for cost records. Synchronous
	// requests normally price at the standard table.
	PricingMode openai.PricingMode
}

// Runner applies active prompts to eligible rows via synchronous completions
type Runner struct {
	grid    *sheet.Grid
	prompts []prompt.Prompt
	client  CompletionAPI
	tracker *tracker.Tracker
	limiter *rate.Limiter
	pricing openai.PricingMode
}

// New creates a runner over the given grid and active prompts
func New(grid *sheet.Grid, prompts []prompt.Prompt, client CompletionAPI, tr *tracker.Tracker, cfg Config) *Runner {
	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	pricing := cfg.PricingMode
	if pricing == "" {
		pricing = openai.PricingSync
	}
	return &Runner{
		grid:    grid,
		prompts: prompts,
		client:  client,
		tracker: tr,
		limiter: limiter,
		pricing: pricing,
	}
}

// Result summarizes one synchronous run
type Result struct {
	Rows     int
	Requests int
	Success  int
	Failed   int
	Cost     float64
}

// promptUsage accumulates one prompt's token usage across a run
type promptUsage struct {
	model            string
	requests         int
	promptTokens     int
	completionTokens int
}

// Run processes up to rowLimit eligible rows (<= 0 means all). Each row gets
// every active prompt; failures are recorded and skipped without aborting
// the run. Rows are marked complete even when some of their prompts failed,
// matching the batch pipeline's at-most-one-pass-per-row behavior.
func (r *Runner) Run(ctx context.Context, rowLimit int) (*Result, error) {
	if len(r.prompts) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "no active prompts")
	}

	result := &Result{}
	usage := make(map[string]*promptUsage)
	var promptOrder []string

	for row := 1; row <= r.grid.RowCount(); row++ {
		if !r.grid.Eligible(row) {
			continue
		}
		if rowLimit > 0 && result.Rows >= rowLimit {
			break
		}
		result.Rows++

		if err := r.processRow(ctx, row, result, usage, &promptOrder); err != nil {
			// Context cancellation is the only error that aborts the
			// run; everything written so far is still saved.
			saveErr := r.grid.Save()
			if saveErr != nil {
				logger.Errorw("failed to save sheet after interrupted run", "error", saveErr)
			}
			return result, err
		}

		if err := r.grid.SetStatus(row, sheet.StatusSubmitted); err != nil {
			return result, err
		}
		if err := r.grid.SetBatchID(row, SyncBatchID); err != nil {
			return result, err
		}
	}

	for _, name := range promptOrder {
		u := usage[name]
		cost := openai.CalculateCost(u.model, r.pricing, u.promptTokens, u.completionTokens)
		result.Cost += cost
		rec := &tracker.UsageRecord{
			PromptName:       name,
			Model:            u.model,
			PricingMode:      string(r.pricing),
			RequestCount:     u.requests,
			PromptTokens:     u.promptTokens,
			CompletionTokens: u.completionTokens,
			TotalTokens:      u.promptTokens + u.completionTokens,
			Cost:             cost,
		}
		if err := r.tracker.RecordUsage(rec); err != nil {
			logger.Warnw("failed to record usage", "prompt", name, "error", err)
		}
	}

	if err := r.grid.Save(); err != nil {
		return result, errors.Wrap(err, "failed to save sheet after run")
	}

	logger.Infow("run complete",
		"rows", result.Rows,
		"requests", result.Requests,
		"success", result.Success,
		"failed", result.Failed,
		"cost", result.Cost,
	)
	return result, nil
}

func (r *Runner) processRow(ctx context.Context, row int, result *Result, usage map[string]*promptUsage, promptOrder *[]string) error {
	fields, err := r.grid.Fields(row)
	if err != nil {
		return err
	}

	for _, p := range r.prompts {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return errors.Wrap(err, "run interrupted")
			}
		}
		result.Requests++

		resp, err := r.client.Chat(ctx, openai.ChatRequest{
			SystemPrompt: batch.SystemPrompt,
			UserPrompt:   prompt.Render(p.Text, fields),
			Model:        p.Model,
		})
		if err != nil {
			if ctx.Err() != nil {
				return errors.Wrap(ctx.Err(), "run interrupted")
			}
			r.recordError(row, p.Name, "completion", err.Error())
			result.Failed++
			continue
		}

		u, ok := usage[p.Name]
		if !ok {
			u = &promptUsage{model: resp.Model}
			usage[p.Name] = u
			*promptOrder = append(*promptOrder, p.Name)
		}
		u.requests++
		u.promptTokens += resp.Usage.PromptTokens
		u.completionTokens += resp.Usage.CompletionTokens

		parsed, err := batch.DecodeResultObject(resp.Content)
		if err != nil {
			r.recordError(row, p.Name, "parse", err.Error())
			result.Failed++
			continue
		}
		if err := batch.WriteResultFields(r.grid, row, p.Name, parsed); err != nil {
			r.recordError(row, p.Name, "write", err.Error())
			result.Failed++
			continue
		}
		result.Success++
	}
	return nil
}

func (r *Runner) recordError(row int, promptName, stage, message string) {
	logger.Debugw("request failed", "row", row, "prompt", promptName, "stage", stage, "message", message)
	rec := &tracker.ErrorRecord{
		RowOrdinal: row,
		PromptName: promptName,
		Stage:      stage,
		Message:    message,
	}
	if err := r.tracker.RecordError(rec); err != nil {
		logger.Warnw("failed to record error", "row", row, "error", err)
	}
}
