package batch

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sheetflow/sheetflow/ai/openai"
	"github.com/sheetflow/sheetflow/ai/tracker"
	"github.com/sheetflow/sheetflow/errors"
	"github.com/sheetflow/sheetflow/logger"
	"github.com/sheetflow/sheetflow/sheet"
)

// DownloadAPI is the slice of the provider client the applier needs
type DownloadAPI interface {
	DownloadFileContent(ctx context.Context, fileID string) (string, error)
}

// Applier writes a completed batch's results back onto sheet rows and
// records usage, cost, and per-line failures.
type Applier struct {
	grid    *sheet.Grid
	client  DownloadAPI
	ledger  *Ledger
	tracker *tracker.Tracker
}

// NewApplier creates an applier over the given grid, client, ledger, and tracker
func NewApplier(grid *sheet.Grid, client DownloadAPI, ledger *Ledger, tr *tracker.Tracker) *Applier {
	return &Applier{grid: grid, client: client, ledger: ledger, tracker: tr}
}

// ApplyResult summarizes one application pass over a batch's output document
type ApplyResult struct {
	Total   int
	Success int
	Failed  int

	// AlreadyProcessed is true when the batch had been applied before and
	// the counts above are the stored summary of that original pass.
	AlreadyProcessed bool
}

// promptUsage accumulates one prompt's token usage across an output document
type promptUsage struct {
	model            string
	requests         int
	promptTokens     int
	completionTokens int
}

// Apply downloads the batch's output document and applies every result line.
// Failures are isolated per line: a provider error or unparsable completion
// is logged and counted without disturbing sibling lines. Applying is
// idempotent; a batch already marked processed returns its stored summary
// without any provider I/O, and re-applying an output document rewrites the
// same cells with the same values.
func (a *Applier) Apply(ctx context.Context, e *Entry) (*ApplyResult, error) {
	if e.Processed {
		return &ApplyResult{
			Total:            e.ApplyTotal,
			Success:          e.ApplySuccess,
			Failed:           e.ApplyFailed,
			AlreadyProcessed: true,
		}, nil
	}
	if e.Status != openai.BatchStatusCompleted {
		return nil, errors.NewPreconditionError("batch %s is %s, not completed", e.LocalID, e.Status)
	}
	if e.OutputFileID == "" {
		return nil, errors.NewPreconditionError("batch %s has no output file yet", e.LocalID)
	}

	content, err := a.client.DownloadFileContent(ctx, e.OutputFileID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download batch output")
	}

	result := &ApplyResult{}
	usage := make(map[string]*promptUsage)
	var promptOrder []string

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		result.Total++

		if a.applyLine(e, line, usage, &promptOrder) {
			result.Success++
		} else {
			result.Failed++
		}
	}

	// One usage record per prompt per batch keeps the cost log readable
	// at any batch size.
	for _, name := range promptOrder {
		u := usage[name]
		cost := openai.CalculateCost(u.model, openai.PricingBatch, u.promptTokens, u.completionTokens)
		rec := &tracker.UsageRecord{
			BatchLocalID:     e.LocalID,
			PromptName:       name,
			Model:            u.model,
			PricingMode:      string(openai.PricingBatch),
			RequestCount:     u.requests,
			PromptTokens:     u.promptTokens,
			CompletionTokens: u.completionTokens,
			TotalTokens:      u.promptTokens + u.completionTokens,
			Cost:             cost,
		}
		if err := a.tracker.RecordUsage(rec); err != nil {
			logger.Warnw("failed to record usage", "prompt", name, "error", err)
		}
	}

	if err := a.grid.Save(); err != nil {
		return nil, errors.Wrap(err, "failed to save sheet after apply")
	}

	if err := a.ledger.MarkProcessed(e.LocalID, result.Total, result.Success, result.Failed); err != nil {
		return nil, err
	}
	e.Processed = true
	e.Status = StatusProcessed
	e.ApplyTotal = result.Total
	e.ApplySuccess = result.Success
	e.ApplyFailed = result.Failed

	logger.Infow("batch applied",
		"local_id", e.LocalID,
		"total", result.Total,
		"success", result.Success,
		"failed", result.Failed,
	)
	return result, nil
}

// applyLine processes one output line and reports whether it was applied.
// All failure paths record an error and return false; none abort the pass.
func (a *Applier) applyLine(e *Entry, line string, usage map[string]*promptUsage, promptOrder *[]string) bool {
	var parsed ResultLine
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		a.recordError(e, 0, "", "parse", "unparsable result line: "+err.Error())
		return false
	}

	corr, err := DecodeCorrelationID(parsed.CustomID)
	if err != nil {
		// Without a correlation there is no row to attribute this to.
		a.recordError(e, 0, "", "decode", err.Error())
		return false
	}

	if parsed.Failed() {
		a.recordError(e, corr.RowOrdinal, corr.PromptName, "provider", failureMessage(&parsed))
		return false
	}

	body := &parsed.Response.Body
	u, ok := usage[corr.PromptName]
	if !ok {
		u = &promptUsage{model: body.Model}
		usage[corr.PromptName] = u
		*promptOrder = append(*promptOrder, corr.PromptName)
	}
	u.requests++
	u.promptTokens += body.Usage.PromptTokens
	u.completionTokens += body.Usage.CompletionTokens

	fields, err := DecodeResultObject(body.Choices[0].Message.Content)
	if err != nil {
		a.recordError(e, corr.RowOrdinal, corr.PromptName, "parse", err.Error())
		return false
	}

	if err := WriteResultFields(a.grid, corr.RowOrdinal, corr.PromptName, fields); err != nil {
		a.recordError(e, corr.RowOrdinal, corr.PromptName, "write", err.Error())
		return false
	}
	if err := a.grid.SetStatus(corr.RowOrdinal, sheet.StatusApplied); err != nil {
		a.recordError(e, corr.RowOrdinal, corr.PromptName, "write", err.Error())
		return false
	}
	// Backfill for rows whose batch id stamp was lost to a torn write.
	if a.grid.BatchID(corr.RowOrdinal) == "" {
		if err := a.grid.SetBatchID(corr.RowOrdinal, e.LocalID); err != nil {
			a.recordError(e, corr.RowOrdinal, corr.PromptName, "write", err.Error())
			return false
		}
	}
	return true
}

func (a *Applier) recordError(e *Entry, row int, promptName, stage, message string) {
	logger.Debugw("result line failed",
		"local_id", e.LocalID, "row", row, "prompt", promptName, "stage", stage, "message", message)
	rec := &tracker.ErrorRecord{
		BatchLocalID: e.LocalID,
		RowOrdinal:   row,
		PromptName:   promptName,
		Stage:        stage,
		Message:      message,
	}
	if err := a.tracker.RecordError(rec); err != nil {
		logger.Warnw("failed to record error", "local_id", e.LocalID, "error", err)
	}
}

func failureMessage(l *ResultLine) string {
	switch {
	case l.Error != nil:
		return l.Error.Message
	case l.Response == nil:
		return "result line carries neither response nor error"
	case l.Response.Body.Error != nil:
		return l.Response.Body.Error.Message
	case len(l.Response.Body.Choices) == 0:
		return "response has no choices"
	default:
		return "provider returned status " + strconv.Itoa(l.Response.StatusCode)
	}
}
