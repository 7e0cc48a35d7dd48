// Package tracker records per-prompt usage/cost aggregates and structured
// per-row error records in the sheetflow database. Both tables are
// append-only.
package tracker

import (
	"database/sql"
	"time"

	"github.com/sheetflow/sheetflow/errors"
)

// UsageRecord is one cost-summary row: the aggregate usage of a single
// prompt across one batch application or synchronous run.
type UsageRecord struct {
	ID               int       `json:"id"`
	BatchLocalID     string    `json:"batch_local_id"` // "" for synchronous runs
	PromptName       string    `json:"prompt_name"`
	Model            string    `json:"model"`
	PricingMode      string    `json:"pricing_mode"` // "sync" or "batch"
	RequestCount     int       `json:"request_count"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Cost             float64   `json:"cost"`
	CreatedAt        time.Time `json:"created_at"`
}

// ErrorRecord is one error-log row. RowOrdinal 0 means the failure could
// not be attributed to a row (e.g. a correlation id that failed to decode).
type ErrorRecord struct {
	ID           int       `json:"id"`
	BatchLocalID string    `json:"batch_local_id"`
	RowOrdinal   int       `json:"row_ordinal"`
	PromptName   string    `json:"prompt_name"`
	Stage        string    `json:"stage"` // "decode", "provider", "parse", "completion", "write"
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}

// Tracker provides usage and error recording
type Tracker struct {
	db *sql.DB
}

// New creates a tracker backed by the sheetflow database
func New(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

// RecordUsage appends one cost-summary record
func (t *Tracker) RecordUsage(rec *UsageRecord) error {
	query := `
		INSERT INTO usage_log (
			batch_local_id, prompt_name, model, pricing_mode,
			request_count, prompt_tokens, completion_tokens, total_tokens, cost
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := t.db.Exec(query,
		rec.BatchLocalID, rec.PromptName, rec.Model, rec.PricingMode,
		rec.RequestCount, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.Cost,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record usage")
	}
	return nil
}

// RecordError appends one error-log record
func (t *Tracker) RecordError(rec *ErrorRecord) error {
	query := `
		INSERT INTO error_log (
			batch_local_id, row_ordinal, prompt_name, stage, message
		) VALUES (?, ?, ?, ?, ?)`

	_, err := t.db.Exec(query,
		rec.BatchLocalID, rec.RowOrdinal, rec.PromptName, rec.Stage, rec.Message,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record error")
	}
	return nil
}

// Stats represents aggregated usage statistics
type Stats struct {
	TotalRequests int     `json:"total_requests"`
	TotalTokens   int     `json:"total_tokens"`
	TotalCost     float64 `json:"total_cost"`
	ErrorCount    int     `json:"error_count"`
}

// GetStats returns usage statistics for records since the given time
func (t *Tracker) GetStats(since time.Time) (*Stats, error) {
	var stats Stats

	err := t.db.QueryRow(`
		SELECT
			COALESCE(SUM(request_count), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(cost), 0)
		FROM usage_log
		WHERE created_at >= ?`, since).Scan(
		&stats.TotalRequests, &stats.TotalTokens, &stats.TotalCost,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query usage stats")
	}

	err = t.db.QueryRow(`
		SELECT COUNT(*) FROM error_log WHERE created_at >= ?`, since).Scan(&stats.ErrorCount)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query error count")
	}

	return &stats, nil
}

// PromptBreakdown represents usage aggregated per prompt
type PromptBreakdown struct {
	PromptName   string  `json:"prompt_name"`
	Model        string  `json:"model"`
	RequestCount int     `json:"request_count"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

// GetPromptBreakdown returns usage grouped by prompt since the given time,
// most expensive first.
func (t *Tracker) GetPromptBreakdown(since time.Time) ([]PromptBreakdown, error) {
	rows, err := t.db.Query(`
		SELECT
			prompt_name, model,
			SUM(request_count), SUM(total_tokens), SUM(cost)
		FROM usage_log
		WHERE created_at >= ?
		GROUP BY prompt_name, model
		ORDER BY SUM(cost) DESC`, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query prompt breakdown")
	}
	defer rows.Close()

	var breakdown []PromptBreakdown
	for rows.Next() {
		var pb PromptBreakdown
		if err := rows.Scan(&pb.PromptName, &pb.Model, &pb.RequestCount, &pb.TotalTokens, &pb.TotalCost); err != nil {
			return nil, errors.Wrap(err, "failed to scan prompt breakdown")
		}
		breakdown = append(breakdown, pb)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating prompt breakdown")
	}

	return breakdown, nil
}
