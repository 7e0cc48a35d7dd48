package batch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/sheetflow/sheetflow/ai/openai"
	"github.com/sheetflow/sheetflow/errors"
	"github.com/sheetflow/sheetflow/logger"
	"github.com/sheetflow/sheetflow/prompt"
	"github.com/sheetflow/sheetflow/sheet"
)

// Provider hard limits for a single batch. Exceeding either is rejected
// locally before anything is uploaded.
const (
	MaxRequestsPerBatch = 50000
	MaxDocumentBytes    = 200 * 1024 * 1024
)

// MetadataLocalID is the provider-side metadata key carrying our ledger id
const MetadataLocalID = "sheetflow_local_id"

// UploadAPI is the slice of the provider client the submitter needs
type UploadAPI interface {
	UploadFile(ctx context.Context, filename string, content []byte, purpose string) (*openai.File, error)
	CreateBatch(ctx context.Context, inputFileID, endpoint, completionWindow string, metadata map[string]string) (*openai.Batch, error)
}

// SubmitterConfig carries the completion parameters stamped into every
// request envelope.
type SubmitterConfig struct {
	Temperature      float64
	MaxTokens        int
	Seed             int
	CompletionWindow string
}

// Submitter builds batch input documents from eligible sheet rows and
// active prompts and submits them to the provider.
type Submitter struct {
	grid    *sheet.Grid
	prompts []prompt.Prompt
	client  UploadAPI
	ledger  *Ledger
	config  SubmitterConfig
}

// NewSubmitter creates a submitter over the given grid and active prompts
func NewSubmitter(grid *sheet.Grid, prompts []prompt.Prompt, client UploadAPI, ledger *Ledger, config SubmitterConfig) *Submitter {
	if config.CompletionWindow == "" {
		config.CompletionWindow = openai.BatchCompletionWindow24h
	}
	return &Submitter{
		grid:    grid,
		prompts: prompts,
		client:  client,
		ledger:  ledger,
		config:  config,
	}
}

// SubmitResult summarizes one submission pass
type SubmitResult struct {
	LocalID       string
	ProviderID    string
	RequestCount  int
	RowCount      int
	RemainingRows int
	DocumentBytes int
}

// SelectRows scans rows top to bottom and returns the ordinals of eligible
// rows, up to limit (limit <= 0 means all), plus the count of eligible rows
// left beyond the cut.
func (s *Submitter) SelectRows(limit int) (selected []int, remaining int) {
	for row := 1; row <= s.grid.RowCount(); row++ {
		if !s.grid.Eligible(row) {
			continue
		}
		if limit > 0 && len(selected) >= limit {
			remaining++
			continue
		}
		selected = append(selected, row)
	}
	return selected, remaining
}

// BuildRequests renders one request envelope per (row, active prompt) pair,
// row-major, with the correlation id identifying each pair.
func (s *Submitter) BuildRequests(rows []int) ([]RequestLine, error) {
	requests := make([]RequestLine, 0, len(rows)*len(s.prompts))
	for _, row := range rows {
		fields, err := s.grid.Fields(row)
		if err != nil {
			return nil, err
		}
		for ord, p := range s.prompts {
			requests = append(requests, RequestLine{
				CustomID: EncodeCorrelationID(row, ord, p.Name),
				Method:   http.MethodPost,
				URL:      openai.ChatCompletionsEndpoint,
				Body: openai.ChatCompletionRequest{
					Model: p.Model,
					Messages: []openai.Message{
						{Role: "system", Content: SystemPrompt},
						{Role: "user", Content: prompt.Render(p.Text, fields)},
					},
					Temperature:    s.config.Temperature,
					MaxTokens:      s.config.MaxTokens,
					Seed:           s.config.Seed,
					ResponseFormat: &openai.ResponseFormat{Type: "json_object"},
				},
			})
		}
	}
	return requests, nil
}

// Submit selects up to rowLimit eligible rows, uploads the request document,
// creates the provider batch, records it in the ledger, and stamps the
// selected rows as submitted. Size limits are enforced before any upload, so
// an oversized selection leaves no trace anywhere.
func (s *Submitter) Submit(ctx context.Context, rowLimit int) (*SubmitResult, error) {
	if len(s.prompts) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "no active prompts")
	}

	rows, remaining := s.SelectRows(rowLimit)
	if len(rows) == 0 {
		return nil, errors.NewNotFoundError("no eligible rows to submit")
	}

	requests, err := s.BuildRequests(rows)
	if err != nil {
		return nil, err
	}
	if len(requests) > MaxRequestsPerBatch {
		return nil, errors.NewPreconditionError(
			"%d requests exceed the per-batch limit of %d; lower the row limit",
			len(requests), MaxRequestsPerBatch)
	}

	doc, err := EncodeDocument(requests)
	if err != nil {
		return nil, err
	}
	if len(doc) > MaxDocumentBytes {
		return nil, errors.NewPreconditionError(
			"input document is %d bytes, over the %d byte limit; lower the row limit",
			len(doc), MaxDocumentBytes)
	}

	localID := uuid.New().String()
	logger.Infow("submitting batch",
		"local_id", localID,
		"rows", len(rows),
		"requests", len(requests),
		"bytes", len(doc),
	)

	file, err := s.client.UploadFile(ctx, fmt.Sprintf("sheetflow-%s.jsonl", localID), doc, openai.FilePurposeBatch)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upload batch input")
	}

	providerBatch, err := s.client.CreateBatch(ctx, file.ID, openai.ChatCompletionsEndpoint,
		s.config.CompletionWindow, map[string]string{MetadataLocalID: localID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create batch")
	}

	if err := s.ledger.Insert(&Entry{
		LocalID:     localID,
		ProviderID:  providerBatch.ID,
		Status:      providerBatch.Status,
		InputFileID: file.ID,
		Total:       len(requests),
	}); err != nil {
		return nil, err
	}

	// The stamp is what keeps at-least-once delivery from becoming
	// double submission: stamped rows are never selected again.
	for _, row := range rows {
		if err := s.grid.SetBatchID(row, localID); err != nil {
			return nil, err
		}
		if err := s.grid.SetStatus(row, sheet.StatusSubmitted); err != nil {
			return nil, err
		}
	}
	if err := s.grid.Save(); err != nil {
		return nil, errors.Wrap(err, "batch submitted but sheet stamp failed")
	}

	logger.Infow("batch submitted",
		"local_id", localID,
		"provider_id", providerBatch.ID,
		"status", providerBatch.Status,
	)

	return &SubmitResult{
		LocalID:       localID,
		ProviderID:    providerBatch.ID,
		RequestCount:  len(requests),
		RowCount:      len(rows),
		RemainingRows: remaining,
		DocumentBytes: len(doc),
	}, nil
}
