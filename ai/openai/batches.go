package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/sheetflow/sheetflow/errors"
)

// Provider batch lifecycle statuses.
// https://platform.openai.com/docs/api-reference/batch
const (
	BatchStatusValidating = "validating"
	BatchStatusInProgress = "in_progress"
	BatchStatusFinalizing = "finalizing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
	BatchStatusExpired    = "expired"
	BatchStatusCancelled  = "cancelled"
)

// BatchCompletionWindow24h is the only completion window the provider accepts
const BatchCompletionWindow24h = "24h"

// BatchRequestCounts details the number of requests in a batch by status
type BatchRequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// BatchError provides details about a per-request error within a batch
type BatchError struct {
	Line    *int   `json:"line,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
}

// BatchErrors holds error data for a batch
type BatchErrors struct {
	Object string       `json:"object,omitempty"`
	Data   []BatchError `json:"data,omitempty"`
}

// Batch represents a provider batch object
type Batch struct {
	ID               string             `json:"id"`
	Object           string             `json:"object"`
	Endpoint         string             `json:"endpoint"`
	Errors           *BatchErrors       `json:"errors,omitempty"`
	InputFileID      string             `json:"input_file_id"`
	CompletionWindow string             `json:"completion_window"`
	Status           string             `json:"status"`
	OutputFileID     string             `json:"output_file_id,omitempty"`
	ErrorFileID      string             `json:"error_file_id,omitempty"`
	CreatedAt        int64              `json:"created_at"`
	InProgressAt     int64              `json:"in_progress_at,omitempty"`
	ExpiresAt        int64              `json:"expires_at,omitempty"`
	CompletedAt      int64              `json:"completed_at,omitempty"`
	FailedAt         int64              `json:"failed_at,omitempty"`
	CancelledAt      int64              `json:"cancelled_at,omitempty"`
	RequestCounts    BatchRequestCounts `json:"request_counts,omitempty"`
	Metadata         map[string]string  `json:"metadata,omitempty"`
}

// createBatchRequest is the wire request for POST /batches
type createBatchRequest struct {
	InputFileID      string            `json:"input_file_id"`
	Endpoint         string            `json:"endpoint"`
	CompletionWindow string            `json:"completion_window"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// batchList is the wire response for GET /batches
type batchList struct {
	Object  string  `json:"object"`
	Data    []Batch `json:"data"`
	HasMore bool    `json:"has_more"`
}

// CreateBatch submits an uploaded input document for asynchronous execution
// against the given endpoint.
func (c *Client) CreateBatch(ctx context.Context, inputFileID, endpoint, completionWindow string, metadata map[string]string) (*Batch, error) {
	if c.config.APIKey == "" {
		return nil, errors.ErrMissingAPIKey
	}

	reqBody, err := json.Marshal(createBatchRequest{
		InputFileID:      inputFileID,
		Endpoint:         endpoint,
		CompletionWindow: completionWindow,
		Metadata:         metadata,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal batch request")
	}

	respBody, err := c.post(ctx, "/batches", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "batch creation failed")
	}

	var batch Batch
	if err := json.Unmarshal(respBody, &batch); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal batch response")
	}

	return &batch, nil
}

// ListBatches returns the provider's batch list snapshot, newest first.
// The snapshot is eventually consistent and may lag recent submissions.
func (c *Client) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	if c.config.APIKey == "" {
		return nil, errors.ErrMissingAPIKey
	}
	if limit <= 0 {
		limit = 100
	}

	respBody, err := c.get(ctx, fmt.Sprintf("/batches?limit=%d", limit))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list batches")
	}

	var list batchList
	if err := json.Unmarshal(respBody, &list); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal batch list")
	}

	return list.Data, nil
}

// RetrieveBatch fetches the full detail of one batch
func (c *Client) RetrieveBatch(ctx context.Context, batchID string) (*Batch, error) {
	if c.config.APIKey == "" {
		return nil, errors.ErrMissingAPIKey
	}

	respBody, err := c.get(ctx, "/batches/"+batchID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to retrieve batch %s", batchID)
	}

	var batch Batch
	if err := json.Unmarshal(respBody, &batch); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal batch")
	}

	return &batch, nil
}

// CancelBatch asks the provider to cancel an in-flight batch
func (c *Client) CancelBatch(ctx context.Context, batchID string) (*Batch, error) {
	if c.config.APIKey == "" {
		return nil, errors.ErrMissingAPIKey
	}

	respBody, err := c.post(ctx, "/batches/"+batchID+"/cancel", "application/json", nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to cancel batch %s", batchID)
	}

	var batch Batch
	if err := json.Unmarshal(respBody, &batch); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal batch")
	}

	return &batch, nil
}
