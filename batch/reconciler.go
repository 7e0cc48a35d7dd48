package batch

import (
	"context"
	"time"

	"github.com/sheetflow/sheetflow/ai/openai"
	"github.com/sheetflow/sheetflow/errors"
	"github.com/sheetflow/sheetflow/logger"
)

// StatusAPI is the slice of the provider client the reconciler needs
type StatusAPI interface {
	ListBatches(ctx context.Context, limit int) ([]openai.Batch, error)
	RetrieveBatch(ctx context.Context, batchID string) (*openai.Batch, error)
}

// Reconciler refreshes unprocessed ledger entries against the provider's
// batch list. The provider's list is eventually consistent, so
// reconciliation only ever adds information: entries missing from a
// snapshot are left untouched, statuses are refreshed but the processed
// flag is never cleared, and ledger entries are never deleted.
type Reconciler struct {
	client StatusAPI
	ledger *Ledger
}

// NewReconciler creates a reconciler over the given provider client and ledger
func NewReconciler(client StatusAPI, ledger *Ledger) *Reconciler {
	return &Reconciler{client: client, ledger: ledger}
}

// ReconcileAll refreshes every unprocessed ledger entry that appears in the
// provider's current batch list. It returns the entries after refresh, in
// submission order.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]*Entry, error) {
	entries, err := r.ledger.ListUnprocessed()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	snapshot, err := r.client.ListBatches(ctx, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch provider batch list")
	}
	byID := make(map[string]*openai.Batch, len(snapshot))
	for i := range snapshot {
		byID[snapshot[i].ID] = &snapshot[i]
	}

	for _, e := range entries {
		listed, ok := byID[e.ProviderID]
		if !ok {
			// Not in this snapshot. The provider list lags behind
			// recent submissions; skipping keeps the entry intact
			// for a later pass.
			logger.Debugw("batch absent from provider snapshot", "local_id", e.LocalID, "provider_id", e.ProviderID)
			continue
		}
		if !r.differs(e, listed) {
			continue
		}

		detail, err := r.client.RetrieveBatch(ctx, e.ProviderID)
		if err != nil {
			logger.Warnw("failed to retrieve batch detail",
				"local_id", e.LocalID, "provider_id", e.ProviderID, "error", err)
			continue
		}
		if err := r.refresh(e, detail); err != nil {
			return nil, err
		}
	}

	return entries, nil
}

// ReconcileOne refreshes a single entry directly, bypassing the list snapshot
func (r *Reconciler) ReconcileOne(ctx context.Context, e *Entry) error {
	if e.Processed {
		return nil
	}
	detail, err := r.client.RetrieveBatch(ctx, e.ProviderID)
	if err != nil {
		return errors.Wrapf(err, "failed to retrieve batch %s", e.ProviderID)
	}
	return r.refresh(e, detail)
}

// NextCompletedUnprocessed returns the oldest completed entry whose results
// have not been applied, or a not-found error when there is none. Oldest
// first keeps application order deterministic across runs.
func (r *Reconciler) NextCompletedUnprocessed() (*Entry, error) {
	entries, err := r.ledger.ListUnprocessed()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Status == openai.BatchStatusCompleted && e.OutputFileID != "" {
			return e, nil
		}
	}
	return nil, errors.NewNotFoundError("no completed unprocessed batch")
}

func (r *Reconciler) differs(e *Entry, b *openai.Batch) bool {
	return e.Status != b.Status ||
		e.Completed != b.RequestCounts.Completed ||
		e.Failed != b.RequestCounts.Failed ||
		(b.OutputFileID != "" && e.OutputFileID != b.OutputFileID)
}

// refresh copies provider-sourced fields onto the entry and persists it.
// File ids only ever fill in; a later snapshot without them never erases
// what an earlier one reported.
func (r *Reconciler) refresh(e *Entry, b *openai.Batch) error {
	e.Status = b.Status
	e.Completed = b.RequestCounts.Completed
	e.Failed = b.RequestCounts.Failed
	if b.RequestCounts.Total > 0 {
		e.Total = b.RequestCounts.Total
	}
	if b.OutputFileID != "" {
		e.OutputFileID = b.OutputFileID
	}
	if b.ErrorFileID != "" {
		e.ErrorFileID = b.ErrorFileID
	}
	now := time.Now().UTC()
	e.LastCheckedAt = &now

	logger.Debugw("batch reconciled",
		"local_id", e.LocalID,
		"provider_id", e.ProviderID,
		"status", e.Status,
		"completed", e.Completed,
		"failed", e.Failed,
	)
	return r.ledger.Update(e)
}
