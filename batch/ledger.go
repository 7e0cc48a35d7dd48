package batch

import (
	"database/sql"
	"time"

	"github.com/sheetflow/sheetflow/errors"
)

// StatusProcessed is the local terminal status a ledger entry reaches once
// its results have been applied. It is never reported by the provider.
const StatusProcessed = "processed"

// Entry is one row of the batch ledger: the local record of a submitted
// provider batch and its application outcome.
type Entry struct {
	Seq           int64      `json:"seq"`
	LocalID       string     `json:"local_id"`
	ProviderID    string     `json:"provider_id"`
	Status        string     `json:"status"`
	InputFileID   string     `json:"input_file_id"`
	OutputFileID  string     `json:"output_file_id"`
	ErrorFileID   string     `json:"error_file_id"`
	Total         int        `json:"total"`
	Completed     int        `json:"completed"`
	Failed        int        `json:"failed"`
	Processed     bool       `json:"processed"`
	ApplyTotal    int        `json:"apply_total"`
	ApplySuccess  int        `json:"apply_success"`
	ApplyFailed   int        `json:"apply_failed"`
	CreatedAt     time.Time  `json:"created_at"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
}

// Ledger is the sqlite-backed batch ledger
type Ledger struct {
	db *sql.DB
}

// NewLedger creates a ledger backed by the sheetflow database
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

const entryColumns = `seq, local_id, provider_id, status, input_file_id,
	output_file_id, error_file_id, total, completed, failed, processed,
	apply_total, apply_success, apply_failed, created_at, last_checked_at`

// Insert records a newly submitted batch
func (l *Ledger) Insert(e *Entry) error {
	if e.LocalID == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "empty local id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.Exec(`
		INSERT INTO batches (local_id, provider_id, status, input_file_id, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.LocalID, e.ProviderID, e.Status, e.InputFileID, e.Total, e.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to insert batch %s", e.LocalID)
	}
	return nil
}

// Get returns the entry with the given local id
func (l *Ledger) Get(localID string) (*Entry, error) {
	row := l.db.QueryRow(`SELECT `+entryColumns+` FROM batches WHERE local_id = ?`, localID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("batch %s not found", localID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load batch %s", localID)
	}
	return e, nil
}

// GetByProviderID returns the entry tracking the given provider batch id
func (l *Ledger) GetByProviderID(providerID string) (*Entry, error) {
	row := l.db.QueryRow(`SELECT `+entryColumns+` FROM batches WHERE provider_id = ?`, providerID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no batch tracks provider id %s", providerID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load batch by provider id %s", providerID)
	}
	return e, nil
}

// List returns entries in submission order, oldest first. limit <= 0 means all.
func (l *Ledger) List(limit int) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM batches ORDER BY seq`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return l.queryEntries(query, args...)
}

// ListUnprocessed returns entries whose results have not been applied yet,
// in submission order. This order makes result application deterministic.
func (l *Ledger) ListUnprocessed() ([]*Entry, error) {
	return l.queryEntries(`SELECT ` + entryColumns + ` FROM batches WHERE processed = 0 ORDER BY seq`)
}

// Update refreshes provider-sourced fields of an entry: status, request
// counters, output/error file ids, and the last-checked timestamp. The
// processed flag and apply counters are owned by MarkProcessed.
func (l *Ledger) Update(e *Entry) error {
	res, err := l.db.Exec(`
		UPDATE batches
		SET provider_id = ?, status = ?, output_file_id = ?, error_file_id = ?,
		    total = ?, completed = ?, failed = ?, last_checked_at = ?
		WHERE local_id = ?`,
		e.ProviderID, e.Status, e.OutputFileID, e.ErrorFileID,
		e.Total, e.Completed, e.Failed, e.LastCheckedAt,
		e.LocalID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update batch %s", e.LocalID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}
	if n == 0 {
		return errors.NewNotFoundError("batch %s not found", e.LocalID)
	}
	return nil
}

// MarkProcessed flips an entry to its terminal state and stores the apply
// summary. The flip happens at most once: a second call is a no-op and the
// originally stored counters stand.
func (l *Ledger) MarkProcessed(localID string, applyTotal, applySuccess, applyFailed int) error {
	_, err := l.db.Exec(`
		UPDATE batches
		SET processed = 1, status = ?, apply_total = ?, apply_success = ?, apply_failed = ?
		WHERE local_id = ? AND processed = 0`,
		StatusProcessed, applyTotal, applySuccess, applyFailed, localID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to mark batch %s processed", localID)
	}
	return nil
}

func (l *Ledger) queryEntries(query string, args ...any) ([]*Entry, error) {
	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query batches")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan batch")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate batches")
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var lastChecked sql.NullTime
	err := row.Scan(
		&e.Seq, &e.LocalID, &e.ProviderID, &e.Status, &e.InputFileID,
		&e.OutputFileID, &e.ErrorFileID, &e.Total, &e.Completed, &e.Failed,
		&e.Processed, &e.ApplyTotal, &e.ApplySuccess, &e.ApplyFailed,
		&e.CreatedAt, &lastChecked,
	)
	if err != nil {
		return nil, err
	}
	if lastChecked.Valid {
		t := lastChecked.Time
		e.LastCheckedAt = &t
	}
	return &e, nil
}
