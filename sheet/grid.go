// Package sheet provides the tabular row-state store: a 2-D grid of named
// columns loaded from a CSV file, with the per-row status and batch
// correlation columns sheetflow maintains.
package sheet

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sheetflow/sheetflow/errors"
)

// Reserved columns created on first use.
const (
	// ColumnStatus holds the per-row progress marker
	ColumnStatus = "Status"
	// ColumnBatchID holds the local ledger id of the batch the row was
	// submitted in ("0" for synchronous runs)
	ColumnBatchID = "Batch ID"
)

// Status is the per-row progress marker.
//
// Transitions are monotonically non-decreasing within this system:
// UNSET -> (sync run) -> Submitted, or UNSET -> Submitted -> Applied.
// Resets are an external operator action.
type Status int

const (
	// StatusUnset marks a row that has not been processed
	StatusUnset Status = 0
	// StatusSubmitted marks a row submitted in a batch and awaiting results,
	// or completed by a synchronous run
	StatusSubmitted Status = 1
	// StatusApplied marks a row whose batch results have been written back
	StatusApplied Status = 2
)

// Grid is a CSV-backed 2-D cell grid. The first record is the header; data
// rows are addressed by 1-based ordinal, stable for the grid's lifetime.
type Grid struct {
	path   string
	header []string
	rows   [][]string
	index  map[string]int
}

// Load reads the grid from a CSV file. An empty file yields an empty header.
func Load(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sheet %s", path)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // rows may be shorter than the header

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse sheet %s", path)
	}

	g := &Grid{path: path, index: make(map[string]int)}
	if len(records) > 0 {
		g.header = records[0]
		g.rows = records[1:]
	}
	for i, name := range g.header {
		g.index[name] = i
	}

	return g, nil
}

// Save writes the grid back to its file. The write goes through a temp file
// in the same directory plus rename, so a crash never leaves a torn sheet.
func (g *Grid) Save() error {
	dir := filepath.Dir(g.path)
	tmp, err := os.CreateTemp(dir, ".sheetflow-*.csv")
	if err != nil {
		return errors.Wrap(err, "failed to create temp sheet")
	}
	tmpPath := tmp.Name()

	writer := csv.NewWriter(tmp)
	records := make([][]string, 0, len(g.rows)+1)
	records = append(records, g.header)
	for _, row := range g.rows {
		records = append(records, g.padded(row))
	}
	if err := writer.WriteAll(records); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "failed to write sheet")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "failed to flush sheet")
	}

	// CreateTemp makes the file 0600; keep the sheet's existing mode.
	if info, err := os.Stat(g.path); err == nil {
		if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
			os.Remove(tmpPath)
			return errors.Wrap(err, "failed to set sheet permissions")
		}
	}

	if err := os.Rename(tmpPath, g.path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to replace sheet %s", g.path)
	}
	return nil
}

// padded returns row extended with empty cells to the header width.
func (g *Grid) padded(row []string) []string {
	if len(row) >= len(g.header) {
		return row
	}
	out := make([]string, len(g.header))
	copy(out, row)
	return out
}

// Path returns the file path the grid was loaded from
func (g *Grid) Path() string { return g.path }

// RowCount returns the number of data rows
func (g *Grid) RowCount() int { return len(g.rows) }

// Header returns the current header row
func (g *Grid) Header() []string { return g.header }

// ColumnIndex returns the 0-based index of a column by exact,
// case-sensitive header match.
func (g *Grid) ColumnIndex(name string) (int, bool) {
	i, ok := g.index[name]
	return i, ok
}

// EnsureColumn returns the index of the named column, appending it at the
// end of the header if absent. Existing column order is never altered.
func (g *Grid) EnsureColumn(name string) int {
	if i, ok := g.index[name]; ok {
		return i
	}
	g.header = append(g.header, name)
	i := len(g.header) - 1
	g.index[name] = i
	return i
}

// Field returns the value of a named column for the given 1-based row
// ordinal. The second return is false when the column does not exist.
func (g *Grid) Field(row int, col string) (string, bool) {
	i, ok := g.index[col]
	if !ok {
		return "", false
	}
	r, err := g.dataRow(row)
	if err != nil {
		return "", false
	}
	if i >= len(r) {
		return "", true
	}
	return r[i], true
}

// Fields returns all named column values for the given row ordinal.
func (g *Grid) Fields(row int) (map[string]string, error) {
	r, err := g.dataRow(row)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(g.header))
	for name, i := range g.index {
		if i < len(r) {
			fields[name] = r[i]
		} else {
			fields[name] = ""
		}
	}
	return fields, nil
}

// SetField writes one cell, creating the column if absent.
func (g *Grid) SetField(row int, col, value string) error {
	i := g.EnsureColumn(col)
	r, err := g.dataRow(row)
	if err != nil {
		return err
	}
	if i >= len(r) {
		r = g.padded(r)
		g.rows[row-1] = r
	}
	r[i] = value
	return nil
}

// AppendRow adds a data row from named fields. Fields naming unknown
// columns are ignored; use EnsureColumn first to extend the header.
func (g *Grid) AppendRow(fields map[string]string) {
	row := make([]string, len(g.header))
	for name, value := range fields {
		if i, ok := g.index[name]; ok {
			row[i] = value
		}
	}
	g.rows = append(g.rows, row)
}

// Status returns the row's progress marker. An absent column, empty cell,
// or unparseable value reads as StatusUnset.
func (g *Grid) Status(row int) Status {
	v, ok := g.Field(row, ColumnStatus)
	if !ok || v == "" {
		return StatusUnset
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return StatusUnset
	}
	return Status(n)
}

// SetStatus advances the row's progress marker. Lowering a committed status
// is never done by this system (resets are an external operator action), so
// a transition below the current value is a no-op.
func (g *Grid) SetStatus(row int, s Status) error {
	if s < g.Status(row) {
		return nil
	}
	return g.SetField(row, ColumnStatus, strconv.Itoa(int(s)))
}

// BatchID returns the row's batch correlation id, "" when unset.
func (g *Grid) BatchID(row int) string {
	v, _ := g.Field(row, ColumnBatchID)
	return v
}

// SetBatchID stamps the row with a batch's local ledger id.
func (g *Grid) SetBatchID(row int, id string) error {
	return g.SetField(row, ColumnBatchID, id)
}

// Eligible reports whether a row may be included in a new submission pass:
// status unset and no batch correlation assigned. A row stamped by an
// earlier pass is never selected again, even if only one of the two fields
// was written before a crash.
func (g *Grid) Eligible(row int) bool {
	if g.Status(row) != StatusUnset {
		return false
	}
	id := g.BatchID(row)
	return id == "" || id == "0"
}

func (g *Grid) dataRow(row int) ([]string, error) {
	if row < 1 || row > len(g.rows) {
		return nil, errors.Newf("row ordinal %d out of range (1-%d)", row, len(g.rows))
	}
	return g.rows[row-1], nil
}
