package sheet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSheet(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAndFields(t *testing.T) {
	path := writeSheet(t, "Name,City\nAda,London\nLinus,Helsinki\n")

	g, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, g.RowCount())
	assert.Equal(t, []string{"Name", "City"}, g.Header())

	v, ok := g.Field(1, "Name")
	assert.True(t, ok)
	assert.Equal(t, "Ada", v)

	fields, err := g.Fields(2)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Name": "Linus", "City": "Helsinki"}, fields)

	_, err = g.Fields(3)
	assert.Error(t, err)
}

func TestColumnLookupIsCaseSensitive(t *testing.T) {
	path := writeSheet(t, "Name\nAda\n")

	g, err := Load(path)
	require.NoError(t, err)

	_, ok := g.ColumnIndex("name")
	assert.False(t, ok)
	_, ok = g.ColumnIndex("Name")
	assert.True(t, ok)
}

func TestEnsureColumnAppendOnly(t *testing.T) {
	path := writeSheet(t, "Name,City\nAda,London\n")

	g, err := Load(path)
	require.NoError(t, err)

	i := g.EnsureColumn("summary - sentiment")
	assert.Equal(t, 2, i)
	// Repeated calls return the same index without growing the header
	assert.Equal(t, 2, g.EnsureColumn("summary - sentiment"))
	assert.Equal(t, []string{"Name", "City", "summary - sentiment"}, g.Header())

	// Existing column order is never altered
	assert.Equal(t, 3, g.EnsureColumn("summary - topic"))
	assert.Equal(t, []string{"Name", "City", "summary - sentiment", "summary - topic"}, g.Header())
}

func TestSetFieldPadsShortRows(t *testing.T) {
	path := writeSheet(t, "Name,City\nAda\n")

	g, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, g.SetField(1, "City", "London"))
	v, ok := g.Field(1, "City")
	assert.True(t, ok)
	assert.Equal(t, "London", v)
}

func TestStatusMonotonic(t *testing.T) {
	path := writeSheet(t, "Name\nAda\n")

	g, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StatusUnset, g.Status(1))

	require.NoError(t, g.SetStatus(1, StatusApplied))
	assert.Equal(t, StatusApplied, g.Status(1))

	// Lowering a committed status is a no-op
	require.NoError(t, g.SetStatus(1, StatusUnset))
	assert.Equal(t, StatusApplied, g.Status(1))
}

func TestEligible(t *testing.T) {
	path := writeSheet(t, "Name\nAda\nLinus\nGrace\nKen\n")

	g, err := Load(path)
	require.NoError(t, err)

	assert.True(t, g.Eligible(1))

	// Status >= 1 skips the row even without a batch id
	require.NoError(t, g.SetStatus(2, StatusSubmitted))
	assert.False(t, g.Eligible(2))

	// A batch id alone skips the row (torn write recovery)
	require.NoError(t, g.SetBatchID(3, "b-123"))
	assert.False(t, g.Eligible(3))

	// A "0" batch id marks a sync run; it does not by itself skip the row
	require.NoError(t, g.SetBatchID(4, "0"))
	assert.True(t, g.Eligible(4))
}

func TestSaveRoundTrip(t *testing.T) {
	path := writeSheet(t, "Name,City\nAda,London\n")

	g, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, g.SetStatus(1, StatusSubmitted))
	require.NoError(t, g.SetBatchID(1, "b-1"))
	require.NoError(t, g.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, reloaded.Status(1))
	assert.Equal(t, "b-1", reloaded.BatchID(1))
	assert.Equal(t, []string{"Name", "City", ColumnStatus, ColumnBatchID}, reloaded.Header())
}

func TestSaveKeepsFileMode(t *testing.T) {
	path := writeSheet(t, "Name\nAda\n")
	require.NoError(t, os.Chmod(path, 0o664))

	g, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, g.Save())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o664), info.Mode().Perm())
}

func TestAppendRow(t *testing.T) {
	path := writeSheet(t, "Name,City\nAda,London\n")

	g, err := Load(path)
	require.NoError(t, err)

	g.AppendRow(map[string]string{"Name": "Grace", "City": "New York"})
	assert.Equal(t, 2, g.RowCount())

	v, _ := g.Field(2, "Name")
	assert.Equal(t, "Grace", v)
}
