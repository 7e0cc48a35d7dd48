package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetflow/sheetflow/sheet"
)

// writeSheet creates a CSV-backed grid in a temp dir for tests.
func writeSheet(t *testing.T, content string) *sheet.Grid {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sheet.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	g, err := sheet.Load(path)
	require.NoError(t, err)
	return g
}

func TestDecodeResultObjectPreservesKeyOrder(t *testing.T) {
	fields, err := DecodeResultObject(`{"zeta":"last?","alpha":"no","mid":3}`)
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, "zeta", fields[0].Key)
	assert.Equal(t, "alpha", fields[1].Key)
	assert.Equal(t, "mid", fields[2].Key)
}

func TestDecodeResultObjectValueRendering(t *testing.T) {
	fields, err := DecodeResultObject(`{"s":"plain","n":4.5,"b":true,"nul":null,"arr":[1,2],"obj":{"k":"v"}}`)
	require.NoError(t, err)
	require.Len(t, fields, 6)

	byKey := map[string]string{}
	for _, f := range fields {
		byKey[f.Key] = f.Value
	}
	assert.Equal(t, "plain", byKey["s"])
	assert.Equal(t, "4.5", byKey["n"])
	assert.Equal(t, "true", byKey["b"])
	assert.Equal(t, "null", byKey["nul"])
	assert.Equal(t, "[1,2]", byKey["arr"])
	assert.Equal(t, `{"k":"v"}`, byKey["obj"])
}

func TestDecodeResultObjectRejectsNonObjects(t *testing.T) {
	for _, content := range []string{
		`not json at all`,
		`"just a string"`,
		`[1,2,3]`,
		`{"truncated": `,
		``,
	} {
		_, err := DecodeResultObject(content)
		assert.Error(t, err, "content %q", content)
	}
}

func TestWriteResultFieldsNamespacesColumns(t *testing.T) {
	g := writeSheet(t, "Name\nalice\n")

	err := WriteResultFields(g, 1, "sentiment", []ResultField{
		{Key: "label", Value: "positive"},
		{Key: "confidence", Value: "0.9"},
	})
	require.NoError(t, err)

	v, ok := g.Field(1, "sentiment - label")
	require.True(t, ok)
	assert.Equal(t, "positive", v)
	v, ok = g.Field(1, "sentiment - confidence")
	require.True(t, ok)
	assert.Equal(t, "0.9", v)

	// Columns append in first-seen order after the existing header.
	assert.Equal(t, []string{"Name", "sentiment - label", "sentiment - confidence"}, g.Header())
}

func TestEncodeDocumentIsNDJSON(t *testing.T) {
	doc, err := EncodeDocument([]RequestLine{
		{CustomID: "row-1-prompt-0-a", Method: "POST", URL: "/v1/chat/completions"},
		{CustomID: "row-2-prompt-0-a", Method: "POST", URL: "/v1/chat/completions"},
	})
	require.NoError(t, err)

	lines := 0
	for _, b := range doc {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 2, lines)
	assert.Contains(t, string(doc), `"custom_id":"row-1-prompt-0-a"`)
}
