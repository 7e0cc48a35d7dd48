package batch

import (
	"encoding/json"
	"strings"

	"github.com/sheetflow/sheetflow/errors"
	"github.com/sheetflow/sheetflow/sheet"
)

// ResultField is one key/value pair of a model's JSON answer, in the order
// the model emitted it. Order matters: result columns are created in
// first-seen order and json.Unmarshal into a map would scramble it.
type ResultField struct {
	Key   string
	Value string
}

// DecodeResultObject parses a model completion as a single flat JSON object,
// preserving key order. Non-string values are kept as their compact JSON
// rendering. Anything other than a top-level object is an error.
func DecodeResultObject(content string) ([]ResultField, error) {
	dec := json.NewDecoder(strings.NewReader(content))

	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Wrap(err, "completion is not valid JSON")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.Newf("completion is not a JSON object (starts with %v)", tok)
	}

	var fields []ResultField
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, errors.Wrap(err, "truncated JSON object")
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, errors.Newf("non-string object key %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, errors.Wrapf(err, "invalid value for key %q", key)
		}

		fields = append(fields, ResultField{Key: key, Value: rawToCell(raw)})
	}

	if _, err := dec.Token(); err != nil {
		return nil, errors.Wrap(err, "unterminated JSON object")
	}

	return fields, nil
}

// rawToCell renders a JSON value as a cell string: strings are unquoted,
// everything else keeps its JSON form.
func rawToCell(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// WriteResultFields writes a prompt's answer onto a row, one cell per key,
// under "{promptName} - {key}" columns. Columns are created on first use.
func WriteResultFields(g *sheet.Grid, row int, promptName string, fields []ResultField) error {
	for _, f := range fields {
		if err := g.SetField(row, promptName+" - "+f.Key, f.Value); err != nil {
			return err
		}
	}
	return nil
}
