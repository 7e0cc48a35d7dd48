// Package batch implements the batch orchestration and row-state
// reconciliation engine: submission of bounded request batches, the local
// ledger tracking each batch's lifecycle, reconciliation against the
// provider's eventually-consistent status API, and idempotent application
// of results back onto sheet rows.
package batch

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/sheetflow/sheetflow/errors"
)

// correlationDelimiter joins the correlation id segments. Prompt names may
// themselves contain it; decoding recovers the name from the rejoined tail.
const correlationDelimiter = "-"

// ErrCorrelationDecode marks a correlation id that could not be decoded.
// Callers isolate this failure per result line; it never aborts processing
// of sibling lines.
var ErrCorrelationDecode = errors.New("malformed correlation id")

// Correlation identifies the (row, prompt) pair a submitted request
// originated from. It is the sole channel carrying that identity through
// the provider's opaque request/response cycle.
type Correlation struct {
	RowOrdinal    int
	PromptOrdinal int
	PromptName    string
}

// EncodeCorrelationID builds the request correlation id:
//
//	row-{rowOrdinal}-prompt-{promptOrdinal}-{urlEncodedPromptName}
func EncodeCorrelationID(rowOrdinal, promptOrdinal int, promptName string) string {
	return strings.Join([]string{
		"row", strconv.Itoa(rowOrdinal),
		"prompt", strconv.Itoa(promptOrdinal),
		url.QueryEscape(promptName),
	}, correlationDelimiter)
}

// DecodeCorrelationID reverses EncodeCorrelationID. The prompt name is the
// suffix: all tokens after the prompt ordinal are rejoined before percent
// decoding, so names containing the delimiter survive the round trip.
func DecodeCorrelationID(id string) (Correlation, error) {
	tokens := strings.Split(id, correlationDelimiter)
	if len(tokens) < 5 {
		return Correlation{}, errors.Wrapf(ErrCorrelationDecode, "%q: expected at least 5 tokens, got %d", id, len(tokens))
	}
	if tokens[0] != "row" || tokens[2] != "prompt" {
		return Correlation{}, errors.Wrapf(ErrCorrelationDecode, "%q: unexpected markers %q/%q", id, tokens[0], tokens[2])
	}

	rowOrdinal, err := strconv.Atoi(tokens[1])
	if err != nil {
		return Correlation{}, errors.Wrapf(ErrCorrelationDecode, "%q: row ordinal %q is not an integer", id, tokens[1])
	}
	promptOrdinal, err := strconv.Atoi(tokens[3])
	if err != nil {
		return Correlation{}, errors.Wrapf(ErrCorrelationDecode, "%q: prompt ordinal %q is not an integer", id, tokens[3])
	}

	name, err := url.QueryUnescape(strings.Join(tokens[4:], correlationDelimiter))
	if err != nil {
		return Correlation{}, errors.Wrapf(ErrCorrelationDecode, "%q: %v", id, err)
	}

	return Correlation{
		RowOrdinal:    rowOrdinal,
		PromptOrdinal: promptOrdinal,
		PromptName:    name,
	}, nil
}

// String implements fmt.Stringer for log output
func (c Correlation) String() string {
	return fmt.Sprintf("row %d / prompt %d (%s)", c.RowOrdinal, c.PromptOrdinal, c.PromptName)
}
