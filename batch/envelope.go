package batch

import (
	"bytes"
	"encoding/json"

	"github.com/sheetflow/sheetflow/ai/openai"
	"github.com/sheetflow/sheetflow/errors"
)

// SystemPrompt is sent with every completion request, batch or synchronous.
// JSON mode requires the word "JSON" to appear in the conversation.
const SystemPrompt = "You are a data processing assistant. Answer the instruction using only the row data provided. Return valid JSON only."

// RequestLine is one line of a batch input document: a self-contained
// chat completion request addressed by correlation id.
type RequestLine struct {
	CustomID string                       `json:"custom_id"`
	Method   string                       `json:"method"`
	URL      string                       `json:"url"`
	Body     openai.ChatCompletionRequest `json:"body"`
}

// ResultResponse is the embedded HTTP response of a batch result line
type ResultResponse struct {
	StatusCode int                           `json:"status_code"`
	RequestID  string                        `json:"request_id,omitempty"`
	Body       openai.ChatCompletionResponse `json:"body"`
}

// ResultLine is one line of a batch output document. Exactly one of
// Response and Error carries the outcome; a present Error or a non-2xx
// status code means the request failed.
type ResultLine struct {
	ID       string           `json:"id"`
	CustomID string           `json:"custom_id"`
	Response *ResultResponse  `json:"response,omitempty"`
	Error    *openai.APIError `json:"error,omitempty"`
}

// Failed reports whether the line carries a per-request failure rather
// than a completion.
func (l *ResultLine) Failed() bool {
	if l.Error != nil {
		return true
	}
	if l.Response == nil {
		return true
	}
	if l.Response.StatusCode < 200 || l.Response.StatusCode >= 300 {
		return true
	}
	if l.Response.Body.Error != nil {
		return true
	}
	return len(l.Response.Body.Choices) == 0
}

// EncodeDocument serializes request lines as a newline-delimited JSON
// document, the provider's batch input format.
func EncodeDocument(lines []RequestLine) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range lines {
		if err := enc.Encode(&lines[i]); err != nil {
			return nil, errors.Wrapf(err, "failed to encode request %s", lines[i].CustomID)
		}
	}
	return buf.Bytes(), nil
}
