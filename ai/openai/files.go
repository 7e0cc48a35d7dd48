package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"

	"github.com/sheetflow/sheetflow/errors"
)

// FilePurposeBatch is the purpose value for batch input documents
const FilePurposeBatch = "batch"

// File represents an OpenAI file object
type File struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
	Status    string `json:"status,omitempty"`
	Bytes     int    `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
}

// UploadFile uploads a document to the provider's file storage and returns
// the assigned file id. The content of a batch input document is
// newline-delimited JSON, one request envelope per line.
func (c *Client) UploadFile(ctx context.Context, filename string, content []byte, purpose string) (*File, error) {
	if c.config.APIKey == "" {
		return nil, errors.ErrMissingAPIKey
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("purpose", purpose); err != nil {
		return nil, errors.Wrap(err, "failed to write purpose field")
	}

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create form file")
	}
	if _, err := part.Write(content); err != nil {
		return nil, errors.Wrap(err, "failed to write file content")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to finalize multipart body")
	}

	respBody, err := c.post(ctx, "/files", writer.FormDataContentType(), &body)
	if err != nil {
		return nil, errors.Wrap(err, "file upload failed")
	}

	var file File
	if err := json.Unmarshal(respBody, &file); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal file response")
	}

	return &file, nil
}

// DownloadFileContent fetches the raw content of a stored file (e.g. a
// completed batch's output document).
func (c *Client) DownloadFileContent(ctx context.Context, fileID string) (string, error) {
	if c.config.APIKey == "" {
		return "", errors.ErrMissingAPIKey
	}
	if fileID == "" {
		return "", errors.Wrap(errors.ErrInvalidRequest, "empty file id")
	}

	respBody, err := c.get(ctx, "/files/"+fileID+"/content")
	if err != nil {
		return "", errors.Wrapf(err, "failed to download file %s", fileID)
	}

	return string(respBody), nil
}
