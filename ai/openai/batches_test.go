package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Config{APIKey: "test-key"})
	client.SetHTTPClient(server.Client())
	client.SetBaseURL(server.URL)
	return client
}

func TestUploadFile(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if purpose := r.FormValue("purpose"); purpose != FilePurposeBatch {
			t.Errorf("expected purpose %q, got %q", FilePurposeBatch, purpose)
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		content, _ := io.ReadAll(f)
		if !strings.Contains(string(content), "custom_id") {
			t.Errorf("expected NDJSON body, got %q", content)
		}
		if header.Filename != "batch-input.jsonl" {
			t.Errorf("unexpected filename %s", header.Filename)
		}

		json.NewEncoder(w).Encode(File{ID: "file-abc", Object: "file", Purpose: FilePurposeBatch})
	})

	file, err := client.UploadFile(context.Background(), "batch-input.jsonl",
		[]byte(`{"custom_id":"row-1-prompt-0-summary"}`+"\n"), FilePurposeBatch)
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if file.ID != "file-abc" {
		t.Errorf("expected file-abc, got %s", file.ID)
	}
}

func TestCreateBatch(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req createBatchRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.InputFileID != "file-abc" {
			t.Errorf("expected input file id, got %q", req.InputFileID)
		}
		if req.Endpoint != ChatCompletionsEndpoint {
			t.Errorf("expected chat completions endpoint, got %q", req.Endpoint)
		}
		if req.CompletionWindow != BatchCompletionWindow24h {
			t.Errorf("expected 24h window, got %q", req.CompletionWindow)
		}

		json.NewEncoder(w).Encode(Batch{
			ID:          "batch_1",
			Status:      BatchStatusValidating,
			InputFileID: req.InputFileID,
			RequestCounts: BatchRequestCounts{
				Total: 20,
			},
		})
	})

	batch, err := client.CreateBatch(context.Background(), "file-abc",
		ChatCompletionsEndpoint, BatchCompletionWindow24h, nil)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if batch.ID != "batch_1" || batch.Status != BatchStatusValidating {
		t.Errorf("unexpected batch %+v", batch)
	}
}

func TestListBatches(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "100" {
			t.Errorf("expected default limit 100, got %q", got)
		}
		json.NewEncoder(w).Encode(batchList{
			Object: "list",
			Data: []Batch{
				{ID: "batch_2", Status: BatchStatusCompleted, OutputFileID: "file-out"},
				{ID: "batch_1", Status: BatchStatusInProgress},
			},
		})
	})

	batches, err := client.ListBatches(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if batches[0].OutputFileID != "file-out" {
		t.Errorf("expected output file id on completed batch")
	}
}

func TestRetrieveAndCancelBatch(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET" && r.URL.Path == "/batches/batch_1":
			json.NewEncoder(w).Encode(Batch{ID: "batch_1", Status: BatchStatusInProgress})
		case r.Method == "POST" && r.URL.Path == "/batches/batch_1/cancel":
			json.NewEncoder(w).Encode(Batch{ID: "batch_1", Status: BatchStatusCancelled})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	batch, err := client.RetrieveBatch(context.Background(), "batch_1")
	if err != nil {
		t.Fatalf("RetrieveBatch: %v", err)
	}
	if batch.Status != BatchStatusInProgress {
		t.Errorf("unexpected status %s", batch.Status)
	}

	cancelled, err := client.CancelBatch(context.Background(), "batch_1")
	if err != nil {
		t.Fatalf("CancelBatch: %v", err)
	}
	if cancelled.Status != BatchStatusCancelled {
		t.Errorf("unexpected status %s", cancelled.Status)
	}
}

func TestDownloadFileContent(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/file-out/content" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `{"custom_id":"row-1-prompt-0-summary"}`+"\n")
	})

	content, err := client.DownloadFileContent(context.Background(), "file-out")
	if err != nil {
		t.Fatalf("DownloadFileContent: %v", err)
	}
	if !strings.Contains(content, "custom_id") {
		t.Errorf("unexpected content %q", content)
	}

	if _, err := client.DownloadFileContent(context.Background(), ""); err == nil {
		t.Error("expected error for empty file id")
	}
}
