// Package openai is the provider collaborator: synchronous chat completions
// in JSON mode, file upload/download, and the asynchronous batch API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sheetflow/sheetflow/errors"
	"github.com/sheetflow/sheetflow/internal/httpclient"
)

const (
	// DefaultModel is the fallback model when none is specified
	DefaultModel = "gpt-4o-mini"

	// BaseURL is the OpenAI API endpoint
	BaseURL = "https://api.openai.com/v1"

	// ChatCompletionsEndpoint is the endpoint batch requests execute against
	ChatCompletionsEndpoint = "/v1/chat/completions"
)

// Client is an OpenAI API client
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *httpclient.SaferClient
	config     Config
	logger     *zap.SugaredLogger
}

// Config holds OpenAI client configuration
type Config struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Seed        int
	Logger      *zap.SugaredLogger // Structured logger (nil = nop logger)
}

// NewClient creates a new OpenAI API client
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1000
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		apiKey:     config.APIKey,
		baseURL:    BaseURL,
		httpClient: httpclient.NewSaferClient(120 * time.Second),
		config:     config,
		logger:     logger,
	}
}

// IsConfigured returns true if the client has an API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SetHTTPClient overrides the HTTP client. Only use this in tests.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}

// SetBaseURL points the client at a different API host. Only use this in tests.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// Message represents a message in a chat completion
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat selects the completion output format
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatCompletionRequest is the wire request for /chat/completions
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Seed           int             `json:"seed,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Choice represents a completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError is the provider's error envelope
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code,omitempty"`
}

// ChatCompletionResponse is the wire response from /chat/completions
type ChatCompletionResponse struct {
	ID      string    `json:"id"`
	Object  string    `json:"object"`
	Created int64     `json:"created"`
	Model   string    `json:"model"`
	Choices []Choice  `json:"choices"`
	Usage   Usage     `json:"usage"`
	Error   *APIError `json:"error,omitempty"`
}

// ChatRequest is a high-level completion request
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Model        string // "" = configured default
}

// ChatResponse is the high-level completion result
type ChatResponse struct {
	Content string
	Model   string
	Usage   Usage
}

// Chat sends a chat completion request in JSON mode with retry for
// transient network failures. Non-2xx responses and provider error
// envelopes are failures.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.config.APIKey == "" {
		return nil, errors.ErrMissingAPIKey
	}

	model := c.config.Model
	if req.Model != "" {
		model = req.Model
	}

	wireReq := ChatCompletionRequest{
		Model:          model,
		Temperature:    c.config.Temperature,
		MaxTokens:      c.config.MaxTokens,
		Seed:           c.config.Seed,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
		Messages: []Message{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
	}

	c.logger.Debugw("Chat request",
		"model", model,
		"temperature", c.config.Temperature,
		"max_tokens", c.config.MaxTokens,
		"user_prompt", req.UserPrompt,
	)

	maxRetries := 3
	var resp *ChatCompletionResponse
	var err error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * time.Second
			c.logger.Debugw("Retrying chat request",
				"attempt", attempt, "max_retries", maxRetries-1, "delay", delay)
			time.Sleep(delay)
		}

		resp, err = c.createChatCompletion(ctx, wireReq)
		if err == nil {
			break
		}

		c.logger.Warnw("OpenAI API error",
			"attempt", attempt+1, "max_retries", maxRetries, "error", err, "model", model)

		if !isRetryableError(err) {
			return nil, errors.Wrap(err, "OpenAI API error")
		}
	}

	if err != nil {
		return nil, errors.Wrapf(err, "OpenAI API error after %d retries", maxRetries)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("no response choices from OpenAI")
	}

	c.logger.Debugw("Chat response",
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"total_tokens", resp.Usage.TotalTokens,
	)

	return &ChatResponse{
		Content: strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:   resp.Model,
		Usage:   resp.Usage,
	}, nil
}

// createChatCompletion sends the wire request to /chat/completions
func (c *Client) createChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	respBody, err := c.post(ctx, "/chat/completions", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, err
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}

	if chatResp.Error != nil {
		return nil, errors.Newf("API error envelope: %s (%s)", chatResp.Error.Message, chatResp.Error.Type)
	}

	return &chatResp, nil
}

// post issues an authorized POST and returns the body of a 2xx response
func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(httpReq)
}

// get issues an authorized GET and returns the body of a 2xx response
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(httpReq)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Newf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// isRetryableError checks if an error is worth retrying (network-related)
func isRetryableError(err error) bool {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}

	if opErr, ok := err.(*net.OpError); ok {
		if errno, ok := opErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
				return true
			}
		}
	}

	errStr := strings.ToLower(err.Error())
	networkErrors := []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"i/o timeout",
	}

	for _, netErr := range networkErrors {
		if strings.Contains(errStr, netErr) {
			return true
		}
	}

	return false
}
