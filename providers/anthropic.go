package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"sqlpilot/config"
)

const anthropicVersion = "2023-06-01"

// AnthropicClient handles communication with the Claude messages API
type AnthropicClient struct {
	httpClient *http.Client
}

// NewAnthropicClient creates a new Anthropic API client
func NewAnthropicClient() *AnthropicClient {
	return &AnthropicClient{
		httpClient: &http.Client{},
	}
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CreateMessageRequest represents the request to create a message
type CreateMessageRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
}

// Content represents a content block in the response
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage represents token usage information
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CreateMessageResponse represents the response from creating a message
type CreateMessageResponse struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Role    string    `json:"role"`
	Content []Content `json:"content"`
	Model   string    `json:"model"`
	Usage   Usage     `json:"usage"`
}

// Complete sends a system prompt and a user message to the model and returns
// the raw text of the reply. The caller bounds the call through ctx.
func (c *AnthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	cfg := config.Get()

	request := CreateMessageRequest{
		Model:     cfg.CompletionModel,
		System:    system,
		MaxTokens: cfg.MaxTokens,
		Messages: []Message{
			{Role: "user", Content: user},
		},
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return "", serr.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", cfg.CompletionAPIURL, bytes.NewReader(requestBody))
	if err != nil {
		return "", serr.Wrap(err, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", cfg.CompletionAPIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	logger.Info("Completion request", "model", cfg.CompletionModel, "url", cfg.CompletionAPIURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", serr.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", serr.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return "", serr.New(fmt.Sprintf("completion API returned status %d: %s", resp.StatusCode, string(body)))
	}

	var response CreateMessageResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", serr.Wrap(err, "failed to unmarshal response")
	}

	for _, content := range response.Content {
		if content.Type == "text" {
			logger.Info("Completion response",
				"inputTokens", response.Usage.InputTokens,
				"outputTokens", response.Usage.OutputTokens)
			return content.Text, nil
		}
	}

	return "", serr.New("completion response contained no text content")
}
