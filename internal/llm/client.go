package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Config holds LLM client configuration.
type Config struct {
	SocketPath string        // Unix socket path for Docker Model Runner
	Model      string        // Model name (e.g., "ai/gemma3")
	Timeout    time.Duration // per-call deadline, 0 uses the default
}

// defaultTimeout bounds one completion call so a hung model runner never
// stalls the caller.
const defaultTimeout = 120 * time.Second

// Client wraps the Docker Model Runner chat completions API.
type Client struct {
	httpClient *http.Client
	model      string
}

// New creates a new LLM client.
func New(config Config) (*Client, error) {
	if config.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return net.Dial("unix", config.SocketPath)
		},
	}

	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: config.Timeout},
		model:      config.Model,
	}, nil
}

// chatRequest is the request payload for the chat completions API.
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the response from the chat completions API.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt to the LLM and returns the response.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithMaxTokens(ctx, prompt, 0)
}

// CompleteWithMaxTokens sends a prompt with a token limit on the response.
// If maxTokens is 0, no limit is applied.
func (c *Client) CompleteWithMaxTokens(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens: maxTokens,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		"http://localhost/exp/vDD4.40/engines/llama.cpp/v1/chat/completions",
		bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response returned")
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// MaxContentForSummary limits content sent to the LLM when generating a
// document summary. 20k chars matches the embedding input limit and is
// plenty of context for a short summary.
const MaxContentForSummary = 20000

// maxSummaryTokens caps summary length. Summaries are prepended to every
// chunk before embedding, so they have to stay short.
const maxSummaryTokens = 120

// SummarizeDocument generates a short retrieval summary for a document.
// Note: runs sequentially because DMR can only handle one LLM request at a time.
func (c *Client) SummarizeDocument(ctx context.Context, title, content string) (string, error) {
	if len(content) > MaxContentForSummary {
		content = content[:MaxContentForSummary]
	}

	prompt := fmt.Sprintf(`Write a 2-3 sentence summary of the following document.
The summary is prepended to each chunk of the document before embedding, so it
must situate the chunk: name the product, library, or topic and what the
document covers. Use specific technical terms.

Title: %s

Content:
%s

Return ONLY the summary sentences. No preamble like "This document...".`, title, content)

	return c.CompleteWithMaxTokens(ctx, prompt, maxSummaryTokens)
}
