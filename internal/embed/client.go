// Package embed wraps the external embedding capability and the batch
// pipeline that drives it.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Config holds embedding client configuration.
type Config struct {
	SocketPath string        // Unix socket path for the model runner
	Model      string        // Model name (e.g., "ai/embeddinggemma")
	Timeout    time.Duration // per-call deadline, 0 uses the default
}

// defaultTimeout bounds one embeddings call so a hung model runner never
// stalls a pipeline worker.
const defaultTimeout = 120 * time.Second

// Client wraps the model runner embeddings API. The embedding dimension is
// whatever the active model returns; it is reported per call, never
// configured.
type Client struct {
	httpClient *http.Client
	model      string
}

// New creates a new embedding client.
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

// embeddingRequest is the request payload for the embeddings API.
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingResponse is the response from the embeddings API.
type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// MaxInputChars limits each input to stay within the model context window.
const MaxInputChars = 20000

// Embed generates embedding vectors for the given texts in one API call.
// It returns the vectors in input order plus the dimension the model
// produced. Inputs exceeding MaxInputChars are truncated from the end.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}

	input := make([]string, len(texts))
	for i, t := range texts {
		if len(t) > MaxInputChars {
			t = t[:MaxInputChars]
		}
		input[i] = t
	}

	req := embeddingRequest{Model: c.model, Input: input}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		"http://localhost/exp/vDD4.40/engines/llama.cpp/v1/embeddings",
		bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if embResp.Error != nil {
		return nil, 0, fmt.Errorf("API error: %s", embResp.Error.Message)
	}
	if len(embResp.Data) != len(texts) {
		return nil, 0, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embResp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, 0, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	dimension := 0
	for _, v := range vectors {
		if v == nil {
			return nil, 0, fmt.Errorf("missing embedding in response")
		}
		if dimension == 0 {
			dimension = len(v)
		} else if len(v) != dimension {
			return nil, 0, fmt.Errorf("inconsistent dimensions in response: %d and %d", dimension, len(v))
		}
	}

	slog.Debug("embeddings generated", "count", len(vectors), "dimension", dimension)
	return vectors, dimension, nil
}
