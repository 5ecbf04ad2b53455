package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/letieu/advice-scorer/internal/retry"
)

type OllamaEmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type OllamaEmbeddingResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Client turns text into vectors through a local Ollama server. Vectors are
// cached by input text, which saves calls when a scoring attempt is retried
// and when the same advice or comment text shows up again in the process.
type Client struct {
	host       string
	model      string
	httpClient *http.Client
	cache      *lru.Cache[string, []float32]
}

func New(host, model string, cacheSize int) (*Client, error) {
	if host == "" {
		host = "http://localhost:11434"
	}
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Client{
		host:       strings.TrimRight(host, "/"),
		model:      model,
		httpClient: &http.Client{},
		cache:      cache,
	}, nil
}

func (c *Client) Model() string {
	return c.model
}

// Embed returns the embedding for inputText using the Ollama /api/embed endpoint.
func (c *Client) Embed(ctx context.Context, inputText string) ([]float32, error) {
	if v, ok := c.cache.Get(inputText); ok {
		return v, nil
	}

	reqBody := OllamaEmbeddingRequest{
		Model: c.model,
		Input: inputText,
	}

	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to marshal Ollama embedding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx,
		http.MethodPost,
		c.host+"/api/embed",
		bytes.NewBuffer(raw),
	)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create Ollama embedding request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("failed to call Ollama embedding API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("Ollama embedding API error (status %d): %s", resp.StatusCode, body)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, retry.Transient(err)
		}
		return nil, retry.Permanent(err)
	}

	var parsed OllamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, retry.Transient(fmt.Errorf("failed to decode Ollama embedding response: %w", err))
	}

	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, retry.Transient(fmt.Errorf("empty embedding returned from Ollama"))
	}

	c.cache.Add(inputText, parsed.Embeddings[0])
	return parsed.Embeddings[0], nil
}
