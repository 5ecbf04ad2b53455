package advice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/letieu/advice-scorer/internal/retry"
)

type Mistral struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

type MistralChatRequest struct {
	Model       string           `json:"model"`
	Messages    []MistralMessage `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

type MistralMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type MistralChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int            `json:"index"`
		Message      MistralMessage `json:"message"`
		FinishReason string         `json:"finish_reason"`
	} `json:"choices"`
}

func NewMistral(apiKey, model, baseURL string) *Mistral {
	if baseURL == "" {
		baseURL = "https://api.mistral.ai/v1"
	}
	return &Mistral{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

func (m *Mistral) Model() string {
	return m.model
}

func (m *Mistral) Complete(ctx context.Context, in CompletionRequest) (string, error) {
	reqBody := MistralChatRequest{
		Model:       m.model,
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
	}
	if in.System != "" {
		reqBody.Messages = append(reqBody.Messages, MistralMessage{Role: "system", Content: in.System})
	}
	reqBody.Messages = append(reqBody.Messages, MistralMessage{Role: "user", Content: in.User})

	raw, err := json.Marshal(reqBody)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx,
		http.MethodPost,
		m.baseURL+"/chat/completions",
		bytes.NewBuffer(raw),
	)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", retry.Transient(fmt.Errorf("failed to call Mistral API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", classifyStatus(resp.StatusCode,
			fmt.Errorf("Mistral API error (status %d): %s", resp.StatusCode, body))
	}

	var mistralResp MistralChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&mistralResp); err != nil {
		return "", retry.Transient(fmt.Errorf("failed to decode response: %w", err))
	}

	if len(mistralResp.Choices) == 0 {
		return "", retry.Transient(fmt.Errorf("no choices in response"))
	}

	return mistralResp.Choices[0].Message.Content, nil
}
