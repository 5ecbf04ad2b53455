package advice

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/letieu/advice-scorer/internal/retry"
)

type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini builds a Gemini API backend. baseURL overrides the API endpoint
// and is empty in production.
func NewGemini(ctx context.Context, apiKey, model, baseURL string) (*Gemini, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Model() string {
	return g.model
}

func (g *Gemini) Complete(ctx context.Context, in CompletionRequest) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(in.Temperature)),
	}
	if in.MaxTokens > 0 {
		config.MaxOutputTokens = int32(in.MaxTokens)
	}
	if in.System != "" {
		config.SystemInstruction = genai.NewContentFromText(in.System, genai.RoleUser)
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(in.User), config)
	if err != nil {
		return "", classifyGeminiError(err)
	}

	if fb := result.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return "", retry.Permanent(fmt.Errorf("gemini blocked prompt: %s", fb.BlockReason))
	}
	if len(result.Candidates) > 0 && result.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", retry.Permanent(fmt.Errorf("gemini stopped for safety"))
	}

	return result.Text(), nil
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, fmt.Errorf("gemini API error: %w", err))
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return classifyStatus(apiErrPtr.Code, fmt.Errorf("gemini API error: %w", err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return retry.Transient(err)
	}
	return retry.Transient(fmt.Errorf("call gemini: %w", err))
}
