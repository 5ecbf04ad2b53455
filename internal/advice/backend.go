package advice

import (
	"context"
	"fmt"

	"github.com/letieu/advice-scorer/config"
)

// NewBackend builds the chat backend selected by llm.provider.
func NewBackend(ctx context.Context, cfg *config.Config) (Completer, error) {
	switch cfg.LLM.Provider {
	case "mistral":
		return NewMistral(cfg.Mistral.APIKey, cfg.LLM.Model, cfg.Mistral.BaseURL), nil
	case "gemini":
		return NewGemini(ctx, cfg.Gemini.APIKey, cfg.LLM.Model, "")
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}
}
