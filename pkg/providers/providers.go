// Package providers abstracts the LLM backends used for plan
// generation and failure explanation.
package providers

import (
	"context"
	"fmt"

	"github.com/aishell/aish/pkg/config"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type LLMResponse struct {
	Content      string
	FinishReason string
	Usage        *UsageInfo
	Model        string
}

type Provider interface {
	Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error)
	GetDefaultModel() string
}

// CreateProvider builds the provider named in the config. OpenRouter
// rides the OpenAI wire format with a different base URL.
func CreateProvider(cfg *config.Config) (Provider, error) {
	switch cfg.Provider.Name {
	case "anthropic", "claude":
		if cfg.Provider.APIKey == "" {
			return nil, fmt.Errorf("provider %q requires an API key (set AISH_API_KEY)", cfg.Provider.Name)
		}
		return NewClaudeProvider(cfg.Provider.APIKey), nil
	case "openai":
		if cfg.Provider.APIKey == "" {
			return nil, fmt.Errorf("provider %q requires an API key (set AISH_API_KEY)", cfg.Provider.Name)
		}
		return NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.BaseURL), nil
	case "openrouter":
		if cfg.Provider.APIKey == "" {
			return nil, fmt.Errorf("provider %q requires an API key (set AISH_API_KEY)", cfg.Provider.Name)
		}
		base := cfg.Provider.BaseURL
		if base == "" {
			base = "https://openrouter.ai/api/v1"
		}
		return NewOpenAIProvider(cfg.Provider.APIKey, base), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}
