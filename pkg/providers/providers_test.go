package providers

import (
	"strings"
	"testing"

	"github.com/aishell/aish/pkg/config"
)

func TestCreateProviderByName(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr string
	}{
		{"anthropic", "sk-ant-test", ""},
		{"claude", "sk-ant-test", ""},
		{"openai", "sk-test", ""},
		{"openrouter", "sk-or-test", ""},
		{"anthropic", "", "requires an API key"},
		{"mystery", "key", "unknown provider"},
	}

	for _, tt := range tests {
		cfg := config.DefaultConfig()
		cfg.Provider.Name = tt.name
		cfg.Provider.APIKey = tt.apiKey

		p, err := CreateProvider(cfg)
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("CreateProvider(%s) failed: %v", tt.name, err)
			} else if p.GetDefaultModel() == "" {
				t.Errorf("CreateProvider(%s) has no default model", tt.name)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("CreateProvider(%s) err = %v, want %q", tt.name, err, tt.wantErr)
		}
	}
}

func TestBuildClaudeParams(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "you translate requests into commands"},
		{Role: "user", Content: "list the files"},
	}
	params := buildClaudeParams(messages, "claude-sonnet-4-5-20250929", map[string]interface{}{"max_tokens": 512})

	if len(params.System) != 1 {
		t.Errorf("system blocks = %d, want 1", len(params.System))
	}
	if len(params.Messages) != 1 {
		t.Errorf("messages = %d, want 1 (system rides separately)", len(params.Messages))
	}
	if params.MaxTokens != 512 {
		t.Errorf("max tokens = %d, want 512", params.MaxTokens)
	}
}
