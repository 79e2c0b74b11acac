package generate

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/aishell/aish/pkg/providers"
)

type mockProvider struct {
	reply    string
	err      error
	lastMsgs []providers.Message
}

func (m *mockProvider) Chat(_ context.Context, messages []providers.Message, _ string, _ map[string]interface{}) (*providers.LLMResponse, error) {
	m.lastMsgs = messages
	if m.err != nil {
		return nil, m.err
	}
	return &providers.LLMResponse{Content: m.reply, FinishReason: "stop"}, nil
}

func (m *mockProvider) GetDefaultModel() string { return "mock-model" }

func TestGeneratePlan(t *testing.T) {
	mock := &mockProvider{reply: "mkdir project\ncd project"}
	g := New(mock, "", 1024)

	plan, err := g.GeneratePlan(context.Background(), "set up a project dir", Environment{WorkingDir: "/work"})
	if err != nil {
		t.Fatalf("GeneratePlan failed: %v", err)
	}
	if plan.ID == "" {
		t.Error("plan has no ID")
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(plan.Steps))
	}
	if plan.Steps[0].Text != "mkdir project" {
		t.Errorf("first step = %q", plan.Steps[0].Text)
	}
	if len(mock.lastMsgs) != 2 || mock.lastMsgs[0].Role != "system" {
		t.Errorf("prompt messages = %+v", mock.lastMsgs)
	}
}

func TestGeneratePlanEmptyReply(t *testing.T) {
	g := New(&mockProvider{reply: "```bash\n```"}, "", 1024)
	if _, err := g.GeneratePlan(context.Background(), "do nothing", Environment{}); err == nil {
		t.Error("empty reply should be an error")
	}
}

func TestGeneratePlanProviderError(t *testing.T) {
	g := New(&mockProvider{err: errors.New("rate limited")}, "", 1024)
	if _, err := g.GeneratePlan(context.Background(), "anything", Environment{}); err == nil {
		t.Error("provider error should propagate")
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "fenced with language tag",
			raw:  "```bash\nls -la\n```",
			want: []string{"ls -la"},
		},
		{
			name: "bare language word",
			raw:  "sh\necho hi",
			want: []string{"echo hi"},
		},
		{
			name: "prompt echo and numbering",
			raw:  "1. $ mkdir out\n2) touch out/a",
			want: []string{"mkdir out", "touch out/a"},
		},
		{
			name: "blank lines dropped",
			raw:  "\n\nls\n\n",
			want: []string{"ls"},
		},
		{
			name: "version-like text survives ordinal strip",
			raw:  "python3 --version",
			want: []string{"python3 --version"},
		},
	}

	for _, tt := range tests {
		if got := Sanitize(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: Sanitize(%q) = %v, want %v", tt.name, tt.raw, got, tt.want)
		}
	}
}

func TestExplainFailure(t *testing.T) {
	mock := &mockProvider{reply: "  the path was removed earlier \n"}
	g := New(mock, "", 1024)

	text, err := g.ExplainFailure(context.Background(), "rm x", "No such file", "not-found")
	if err != nil {
		t.Fatalf("ExplainFailure failed: %v", err)
	}
	if text != "the path was removed earlier" {
		t.Errorf("text = %q", text)
	}
}
