// Package generate turns a natural language request into an ordered
// command plan by prompting the configured model, and lends the same
// model to failure explanations.
package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/aishell/aish/pkg/command"
	"github.com/aishell/aish/pkg/logger"
	"github.com/aishell/aish/pkg/providers"
)

const planSystemPrompt = `You translate user requests into shell commands.

Rules:
- Reply with the command(s) only. No prose, no markdown fences, no numbering.
- One command per line, in execution order.
- Prefer simple portable POSIX commands.
- If several commands are needed, emit them on separate lines rather than chaining with &&.
- Never emit interactive commands (editors, pagers, REPLs).`

const explainSystemPrompt = `You explain shell command failures in one or two plain sentences.
State the most likely cause. Do not suggest fixes, the caller presents those separately.`

// Environment is the execution context the prompt is grounded in.
type Environment struct {
	WorkingDir string
	OS         string
	Shell      string
	Recent     []string // commands from recent history, oldest first
}

type Generator struct {
	provider  providers.Provider
	model     string
	maxTokens int
}

func New(provider providers.Provider, model string, maxTokens int) *Generator {
	if model == "" {
		model = provider.GetDefaultModel()
	}
	return &Generator{provider: provider, model: model, maxTokens: maxTokens}
}

// GeneratePlan asks the model for commands fulfilling the request and
// wraps them in a plan. An empty model reply is an error; the engine
// has nothing to run.
func (g *Generator) GeneratePlan(ctx context.Context, request string, env Environment) (*command.Plan, error) {
	messages := []providers.Message{
		{Role: "system", Content: planSystemPrompt},
		{Role: "user", Content: renderRequest(request, env)},
	}

	resp, err := g.provider.Chat(ctx, messages, g.model, map[string]interface{}{
		"max_tokens":  g.maxTokens,
		"temperature": 0.0,
	})
	if err != nil {
		return nil, fmt.Errorf("generating plan: %w", err)
	}

	lines := Sanitize(resp.Content)
	if len(lines) == 0 {
		return nil, fmt.Errorf("model returned no commands for %q", request)
	}

	steps := make([]command.Step, 0, len(lines))
	for _, line := range lines {
		steps = append(steps, command.NewStep(line))
	}

	logger.DebugCF("generate", "plan generated", map[string]interface{}{
		"request": request,
		"steps":   len(steps),
		"model":   resp.Model,
	})
	return command.NewPlan(request, steps), nil
}

// ExplainFailure satisfies the analyzer's Explainer.
func (g *Generator) ExplainFailure(ctx context.Context, cmd string, stderr string, kind string) (string, error) {
	prompt := fmt.Sprintf("Command: %s\nError class: %s\nStderr:\n%s", cmd, kind, truncate(stderr, 2000))
	messages := []providers.Message{
		{Role: "system", Content: explainSystemPrompt},
		{Role: "user", Content: prompt},
	}

	resp, err := g.provider.Chat(ctx, messages, g.model, map[string]interface{}{
		"max_tokens":  g.maxTokens,
		"temperature": 0.0,
	})
	if err != nil {
		return "", fmt.Errorf("explaining failure: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

func renderRequest(request string, env Environment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", request)
	if env.WorkingDir != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", env.WorkingDir)
	}
	if env.OS != "" {
		fmt.Fprintf(&b, "Operating system: %s\n", env.OS)
	}
	if env.Shell != "" {
		fmt.Fprintf(&b, "Shell: %s\n", env.Shell)
	}
	if len(env.Recent) > 0 {
		b.WriteString("Recent commands:\n")
		for _, c := range env.Recent {
			fmt.Fprintf(&b, "  %s\n", c)
		}
	}
	return b.String()
}

// Sanitize strips markdown fences, language tags, prompt echoes and
// blank lines from a model reply, returning one command per entry.
func Sanitize(raw string) []string {
	var out []string
	inFence := false
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if trimmed == "" || trimmed == "bash" || trimmed == "sh" || trimmed == "shell" {
			continue
		}
		trimmed = stripOrdinal(trimmed)
		trimmed = strings.TrimPrefix(trimmed, "$ ")
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// stripOrdinal removes leading "1." / "2)" numbering some models add
// despite the prompt.
func stripOrdinal(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}
