// Package agent runs the request loop: it consumes user requests from
// the bus, answers built-in commands directly, and drives everything
// else through generation and the orchestration engine.
package agent

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/aishell/aish/pkg/analyzer"
	"github.com/aishell/aish/pkg/bus"
	"github.com/aishell/aish/pkg/cache"
	"github.com/aishell/aish/pkg/config"
	"github.com/aishell/aish/pkg/conflict"
	"github.com/aishell/aish/pkg/deps"
	"github.com/aishell/aish/pkg/executor"
	"github.com/aishell/aish/pkg/generate"
	"github.com/aishell/aish/pkg/history"
	"github.com/aishell/aish/pkg/logger"
	"github.com/aishell/aish/pkg/orchestrator"
	"github.com/aishell/aish/pkg/providers"
	"github.com/aishell/aish/pkg/simulate"
)

// ChoicePrompter answers interactive choices. The console owns the
// implementation; the loop never reads the terminal itself.
type ChoicePrompter interface {
	PresentChoice(ctx context.Context, prompt string, options []string) (orchestrator.Choice, error)
}

// Loop processes one request at a time. Shared mutable state across
// requests is limited to the cache and the history recorder.
type Loop struct {
	cfg       *config.Config
	bus       *bus.MessageBus
	generator *generate.Generator
	choices   ChoicePrompter

	runner    orchestrator.Runner
	deps      *deps.Manager
	conflicts *conflict.Detector
	simulator *simulate.Simulator
	analyzer  *analyzer.Analyzer
	cache     *cache.Cache
	sweeper   *cache.Sweeper
	recorder  history.Recorder
	context   *history.ContextBuilder

	workingDir string

	mu           sync.Mutex
	cancel       context.CancelFunc
	simulateMode bool
}

func New(cfg *config.Config, b *bus.MessageBus, provider providers.Provider, choices ChoicePrompter) (*Loop, error) {
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}

	exec, err := executor.New(workingDir, cfg.Execution.DenyPatterns)
	if err != nil {
		return nil, fmt.Errorf("building executor: %w", err)
	}

	gen := generate.New(provider, cfg.Provider.Model, cfg.Provider.MaxTokens)
	depsManager := deps.NewManager()

	var recorder history.Recorder = history.NopRecorder{}
	if cfg.History.Path != "" {
		jr, err := history.NewJSONLRecorder(cfg.History.Path, cfg.History.MaxBytes)
		if err != nil {
			return nil, fmt.Errorf("opening history: %w", err)
		}
		recorder = jr
	}

	l := &Loop{
		cfg:          cfg,
		bus:          b,
		generator:    gen,
		choices:      choices,
		runner:       exec,
		deps:         depsManager,
		conflicts:    conflict.NewDetector(),
		simulator:    simulate.New(),
		analyzer:     analyzer.New(depsManager, gen),
		recorder:     recorder,
		context:      history.NewContextBuilder(cfg.History.Path),
		workingDir:   workingDir,
		simulateMode: cfg.Execution.SimulationMode,
	}

	if cfg.Cache.Enabled {
		l.cache = cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL())
		if cfg.Cache.SweepSchedule != "" {
			l.sweeper = cache.NewSweeper(l.cache, cfg.Cache.SweepSchedule)
		}
	}
	return l, nil
}

// Run consumes requests until ctx is cancelled or the bus closes.
func (l *Loop) Run(ctx context.Context) {
	if l.sweeper != nil {
		go l.sweeper.Run(ctx)
	}

	logger.InfoCF("agent", "loop started", map[string]interface{}{
		"working_dir": l.workingDir,
		"provider":    l.cfg.Provider.Name,
	})

	for {
		req, ok := l.bus.ConsumeRequest(ctx)
		if !ok {
			logger.InfoCF("agent", "loop stopped", nil)
			return
		}
		l.process(ctx, req)
	}
}

// ProcessDirect handles one request synchronously, outside the bus.
func (l *Loop) ProcessDirect(ctx context.Context, text string) {
	l.process(ctx, bus.Request{ID: uuid.NewString(), Text: text})
}

// Close flushes the history recorder to disk. Call once the last
// request has been answered; requests after Close are undefined.
func (l *Loop) Close() {
	l.recorder.Close()
}

// Cancel aborts the in-flight request, if any. Completed steps and
// their results are retained.
func (l *Loop) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *Loop) process(parent context.Context, req bus.Request) {
	ctx, cancel := context.WithCancel(parent)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	defer func() {
		cancel()
		l.mu.Lock()
		l.cancel = nil
		l.mu.Unlock()
	}()

	text := strings.TrimSpace(l.expandAliases(req.Text))
	if text == "" {
		return
	}

	if reply, handled := l.builtin(text); handled {
		l.publish(ctx, bus.Event{Kind: bus.EventResult, RequestID: req.ID, Text: reply})
		return
	}

	l.publish(ctx, bus.Event{Kind: bus.EventInfo, RequestID: req.ID, Text: "generating commands"})

	env := generate.Environment{
		WorkingDir: l.workingDir,
		OS:         runtime.GOOS,
		Shell:      os.Getenv("SHELL"),
		Recent:     l.context.RecentCommands(5),
	}
	plan, err := l.generator.GeneratePlan(ctx, text, env)
	if err != nil {
		logger.ErrorCF("agent", "generation failed", map[string]interface{}{
			"request": req.ID,
			"error":   err.Error(),
		})
		l.publish(ctx, bus.Event{Kind: bus.EventError, RequestID: req.ID, Text: err.Error()})
		return
	}
	plan.ID = req.ID

	l.mu.Lock()
	simMode := l.simulateMode
	l.mu.Unlock()

	cfg := *l.cfg
	cfg.Execution.SimulationMode = simMode
	engine := orchestrator.New(&cfg, orchestrator.Components{
		Runner:     l.runner,
		Deps:       l.deps,
		Conflicts:  l.conflicts,
		Simulator:  l.simulator,
		Analyzer:   l.analyzer,
		Cache:      l.cache,
		Recorder:   l.recorder,
		Prompter:   &busPrompter{bus: l.bus, choices: l.choices, requestID: req.ID},
		WorkingDir: l.workingDir,
	})

	out := engine.Execute(ctx, plan)
	l.publishOutcome(ctx, req.ID, out)
}

func (l *Loop) publishOutcome(ctx context.Context, requestID string, out orchestrator.Outcome) {
	kind := bus.EventResult
	if out.State != orchestrator.StateCompleted {
		kind = bus.EventError
	}
	l.publish(ctx, bus.Event{Kind: kind, RequestID: requestID, Text: summarize(out)})
}

func (l *Loop) publish(ctx context.Context, ev bus.Event) {
	if err := l.bus.PublishEvent(ctx, ev); err != nil {
		logger.DebugCF("agent", "event dropped", map[string]interface{}{"error": err.Error()})
	}
}

// summarize renders an outcome as a short terminal report.
func summarize(out orchestrator.Outcome) string {
	var b strings.Builder

	for _, res := range out.Results {
		status := "ok"
		if res.TimedOut {
			status = "timed out"
		} else if res.ExitCode != 0 {
			status = fmt.Sprintf("exit %d", res.ExitCode)
		}
		fmt.Fprintf(&b, "[%s] %s\n", status, res.Command)
		if s := strings.TrimSpace(res.Stdout); s != "" {
			b.WriteString(s)
			b.WriteString("\n")
		}
	}

	switch out.State {
	case orchestrator.StateCompleted:
		fmt.Fprintf(&b, "done (%d step(s))", len(out.Results))
	case orchestrator.StateAborted:
		b.WriteString("aborted")
		if out.Conflict != nil {
			fmt.Fprintf(&b, ": unresolved conflict on %s", out.Conflict.Path)
		} else if out.Diagnosis != nil {
			fmt.Fprintf(&b, ": %s", out.Diagnosis.Explanation)
		}
	}
	return b.String()
}

// builtin answers the deterministic commands that never reach the
// model. It reports whether the text was handled.
func (l *Loop) builtin(text string) (string, bool) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return "", false
	}

	switch fields[0] {
	case "help":
		return helpText, true

	case "history":
		events, err := history.ReadRecent(l.cfg.History.Path, 10)
		if err != nil || len(events) == 0 {
			return "no history yet", true
		}
		var b strings.Builder
		for _, ev := range events {
			fmt.Fprintf(&b, "%s  %-9s %s\n", ev.Time.Local().Format("15:04:05"), ev.State, ev.UserText)
		}
		return strings.TrimRight(b.String(), "\n"), true

	case "clear-cache":
		if l.cache != nil {
			l.cache.Clear()
		}
		return "cache cleared", true

	case "clear-history":
		if l.cfg.History.Path != "" {
			if err := os.Truncate(l.cfg.History.Path, 0); err != nil && !os.IsNotExist(err) {
				return fmt.Sprintf("clearing history: %v", err), true
			}
		}
		return "history cleared", true

	case "simulate":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return "usage: simulate on|off", true
		}
		on := fields[1] == "on"
		l.mu.Lock()
		l.simulateMode = on
		l.mu.Unlock()
		if on {
			return "simulation mode on: destructive commands show a dry run first", true
		}
		return "simulation mode off", true

	case "aliases":
		if len(l.cfg.Aliases) == 0 {
			return "no aliases configured", true
		}
		names := make([]string, 0, len(l.cfg.Aliases))
		for name := range l.cfg.Aliases {
			names = append(names, name)
		}
		sort.Strings(names)
		var b strings.Builder
		for _, name := range names {
			fmt.Fprintf(&b, "%s = %s\n", name, l.cfg.Aliases[name])
		}
		return strings.TrimRight(b.String(), "\n"), true
	}
	return "", false
}

// expandAliases substitutes configured aliases for the leading word.
func (l *Loop) expandAliases(text string) string {
	trimmed := strings.TrimSpace(text)
	first, rest, _ := strings.Cut(trimmed, " ")
	if repl, ok := l.cfg.Aliases[first]; ok {
		if rest == "" {
			return repl
		}
		return repl + " " + rest
	}
	return text
}

const helpText = `commands:
  help            show this message
  history         show recent requests
  aliases         list configured aliases
  clear-cache     drop memoized command results
  clear-history   truncate the history file
  simulate on|off toggle dry-run confirmation for destructive commands
anything else is treated as a request and turned into shell commands`

// busPrompter is the engine-facing prompter: progress lines go out as
// bus events, choices go to the console prompter.
type busPrompter struct {
	bus       *bus.MessageBus
	choices   ChoicePrompter
	requestID string
}

func (p *busPrompter) PresentChoice(ctx context.Context, prompt string, options []string) (orchestrator.Choice, error) {
	if p.choices == nil {
		return orchestrator.Choice{Skipped: true}, nil
	}
	return p.choices.PresentChoice(ctx, prompt, options)
}

func (p *busPrompter) PresentProgress(line string) {
	_ = p.bus.PublishEvent(context.Background(), bus.Event{
		Kind:      bus.EventProgress,
		RequestID: p.requestID,
		Text:      line,
	})
}

var _ orchestrator.Prompter = (*busPrompter)(nil)
var _ orchestrator.Runner = (*executor.Executor)(nil)
var _ analyzer.Explainer = (*generate.Generator)(nil)
