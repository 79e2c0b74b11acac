// Package orchestrator drives one execution plan through dependency
// checks, conflict detection, optional simulation, execution, and
// failure recovery. One engine instance handles one request at a time;
// independent requests get independent engines sharing only the cache.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aishell/aish/pkg/analyzer"
	"github.com/aishell/aish/pkg/cache"
	"github.com/aishell/aish/pkg/command"
	"github.com/aishell/aish/pkg/config"
	"github.com/aishell/aish/pkg/conflict"
	"github.com/aishell/aish/pkg/deps"
	"github.com/aishell/aish/pkg/executor"
	"github.com/aishell/aish/pkg/history"
	"github.com/aishell/aish/pkg/logger"
	"github.com/aishell/aish/pkg/simulate"
)

type State string

const (
	StateReceived        State = "received"
	StateDependencyCheck State = "dependency-check"
	StateConflictCheck   State = "conflict-check"
	StateSimulate        State = "simulate"
	StateExecuting       State = "executing"
	StateDiagnosing      State = "diagnosing"
	StateAwaitingChoice  State = "awaiting-choice"
	StateRetrying        State = "retrying"
	StateCompleted       State = "completed"
	StateAborted         State = "aborted"
)

// Choice is the caller's answer to a prompt: an option index, a
// free-form override command, or a skip.
type Choice struct {
	Index    int
	Override string
	Skipped  bool
}

// Prompter is the UI surface. PresentChoice blocks until the caller
// answers or ctx expires; PresentProgress receives live output lines.
type Prompter interface {
	PresentChoice(ctx context.Context, prompt string, options []string) (Choice, error)
	PresentProgress(line string)
}

// Runner executes one step. *executor.Executor implements it; tests
// substitute deterministic fakes.
type Runner interface {
	Run(ctx context.Context, step command.Step, timeout time.Duration, progress executor.ProgressFunc) command.Result
}

// Outcome is the terminal report for one plan.
type Outcome struct {
	State     State
	Results   []command.Result
	Diagnosis *analyzer.Diagnosis
	Conflict  *conflict.Report
}

// Components are the collaborators an engine drives. Cache may be nil
// to disable memoization; Recorder may be nil to disable history.
type Components struct {
	Runner     Runner
	Deps       *deps.Manager
	Conflicts  *conflict.Detector
	Simulator  *simulate.Simulator
	Analyzer   *analyzer.Analyzer
	Cache      *cache.Cache
	Recorder   history.Recorder
	Prompter   Prompter
	WorkingDir string
}

type Engine struct {
	runner     Runner
	deps       *deps.Manager
	conflicts  *conflict.Detector
	simulator  *simulate.Simulator
	analyzer   *analyzer.Analyzer
	cache      *cache.Cache
	recorder   history.Recorder
	prompter   Prompter
	workingDir string

	timeout      time.Duration
	longTimeout  time.Duration
	choiceWait   time.Duration
	retryBudget  int
	simulateMode bool
}

func New(cfg *config.Config, c Components) *Engine {
	rec := c.Recorder
	if rec == nil {
		rec = history.NopRecorder{}
	}
	return &Engine{
		runner:       c.Runner,
		deps:         c.Deps,
		conflicts:    c.Conflicts,
		simulator:    c.Simulator,
		analyzer:     c.Analyzer,
		cache:        c.Cache,
		recorder:     rec,
		prompter:     c.Prompter,
		workingDir:   c.WorkingDir,
		timeout:      cfg.Execution.Timeout(),
		longTimeout:  cfg.Execution.LongTimeout(),
		choiceWait:   cfg.Execution.ChoiceWait(),
		retryBudget:  cfg.Execution.RetryBudget,
		simulateMode: cfg.Execution.SimulationMode,
	}
}

// SetSimulationMode toggles the dry-run confirmation gate at runtime.
func (e *Engine) SetSimulationMode(on bool) {
	e.simulateMode = on
}

// Execute drives the plan to Completed or Aborted. Side effects happen
// only while a step is executing; every other state is a decision over
// data already collected.
func (e *Engine) Execute(ctx context.Context, plan *command.Plan) Outcome {
	out := Outcome{State: StateReceived}
	attempts := make(map[int]int)
	installAttempted := make(map[string]bool)
	installFor := make(map[string]string)

	logger.InfoCF("orchestrator", "plan received", map[string]interface{}{
		"plan_id": plan.ID,
		"steps":   len(plan.Steps),
	})

	for i := 0; i < len(plan.Steps); i++ {
		step := plan.Steps[i]

		// DependencyCheck. Missing tools become install steps spliced
		// in front of the dependent step, each tool at most once, and
		// flow through the same pipeline as any other step.
		e.setState(&out, StateDependencyCheck, plan.ID)
		var installs []command.Step
		for _, req := range e.deps.Check(step) {
			if req.Satisfied || req.InstallCommand == "" || installAttempted[req.Tool] {
				continue
			}
			installAttempted[req.Tool] = true
			installFor[req.InstallCommand] = req.Tool
			installs = append(installs, command.NewStep(req.InstallCommand))
		}
		if len(installs) > 0 {
			plan.InsertBefore(i, installs...)
			logger.InfoCF("orchestrator", "install steps inserted", map[string]interface{}{
				"plan_id": plan.ID,
				"count":   len(installs),
				"at":      i,
			})
			i--
			continue
		}

		// ConflictCheck. A detected conflict suspends the step until
		// the caller picks a resolution.
		e.setState(&out, StateConflictCheck, plan.ID)
		if rep := e.conflicts.Detect(step, e.workingDir); rep != nil {
			resolved, abort := e.resolveConflict(ctx, &out, plan, i, rep)
			if abort {
				out.Conflict = rep
				out.Diagnosis = &analyzer.Diagnosis{
					Kind:        analyzer.KindConflictUnresolved,
					Explanation: fmt.Sprintf("%s already exists and no resolution was chosen for %q", rep.Path, rep.Command),
				}
				e.finish(&out, plan, StateAborted)
				return out
			}
			if !resolved {
				continue // existing state already satisfies the step
			}
			step = plan.Steps[i]
		}

		// Simulate. Destructive steps show their predicted effect and
		// need explicit confirmation before anything runs.
		if e.simulateMode && step.Destructive {
			e.setState(&out, StateSimulate, plan.ID)
			if !e.confirmSimulation(ctx, &out, step) {
				e.finish(&out, plan, StateAborted)
				return out
			}
		}

		if !e.executeStep(ctx, &out, plan, i, attempts) {
			e.finish(&out, plan, StateAborted)
			return out
		}

		// The dependency probe caches negative lookups; once an
		// install step has run, the tool it served must be re-probed
		// so later plans sharing the manager see it.
		if tool, ok := installFor[step.Text]; ok {
			e.deps.Invalidate(tool)
			delete(installFor, step.Text)
		}
	}

	e.finish(&out, plan, StateCompleted)
	return out
}

// resolveConflict prompts over the report's options. It returns
// (resolved=false) when the chosen option needs no execution and the
// existing state satisfies the step, and abort=true when the caller
// skipped or declined.
func (e *Engine) resolveConflict(ctx context.Context, out *Outcome, plan *command.Plan, i int, rep *conflict.Report) (resolved, abort bool) {
	labels := make([]string, len(rep.Options))
	for j, opt := range rep.Options {
		labels[j] = opt.Label
	}
	prompt := fmt.Sprintf("%s already exists (%s); how should %q proceed?", rep.Path, rep.Type, rep.Command)

	e.setState(out, StateAwaitingChoice, plan.ID)
	choice := e.awaitChoice(ctx, prompt, labels)

	switch {
	case choice.Override != "":
		plan.Steps[i] = command.NewStep(choice.Override)
		return true, false
	case choice.Skipped:
		return false, true
	default:
		opt := rep.Options[choice.Index]
		if opt.Command == "" {
			if opt.Satisfies {
				return false, false
			}
			return false, true
		}
		plan.Steps[i] = command.NewStep(opt.Command)
		return true, false
	}
}

// confirmSimulation shows the dry-run prediction and asks to proceed.
func (e *Engine) confirmSimulation(ctx context.Context, out *Outcome, step command.Step) bool {
	pred := e.simulator.Predict(step)
	prompt := fmt.Sprintf("dry run of %q: %s", step.Text, pred.Effect)
	if !pred.Confident {
		prompt += " (low confidence)"
	}

	e.setState(out, StateAwaitingChoice, "")
	choice := e.awaitChoice(ctx, prompt, []string{"Proceed with execution", "Skip this step"})
	return !choice.Skipped && choice.Index == 0 && choice.Override == ""
}

// executeStep runs plan position i until it succeeds, is skipped, or
// exhausts the retry budget. It reports whether the plan may advance;
// false means abort, whether by budget exhaustion or cancellation.
func (e *Engine) executeStep(ctx context.Context, out *Outcome, plan *command.Plan, i int, attempts map[int]int) bool {
	step := plan.Steps[i]
	timeout := e.timeout
	extendedUsed := false

	for {
		e.setState(out, StateExecuting, plan.ID)

		cacheable := e.cache != nil && command.ReadOnly(step.Text)
		key := cache.KeyFor(step.Text, e.workingDir)
		if cacheable {
			if res, ok := e.cache.Get(key); ok {
				logger.DebugCF("orchestrator", "cache hit", map[string]interface{}{
					"plan_id": plan.ID,
					"step":    i,
				})
				out.Results = append(out.Results, res)
				return true
			}
		}

		attempts[i]++
		res := e.runner.Run(ctx, step, timeout, e.prompter.PresentProgress)
		res.StepIndex = i
		out.Results = append(out.Results, res)

		if res.Success() {
			if cacheable {
				e.cache.Put(key, res)
			}
			return true
		}
		if ctx.Err() != nil {
			logger.WarnCF("orchestrator", "plan cancelled", map[string]interface{}{"plan_id": plan.ID})
			return false
		}

		// One automatic retry under the extended timeout before the
		// failure is escalated to the caller.
		if res.TimedOut && !extendedUsed && attempts[i] < e.retryBudget {
			extendedUsed = true
			timeout = e.longTimeout
			logger.InfoCF("orchestrator", "timeout, retrying with extended timeout", map[string]interface{}{
				"plan_id": plan.ID,
				"step":    i,
				"timeout": timeout.String(),
			})
			e.setState(out, StateRetrying, plan.ID)
			continue
		}

		e.setState(out, StateDiagnosing, plan.ID)
		diag := e.analyzer.Diagnose(ctx, res)
		out.Diagnosis = &diag

		if attempts[i] >= e.retryBudget {
			logger.WarnCF("orchestrator", "retry budget exhausted", map[string]interface{}{
				"plan_id":  plan.ID,
				"step":     i,
				"attempts": attempts[i],
			})
			return false
		}

		labels := make([]string, len(diag.Options))
		for j, opt := range diag.Options {
			labels[j] = opt.Label
		}
		e.setState(out, StateAwaitingChoice, plan.ID)
		choice := e.awaitChoice(ctx, diag.Explanation, labels)

		switch {
		case choice.Override != "":
			step = command.NewStep(choice.Override)
			plan.Steps[i] = step
			timeout = e.timeout
		case choice.Skipped:
			// Satisfied-by-skip: the failed result stays in the log
			// and the plan moves on.
			return true
		default:
			rem := diag.Options[choice.Index]
			if rem.Command == "" {
				return true
			}
			step = command.NewStep(rem.Command)
			plan.Steps[i] = step
			if rem.ExtendTimeout {
				timeout = e.longTimeout
			} else {
				timeout = e.timeout
			}
		}
		e.setState(out, StateRetrying, plan.ID)
	}
}

// awaitChoice forwards a prompt to the caller, bounded by the choice
// wait. Any error, timeout, or out-of-range answer counts as skip.
func (e *Engine) awaitChoice(ctx context.Context, prompt string, options []string) Choice {
	cctx := ctx
	if e.choiceWait > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, e.choiceWait)
		defer cancel()
	}

	choice, err := e.prompter.PresentChoice(cctx, prompt, options)
	if err != nil {
		logger.DebugCF("orchestrator", "no choice made, treating as skip", map[string]interface{}{
			"error": err.Error(),
		})
		return Choice{Skipped: true}
	}
	if choice.Override != "" {
		choice.Override = strings.TrimSpace(choice.Override)
		return choice
	}
	if !choice.Skipped && (choice.Index < 0 || choice.Index >= len(options)) {
		return Choice{Skipped: true}
	}
	return choice
}

func (e *Engine) setState(out *Outcome, s State, planID string) {
	out.State = s
	logger.DebugCF("orchestrator", "state transition", map[string]interface{}{
		"plan_id": planID,
		"state":   string(s),
	})
}

// finish sets the terminal state and records the history event.
func (e *Engine) finish(out *Outcome, plan *command.Plan, s State) {
	out.State = s

	commands := make([]string, len(plan.Steps))
	for i, st := range plan.Steps {
		commands[i] = st.Text
	}
	e.recorder.Record(history.Event{
		Time:      time.Now().UTC(),
		RequestID: plan.ID,
		UserText:  plan.Request,
		Commands:  commands,
		Results:   out.Results,
		State:     string(s),
	})

	logger.InfoCF("orchestrator", "plan finished", map[string]interface{}{
		"plan_id": plan.ID,
		"state":   string(s),
		"results": len(out.Results),
	})
}
