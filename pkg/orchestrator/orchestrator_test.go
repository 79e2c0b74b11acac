package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aishell/aish/pkg/analyzer"
	"github.com/aishell/aish/pkg/cache"
	"github.com/aishell/aish/pkg/command"
	"github.com/aishell/aish/pkg/config"
	"github.com/aishell/aish/pkg/conflict"
	"github.com/aishell/aish/pkg/deps"
	"github.com/aishell/aish/pkg/executor"
	"github.com/aishell/aish/pkg/simulate"
)

// scriptedPrompter replays a fixed sequence of choices and records the
// prompts it saw.
type scriptedPrompter struct {
	t       *testing.T
	choices []Choice
	prompts []string
	options [][]string
}

func (p *scriptedPrompter) PresentChoice(ctx context.Context, prompt string, options []string) (Choice, error) {
	p.prompts = append(p.prompts, prompt)
	p.options = append(p.options, options)
	if len(p.choices) == 0 {
		p.t.Fatalf("unexpected prompt %q with options %v", prompt, options)
	}
	c := p.choices[0]
	p.choices = p.choices[1:]
	return c, nil
}

func (p *scriptedPrompter) PresentProgress(string) {}

// fakeRunner returns canned results and records what it was asked.
type fakeRunner struct {
	calls    int
	timeouts []time.Duration
	handler  func(step command.Step, timeout time.Duration) command.Result
}

func (f *fakeRunner) Run(_ context.Context, step command.Step, timeout time.Duration, _ executor.ProgressFunc) command.Result {
	f.calls++
	f.timeouts = append(f.timeouts, timeout)
	if f.handler != nil {
		return f.handler(step, timeout)
	}
	return command.Result{Command: step.Text, ExitCode: 0}
}

func allPresent(tool string) (string, error) { return "/usr/bin/" + tool, nil }

func newTestEngine(t *testing.T, runner Runner, prompter Prompter, mutate func(*config.Config, *Components)) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()

	if runner == nil {
		real, err := executor.New(dir, nil)
		if err != nil {
			t.Fatalf("executor.New failed: %v", err)
		}
		runner = real
	}

	depsManager := deps.NewManagerWithLookPath(allPresent)
	c := Components{
		Runner:     runner,
		Deps:       depsManager,
		Conflicts:  conflict.NewDetector(),
		Simulator:  simulate.New(),
		Analyzer:   analyzer.New(depsManager, nil),
		Prompter:   prompter,
		WorkingDir: dir,
	}
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg, &c)
	}
	return New(cfg, c), dir
}

func planOf(request string, texts ...string) *command.Plan {
	steps := make([]command.Step, 0, len(texts))
	for _, tx := range texts {
		steps = append(steps, command.NewStep(tx))
	}
	return command.NewPlan(request, steps)
}

func TestExecuteTwoStepPlanCompletes(t *testing.T) {
	p := &scriptedPrompter{t: t}
	e, dir := newTestEngine(t, nil, p, nil)

	out := e.Execute(context.Background(), planOf("set up project", "mkdir project", "touch project/main.py"))

	if out.State != StateCompleted {
		t.Fatalf("state = %s, want completed (diagnosis: %+v)", out.State, out.Diagnosis)
	}
	if len(out.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(out.Results))
	}
	for _, res := range out.Results {
		if res.ExitCode != 0 {
			t.Errorf("step %d exit = %d, want 0", res.StepIndex, res.ExitCode)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "project", "main.py")); err != nil {
		t.Errorf("expected file created: %v", err)
	}
	if len(p.prompts) != 0 {
		t.Errorf("prompts = %v, want none", p.prompts)
	}
}

func TestConflictSkipAbortsWithoutExecuting(t *testing.T) {
	runner := &fakeRunner{}
	p := &scriptedPrompter{t: t, choices: []Choice{{Skipped: true}}}
	e, dir := newTestEngine(t, runner, p, nil)

	if err := os.Mkdir(filepath.Join(dir, "existing_dir"), 0755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	out := e.Execute(context.Background(), planOf("clone it", "git clone https://example.com/r.git existing_dir"))

	if out.State != StateAborted {
		t.Fatalf("state = %s, want aborted", out.State)
	}
	if len(out.Results) != 0 {
		t.Errorf("results = %d, want 0", len(out.Results))
	}
	if runner.calls != 0 {
		t.Errorf("runner calls = %d, want 0", runner.calls)
	}
	if out.Conflict == nil || out.Conflict.Type != conflict.TypeExistsAsDir {
		t.Fatalf("conflict = %+v", out.Conflict)
	}
	if out.Diagnosis == nil || out.Diagnosis.Kind != analyzer.KindConflictUnresolved {
		t.Fatalf("diagnosis = %+v, want conflict-unresolved", out.Diagnosis)
	}

	joined := strings.Join(p.options[0], " | ")
	for _, want := range []string{"Sync", "Remove and re-clone", "Clone to", "Skip"} {
		if !strings.Contains(joined, want) {
			t.Errorf("options %q missing %q", joined, want)
		}
	}
}

func TestConflictResolutionReplacesStep(t *testing.T) {
	runner := &fakeRunner{}
	// Option 0 for mkdir conflicts is "use the existing path as-is".
	p := &scriptedPrompter{t: t, choices: []Choice{{Index: 0}}}
	e, dir := newTestEngine(t, runner, p, nil)

	if err := os.Mkdir(filepath.Join(dir, "project"), 0755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	out := e.Execute(context.Background(), planOf("make project", "mkdir project"))

	if out.State != StateCompleted {
		t.Fatalf("state = %s, want completed", out.State)
	}
	if runner.calls != 0 {
		t.Errorf("runner calls = %d, want 0 (existing dir satisfies the step)", runner.calls)
	}
}

func TestDiagnoseSkipCompletesPlan(t *testing.T) {
	// Last diagnosis option is always skip.
	p := &scriptedPrompter{t: t, choices: []Choice{{Skipped: true}}}
	e, _ := newTestEngine(t, nil, p, nil)

	out := e.Execute(context.Background(), planOf("remove ghost", "rm ghost.txt"))

	if out.State != StateCompleted {
		t.Fatalf("state = %s, want completed (satisfied-by-skip)", out.State)
	}
	if len(out.Results) != 1 || out.Results[0].ExitCode == 0 {
		t.Fatalf("results = %+v, want one failure", out.Results)
	}
	if out.Diagnosis == nil || out.Diagnosis.Kind != analyzer.KindNotFound {
		t.Fatalf("diagnosis = %+v, want not-found", out.Diagnosis)
	}

	joined := strings.Join(p.options[0], " | ")
	for _, want := range []string{"exists", "Search", "Skip"} {
		if !strings.Contains(joined, want) {
			t.Errorf("options %q missing %q", joined, want)
		}
	}
}

func TestRetryBudgetExhaustionAborts(t *testing.T) {
	runner := &fakeRunner{handler: func(step command.Step, _ time.Duration) command.Result {
		return command.Result{Command: step.Text, ExitCode: 2, Stderr: "Error 2"}
	}}
	// Two prompts before the third failure exhausts the budget; both
	// pick the retry remedy.
	p := &scriptedPrompter{t: t, choices: []Choice{{Index: 0}, {Index: 0}}}
	e, _ := newTestEngine(t, runner, p, nil)

	out := e.Execute(context.Background(), planOf("build", "make"))

	if out.State != StateAborted {
		t.Fatalf("state = %s, want aborted", out.State)
	}
	if runner.calls != 3 {
		t.Errorf("attempts = %d, want exactly the retry budget of 3", runner.calls)
	}
	if out.Diagnosis == nil {
		t.Error("aborted plan must carry the last diagnosis")
	}
	if len(p.choices) != 0 {
		t.Errorf("unused choices remain: %v", p.choices)
	}
}

func TestTimeoutRetriesOnceWithExtendedTimeout(t *testing.T) {
	calls := 0
	runner := &fakeRunner{handler: func(step command.Step, _ time.Duration) command.Result {
		calls++
		if calls == 1 {
			return command.Result{Command: step.Text, ExitCode: executor.TimeoutExitCode, TimedOut: true}
		}
		return command.Result{Command: step.Text, ExitCode: 0}
	}}
	p := &scriptedPrompter{t: t}
	e, _ := newTestEngine(t, runner, p, nil)

	out := e.Execute(context.Background(), planOf("fetch", "curl https://example.com"))

	if out.State != StateCompleted {
		t.Fatalf("state = %s, want completed", out.State)
	}
	if len(runner.timeouts) != 2 {
		t.Fatalf("timeouts = %v, want two attempts", runner.timeouts)
	}
	if runner.timeouts[0] != 120*time.Second || runner.timeouts[1] != 600*time.Second {
		t.Errorf("timeouts = %v, want default then extended", runner.timeouts)
	}
	if len(p.prompts) != 0 {
		t.Errorf("automatic timeout retry must not prompt, got %v", p.prompts)
	}
}

func TestCacheHitSkipsExecutor(t *testing.T) {
	shared := cache.New(10, time.Hour)
	stdout := "total 0\n"
	runner := &fakeRunner{handler: func(step command.Step, _ time.Duration) command.Result {
		return command.Result{Command: step.Text, ExitCode: 0, Stdout: stdout}
	}}
	p := &scriptedPrompter{t: t}

	e1, dir := newTestEngine(t, runner, p, func(_ *config.Config, c *Components) { c.Cache = shared })
	out1 := e1.Execute(context.Background(), planOf("list", "ls -la"))
	if out1.State != StateCompleted || runner.calls != 1 {
		t.Fatalf("first run: state=%s calls=%d", out1.State, runner.calls)
	}

	e2, _ := newTestEngine(t, runner, p, func(_ *config.Config, c *Components) {
		c.Cache = shared
		c.WorkingDir = dir
	})
	out2 := e2.Execute(context.Background(), planOf("list", "ls -la"))

	if out2.State != StateCompleted {
		t.Fatalf("second run state = %s", out2.State)
	}
	if runner.calls != 1 {
		t.Errorf("runner calls = %d, want 1 (second run served from cache)", runner.calls)
	}
	if out2.Results[0].Stdout != stdout {
		t.Errorf("cached stdout = %q, want identical", out2.Results[0].Stdout)
	}
}

func TestUnrecognizedVerbNeverCached(t *testing.T) {
	shared := cache.New(10, time.Hour)
	runner := &fakeRunner{}
	p := &scriptedPrompter{t: t}
	e, _ := newTestEngine(t, runner, p, func(_ *config.Config, c *Components) { c.Cache = shared })

	e.Execute(context.Background(), planOf("build", "make"))
	e.Execute(context.Background(), planOf("build", "make"))

	if runner.calls != 2 {
		t.Errorf("runner calls = %d, want 2 (only known read-only commands are memoized)", runner.calls)
	}
}

func TestDestructiveStepNeverCached(t *testing.T) {
	shared := cache.New(10, time.Hour)
	runner := &fakeRunner{}
	p := &scriptedPrompter{t: t}
	e, dir := newTestEngine(t, runner, p, func(_ *config.Config, c *Components) { c.Cache = shared })

	if err := os.WriteFile(filepath.Join(dir, "junk"), []byte("x"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	e.Execute(context.Background(), planOf("clean", "rm junk"))
	e.Execute(context.Background(), planOf("clean", "rm junk"))

	if runner.calls != 2 {
		t.Errorf("runner calls = %d, want 2 (destructive steps bypass the cache)", runner.calls)
	}
}

func TestDependencyInstallInsertedBeforeStep(t *testing.T) {
	lookPath := func(tool string) (string, error) {
		if tool == "frob" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + tool, nil
	}
	runner := &fakeRunner{}
	p := &scriptedPrompter{t: t}
	e, _ := newTestEngine(t, runner, p, func(_ *config.Config, c *Components) {
		m := deps.NewManagerWithLookPath(lookPath)
		c.Deps = m
		c.Analyzer = analyzer.New(m, nil)
	})

	out := e.Execute(context.Background(), planOf("run frob", "frob --all"))

	if out.State != StateCompleted {
		t.Fatalf("state = %s, want completed", out.State)
	}
	if len(out.Results) != 2 {
		t.Fatalf("results = %d, want install + original", len(out.Results))
	}
	if want := "sudo apt-get install -y frob"; out.Results[0].Command != want {
		t.Errorf("first command = %q, want %q", out.Results[0].Command, want)
	}
	if out.Results[1].Command != "frob --all" {
		t.Errorf("second command = %q", out.Results[1].Command)
	}
}

func TestInstallSuccessRefreshesToolProbe(t *testing.T) {
	installed := false
	lookPath := func(tool string) (string, error) {
		if tool == "frob" && !installed {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + tool, nil
	}
	m := deps.NewManagerWithLookPath(lookPath)
	runner := &fakeRunner{handler: func(step command.Step, _ time.Duration) command.Result {
		if strings.Contains(step.Text, "apt-get install") {
			installed = true
		}
		return command.Result{Command: step.Text, ExitCode: 0}
	}}
	p := &scriptedPrompter{t: t}

	// One engine per request, one manager across them, as the agent
	// loop does it.
	run := func() Outcome {
		e, _ := newTestEngine(t, runner, p, func(_ *config.Config, c *Components) {
			c.Deps = m
			c.Analyzer = analyzer.New(m, nil)
		})
		return e.Execute(context.Background(), planOf("run frob", "frob --all"))
	}

	first := run()
	if first.State != StateCompleted || len(first.Results) != 2 {
		t.Fatalf("first plan: state=%s results=%d, want completed with install + original", first.State, len(first.Results))
	}

	second := run()
	if second.State != StateCompleted {
		t.Fatalf("second plan state = %s", second.State)
	}
	if len(second.Results) != 1 || second.Results[0].Command != "frob --all" {
		t.Fatalf("second plan results = %+v, want no repeated install", second.Results)
	}
}

func TestSimulationDeclineAborts(t *testing.T) {
	runner := &fakeRunner{}
	p := &scriptedPrompter{t: t, choices: []Choice{{Index: 1}}}
	e, _ := newTestEngine(t, runner, p, func(cfg *config.Config, _ *Components) {
		cfg.Execution.SimulationMode = true
	})

	out := e.Execute(context.Background(), planOf("wipe", "rm -rf build"))

	if out.State != StateAborted {
		t.Fatalf("state = %s, want aborted", out.State)
	}
	if runner.calls != 0 {
		t.Errorf("runner calls = %d, want 0", runner.calls)
	}
	if len(p.prompts) != 1 || !strings.Contains(p.prompts[0], "dry run") {
		t.Errorf("prompts = %v, want one dry run prompt", p.prompts)
	}
}

func TestCancellationAbortsAndKeepsResults(t *testing.T) {
	p := &scriptedPrompter{t: t}
	e, _ := newTestEngine(t, nil, p, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	out := e.Execute(ctx, planOf("wait", "sleep 30"))
	elapsed := time.Since(start)

	if out.State != StateAborted {
		t.Fatalf("state = %s, want aborted", out.State)
	}
	if len(out.Results) != 1 {
		t.Errorf("results = %d, want the interrupted attempt retained", len(out.Results))
	}
	if elapsed > 5*time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
}
