// Package command defines the data model shared by the orchestration
// pipeline: steps, plans, execution results, and the static rule table
// that classifies raw command text.
package command

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes one-line shell commands from multi-line scripts.
type Kind string

const (
	KindShell  Kind = "shell"
	KindScript Kind = "script"
)

// Step is one executable unit. Immutable once created; remediation
// replaces a step rather than mutating it.
type Step struct {
	Text        string `json:"text"`
	Kind        Kind   `json:"kind"`
	Destructive bool   `json:"destructive"`
}

// NewStep builds a step from raw text, deriving kind and the
// destructive flag from the classification table.
func NewStep(text string) Step {
	text = strings.TrimSpace(text)
	kind := KindShell
	if strings.Contains(text, "\n") || strings.HasPrefix(text, "#!") {
		kind = KindScript
	}
	return Step{
		Text:        text,
		Kind:        kind,
		Destructive: Classify(text).Destructive,
	}
}

// Plan is an ordered sequence of steps for one user request. Steps
// execute in listed order; a failing step halts the plan unless a
// remediation step replaces it.
type Plan struct {
	ID      string `json:"id"`
	Request string `json:"request"`
	Steps   []Step `json:"steps"`
}

// NewPlan assigns a fresh ID so history events and logs can correlate
// everything that happened for one request.
func NewPlan(request string, steps []Step) *Plan {
	return &Plan{
		ID:      uuid.NewString(),
		Request: request,
		Steps:   steps,
	}
}

// InsertBefore splices steps in front of position idx.
func (p *Plan) InsertBefore(idx int, steps ...Step) {
	if idx < 0 {
		idx = 0
	}
	if idx > len(p.Steps) {
		idx = len(p.Steps)
	}
	out := make([]Step, 0, len(p.Steps)+len(steps))
	out = append(out, p.Steps[:idx]...)
	out = append(out, steps...)
	out = append(out, p.Steps[idx:]...)
	p.Steps = out
}

// Result captures one attempt at one step. Immutable; the orchestrator
// appends one per attempt to its run log.
type Result struct {
	StepIndex  int    `json:"step_index"`
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMs int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out"`
}

// Success reports whether the attempt completed with exit code 0.
func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Duration returns the wall time of the attempt.
func (r Result) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}
