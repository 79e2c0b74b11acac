// Package simulate produces dry-run predictions of a step's effect.
// Predictions are classifications over the command rule table, not
// sandboxed executions: they may be imprecise but never mutate state.
package simulate

import (
	"fmt"

	"github.com/aishell/aish/pkg/command"
)

// Prediction is a best-effort textual description of what a step
// would do. Confident is false for unrecognized patterns.
type Prediction struct {
	Command   string
	Effect    string
	Confident bool
}

type Simulator struct{}

func New() *Simulator {
	return &Simulator{}
}

// Predict classifies the step and renders a canned-but-specific
// effect description. It performs no I/O.
func (s *Simulator) Predict(step command.Step) Prediction {
	in := command.Classify(step.Text)
	p := Prediction{Command: step.Text, Confident: true}

	switch in.Verb {
	case "rm", "rmdir", "shred":
		p.Effect = fmt.Sprintf("would permanently remove %s", orSomething(in.Target, "the listed paths"))
	case "dd":
		p.Effect = "would rewrite a device or file with raw data; data at the destination is lost"
	case "mkfs":
		p.Effect = "would create a new filesystem, destroying existing data on the target device"
	case "truncate":
		p.Effect = fmt.Sprintf("would resize %s, discarding data beyond the new size", orSomething(in.Target, "the target file"))
	case "mkdir":
		p.Effect = fmt.Sprintf("would create directory %s", orSomething(in.Target, "at the given path"))
	case "touch":
		p.Effect = fmt.Sprintf("would create or update the timestamp of %s", orSomething(in.Target, "the given file"))
	case "git clone":
		p.Effect = fmt.Sprintf("would clone a repository into %s", orSomething(in.Target, "a new directory"))
	case "cp":
		p.Effect = fmt.Sprintf("would copy files to %s, overwriting an existing destination", orSomething(in.Target, "the destination"))
	case "mv":
		p.Effect = fmt.Sprintf("would move files to %s, replacing an existing destination", orSomething(in.Target, "the destination"))
	case "chmod", "chown":
		p.Effect = fmt.Sprintf("would change permissions or ownership of %s", orSomething(in.Target, "the given paths"))
	case "curl", "wget":
		if in.Target != "" {
			p.Effect = fmt.Sprintf("would download remote content to %s", in.Target)
		} else {
			p.Effect = "would fetch remote content and print it; no files written"
		}
	default:
		if in.Mutating {
			p.Effect = fmt.Sprintf("would write to %s", orSomething(in.Target, "the filesystem"))
		} else {
			p.Effect = "effect unknown, proceed with caution"
			p.Confident = false
		}
	}
	return p
}

func orSomething(target, fallback string) string {
	if target == "" {
		return fallback
	}
	return target
}
