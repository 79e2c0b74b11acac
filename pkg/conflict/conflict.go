// Package conflict detects pre-existing filesystem state that is
// incompatible with what a step intends to create, and packages the
// resolution options for the user to choose from. Detection is purely
// static: the command rule table names the target, a stat decides.
package conflict

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aishell/aish/pkg/command"
)

type Type string

const (
	TypeExistsAsDir  Type = "exists-as-dir"
	TypeExistsAsFile Type = "exists-as-file"
	TypePermission   Type = "permission"
)

// Option pairs a human label with the resolution command. An empty
// Command means the step is not executed; Satisfies marks the case
// where the existing state already fulfills the step's intent, as
// opposed to a plain skip.
type Option struct {
	Label     string `json:"label"`
	Command   string `json:"command"`
	Satisfies bool   `json:"satisfies,omitempty"`
}

// Report describes one detected conflict. Created before execution,
// consumed by resolution, discarded afterwards.
type Report struct {
	Path    string
	Type    Type
	Command string
	Options []Option
}

// Detector checks step targets against the filesystem. The stat
// function is injectable for tests.
type Detector struct {
	statFn func(string) (os.FileInfo, error)
}

func NewDetector() *Detector {
	return &Detector{statFn: os.Stat}
}

// Detect returns a report when the step's target already exists in a
// conflicting state, nil otherwise. A failing stat (other than
// not-exist) is itself a permission conflict with skip as the only
// option; detection never raises past the orchestrator.
func (d *Detector) Detect(step command.Step, cwd string) *Report {
	in := command.Classify(step.Text)
	if !in.Mutating || in.Target == "" {
		return nil
	}
	// Only creation-style intents conflict with an existing target;
	// destructive verbs expect their target to exist.
	if in.Destructive {
		return nil
	}

	target := in.Target
	if !filepath.IsAbs(target) {
		target = filepath.Join(cwd, target)
	}

	info, err := d.statFn(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &Report{
			Path:    in.Target,
			Type:    TypePermission,
			Command: step.Text,
			Options: []Option{{Label: "Skip this step"}},
		}
	}

	typ := TypeExistsAsFile
	if info.IsDir() {
		typ = TypeExistsAsDir
	}
	return &Report{
		Path:    in.Target,
		Type:    typ,
		Command: step.Text,
		Options: d.options(in, step.Text, cwd),
	}
}

// options maps (verb, conflict type) to the closed default resolution
// set. Labels may later be elaborated by the explanation collaborator;
// the commands themselves come only from this table.
func (d *Detector) options(in command.Intent, original string, cwd string) []Option {
	alt := d.alternatePath(in.Target, cwd)

	switch in.Verb {
	case "git clone":
		return []Option{
			{Label: "Sync the existing clone", Command: fmt.Sprintf("git -C %s pull --ff-only", in.Target)},
			{Label: "Remove and re-clone", Command: fmt.Sprintf("rm -rf %s && %s", in.Target, original)},
			{Label: "Clone to " + alt, Command: replaceTarget(original, in.Target, alt)},
			{Label: "Skip this step"},
		}
	case "mkdir":
		return []Option{
			{Label: "Use the existing path as-is", Satisfies: true},
			{Label: "Remove and recreate", Command: fmt.Sprintf("rm -rf %s && %s", in.Target, original)},
			{Label: "Create " + alt + " instead", Command: replaceTarget(original, in.Target, alt)},
			{Label: "Skip this step"},
		}
	case "touch":
		return []Option{
			{Label: "Update the existing file's timestamp", Command: original},
			{Label: "Create " + alt + " instead", Command: replaceTarget(original, in.Target, alt)},
			{Label: "Skip this step"},
		}
	case "cp", "mv", "rsync", "ln":
		return []Option{
			{Label: "Overwrite the destination", Command: original},
			{Label: "Use " + alt + " as the destination", Command: replaceTarget(original, in.Target, alt)},
			{Label: "Skip this step"},
		}
	default:
		return []Option{
			{Label: "Proceed anyway", Command: original},
			{Label: "Write to " + alt + " instead", Command: replaceTarget(original, in.Target, alt)},
			{Label: "Skip this step"},
		}
	}
}

// alternatePath finds the first free name of the form path_1, path_2,
// preserving the extension: notes.txt becomes notes_1.txt. Relative
// candidates are probed against cwd, the same base Detect uses for the
// target itself.
func (d *Detector) alternatePath(path, cwd string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; i <= 100; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		probe := candidate
		if !filepath.IsAbs(probe) {
			probe = filepath.Join(cwd, probe)
		}
		if _, err := d.statFn(probe); os.IsNotExist(err) {
			return candidate
		}
	}
	return base + "_new" + ext
}

func replaceTarget(original, target, replacement string) string {
	if idx := strings.LastIndex(original, target); idx >= 0 {
		return original[:idx] + replacement + original[idx+len(target):]
	}
	return original
}
