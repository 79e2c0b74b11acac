// Package analyzer turns a failed step result into a diagnosis: an
// error class, a plain explanation, and a closed set of remedies the
// user can pick from.
package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aishell/aish/pkg/command"
	"github.com/aishell/aish/pkg/deps"
	"github.com/aishell/aish/pkg/executor"
)

type Kind string

const (
	KindNotFound           Kind = "not-found"
	KindPermissionDenied   Kind = "permission-denied"
	KindDependencyMissing  Kind = "dependency-missing"
	KindTimeout            Kind = "timeout"
	KindConflictUnresolved Kind = "conflict-unresolved"
	KindUnknown            Kind = "unknown"
)

// Remedy is one recoverable action. An empty Command means skip; a
// Remedy with ExtendTimeout set re-runs the original command under the
// long timeout.
type Remedy struct {
	Label         string
	Command       string
	ExtendTimeout bool
}

// Diagnosis explains a failure. Options always ends with a skip remedy.
type Diagnosis struct {
	Result      command.Result
	Kind        Kind
	Explanation string
	Causes      []string
	Options     []Remedy
}

// Explainer optionally enriches an explanation with model-written
// prose. A nil or failing explainer leaves the rule-based text intact.
type Explainer interface {
	ExplainFailure(ctx context.Context, cmd string, stderr string, kind string) (string, error)
}

type Analyzer struct {
	deps      *deps.Manager
	explainer Explainer
}

func New(depsManager *deps.Manager, explainer Explainer) *Analyzer {
	return &Analyzer{deps: depsManager, explainer: explainer}
}

var (
	noSuchFilePattern  = regexp.MustCompile(`(?i)no such file or directory|cannot access|not a directory|does not exist`)
	permissionPattern  = regexp.MustCompile(`(?i)permission denied|operation not permitted|read-only file system`)
	diskPattern        = regexp.MustCompile(`(?i)no space left on device|disk quota exceeded`)
	networkPattern     = regexp.MustCompile(`(?i)could not resolve host|connection refused|network is unreachable|temporary failure in name resolution`)
	ghostTargetPattern = regexp.MustCompile(`(?:rm|rmdir|cat|ls|stat|mv|cp): (?:cannot (?:remove|access|stat) )?'?([^':]+)'?`)
)

// Diagnose classifies a failed result. The result must be a failure;
// callers gate on Result.Success.
func (a *Analyzer) Diagnose(ctx context.Context, res command.Result) Diagnosis {
	d := Diagnosis{Result: res, Kind: KindUnknown}
	stderr := res.Stderr

	switch {
	case res.TimedOut || res.ExitCode == executor.TimeoutExitCode:
		d.Kind = KindTimeout
		d.Explanation = fmt.Sprintf("the command was still running after %.0fs and was stopped", float64(res.DurationMs)/1000)
		d.Causes = []string{
			"the operation legitimately needs more time",
			"the command is waiting for input that never arrives",
			"a remote endpoint is not responding",
		}
		d.Options = []Remedy{
			{Label: "Retry with an extended timeout", Command: res.Command, ExtendTimeout: true},
			{Label: "Skip this step"},
		}

	case deps.FromStderr(stderr) != "":
		tool := deps.FromStderr(stderr)
		d.Kind = KindDependencyMissing
		d.Explanation = fmt.Sprintf("the tool %q is not installed", tool)
		d.Causes = []string{
			fmt.Sprintf("%s is not present on this system", tool),
			"the tool is installed but not on PATH",
		}
		if install := a.deps.InstallCommand(tool); install != "" {
			d.Options = append(d.Options, Remedy{
				Label:   fmt.Sprintf("Install %s and retry", tool),
				Command: install + " && " + res.Command,
			})
		}
		d.Options = append(d.Options, Remedy{Label: "Skip this step"})

	case permissionPattern.MatchString(stderr):
		d.Kind = KindPermissionDenied
		d.Explanation = "the command was denied access to its target"
		d.Causes = []string{
			"the target is owned by another user",
			"the filesystem or mount is read-only",
		}
		d.Options = []Remedy{
			{Label: "Retry with sudo", Command: "sudo " + res.Command},
			{Label: "Skip this step"},
		}

	case noSuchFilePattern.MatchString(stderr):
		d.Kind = KindNotFound
		target := ghostTarget(stderr)
		d.Explanation = fmt.Sprintf("the path %s does not exist", orThe(target, "the command referenced"))
		d.Causes = []string{
			"the path was already removed or never created",
			"the path is misspelled",
			"the file lives in a different directory",
		}
		if target != "" {
			d.Options = append(d.Options,
				Remedy{Label: "Check whether the path exists", Command: fmt.Sprintf("ls -la %s 2>/dev/null || echo 'not present'", target)},
				Remedy{Label: "Search subdirectories for it", Command: fmt.Sprintf("find . -name %q 2>/dev/null", lastPathElement(target))},
			)
		}
		d.Options = append(d.Options, Remedy{Label: "Skip this step"})

	case diskPattern.MatchString(stderr):
		d.Explanation = "the filesystem is out of space"
		d.Causes = []string{"the target filesystem is full", "a quota limit was hit"}
		d.Options = []Remedy{
			{Label: "Show disk usage", Command: "df -h ."},
			{Label: "Skip this step"},
		}

	case networkPattern.MatchString(stderr):
		d.Explanation = "a network operation failed"
		d.Causes = []string{
			"no network connectivity",
			"DNS resolution failed",
			"the remote host is down or refusing connections",
		}
		d.Options = []Remedy{
			{Label: "Retry the command", Command: res.Command},
			{Label: "Skip this step"},
		}

	default:
		d.Explanation = fmt.Sprintf("the command exited with status %d", res.ExitCode)
		if s := strings.TrimSpace(stderr); s != "" {
			d.Causes = []string{firstLine(s)}
		}
		d.Options = []Remedy{
			{Label: "Retry the command", Command: res.Command},
			{Label: "Skip this step"},
		}
	}

	a.elaborate(ctx, &d)
	return d
}

// elaborate lets the explainer rewrite the explanation. Rule-based
// text survives any explainer error.
func (a *Analyzer) elaborate(ctx context.Context, d *Diagnosis) {
	if a.explainer == nil {
		return
	}
	text, err := a.explainer.ExplainFailure(ctx, d.Result.Command, d.Result.Stderr, string(d.Kind))
	if err != nil || strings.TrimSpace(text) == "" {
		return
	}
	d.Explanation = strings.TrimSpace(text)
}

func ghostTarget(stderr string) string {
	if m := ghostTargetPattern.FindStringSubmatch(stderr); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func lastPathElement(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func orThe(target, fallback string) string {
	if target == "" {
		return fallback
	}
	return target
}
