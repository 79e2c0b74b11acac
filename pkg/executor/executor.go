// Package executor runs command steps against the real system. It
// owns timeouts, process-group termination, output streaming, and the
// safety guard; it never decides what to run.
package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aishell/aish/pkg/command"
	"github.com/aishell/aish/pkg/logger"
)

// TimeoutExitCode is the sentinel exit code reported when a step is
// killed on timeout, following the timeout(1) convention.
const TimeoutExitCode = 124

// guardExitCode marks commands rejected by the safety guard without
// ever reaching a shell.
const guardExitCode = 126

const maxCapturedOutput = 16 * 1024

// ProgressFunc receives one line of live output at a time.
type ProgressFunc func(line string)

// Executor executes steps under a working directory. Safe for
// concurrent use; each Run owns its own process.
type Executor struct {
	workingDir   string
	denyPatterns []*regexp.Regexp
}

var defaultDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[a-z]*[rf][a-z]*\s+/(\s|$)`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b\s`),
	regexp.MustCompile(`\bdd\s+if=.*\bof=/dev/`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
}

// New builds an executor. Extra deny patterns from configuration are
// compiled here so a bad pattern fails at startup, not mid-plan.
func New(workingDir string, extraDeny []string) (*Executor, error) {
	patterns := make([]*regexp.Regexp, 0, len(defaultDenyPatterns)+len(extraDeny))
	patterns = append(patterns, defaultDenyPatterns...)
	for _, raw := range extraDeny {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile deny pattern %q: %w", raw, err)
		}
		patterns = append(patterns, re)
	}
	return &Executor{
		workingDir:   workingDir,
		denyPatterns: patterns,
	}, nil
}

// Run executes one step and always returns a result; failures are
// encoded in the result, never raised. The caller is not blocked past
// timeout: on expiry the process group is killed and the result
// reports TimedOut with the sentinel exit code.
func (e *Executor) Run(ctx context.Context, step command.Step, timeout time.Duration, progress ProgressFunc) command.Result {
	started := time.Now()
	res := command.Result{Command: step.Text}

	if msg := e.guard(step.Text); msg != "" {
		res.ExitCode = guardExitCode
		res.Stderr = msg
		logger.WarnCF("executor", "Command blocked by safety guard", map[string]interface{}{
			"command": step.Text,
		})
		return res
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd, cleanup, err := e.buildCommand(step)
	if err != nil {
		res.ExitCode = 127
		res.Stderr = err.Error()
		return res
	}
	defer cleanup()
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		res.ExitCode = 127
		res.Stderr = err.Error()
		return res
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		res.ExitCode = 127
		res.Stderr = err.Error()
		return res
	}

	if err := cmd.Start(); err != nil {
		res.ExitCode = 127
		res.Stderr = err.Error()
		return res
	}

	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go drain(stdout, &outBuf, progress, &wg)
	go drain(stderr, &errBuf, progress, &wg)

	waitErr := make(chan error, 1)
	go func() {
		wg.Wait()
		waitErr <- cmd.Wait()
	}()

	var runErr error
	select {
	case runErr = <-waitErr:
	case <-runCtx.Done():
		killProcessGroup(cmd)
		runErr = <-waitErr
	}

	res.Stdout = truncate(outBuf.String())
	res.Stderr = truncate(errBuf.String())
	res.DurationMs = time.Since(started).Milliseconds()

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		res.TimedOut = true
		res.ExitCode = TimeoutExitCode
	case runErr != nil:
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = 1
			if res.Stderr == "" {
				res.Stderr = runErr.Error()
			}
		}
	}

	logger.DebugCF("executor", "Step finished", map[string]interface{}{
		"command":     step.Text,
		"exit_code":   res.ExitCode,
		"timed_out":   res.TimedOut,
		"duration_ms": res.DurationMs,
	})
	return res
}

// guard returns a rejection message for commands matching a deny
// pattern, or "" when the command may run.
func (e *Executor) guard(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, pattern := range e.denyPatterns {
		if pattern.MatchString(lower) {
			return "command blocked by safety guard (dangerous pattern detected)"
		}
	}
	return ""
}

// buildCommand prepares the process for a step. Script steps are
// staged in a temp file so multi-line bodies keep shell semantics.
func (e *Executor) buildCommand(step command.Step) (*exec.Cmd, func(), error) {
	cleanup := func() {}

	if step.Kind == command.KindScript {
		f, err := os.CreateTemp("", "aish-script-*.sh")
		if err != nil {
			return nil, cleanup, fmt.Errorf("stage script: %w", err)
		}
		if _, err := f.WriteString(step.Text); err != nil {
			f.Close()
			os.Remove(f.Name())
			return nil, cleanup, fmt.Errorf("stage script: %w", err)
		}
		f.Close()
		cleanup = func() { os.Remove(f.Name()) }

		cmd := newShellCommand("sh " + f.Name())
		cmd.Dir = e.workingDir
		return cmd, cleanup, nil
	}

	cmd := newShellCommand(step.Text)
	cmd.Dir = e.workingDir
	return cmd, cleanup, nil
}

func drain(r io.Reader, buf *strings.Builder, progress ProgressFunc, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if buf.Len() < maxCapturedOutput {
			buf.WriteString(line)
			buf.WriteString("\n")
		}
		if progress != nil {
			progress(line)
		}
	}
}

func truncate(s string) string {
	if len(s) <= maxCapturedOutput {
		return strings.TrimRight(s, "\n")
	}
	return s[:maxCapturedOutput] + fmt.Sprintf("\n... (truncated, %d more bytes)", len(s)-maxCapturedOutput)
}
