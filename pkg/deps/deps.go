// Package deps checks that the tools a step invokes are installed and
// proposes install commands for the ones that are not.
package deps

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/aishell/aish/pkg/command"
)

// Requirement names one external tool a step needs. InstallCommand is
// empty when no package mapping is known for the current platform.
type Requirement struct {
	Tool           string
	Satisfied      bool
	InstallCommand string
}

// Manager resolves tool availability. lookPath and the package manager
// probe are injectable for tests.
type Manager struct {
	lookPath   func(string) (string, error)
	pkgManager string

	checked map[string]bool
}

func NewManager() *Manager {
	return NewManagerWithLookPath(exec.LookPath)
}

// NewManagerWithLookPath builds a manager with a custom PATH resolver.
func NewManagerWithLookPath(lookPath func(string) (string, error)) *Manager {
	m := &Manager{
		lookPath: lookPath,
		checked:  make(map[string]bool),
	}
	m.pkgManager = m.detectPackageManager()
	return m
}

// Shell builtins and keywords that never resolve through PATH.
var builtins = map[string]bool{
	"cd": true, "echo": true, "export": true, "set": true, "unset": true,
	"source": true, ".": true, "exit": true, "return": true, "alias": true,
	"read": true, "wait": true, "test": true, "[": true, "true": true,
	"false": true, "pwd": true, "if": true, "then": true, "else": true,
	"fi": true, "for": true, "while": true, "do": true, "done": true,
	"case": true, "esac": true,
}

// Tools whose package name differs from the binary name.
var toolPackages = map[string]string{
	"rg":       "ripgrep",
	"fd":       "fd-find",
	"convert":  "imagemagick",
	"identify": "imagemagick",
	"ffprobe":  "ffmpeg",
	"pip":      "python3-pip",
	"pip3":     "python3-pip",
	"node":     "nodejs",
	"psql":     "postgresql-client",
	"mysql":    "mysql-client",
	"dig":      "dnsutils",
	"nslookup": "dnsutils",
	"netstat":  "net-tools",
	"ifconfig": "net-tools",
}

// Check returns one requirement per distinct external tool the step
// references. Builtins and assignments are skipped. Results are cached
// per manager; a tool confirmed present is never probed twice.
func (m *Manager) Check(step command.Step) []Requirement {
	var reqs []Requirement
	seen := make(map[string]bool)

	for _, segment := range command.SplitSegments(step.Text) {
		tool := leadingTool(segment)
		if tool == "" || builtins[tool] || seen[tool] {
			continue
		}
		seen[tool] = true

		satisfied, probed := m.checked[tool]
		if !probed {
			_, err := m.lookPath(tool)
			satisfied = err == nil
			m.checked[tool] = satisfied
		}

		req := Requirement{Tool: tool, Satisfied: satisfied}
		if !satisfied {
			req.InstallCommand = m.InstallCommand(tool)
		}
		reqs = append(reqs, req)
	}
	return reqs
}

// Invalidate drops the cached probe for a tool, typically after an
// install step ran.
func (m *Manager) Invalidate(tool string) {
	delete(m.checked, tool)
}

// InstallCommand renders the platform install command for a tool, or
// "" when no package manager was detected.
func (m *Manager) InstallCommand(tool string) string {
	pkg := tool
	if mapped, ok := toolPackages[tool]; ok {
		pkg = mapped
	}
	switch m.pkgManager {
	case "apt-get":
		return fmt.Sprintf("sudo apt-get install -y %s", pkg)
	case "dnf":
		return fmt.Sprintf("sudo dnf install -y %s", pkg)
	case "pacman":
		return fmt.Sprintf("sudo pacman -S --noconfirm %s", pkg)
	case "apk":
		return fmt.Sprintf("sudo apk add %s", pkg)
	case "brew":
		return fmt.Sprintf("brew install %s", pkg)
	default:
		return ""
	}
}

var notFoundPattern = regexp.MustCompile(`(?:sh: \d+: |sh: |bash: )?([\w./-]+): (?:command )?not found`)

// FromStderr extracts the missing tool name from a shell "command not
// found" message, or "" when the output is something else.
func FromStderr(stderr string) string {
	match := notFoundPattern.FindStringSubmatch(stderr)
	if match == nil {
		return ""
	}
	tool := match[1]
	if idx := strings.LastIndex(tool, "/"); idx >= 0 {
		tool = tool[idx+1:]
	}
	return tool
}

func (m *Manager) detectPackageManager() string {
	for _, pm := range []string{"apt-get", "dnf", "pacman", "apk", "brew"} {
		if _, err := m.lookPath(pm); err == nil {
			return pm
		}
	}
	return ""
}

// leadingTool returns the first word of a segment after stripping
// wrappers and variable assignments.
func leadingTool(segment string) string {
	fields := strings.Fields(segment)
	for _, f := range fields {
		switch {
		case f == "sudo", f == "nohup", f == "nice", f == "time", f == "env":
			continue
		case strings.Contains(f, "="):
			continue
		case strings.HasPrefix(f, "-"):
			continue
		default:
			return f
		}
	}
	return ""
}
