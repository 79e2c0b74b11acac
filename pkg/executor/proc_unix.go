//go:build !windows

package executor

import (
	"os/exec"
	"syscall"
)

func newShellCommand(text string) *exec.Cmd {
	return exec.Command("sh", "-c", text)
}

// setProcessGroup places the child in its own process group so a
// timeout can kill the whole pipeline, not just the shell.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid addresses the group; fall back to the process
	// itself if the group signal fails.
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		cmd.Process.Kill()
	}
}
