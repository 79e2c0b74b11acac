//go:build windows

package executor

import "os/exec"

func newShellCommand(text string) *exec.Cmd {
	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", text)
}

func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}
