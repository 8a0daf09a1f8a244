//go:build !unix

package transport

import (
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func signalTerminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func signalKill(cmd *exec.Cmd) error {
	return signalTerminate(cmd)
}

// ShellCommand wraps a command line for execution by the system shell.
func ShellCommand(line string) []string {
	return []string{"cmd", "/C", line}
}
