//go:build unix

package transport

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the target in its own process group so shutdown
// reaches any children it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func signalTerminate(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGTERM)
}

func signalKill(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if err := unix.Kill(-pid, sig); err != nil {
		// Fall back to the leader alone if the group is already gone.
		return unix.Kill(pid, sig)
	}
	return nil
}

// ShellCommand wraps a command line for execution by the system shell.
func ShellCommand(line string) []string {
	return []string{"/bin/sh", "-c", line}
}
