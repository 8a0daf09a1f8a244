// Command mcp-firewall runs an MCP server behind a human-approval
// firewall.
//
// Usage:
//
//	mcp-firewall --target "npx mcp-server-aws"   # shell command
//	mcp-firewall --name stripe -- npx @stripe/mcp  # argv after --
//	mcp-firewall check delete_user get_balance   # dry-run the policy
//	mcp-firewall generate-config                 # starter config
//	mcp-firewall version
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Version, Commit, and BuildDate are overridden at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	runMain(os.Args, os.Stdin, os.Stdout, os.Stderr, os.Exit)
}

// execute runs the CLI with the given args and streams.
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := newRootCmd()
	cmd.Version = versionString()
	cmd.SetVersionTemplate(VersionTemplate)
	if len(args) > 1 {
		cmd.SetArgs(args[1:])
	} else {
		cmd.SetArgs([]string{})
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.Execute()
}

// runMain executes the CLI and exits with the target's exit code when
// the target failed, or 1 on any other error.
func runMain(args []string, stdin io.Reader, stdout, stderr io.Writer, exit func(int)) {
	err := execute(args, stdin, stdout, stderr)
	if err == nil {
		return
	}
	_, _ = fmt.Fprintln(stderr, err)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code <= 0 {
			code = 1
		}
		exit(code)
		return
	}
	exit(1)
}

// versionString formats Version with optional commit and build date metadata.
func versionString() string {
	meta := []string{}
	if Commit != "" && Commit != "unknown" {
		meta = append(meta, fmt.Sprintf(VersionCommitFmt, Commit))
	}
	if BuildDate != "" && BuildDate != "unknown" {
		meta = append(meta, fmt.Sprintf(VersionBuildFmt, BuildDate))
	}
	if len(meta) == 0 {
		return Version
	}
	return fmt.Sprintf(VersionFullFmt, Version, strings.Join(meta, ", "))
}
