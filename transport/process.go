package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Process is the spawned target server. Its stdin and stdout form the
// embedded Stream; stderr is exposed separately.
type Process struct {
	*Stream

	cmd    *exec.Cmd
	stderr *os.File

	done    chan struct{}
	waitErr error

	termOnce sync.Once
}

// ProcessOption configures Spawn.
type ProcessOption func(*exec.Cmd)

// WithEnv sets the target's environment.
func WithEnv(env []string) ProcessOption {
	return func(c *exec.Cmd) { c.Env = env }
}

// WithDir sets the target's working directory.
func WithDir(dir string) ProcessOption {
	return func(c *exec.Cmd) { c.Dir = dir }
}

// Spawn starts argv as the target server.
//
// The pipes are created with os.Pipe rather than cmd.StdoutPipe so the
// target's output stays readable after the process has been reaped.
func Spawn(argv []string, opts ...ProcessOption) (*Process, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("transport: empty target command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	for _, opt := range opts {
		opt(cmd)
	}
	setProcessGroup(cmd)

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return nil, fmt.Errorf("transport: stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return nil, fmt.Errorf("transport: stderr pipe: %w", err)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		return nil, fmt.Errorf("transport: start %s: %w", argv[0], err)
	}
	// The child holds its own copies now.
	closeAll(stdinR, stdoutW, stderrW)

	p := &Process{
		Stream: NewStream(stdoutR, stdinW),
		cmd:    cmd,
		stderr: stderrR,
		done:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// Pid returns the target's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stderr returns the target's stderr.
func (p *Process) Stderr() io.Reader {
	return p.stderr
}

// Done is closed once the target has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the target exits and returns its exit error, an
// *exec.ExitError for a non-zero status.
func (p *Process) Wait() error {
	<-p.done
	return p.waitErr
}

// Terminate asks the target's process group to stop, escalating to a
// kill if it is still running after grace. It returns the exit error
// from Wait.
func (p *Process) Terminate(grace time.Duration) error {
	p.termOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		_ = signalTerminate(p.cmd)
		select {
		case <-p.done:
		case <-time.After(grace):
			_ = signalKill(p.cmd)
		}
	})
	return p.Wait()
}

// Close closes the pipes. It does not stop the process.
func (p *Process) Close() error {
	err := p.Stream.Close()
	if cerr := p.stderr.Close(); err == nil {
		err = cerr
	}
	return err
}
