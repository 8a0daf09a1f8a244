package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/starskrime/mcp-action-firewall/approval"
	"github.com/starskrime/mcp-action-firewall/interceptor"
	"github.com/starskrime/mcp-action-firewall/jsonrpc"
	"github.com/starskrime/mcp-action-firewall/middleware"
	"github.com/starskrime/mcp-action-firewall/router"
	"github.com/starskrime/mcp-action-firewall/transport"
)

// DefaultShutdownGrace is how long the target gets to exit on its own.
const DefaultShutdownGrace = 5 * time.Second

// ErrTargetExited wraps the target's exit error when it dies first.
var ErrTargetExited = errors.New("proxy: target exited")

var (
	errTargetWrite = errors.New("write to target")
	errAgentWrite  = errors.New("write to agent")
)

// Target is the spawned server as seen by the pump.
type Target interface {
	transport.Transport
	// Stderr may return nil.
	Stderr() io.Reader
	Done() <-chan struct{}
	Wait() error
	Terminate(grace time.Duration) error
}

// Options tune a Proxy. The zero value is usable.
type Options struct {
	// ShutdownGrace defaults to DefaultShutdownGrace.
	ShutdownGrace time.Duration
	Logger        *slog.Logger
	// Middleware wraps the interceptor for agent messages.
	Middleware []middleware.Middleware
	// Store, if set, is swept every SweepInterval while running and
	// cancelled on shutdown.
	Store         *approval.Store
	SweepInterval time.Duration
}

// Proxy pumps one agent session through the interceptor.
type Proxy struct {
	agent  transport.Transport
	target Target
	ic     *interceptor.Interceptor
	routes *router.Router
	out    *outbox
	handle middleware.Handler
	stats  middleware.Stats
	opts   Options
	log    *slog.Logger
}

// New creates a Proxy. It takes ownership of both channels and closes
// them when Run returns.
func New(agent transport.Transport, target Target, ic *interceptor.Interceptor, opts Options) *Proxy {
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Proxy{
		agent:  agent,
		target: target,
		ic:     ic,
		routes: router.New(),
		out:    newOutbox(),
		opts:   opts,
		log:    opts.Logger.With("component", "proxy"),
	}
	mws := append([]middleware.Middleware{p.stats.Middleware()}, opts.Middleware...)
	p.handle = middleware.New(mws...).Then(ic.FromAgent)
	return p
}

// Run pumps traffic until the session ends and returns why.
//
// It returns nil when the agent closed its input or the target exited
// cleanly, an error wrapping ErrTargetExited (and the *exec.ExitError, if
// any) when the target failed, and ctx.Err() on cancellation.
func (p *Proxy) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if p.opts.Store != nil && p.opts.SweepInterval > 0 {
		go p.opts.Store.Run(ctx, p.opts.SweepInterval, func(n int) {
			p.log.Info("expired pending approvals", "count", n)
		})
	}
	if stderr := p.target.Stderr(); stderr != nil {
		go p.relayStderr(stderr)
	}

	agentDone := make(chan error, 1)
	writerDone := make(chan error, 1)
	targetDone := make(chan error, 1)
	go func() { agentDone <- p.agentToTarget() }()
	go func() { writerDone <- p.targetWriter() }()
	go func() { targetDone <- p.targetToAgent() }()

	var runErr error
	select {
	case <-ctx.Done():
		p.log.Info("shutdown requested, stopping target")
		_ = p.target.Terminate(p.opts.ShutdownGrace)
		runErr = ctx.Err()

	case err := <-writerDone:
		p.log.Warn("target stopped accepting input", "error", err)
		p.awaitExit()
		p.drain(targetDone)
		runErr = p.exitError(nil)

	case err := <-agentDone:
		if err != nil {
			p.log.Error("agent channel failed", "error", err)
		} else {
			p.log.Info("agent closed its input, stopping target")
		}
		p.flush(writerDone)
		_ = p.target.CloseWrite()
		p.awaitExit()
		p.drain(targetDone)
		runErr = err

	case err := <-targetDone:
		if errors.Is(err, errAgentWrite) {
			p.log.Error("agent stopped accepting output", "error", err)
			_ = p.target.CloseWrite()
			p.awaitExit()
			runErr = err
			break
		}
		p.log.Info("target closed its output")
		p.awaitExit()
		runErr = p.exitError(err)

	case <-p.target.Done():
		p.log.Info("target process exited")
		p.drain(targetDone)
		runErr = p.exitError(nil)
	}

	p.shutdown()
	return runErr
}

func (p *Proxy) agentToTarget() error {
	for {
		line, err := p.agent.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read from agent: %w", err)
		}

		msg, perr := jsonrpc.Parse(line)
		if perr != nil {
			p.log.Warn("unparseable message from agent, relaying unchanged", "error", perr)
		}
		d := p.handle(msg)

		if d.Route != nil && !p.routes.AddRoute(*d.Route) {
			p.log.Warn("request id already in flight", "id", d.Route.TargetID)
		}
		if d.ToTarget != nil && !p.out.push(d.ToTarget) {
			p.log.Debug("target input closed, dropping message")
		}
		if d.ToAgent != nil {
			if err := p.agent.Send(d.ToAgent); err != nil {
				return fmt.Errorf("%w: %w", errAgentWrite, err)
			}
		}
	}
}

// targetWriter drains the outbox into the target. It returns nil once
// the outbox is closed and empty.
func (p *Proxy) targetWriter() error {
	for {
		frame, ok := p.out.next()
		if !ok {
			return nil
		}
		if err := p.target.Send(frame); err != nil {
			p.out.close()
			return fmt.Errorf("%w: %w", errTargetWrite, err)
		}
	}
}

func (p *Proxy) targetToAgent() error {
	for {
		line, err := p.target.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read from target: %w", err)
		}

		msg, perr := jsonrpc.Parse(line)
		if perr != nil {
			p.log.Warn("unparseable message from target, relaying unchanged", "error", perr)
		}
		var route *router.Route
		if resp, ok := msg.(*jsonrpc.Response); ok && !resp.ID.IsZero() {
			if r, found := p.routes.Match(resp.ID); found {
				route = &r
			}
		}

		if err := p.agent.Send(p.ic.FromTarget(msg, route)); err != nil {
			return fmt.Errorf("%w: %w", errAgentWrite, err)
		}
	}
}

func (p *Proxy) relayStderr(r io.Reader) {
	s := transport.NewStream(r, io.Discard)
	for {
		line, err := s.Receive()
		if err != nil {
			return
		}
		p.log.Debug("target stderr", "line", string(line))
	}
}

// flush lets queued frames reach the target before its input is closed.
func (p *Proxy) flush(writerDone <-chan error) {
	p.out.close()
	select {
	case <-writerDone:
	case <-p.target.Done():
	case <-time.After(p.opts.ShutdownGrace):
		p.log.Warn("target did not read queued input in time", "queued", p.out.pending())
	}
}

// awaitExit gives the target the grace period, then terminates it.
func (p *Proxy) awaitExit() {
	select {
	case <-p.target.Done():
	case <-time.After(p.opts.ShutdownGrace):
		p.log.Warn("target did not exit in time, terminating", "grace", p.opts.ShutdownGrace)
		_ = p.target.Terminate(p.opts.ShutdownGrace)
	}
}

// drain lets the target->agent direction flush what the target wrote
// before exiting.
func (p *Proxy) drain(targetDone <-chan error) {
	select {
	case <-targetDone:
	case <-time.After(p.opts.ShutdownGrace):
		p.log.Warn("target output did not close after exit")
	}
}

func (p *Proxy) exitError(readErr error) error {
	werr := p.target.Wait()
	switch {
	case werr != nil:
		p.log.Error("target exited with error", "error", werr)
		return fmt.Errorf("%w: %w", ErrTargetExited, werr)
	case readErr != nil:
		return fmt.Errorf("%w: %w", ErrTargetExited, readErr)
	default:
		p.log.Info("target exited cleanly")
		return nil
	}
}

func (p *Proxy) shutdown() {
	p.out.close()
	if err := p.agent.CloseWrite(); err != nil {
		p.log.Debug("closing agent output", "error", err)
	}
	if p.opts.Store != nil {
		if n := p.opts.Store.CancelAll(); n > 0 {
			p.log.Info("cancelled pending approvals", "count", n)
		}
	}
	_ = p.target.Close()
	_ = p.agent.Close()

	received, forwarded, answered, invalid := p.stats.GetStats()
	p.log.Info("session ended",
		"received", received,
		"forwarded", forwarded,
		"answered", answered,
		"invalid", invalid,
		"in_flight", p.routes.Len(),
	)
}
