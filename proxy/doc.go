// Package proxy implements the firewall's duplex pump.
//
// It relays MCP JSON-RPC traffic between an agent and one target server,
// passing every agent message through the interceptor so tool calls the
// policy blocks are held for human approval instead of reaching the
// target.
//
// # Threat Model
//
// The firewall defends against:
//
//   - An agent invoking destructive tools (delete, transfer, deploy)
//     without a human in the loop
//   - An agent guessing or brute-forcing approval codes
//   - An agent altering the arguments of a call after it was approved
//
// It does not inspect argument values, and it trusts the target server.
//
// # Architecture
//
// The proxy sits between the agent and the target:
//
//	Agent ──stdin──▶ Proxy ──[Interceptor]──▶ Target
//	      ◀─stdout──   │   ◀─────────────────
//	                   ↓
//	          ┌────────┴────────┐
//	          ↓        ↓        ↓
//	       Policy   Approval  Router
//	       Engine    Store   (ids)
//
// One goroutine reads each direction. Frames bound for the target go
// through a FIFO outbox drained by a separate writer, so a target that
// stops reading never delays the firewall's own answers (paused results
// and firewall_confirm outcomes are written straight back to the agent).
// Each direction relays in arrival order. Responses are matched to
// requests by id through a router.Router, never by position.
//
// # Lifecycle
//
// The session ends when either side goes away. Target exit closes the
// agent's output and becomes the proxy's result; agent EOF closes the
// target's input and gives it a grace period before it is signalled.
// Pending approvals are cancelled either way.
//
// # Usage
//
//	target, err := transport.Spawn(argv)
//	if err != nil {
//	    return err
//	}
//	p := proxy.New(transport.NewStream(os.Stdin, os.Stdout), target, ic, proxy.Options{Store: store})
//	err = p.Run(ctx) // *exec.ExitError inside when the target failed
package proxy
