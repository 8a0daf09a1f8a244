// Package middleware provides request/response interception
package middleware

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/starskrime/mcp-action-firewall/interceptor"
	"github.com/starskrime/mcp-action-firewall/jsonrpc"
)

// Handler decides the disposition of one agent message.
type Handler func(msg jsonrpc.Message) interceptor.Disposition

// Middleware defines a function that processes MCP messages
type Middleware func(msg jsonrpc.Message, next Handler) interceptor.Disposition

// Chain combines multiple middlewares into a single chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Then builds the handler that runs every middleware, in order, around
// final.
func (c *Chain) Then(final Handler) Handler {
	handler := final
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		mw := c.middlewares[i]
		next := handler
		handler = func(m jsonrpc.Message) interceptor.Disposition {
			return mw(m, next)
		}
	}
	return handler
}

// Logging logs every agent message and its disposition at debug level.
func Logging(logger *slog.Logger) Middleware {
	return func(msg jsonrpc.Message, next Handler) interceptor.Disposition {
		d := next(msg)
		if !logger.Enabled(context.Background(), slog.LevelDebug) {
			return d
		}
		attrs := []any{"type", msg.Type().String()}
		switch m := msg.(type) {
		case *jsonrpc.Request:
			attrs = append(attrs, "method", m.Method, "id", m.ID)
			if m.Method == jsonrpc.MethodToolsCall {
				attrs = append(attrs, "tool", jsonrpc.ExtractToolName(m))
			}
			if !jsonrpc.IsMCPMethod(m.Method) {
				attrs = append(attrs, "mcp", false)
			}
		case *jsonrpc.Notification:
			attrs = append(attrs, "method", m.Method)
		case *jsonrpc.Response:
			attrs = append(attrs, "id", m.ID)
		case *jsonrpc.Invalid:
			attrs = append(attrs, "error", m.Err)
		}
		attrs = append(attrs,
			"to_target", d.ToTarget != nil,
			"to_agent", d.ToAgent != nil,
		)
		logger.Debug("agent message", attrs...)
		return d
	}
}

// Stats counts agent messages by disposition.
type Stats struct {
	received  atomic.Uint64
	forwarded atomic.Uint64
	answered  atomic.Uint64
	invalid   atomic.Uint64
}

// Middleware returns the counting middleware.
func (s *Stats) Middleware() Middleware {
	return func(msg jsonrpc.Message, next Handler) interceptor.Disposition {
		s.received.Add(1)
		if _, ok := msg.(*jsonrpc.Invalid); ok {
			s.invalid.Add(1)
		}
		d := next(msg)
		if d.ToTarget != nil {
			s.forwarded.Add(1)
		}
		if d.ToAgent != nil {
			s.answered.Add(1)
		}
		return d
	}
}

// GetStats returns messages received, forwarded to the target, answered
// by the firewall itself, and unparseable.
func (s *Stats) GetStats() (received, forwarded, answered, invalid uint64) {
	return s.received.Load(), s.forwarded.Load(), s.answered.Load(), s.invalid.Load()
}
