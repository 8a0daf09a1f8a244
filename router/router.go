// Package router tracks requests in flight to the target server so each
// response can be routed back to the agent with the right id and
// post-processing.
package router

import (
	"sync"

	"github.com/starskrime/mcp-action-firewall/jsonrpc"
)

// Kind says what to do with the response to a routed request.
type Kind int

const (
	// Passthrough relays the response untouched.
	Passthrough Kind = iota
	// ToolList appends the confirmation tool to the tool catalog.
	ToolList
	// Replay answers a confirmed firewall_confirm call: the response id
	// is rewritten to the confirm request's id.
	Replay
)

func (k Kind) String() string {
	switch k {
	case Passthrough:
		return "passthrough"
	case ToolList:
		return "tools/list"
	case Replay:
		return "replay"
	default:
		return "unknown"
	}
}

// Route is one in-flight request.
type Route struct {
	// TargetID is the id the target will answer with.
	TargetID jsonrpc.ID
	// AgentID is the id the agent is waiting on.
	AgentID jsonrpc.ID
	Kind    Kind
	// Tool is the tool name for tools/call routes, for logging.
	Tool string
}

// Router manages in-flight routes keyed by target-side id.
type Router struct {
	mu     sync.Mutex
	routes map[string]Route
}

// New creates a new Router instance
func New() *Router {
	return &Router{
		routes: make(map[string]Route),
	}
}

// AddRoute registers a route. It reports false, leaving the existing
// route in place, if the target id is already in flight.
func (r *Router) AddRoute(route Route) bool {
	key := route.TargetID.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.routes[key]; busy {
		return false
	}
	r.routes[key] = route
	return true
}

// Match finds and removes the route for a response id.
func (r *Router) Match(id jsonrpc.ID) (Route, bool) {
	key := id.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	route, ok := r.routes[key]
	if ok {
		delete(r.routes, key)
	}
	return route, ok
}

// Len returns the number of requests in flight.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routes)
}
