// Package interceptor decides what happens to each message crossing the
// firewall.
//
// Agent-side tools/call requests are checked against policy. Allowed
// calls go to the target untouched. Blocked calls are parked in the
// approval store and answered at once with a paused result carrying a
// one-time code. The agent later submits that code through the
// firewall_confirm tool, which the interceptor handles itself and never
// forwards; a confirmed code replays the frozen call to the target.
//
// On the way back, tools/list responses gain the firewall_confirm
// descriptor and replayed responses are re-addressed to the confirm
// request. Everything else passes through byte-for-byte.
package interceptor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starskrime/mcp-action-firewall/approval"
	"github.com/starskrime/mcp-action-firewall/jsonrpc"
	"github.com/starskrime/mcp-action-firewall/policy"
	"github.com/starskrime/mcp-action-firewall/router"
)

// Settings are the approval parameters applied to every blocked call.
type Settings struct {
	TTL         time.Duration
	MaxAttempts int
}

// Disposition is the interceptor's verdict for one agent message. Any
// combination of fields may be empty.
type Disposition struct {
	// ToTarget is written to the target.
	ToTarget []byte
	// ToAgent is written back to the agent.
	ToAgent []byte
	// Route must be registered before ToTarget is written.
	Route *router.Route
}

// Interceptor applies policy and the approval flow to protocol messages.
type Interceptor struct {
	engine   *policy.Engine
	store    *approval.Store
	settings Settings
	log      *slog.Logger
	newID    func() jsonrpc.ID
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithIDSource replaces the generator for replay request ids.
func WithIDSource(gen func() jsonrpc.ID) Option {
	return func(i *Interceptor) { i.newID = gen }
}

// New creates an Interceptor.
func New(engine *policy.Engine, store *approval.Store, settings Settings, logger *slog.Logger, opts ...Option) *Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Interceptor{
		engine:   engine,
		store:    store,
		settings: settings,
		log:      logger.With("component", "interceptor"),
		newID:    replayID,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func replayID() jsonrpc.ID {
	return jsonrpc.StringID("firewall-" + uuid.NewString())
}

// FromAgent classifies a message read from the agent.
func (i *Interceptor) FromAgent(msg jsonrpc.Message) Disposition {
	req, ok := msg.(*jsonrpc.Request)
	if !ok {
		return Disposition{ToTarget: msg.Raw()}
	}

	switch req.Method {
	case jsonrpc.MethodToolsList:
		return forward(req, router.ToolList, "")
	case jsonrpc.MethodToolsCall:
		return i.toolCall(req)
	default:
		return forward(req, router.Passthrough, "")
	}
}

func forward(req *jsonrpc.Request, kind router.Kind, tool string) Disposition {
	return Disposition{
		ToTarget: req.Raw(),
		Route:    &router.Route{TargetID: req.ID, AgentID: req.ID, Kind: kind, Tool: tool},
	}
}

func (i *Interceptor) toolCall(req *jsonrpc.Request) Disposition {
	call, err := jsonrpc.ParseToolCall(req)
	if err != nil {
		i.log.Warn("unreadable tools/call params, relaying unchanged", "id", req.ID, "error", err)
		return forward(req, router.Passthrough, "")
	}
	if call.Name == ConfirmToolName {
		return i.confirm(req, call)
	}
	if call.Name == "" {
		i.log.Warn("tools/call without a tool name, blocking", "id", req.ID)
		return i.reply(toolError(req.ID, msgMissingTool))
	}

	action, rule := i.engine.Explain(call.Name)
	if action == policy.Allow {
		i.log.Info("tool call allowed", "tool", call.Name, "rule", rule.String(), "id", req.ID)
		return forward(req, router.Passthrough, call.Name)
	}

	origin, _ := req.ID.MarshalJSON()
	pending, err := i.store.Create(call.Name, call.Arguments, origin, i.settings.TTL, i.settings.MaxAttempts)
	if err != nil {
		i.log.Error("failed to hold blocked tool call", "tool", call.Name, "error", err)
		return i.reply(errorResponse(req.ID, jsonrpc.InternalError, fmt.Sprintf("firewall could not hold %q for approval: %v", call.Name, err)))
	}

	i.log.Warn("tool call blocked pending approval",
		"tool", call.Name,
		"rule", rule.String(),
		"id", req.ID,
		"pending_id", pending.ID,
		"expires_at", pending.ExpiresAt,
	)
	return i.reply(pausedResponse(req.ID, pending, i.settings.TTL))
}

func (i *Interceptor) confirm(req *jsonrpc.Request, call jsonrpc.ToolCall) Disposition {
	code, ok := submittedCode(call.Arguments)
	if !ok {
		i.log.Warn("firewall_confirm called without a code", "id", req.ID)
		return i.reply(toolError(req.ID, msgMissingCode))
	}

	out := i.store.Attempt(code)
	switch out.Kind {
	case approval.Confirmed:
		return i.replay(req, out.Action)
	case approval.WrongCodeRetry:
		i.log.Warn("wrong approval code", "id", req.ID, "attempts_left", out.AttemptsLeft)
		return i.reply(toolError(req.ID, fmt.Sprintf(msgWrongCodeFmt, out.AttemptsLeft)))
	case approval.LockedOut:
		i.log.Warn("approval locked out", "id", req.ID)
		return i.reply(toolError(req.ID, msgLockedOut))
	case approval.Expired:
		i.log.Warn("approval code expired", "id", req.ID)
		return i.reply(toolError(req.ID, msgExpired))
	default:
		i.log.Warn("unknown approval code", "id", req.ID)
		return i.reply(toolError(req.ID, msgNotFound))
	}
}

func (i *Interceptor) replay(req *jsonrpc.Request, action *approval.PendingAction) Disposition {
	id := i.newID()
	replay, err := jsonrpc.NewToolCall(id, action.ToolName, action.Arguments)
	if err == nil {
		var data []byte
		data, err = jsonrpc.Serialize(replay)
		if err == nil {
			i.log.Info("approval confirmed, replaying tool call",
				"tool", action.ToolName,
				"pending_id", action.ID,
				"confirm_id", req.ID,
				"replay_id", id,
			)
			return Disposition{
				ToTarget: data,
				Route:    &router.Route{TargetID: id, AgentID: req.ID, Kind: router.Replay, Tool: action.ToolName},
			}
		}
	}
	i.log.Error("failed to build replay request", "tool", action.ToolName, "error", err)
	return i.reply(errorResponse(req.ID, jsonrpc.InternalError, "firewall could not replay the approved call"))
}

func (i *Interceptor) reply(resp *jsonrpc.Response) Disposition {
	data, err := jsonrpc.Serialize(resp)
	if err != nil {
		i.log.Error("failed to encode synthetic response", "id", resp.ID, "error", err)
		return Disposition{}
	}
	return Disposition{ToAgent: data}
}

// FromTarget rewrites a message read from the target. route is the
// in-flight entry matched by the response id, or nil.
func (i *Interceptor) FromTarget(msg jsonrpc.Message, route *router.Route) []byte {
	resp, ok := msg.(*jsonrpc.Response)
	if !ok || route == nil {
		return msg.Raw()
	}

	switch route.Kind {
	case router.ToolList:
		if resp.Error != nil {
			return msg.Raw()
		}
		result, changed, err := augmentToolList(resp.Result)
		if err != nil {
			i.log.Warn("tools/list result not augmentable, relaying unchanged", "id", resp.ID, "error", err)
			return msg.Raw()
		}
		if !changed {
			return msg.Raw()
		}
		return i.encode(&jsonrpc.Response{ID: resp.ID, Result: result}, msg)
	case router.Replay:
		i.log.Info("replayed tool call answered", "tool", route.Tool, "confirm_id", route.AgentID, "error", resp.Error != nil)
		return i.encode(resp.WithID(route.AgentID), msg)
	default:
		return msg.Raw()
	}
}

func (i *Interceptor) encode(resp *jsonrpc.Response, fallback jsonrpc.Message) []byte {
	data, err := jsonrpc.Serialize(resp)
	if err != nil {
		i.log.Error("failed to encode rewritten response", "id", resp.ID, "error", err)
		return fallback.Raw()
	}
	return data
}

// submittedCode reads the code from firewall_confirm arguments.
func submittedCode(arguments json.RawMessage) (string, bool) {
	var args map[string]json.RawMessage
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", false
	}
	raw, ok := args[CodeArgument]
	if !ok {
		return "", false
	}
	var code string
	if err := json.Unmarshal(raw, &code); err != nil || code == "" {
		return "", false
	}
	return code, true
}
