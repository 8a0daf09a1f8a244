package interceptor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/starskrime/mcp-action-firewall/approval"
	"github.com/starskrime/mcp-action-firewall/jsonrpc"
)

const (
	// ConfirmToolName is the synthetic tool the agent calls with the code.
	ConfirmToolName = "firewall_confirm"
	// CodeArgument is the single input of the confirmation tool.
	CodeArgument = "otp"

	// StatusPaused marks a blocked call in the paused payload.
	StatusPaused = "PAUSED_FOR_APPROVAL"
)

const (
	msgMissingTool  = "Blocked: tools/call requires a tool name."
	msgMissingCode  = "Missing 'otp' argument. Ask the user for the approval code; do not guess."
	msgWrongCodeFmt = "Incorrect approval code. %d attempt(s) remain. Ask the user to re-check the code; do not guess or retry on your own."
	msgLockedOut    = "Incorrect approval code. The paused action has been cancelled after too many wrong codes. Re-issue the original tool call to get a new code."
	msgExpired      = "The approval code has expired. The paused action is no longer available. Re-issue the original tool call to get a new code."
	msgNotFound     = "Invalid or unknown approval code. Do not guess. Ask the user for the code, or re-issue the original tool call to get a new one."
	errorPrefix     = "FIREWALL ERROR: "
)

// ConfirmTool returns the descriptor advertised in every tools/list
// response.
func ConfirmTool() *mcp.Tool {
	return &mcp.Tool{
		Name: ConfirmToolName,
		Description: "Call this tool ONLY when the user provides the correct " +
			"4-digit approval code to confirm a paused action.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				CodeArgument: {
					Type:        "string",
					Description: "The 4-digit code provided by the user.",
				},
			},
			Required: []string{CodeArgument},
		},
	}
}

// augmentToolList appends the confirmation tool to a tools/list result.
// Pages with a nextCursor are left alone so the tool is listed once, on
// the last page. It reports whether the result changed.
func augmentToolList(result json.RawMessage) (json.RawMessage, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(result, &fields); err != nil {
		return nil, false, err
	}
	if fields == nil {
		return nil, false, errors.New("tools/list result is null")
	}
	if cursor, ok := fields["nextCursor"]; ok && !isEmptyCursor(cursor) {
		return result, false, nil
	}

	var tools []json.RawMessage
	if raw, ok := fields["tools"]; ok {
		if err := json.Unmarshal(raw, &tools); err != nil {
			return nil, false, fmt.Errorf("tools field: %w", err)
		}
	}
	for _, t := range tools {
		var named struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(t, &named) == nil && named.Name == ConfirmToolName {
			return result, false, nil
		}
	}

	descriptor, err := json.Marshal(ConfirmTool())
	if err != nil {
		return nil, false, err
	}
	tools = append(tools, descriptor)
	if fields["tools"], err = json.Marshal(tools); err != nil {
		return nil, false, err
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func isEmptyCursor(raw json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
	}
	return s == ""
}

// PausedPayload is the JSON document inside the text content of a
// paused result.
type PausedPayload struct {
	Status           string       `json:"status"`
	Message          string       `json:"message"`
	Action           PausedAction `json:"action"`
	ExpiresInSeconds int          `json:"otp_expires_in_seconds"`
	Instruction      string       `json:"instruction"`
}

// PausedAction echoes the frozen call.
type PausedAction struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

func pausedResponse(id jsonrpc.ID, pending approval.PendingAction, ttl time.Duration) *jsonrpc.Response {
	payload := PausedPayload{
		Status:           StatusPaused,
		Message:          fmt.Sprintf("The action '%s' is HIGH RISK and has been locked by the Action Firewall.", pending.ToolName),
		Action:           PausedAction{Tool: pending.ToolName, Arguments: pending.Arguments},
		ExpiresInSeconds: int(ttl.Round(time.Second) / time.Second),
		Instruction:      instruction(pending),
	}
	text, err := encodePaused(payload)
	if err != nil {
		return errorResponse(id, jsonrpc.InternalError, "firewall could not encode the paused response")
	}
	return toolResult(id, text, false)
}

func instruction(pending approval.PendingAction) string {
	summary := "(no arguments)"
	var indented bytes.Buffer
	if err := json.Indent(&indented, pending.Arguments, "   ", "  "); err == nil && indented.String() != "{}" {
		summary = indented.String()
	}

	var b strings.Builder
	b.WriteString("To unlock this action, you MUST ask the user for authorization.\n\n")
	b.WriteString("1. Show the user the following and ask for approval:\n")
	fmt.Fprintf(&b, "   Tool: **%s**\n", pending.ToolName)
	fmt.Fprintf(&b, "   Arguments:\n   %s\n\n", summary)
	fmt.Fprintf(&b, "2. Tell the user: 'Please reply with approval code: **%s**' to allow this action, or say no to cancel.\n", pending.Code)
	b.WriteString("3. STOP and wait for their reply.\n")
	fmt.Fprintf(&b, "4. When they reply with '%s', call the '%s' tool with that code.\n", pending.Code, ConfirmToolName)
	b.WriteString("5. If they say no or give a different code, do NOT retry.")
	return b.String()
}

// encodePaused marshals p with Action.Arguments copied in byte for byte.
// encoding/json would compact them, so the payload is encoded with null
// arguments and the original bytes are spliced over that null.
func encodePaused(p PausedPayload) (string, error) {
	args := p.Action.Arguments
	if !json.Valid(args) {
		return "", errors.New("paused arguments are not valid JSON")
	}
	p.Action.Arguments = nil
	text, err := encodeNoEscape(p)
	if err != nil {
		return "", err
	}
	tool, err := encodeNoEscape(p.Action.Tool)
	if err != nil {
		return "", err
	}
	// String values never contain an unescaped quote, so this only
	// matches the structural action object.
	slot := `"action":{"tool":` + tool + `,"arguments":`
	i := strings.Index(text, slot+"null}")
	if i < 0 {
		return "", errors.New("paused payload has no arguments slot")
	}
	at := i + len(slot)
	return text[:at] + string(args) + text[at+len("null"):], nil
}

// encodeNoEscape marshals v without HTML escaping so echoed arguments
// keep their characters.
func encodeNoEscape(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func toolError(id jsonrpc.ID, message string) *jsonrpc.Response {
	return toolResult(id, errorPrefix+message, true)
}

func toolResult(id jsonrpc.ID, text string, isError bool) *jsonrpc.Response {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
	resp, err := jsonrpc.NewResponse(id, result)
	if err != nil {
		return errorResponse(id, jsonrpc.InternalError, "firewall could not encode a tool result")
	}
	return resp
}

func errorResponse(id jsonrpc.ID, code int, message string) *jsonrpc.Response {
	resp, _ := jsonrpc.NewErrorResponse(id, code, message, nil)
	return resp
}
