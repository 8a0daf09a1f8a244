package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ToolCall is the decoded params of a tools/call request.
//
// Arguments keeps the exact bytes the caller sent so they can be echoed
// and replayed without re-encoding.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ParseToolCall extracts the tool name and arguments from a tools/call
// request.
//
// A missing arguments field is reported as an empty JSON object.
func ParseToolCall(req *Request) (ToolCall, error) {
	if req.Method != MethodToolsCall {
		return ToolCall{}, ErrNotToolCall
	}
	var call ToolCall
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &call); err != nil {
			return ToolCall{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
	}
	args := bytes.TrimSpace(call.Arguments)
	if len(args) == 0 || bytes.Equal(args, []byte("null")) {
		call.Arguments = json.RawMessage(`{}`)
	}
	return call, nil
}

// ExtractToolName extracts the tool name from a tools/call request.
//
// Returns empty string if not a tools/call message or if name not found.
func ExtractToolName(req *Request) string {
	call, err := ParseToolCall(req)
	if err != nil {
		return ""
	}
	return call.Name
}

// NewToolCall builds a tools/call request for name with the given raw
// arguments.
func NewToolCall(id ID, name string, arguments json.RawMessage) (*Request, error) {
	return NewRequest(MethodToolsCall, ToolCall{Name: name, Arguments: arguments}, id)
}
