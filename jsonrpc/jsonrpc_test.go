package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParse_ValidRequest(t *testing.T) {
	data := []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)
	msg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	req, ok := msg.(*Request)
	if !ok {
		t.Fatalf("expected *Request, got %T", msg)
	}
	if req.Method != "tools/list" {
		t.Errorf("expected method 'tools/list', got %q", req.Method)
	}
	if req.ID.Key() != "1" {
		t.Errorf("expected id key '1', got %q", req.ID.Key())
	}
	if msg.Type() != TypeRequest {
		t.Errorf("expected TypeRequest, got %v", msg.Type())
	}
	if string(msg.Raw()) != string(data) {
		t.Errorf("Raw() = %s, expected original bytes", msg.Raw())
	}
}

func TestParse_ValidNotification(t *testing.T) {
	data := []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	msg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if _, ok := msg.(*Notification); !ok {
		t.Errorf("expected *Notification, got %T", msg)
	}
}

func TestParse_NullIDIsNotification(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"2.0","method":"ping","id":null}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if msg.Type() != TypeNotification {
		t.Errorf("expected TypeNotification, got %v", msg.Type())
	}
}

func TestParse_ValidResponse(t *testing.T) {
	data := []byte(`{"jsonrpc":"2.0","result":{"tools":[]},"id":"abc"}`)
	msg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	resp, ok := msg.(*Response)
	if !ok {
		t.Fatalf("expected *Response, got %T", msg)
	}
	if resp.ID.Key() != `"abc"` {
		t.Errorf("expected id key '\"abc\"', got %q", resp.ID.Key())
	}
}

func TestParse_ErrorResponse(t *testing.T) {
	data := []byte(`{"jsonrpc":"2.0","error":{"code":-32600,"message":"Invalid Request"},"id":1}`)
	msg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	resp := msg.(*Response)
	if resp.Error == nil {
		t.Fatal("expected error to be set")
	}
	if resp.Error.Code != InvalidRequest {
		t.Errorf("expected code %d, got %d", InvalidRequest, resp.Error.Code)
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	data := []byte(`{invalid}`)
	msg, err := Parse(data)
	if !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("expected ErrInvalidJSON, got %v", err)
	}
	inv, ok := msg.(*Invalid)
	if !ok {
		t.Fatalf("expected *Invalid, got %T", msg)
	}
	if string(inv.Raw()) != string(data) {
		t.Errorf("invalid message should keep raw bytes, got %s", inv.Raw())
	}
}

func TestParse_WrongVersion(t *testing.T) {
	_, err := Parse([]byte(`{"jsonrpc":"1.0","method":"test","id":1}`))
	if !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("expected ErrInvalidVersion, got %v", err)
	}
}

func TestParse_InvalidID(t *testing.T) {
	_, err := Parse([]byte(`{"jsonrpc":"2.0","method":"test","id":{"a":1}}`))
	if !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestParse_MissingMethod(t *testing.T) {
	_, err := Parse([]byte(`{"jsonrpc":"2.0","id":1}`))
	if !errors.Is(err, ErrMissingMethod) {
		t.Errorf("expected ErrMissingMethod, got %v", err)
	}
}

func TestSerialize(t *testing.T) {
	req, err := NewRequest("test", nil, StringID("x"))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	data, err := Serialize(req)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse of serialized data failed: %v", err)
	}
	got := parsed.(*Request)
	if got.Method != "test" {
		t.Errorf("expected method 'test', got %q", got.Method)
	}
	if got.ID.Key() != `"x"` {
		t.Errorf("expected id '\"x\"', got %s", got.ID)
	}
}

func TestSerialize_ResponseWithoutIDEncodesNull(t *testing.T) {
	resp, err := NewErrorResponse(ID{}, ParseError, "Parse error", nil)
	if err != nil {
		t.Fatalf("NewErrorResponse failed: %v", err)
	}
	data, err := Serialize(resp)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	expected := `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`
	if string(data) != expected {
		t.Errorf("Serialize() = %s, expected %s", data, expected)
	}
}

func TestNewResponse(t *testing.T) {
	id := ID{raw: json.RawMessage("1")}
	msg, err := NewResponse(id, map[string]int{"count": 5})
	if err != nil {
		t.Fatalf("NewResponse failed: %v", err)
	}
	if string(msg.Result) != `{"count":5}` {
		t.Errorf("unexpected result %s", msg.Result)
	}
}

func TestResponse_WithID(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"2.0","id":"firewall-1","result":{"ok":true}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	id := ID{raw: json.RawMessage("7")}
	rewritten := msg.(*Response).WithID(id)
	if rewritten.Raw() != nil {
		t.Error("rewritten response must not carry stale raw bytes")
	}
	data, _ := Serialize(rewritten)
	expected := `{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`
	if string(data) != expected {
		t.Errorf("Serialize() = %s, expected %s", data, expected)
	}
}

func TestID_NumberAndStringDiffer(t *testing.T) {
	a, err := parseID(json.RawMessage("1"))
	if err != nil {
		t.Fatalf("parseID failed: %v", err)
	}
	if a.Key() == StringID("1").Key() {
		t.Error("numeric and string ids must not share a key")
	}
	if _, err := parseID(json.RawMessage("true")); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID for a boolean id, got %v", err)
	}
}

func TestIsMCPMethod(t *testing.T) {
	tests := []struct {
		method   string
		expected bool
	}{
		{"initialize", true},
		{"tools/list", true},
		{"tools/call", true},
		{"resources/read", true},
		{"prompts/get", true},
		{"unknown/method", false},
		{"", false},
	}

	for _, tt := range tests {
		result := IsMCPMethod(tt.method)
		if result != tt.expected {
			t.Errorf("IsMCPMethod(%q) = %v, expected %v", tt.method, result, tt.expected)
		}
	}
}

func TestParseToolCall(t *testing.T) {
	id := ID{raw: json.RawMessage("1")}
	req := &Request{
		ID:     id,
		Method: MethodToolsCall,
		Params: json.RawMessage(`{"name":"delete_user","arguments":{"id":42}}`),
	}

	call, err := ParseToolCall(req)
	if err != nil {
		t.Fatalf("ParseToolCall failed: %v", err)
	}
	if call.Name != "delete_user" {
		t.Errorf("expected 'delete_user', got %q", call.Name)
	}
	if string(call.Arguments) != `{"id":42}` {
		t.Errorf("expected arguments to be preserved, got %s", call.Arguments)
	}

	req.Params = json.RawMessage(`{"name":"get_balance"}`)
	call, err = ParseToolCall(req)
	if err != nil {
		t.Fatalf("ParseToolCall failed: %v", err)
	}
	if string(call.Arguments) != `{}` {
		t.Errorf("missing arguments should default to {}, got %s", call.Arguments)
	}
}

func TestExtractToolName(t *testing.T) {
	req := &Request{
		Method: MethodToolsCall,
		Params: json.RawMessage(`{"name":"read_file","arguments":{}}`),
	}

	if name := ExtractToolName(req); name != "read_file" {
		t.Errorf("expected 'read_file', got %q", name)
	}

	req.Method = "tools/list"
	if name := ExtractToolName(req); name != "" {
		t.Errorf("expected empty string for non-tools/call, got %q", name)
	}

	req.Method = "tools/call"
	req.Params = json.RawMessage(`invalid`)
	if name := ExtractToolName(req); name != "" {
		t.Errorf("expected empty string for invalid params, got %q", name)
	}
}

func TestMessageType_String(t *testing.T) {
	tests := []struct {
		t        MessageType
		expected string
	}{
		{TypeRequest, "request"},
		{TypeNotification, "notification"},
		{TypeResponse, "response"},
		{TypeUnknown, "unknown"},
	}

	for _, tt := range tests {
		result := tt.t.String()
		if result != tt.expected {
			t.Errorf("MessageType(%d).String() = %q, expected %q", tt.t, result, tt.expected)
		}
	}
}

func TestError_Error(t *testing.T) {
	e := &Error{
		Code:    ParseError,
		Message: "Parse error",
	}

	expected := "jsonrpc error -32700: Parse error"
	if e.Error() != expected {
		t.Errorf("Error() = %q, expected %q", e.Error(), expected)
	}
}
