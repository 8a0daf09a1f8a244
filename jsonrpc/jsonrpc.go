// Package jsonrpc provides JSON-RPC 2.0 message parsing for MCP.
//
// It handles parsing and serialization of JSON-RPC messages used
// in the Model Context Protocol (MCP), including requests, responses,
// notifications, and error handling.
//
// # Message Types
//
// Parsed messages form a closed set of concrete types behind the
// Message interface:
//
//   - *Request: Has method, params, and id (expects response)
//   - *Notification: Has method and params but no id (fire-and-forget)
//   - *Response: Has result or error, and id matching a request
//   - *Invalid: Anything that failed to parse, kept verbatim
//
// Callers dispatch with a type switch. Every parsed message keeps the
// exact bytes it was decoded from (Raw), so relaying an untouched
// message never re-encodes it.
//
// # MCP-Specific Methods
//
// Methods the firewall cares about:
//
//   - tools/list: List available tools (response is augmented)
//   - tools/call: Execute a tool (subject to policy)
//
// Everything else is relayed without inspection.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// JSON-RPC 2.0 version constant.
const Version = "2.0"

// MCP method names inspected by the firewall.
const (
	MethodInitialize = "initialize"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
)

// Common errors returned by the parser.
var (
	ErrInvalidJSON    = errors.New("jsonrpc: invalid JSON")
	ErrInvalidVersion = errors.New("jsonrpc: version must be 2.0")
	ErrMissingMethod  = errors.New("jsonrpc: missing method field")
	ErrInvalidID      = errors.New("jsonrpc: invalid id type")
	ErrNotToolCall    = errors.New("jsonrpc: not a tools/call request")
)

// JSON-RPC 2.0 error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	// Code is the error code (negative integers for protocol errors)
	Code int `json:"code"`

	// Message is a short description of the error
	Message string `json:"message"`

	// Data contains additional error information (optional)
	Data json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// MessageType indicates the type of JSON-RPC message.
type MessageType int

const (
	// TypeUnknown indicates an unparseable or invalid message
	TypeUnknown MessageType = iota
	// TypeRequest indicates a request expecting a response
	TypeRequest
	// TypeNotification indicates a notification (no response expected)
	TypeNotification
	// TypeResponse indicates a response to a previous request
	TypeResponse
)

// String returns the string representation of the message type.
func (t MessageType) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeNotification:
		return "notification"
	case TypeResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Message is one framed JSON-RPC unit. The concrete type is always one
// of *Request, *Notification, *Response or *Invalid.
type Message interface {
	// Type reports which variant this is.
	Type() MessageType
	// Raw returns the bytes the message was parsed from, or nil for
	// messages built locally.
	Raw() []byte

	isMessage()
}

// Request is a call that expects a response carrying the same ID.
type Request struct {
	ID     ID
	Method string
	Params json.RawMessage
	raw    []byte
}

// Notification is a call without an ID.
type Notification struct {
	Method string
	Params json.RawMessage
	raw    []byte
}

// Response answers a Request. Exactly one of Result and Error is set.
type Response struct {
	ID     ID
	Result json.RawMessage
	Error  *Error
	raw    []byte
}

// Invalid holds a line that could not be parsed as JSON-RPC 2.0.
type Invalid struct {
	Err error
	raw []byte
}

func (*Request) Type() MessageType      { return TypeRequest }
func (*Notification) Type() MessageType { return TypeNotification }
func (*Response) Type() MessageType     { return TypeResponse }
func (*Invalid) Type() MessageType      { return TypeUnknown }

func (m *Request) Raw() []byte      { return m.raw }
func (m *Notification) Raw() []byte { return m.raw }
func (m *Response) Raw() []byte     { return m.raw }
func (m *Invalid) Raw() []byte      { return m.raw }

func (*Request) isMessage()      {}
func (*Notification) isMessage() {}
func (*Response) isMessage()     {}
func (*Invalid) isMessage()      {}

// wireMessage is the union of every field a JSON-RPC 2.0 message may carry.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Parse parses a raw JSON-RPC message from bytes.
//
// It validates that the message is valid JSON and conforms to JSON-RPC 2.0
// requirements. On failure the returned Message is an *Invalid wrapping
// the original bytes, so the caller can still relay it, together with an
// error describing the problem.
//
// # Arguments
//   - data: Raw JSON bytes to parse (one framed line, without newline)
//
// # Returns
//   - Parsed Message (never nil)
//   - Error if parsing or validation fails
//
// # Example
//
//	msg, err := jsonrpc.Parse([]byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	req := msg.(*jsonrpc.Request)
//	fmt.Println(req.Method) // "tools/list"
func Parse(data []byte) (Message, error) {
	raw := bytes.Clone(data)
	invalid := func(err error) (Message, error) {
		return &Invalid{Err: err, raw: raw}, err
	}

	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return invalid(fmt.Errorf("%w: %v", ErrInvalidJSON, err))
	}
	if w.JSONRPC != Version {
		return invalid(ErrInvalidVersion)
	}

	id, err := parseID(w.ID)
	if err != nil {
		return invalid(err)
	}

	hasResult := len(w.Result) > 0
	hasError := w.Error != nil
	switch {
	case hasResult || hasError:
		return &Response{ID: id, Result: w.Result, Error: w.Error, raw: raw}, nil
	case w.Method != "" && !id.IsZero():
		return &Request{ID: id, Method: w.Method, Params: w.Params, raw: raw}, nil
	case w.Method != "":
		return &Notification{Method: w.Method, Params: w.Params, raw: raw}, nil
	default:
		return invalid(ErrMissingMethod)
	}
}

// Serialize converts a Message to JSON bytes.
//
// Serialize always encodes from the message fields; use Raw to relay a
// parsed message byte-for-byte.
//
// # Arguments
//   - msg: Message to serialize
//
// # Returns
//   - JSON bytes
//   - Error if serialization fails
func Serialize(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Request:
		return json.Marshal(wireMessage{JSONRPC: Version, Method: m.Method, Params: m.Params, ID: m.ID.raw})
	case *Notification:
		return json.Marshal(wireMessage{JSONRPC: Version, Method: m.Method, Params: m.Params})
	case *Response:
		// Responses always carry an id, even when it is null.
		out := struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      ID              `json:"id"`
			Result  json.RawMessage `json:"result,omitempty"`
			Error   *Error          `json:"error,omitempty"`
		}{JSONRPC: Version, ID: m.ID, Result: m.Result, Error: m.Error}
		if out.Error == nil && len(out.Result) == 0 {
			out.Result = json.RawMessage(`{}`)
		}
		return json.Marshal(out)
	case *Invalid:
		if m.raw == nil {
			return nil, fmt.Errorf("jsonrpc: cannot serialize invalid message: %w", m.Err)
		}
		return m.raw, nil
	default:
		return nil, fmt.Errorf("jsonrpc: unsupported message type %T", msg)
	}
}

// NewRequest creates a new JSON-RPC request message.
//
// # Arguments
//   - method: The method name to call
//   - params: Parameters for the method (will be JSON-encoded)
//   - id: Request ID
//
// # Returns
//   - New Request
//   - Error if params cannot be encoded
func NewRequest(method string, params any, id ID) (*Request, error) {
	msg := &Request{ID: id, Method: method}
	if params != nil {
		p, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params: %w", err)
		}
		msg.Params = p
	}
	return msg, nil
}

// NewResponse creates a new JSON-RPC success response.
//
// # Arguments
//   - id: Request ID this is responding to
//   - result: Result data (will be JSON-encoded)
//
// # Returns
//   - New Response
//   - Error if result cannot be encoded
func NewResponse(id ID, result any) (*Response, error) {
	r, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &Response{ID: id, Result: r}, nil
}

// NewErrorResponse creates a new JSON-RPC error response.
//
// # Arguments
//   - id: Request ID this is responding to (zero ID for parse errors)
//   - code: Error code (use constants like ParseError, InvalidRequest)
//   - message: Human-readable error message
//   - data: Optional additional error data
func NewErrorResponse(id ID, code int, message string, data any) (*Response, error) {
	msg := &Response{
		ID:    id,
		Error: &Error{Code: code, Message: message},
	}
	if data != nil {
		d, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode error data: %w", err)
		}
		msg.Error.Data = d
	}
	return msg, nil
}

// WithID returns a copy of r answering id instead of r.ID. The copy has
// no raw bytes, so it must be re-serialized.
func (r *Response) WithID(id ID) *Response {
	return &Response{ID: id, Result: r.Result, Error: r.Error}
}

// IsMCPMethod checks if the method is a known MCP method.
func IsMCPMethod(method string) bool {
	switch method {
	case MethodInitialize, "notifications/initialized", "ping",
		MethodToolsList, MethodToolsCall,
		"resources/list", "resources/read", "resources/subscribe",
		"prompts/list", "prompts/get",
		"logging/setLevel", "completion/complete":
		return true
	}
	return false
}
