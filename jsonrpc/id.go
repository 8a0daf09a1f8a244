package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is a JSON-RPC request identifier: a string, a number, or absent.
//
// The zero ID means "no id" and encodes as null. IDs compare by Key, the
// compact JSON form, so the string "1" and the number 1 stay distinct.
type ID struct {
	raw json.RawMessage
}

// StringID returns an ID holding s. It never fails.
func StringID(s string) ID {
	b, _ := json.Marshal(s)
	return ID{raw: b}
}

// parseID validates the raw id field of a decoded message.
func parseID(raw json.RawMessage) (ID, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ID{}, nil
	}
	switch trimmed[0] {
	case '"', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
	default:
		return ID{}, fmt.Errorf("%w: %s", ErrInvalidID, trimmed)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return ID{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return ID{raw: compact.Bytes()}, nil
}

// IsZero reports whether the ID is absent or null.
func (id ID) IsZero() bool {
	return len(id.raw) == 0
}

// Key returns a string usable as a map key.
func (id ID) Key() string {
	return string(id.raw)
}

// String returns the JSON form of the ID, or "null".
func (id ID) String() string {
	if id.IsZero() {
		return "null"
	}
	return string(id.raw)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	parsed, err := parseID(data)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
