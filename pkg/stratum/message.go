// Package stratum decodes the line-delimited JSON-RPC dialect spoken between
// miners and pools.
//
// Only three methods are interpreted (mining.authorize, mining.submit and
// mining.set_target); everything else decodes to MethodUnknown and is left
// for the caller to relay untouched.
package stratum

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrMalformed     = errors.New("stratum: malformed message")
	ErrMissingParam  = errors.New("stratum: missing parameter")
	ErrInvalidTarget = errors.New("stratum: invalid target")
)

// Method is the tagged set of methods the proxy inspects.
type Method int

const (
	MethodUnknown   Method = iota // relayed, otherwise ignored
	MethodAuthorize               // client -> pool, params[0] = "<worker>.<address>"
	MethodSubmit                  // client -> pool, correlated by id
	MethodSetTarget               // pool -> client, params[0] = hex target
)

const (
	methodAuthorize = "mining.authorize"
	methodSubmit    = "mining.submit"
	methodSetTarget = "mining.set_target"
)

// ParseMethod maps a wire method name to its Method tag.
func ParseMethod(name string) Method {
	switch name {
	case methodAuthorize:
		return MethodAuthorize
	case methodSubmit:
		return MethodSubmit
	case methodSetTarget:
		return MethodSetTarget
	default:
		return MethodUnknown
	}
}

func (m Method) String() string {
	switch m {
	case MethodAuthorize:
		return methodAuthorize
	case MethodSubmit:
		return methodSubmit
	case MethodSetTarget:
		return methodSetTarget
	default:
		return "unknown"
	}
}

// Message is one decoded line. Members are kept raw so that any well-formed
// JSON line decodes; only the three inspected methods ever interpret params.
// Members that were absent stay nil.
type Message struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method json.RawMessage `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// Decode parses a single line into a Message. Only text that is not valid
// JSON is ErrMalformed. A valid line that is not an object (a batch array, a
// bare scalar) decodes to an empty Message of kind MethodUnknown.
func Decode(line []byte) (*Message, error) {
	if !json.Valid(line) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	var msg Message
	if trimmed := bytes.TrimSpace(line); len(trimmed) == 0 || trimmed[0] != '{' {
		return &msg, nil
	}
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &msg, nil
}

// MethodName returns the method as a string, or "" when it is absent or
// not a JSON string.
func (m *Message) MethodName() string {
	if isNull(m.Method) {
		return ""
	}
	var name string
	if err := json.Unmarshal(m.Method, &name); err != nil {
		return ""
	}
	return name
}

// HasMethod reports whether the message carries a non-null method member of
// any type. Responses have none.
func (m *Message) HasMethod() bool {
	return !isNull(m.Method)
}

// Kind returns the method tag of the message.
func (m *Message) Kind() Method {
	return ParseMethod(m.MethodName())
}

// IDKey returns the compact JSON text of the id, used as the correlation key.
// The second result is false when the id is absent or null.
func (m *Message) IDKey() (string, bool) {
	if isNull(m.ID) {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, m.ID); err != nil {
		return string(m.ID), true
	}
	return buf.String(), true
}

// HasError reports whether the message carries a non-null error member.
// Pools commonly send "error":null alongside a successful result.
func (m *Message) HasError() bool {
	return !isNull(m.Error)
}

// StringParam returns params[i] decoded as a JSON string. Params that are
// not an array are ErrMalformed.
func (m *Message) StringParam(i int) (string, error) {
	var params []json.RawMessage
	if !isNull(m.Params) {
		if err := json.Unmarshal(m.Params, &params); err != nil {
			return "", fmt.Errorf("%w: params is not an array", ErrMalformed)
		}
	}
	if i >= len(params) {
		return "", fmt.Errorf("%w: index %d of %d", ErrMissingParam, i, len(params))
	}
	var s string
	if err := json.Unmarshal(params[i], &s); err != nil {
		return "", fmt.Errorf("%w: params[%d] is not a string", ErrMalformed, i)
	}
	return s, nil
}

// AuthorizeAddress extracts the payout address from a "<worker>.<address>"
// login. It returns false when the login carries no address segment.
func AuthorizeAddress(login string) (string, bool) {
	parts := strings.Split(login, ".")
	if len(parts) < 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// ParseTarget parses a base-16 share target of arbitrary size.
func ParseTarget(hex string) (*big.Int, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(hex), "0x"), "0X")
	if s == "" || strings.ContainsAny(s, "+-") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, hex)
	}
	target, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, hex)
	}
	return target, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
