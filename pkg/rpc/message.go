// Package rpc defines the wire types, error taxonomy, and length-prefixed
// MessagePack framing shared by the agent and the client driver. Both sides
// import this package so the frame shapes can never drift out of sync.
package rpc

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Version is the advisory schema version stamped on every message.
// Receivers must not reject a message on version mismatch; they should
// merely record it (§4.2).
const Version = "2.0"

// Request is sent client -> agent.
type Request struct {
	Version string                 `msgpack:"version"`
	ID      uint64                 `msgpack:"id"`
	Method  string                 `msgpack:"method"`
	Params  map[string]interface{} `msgpack:"params"`
}

// Response is sent agent -> client. Exactly one of Result/Error is set.
type Response struct {
	Version string      `msgpack:"version"`
	ID      uint64      `msgpack:"id"`
	Result  interface{} `msgpack:"result,omitempty"`
	Error   *ErrorData  `msgpack:"error,omitempty"`
}

// Notification is an unsolicited agent -> client message. It never carries
// an id and is never part of a request/response pair.
type Notification struct {
	Version string                 `msgpack:"version"`
	Method  string                 `msgpack:"method"`
	Params  map[string]interface{} `msgpack:"params"`
}

// ErrorData is the error payload embedded in a Response.
type ErrorData struct {
	Code    int32  `msgpack:"code"`
	Message string `msgpack:"message"`
}

func (e *ErrorData) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Well-known error codes, matching §3's wire error taxonomy exactly.
const (
	CodeMethodNotFound  int32 = -32601
	CodeInvalidParams   int32 = -32602
	CodeInternalError   int32 = -32603
	CodeNotFound        int32 = -32000
	CodePermissionDenied int32 = -32001
	CodeIOError         int32 = -32002
)

// NewError builds an ErrorData with the given code and message.
func NewError(code int32, format string, args ...interface{}) *ErrorData {
	return &ErrorData{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewResponse builds a successful Response.
func NewResponse(id uint64, result interface{}) *Response {
	return &Response{Version: Version, ID: id, Result: result}
}

// NewErrorResponse builds a failed Response.
func NewErrorResponse(id uint64, err *ErrorData) *Response {
	return &Response{Version: Version, ID: id, Error: err}
}

// Kind classifies a decoded MessagePack map by field presence: id+method ->
// request, id+!method -> response, method+!id -> notification, neither ->
// unknown (a protocol error).
type Kind int

const (
	KindUnknown Kind = iota
	KindRequest
	KindResponse
	KindNotification
)

// classify inspects a generically-decoded map to determine which concrete
// shape it holds, without assuming which side of the connection we're on.
func classify(raw map[string]interface{}) Kind {
	_, hasID := raw["id"]
	_, hasMethod := raw["method"]

	switch {
	case hasID && hasMethod:
		return KindRequest
	case hasID && !hasMethod:
		return KindResponse
	case hasMethod && !hasID:
		return KindNotification
	default:
		return KindUnknown
	}
}

// DecodeEnvelope classifies and fully decodes a single payload, returning
// exactly one of the three concrete types (as interface{}) plus its Kind.
// Agents use this when they additionally need to tolerate stray Responses
// echoed back by a misbehaving peer; clients use it for the Response vs
// Notification split described in §4.7.
func DecodeEnvelope(payload []byte) (Kind, interface{}, error) {
	var raw map[string]interface{}
	if err := msgpack.Unmarshal(payload, &raw); err != nil {
		return KindUnknown, nil, fmt.Errorf("rpc: decode envelope: %w", err)
	}

	switch classify(raw) {
	case KindRequest:
		var req Request
		if err := msgpack.Unmarshal(payload, &req); err != nil {
			return KindUnknown, nil, fmt.Errorf("rpc: decode request: %w", err)
		}
		return KindRequest, &req, nil
	case KindResponse:
		var resp Response
		if err := msgpack.Unmarshal(payload, &resp); err != nil {
			return KindUnknown, nil, fmt.Errorf("rpc: decode response: %w", err)
		}
		return KindResponse, &resp, nil
	case KindNotification:
		var notif Notification
		if err := msgpack.Unmarshal(payload, &notif); err != nil {
			return KindUnknown, nil, fmt.Errorf("rpc: decode notification: %w", err)
		}
		return KindNotification, &notif, nil
	default:
		return KindUnknown, nil, fmt.Errorf("rpc: protocol error: message has neither id nor method")
	}
}

// ErrorCodeForErrno maps an OS error, already classified as not-exist and/or
// permission, onto the §4.4 error-code table. The agent's handlers do not
// call it; they classify through their own osError helper.
func ErrorCodeForErrno(isNotExist, isPermission bool) int32 {
	switch {
	case isNotExist:
		return CodeNotFound
	case isPermission:
		return CodePermissionDenied
	default:
		return CodeIOError
	}
}
