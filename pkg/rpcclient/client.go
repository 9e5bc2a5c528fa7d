// Package rpcclient implements the RPC Client (C7): a correlated request
// driver multiplexed over one transport connection, with buffered stray
// notifications and typed error mapping.
//
// It is grounded on pkg/miniclient's Conn — a mutex-guarded connection
// wrapper with a sequential request/response loop — adapted from JSON/gob
// streaming replies to the length-prefixed MessagePack request/response
// protocol defined in pkg/rpc, and on the matching design in the original
// Rust plugin's rpc_client module (sequential calls only, no true
// pipelining, per the open question preserved in §9 of the spec).
package rpcclient

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sandia-minimega/tramp/pkg/rpc"
)

// Error kinds the client maps wire errors onto (§4.7, §7).
type ErrorKind int

const (
	ErrKindRemote ErrorKind = iota
	ErrKindNotFound
	ErrKindPermissionDenied
	ErrKindTransport
)

// CallError wraps an agent-reported failure (or a transport failure) with
// a classified Kind so callers can decide retry policy without string
// matching (§7: "Retry-at-client... Not retryable... Fatal").
type CallError struct {
	Kind    ErrorKind
	Method  string
	Code    int32
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("tramp: %s failed: %s (code %d)", e.Method, e.Message, e.Code)
}

func classifyError(method string, e *rpc.ErrorData) *CallError {
	ce := &CallError{Method: method, Code: e.Code, Message: e.Message}
	switch e.Code {
	case rpc.CodeNotFound:
		ce.Kind = ErrKindNotFound
	case rpc.CodePermissionDenied:
		ce.Kind = ErrKindPermissionDenied
	default:
		ce.Kind = ErrKindRemote
	}
	return ce
}

// Client communicates with a single running agent over a byte-stream
// transport. Call writes its request and then holds the reader lock until
// its matching response arrives, discarding any response with another id
// rather than routing it to its original (cancelled) caller, per the design
// note in §9. Writes are not held back by the reader lock, so two concurrent
// Calls can both send; whichever reads the other's response discards it.
type Client struct {
	readerMu sync.Mutex
	r        io.Reader

	writer *rpc.FrameWriter

	nextID uint64

	notifMu       sync.Mutex
	notifications []*rpc.Notification
}

// New wraps a (reader, writer) pair — typically the two ends of an
// SSH-piped stdio session, a TCP connection, or a UNIX socket — as an RPC
// client. The ids it allocates start at 1 (§3).
func New(r io.Reader, w io.Writer) *Client {
	return &Client{
		r:      r,
		writer: rpc.NewFrameWriter(w),
	}
}

// Call sends method with params and blocks for the matching response.
// Notifications observed while waiting are buffered for DrainNotifications.
func (c *Client) Call(method string, params map[string]interface{}) (interface{}, error) {
	id := atomic.AddUint64(&c.nextID, 1)

	req := &rpc.Request{Version: rpc.Version, ID: id, Method: method, Params: params}
	if err := c.writer.WriteFrame(req); err != nil {
		return nil, &CallError{Kind: ErrKindTransport, Method: method, Message: err.Error()}
	}

	c.readerMu.Lock()
	defer c.readerMu.Unlock()

	for {
		payload, err := rpc.ReadFrame(c.r)
		if err != nil {
			return nil, &CallError{Kind: ErrKindTransport, Method: method, Message: err.Error()}
		}

		kind, msg, err := rpc.DecodeEnvelope(payload)
		if err != nil {
			return nil, &CallError{Kind: ErrKindTransport, Method: method, Message: err.Error()}
		}

		switch kind {
		case rpc.KindResponse:
			resp := msg.(*rpc.Response)
			if resp.ID != id {
				// A response for a different (likely cancelled) call;
				// discard per §4.7/§9 and keep waiting for ours.
				continue
			}
			if resp.Error != nil {
				return nil, classifyError(method, resp.Error)
			}
			return resp.Result, nil
		case rpc.KindNotification:
			notif := msg.(*rpc.Notification)
			c.notifMu.Lock()
			c.notifications = append(c.notifications, notif)
			c.notifMu.Unlock()
		default:
			return nil, &CallError{Kind: ErrKindTransport, Method: method, Message: "unexpected request frame from agent"}
		}
	}
}

// Ping calls "ping" and validates the echoed status field (§4.7).
func (c *Client) Ping() (version string, pid uint64, err error) {
	result, err := c.Call("ping", map[string]interface{}{})
	if err != nil {
		return "", 0, err
	}
	m, ok := result.(map[string]interface{})
	if !ok {
		return "", 0, &CallError{Kind: ErrKindTransport, Method: "ping", Message: "malformed ping result"}
	}
	status, _ := m["status"].(string)
	if status != "ok" {
		return "", 0, &CallError{Kind: ErrKindRemote, Method: "ping", Message: fmt.Sprintf("unexpected status %q", status)}
	}
	version, _ = m["version"].(string)
	switch p := m["pid"].(type) {
	case uint64:
		pid = p
	case int64:
		pid = uint64(p)
	}
	return version, pid, nil
}

// DrainNotifications returns and clears the buffered notification queue.
func (c *Client) DrainNotifications() []*rpc.Notification {
	c.notifMu.Lock()
	defer c.notifMu.Unlock()
	out := c.notifications
	c.notifications = nil
	return out
}
