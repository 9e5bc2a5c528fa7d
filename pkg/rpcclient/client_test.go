package rpcclient

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandia-minimega/tramp/pkg/rpc"
)

// fakeAgent glues a client's reader/writer directly to a fake agent driven
// by this test, without spinning up a real transport.
type fakeAgent struct {
	t        *testing.T
	in       io.Reader
	out      *rpc.FrameWriter
	handlers map[string]func(params map[string]interface{}) (interface{}, *rpc.ErrorData)
}

func (f *fakeAgent) serveOne() bool {
	payload, err := rpc.ReadFrame(f.in)
	if err != nil {
		return false
	}
	kind, msg, err := rpc.DecodeEnvelope(payload)
	if err != nil || kind != rpc.KindRequest {
		return false
	}
	req := msg.(*rpc.Request)

	h, ok := f.handlers[req.Method]
	if !ok {
		f.out.WriteFrame(rpc.NewErrorResponse(req.ID, rpc.NewError(rpc.CodeMethodNotFound, "unknown method %q", req.Method)))
		return true
	}
	result, errData := h(req.Params)
	if errData != nil {
		f.out.WriteFrame(rpc.NewErrorResponse(req.ID, errData))
		return true
	}
	f.out.WriteFrame(rpc.NewResponse(req.ID, result))
	return true
}

func newClientAndFakeAgent(t *testing.T) (*Client, *fakeAgent) {
	clientReadsFromAgent, agentWritesToClient := io.Pipe()
	agentReadsFromClient, clientWritesToAgent := io.Pipe()

	agent := &fakeAgent{
		t:        t,
		in:       agentReadsFromClient,
		out:      rpc.NewFrameWriter(agentWritesToClient),
		handlers: map[string]func(map[string]interface{}) (interface{}, *rpc.ErrorData){},
	}
	client := New(clientReadsFromAgent, clientWritesToAgent)
	return client, agent
}

func TestClientPingRoundTrip(t *testing.T) {
	client, agent := newClientAndFakeAgent(t)
	agent.handlers["ping"] = func(params map[string]interface{}) (interface{}, *rpc.ErrorData) {
		return map[string]interface{}{"status": "ok", "version": "9.9.9", "pid": uint64(42)}, nil
	}
	go agent.serveOne()

	version, pid, err := client.Ping()
	require.NoError(t, err)
	assert.Equal(t, "9.9.9", version)
	assert.EqualValues(t, 42, pid)
}

func TestClientCallMapsNotFoundError(t *testing.T) {
	client, agent := newClientAndFakeAgent(t)
	agent.handlers["file.stat"] = func(params map[string]interface{}) (interface{}, *rpc.ErrorData) {
		return nil, rpc.NewError(rpc.CodeNotFound, "no such file: /tmp/missing")
	}
	go agent.serveOne()

	_, err := client.Call("file.stat", map[string]interface{}{"path": "/tmp/missing"})
	require.Error(t, err)

	ce, ok := err.(*CallError)
	require.True(t, ok, "expected a *CallError, got %T", err)
	assert.Equal(t, ErrKindNotFound, ce.Kind)
}

func TestClientBuffersNotificationReceivedWhileWaiting(t *testing.T) {
	client, agent := newClientAndFakeAgent(t)

	agent.handlers["ping"] = func(params map[string]interface{}) (interface{}, *rpc.ErrorData) {
		// Agent sends a stray notification before the actual response. It
		// is written only after the request has been read, since io.Pipe
		// writes block until the other side reads.
		agent.out.WriteFrame(&rpc.Notification{
			Version: rpc.Version,
			Method:  "fs.changed",
			Params:  map[string]interface{}{"watch_id": uint64(1), "path": "/tmp", "event_kind": "write"},
		})
		return map[string]interface{}{"status": "ok", "version": "1.0.0", "pid": uint64(1)}, nil
	}
	go agent.serveOne()

	_, _, err := client.Ping()
	require.NoError(t, err)

	notifs := client.DrainNotifications()
	require.Len(t, notifs, 1)
	assert.Equal(t, "fs.changed", notifs[0].Method)
}
