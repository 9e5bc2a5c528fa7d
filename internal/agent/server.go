package agent

import (
	"errors"
	"io"

	"github.com/sandia-minimega/tramp/pkg/rpc"
	log "github.com/sandia-minimega/tramp/pkg/minilog"
)

// Serve runs the single-reader dispatch loop against one connection until
// the peer disconnects or a fatal protocol error occurs (§4.3). It owns
// sess for the lifetime of the connection and closes it on return.
//
// Mirrors internal/ron's clientHandler: one goroutine reads frames and
// dispatches synchronously, a second goroutine (here, the notification
// forwarder) owns the same writer mutex for unsolicited events, and all
// writes funnel through rpc.FrameWriter so frames are never interleaved.
func Serve(rw io.ReadWriter, sess *Session) error {
	defer sess.Close()

	writer := rpc.NewFrameWriter(rw)

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for ev := range sess.Watches.Events() {
			notif := &rpc.Notification{
				Version: rpc.Version,
				Method:  "fs.changed",
				Params: map[string]interface{}{
					"watch_id": ev.WatchID,
					"path":     ev.Path,
					"event_kind": ev.Kind,
				},
			}
			if ev.Overflow {
				notif.Params["overflow"] = true
			}
			if err := writer.WriteFrame(notif); err != nil {
				log.Debug("tramp: notification write failed: %v", err)
				return
			}
		}
	}()

	for {
		payload, err := rpc.ReadFrame(rw)
		if err != nil {
			if errors.Is(err, rpc.ErrConnectionClosed) {
				log.Info("tramp: connection closed by peer")
				break
			}
			var protoErr *rpc.ProtocolError
			if errors.As(err, &protoErr) {
				log.Error("tramp: %v", err)
				return err
			}
			log.Error("tramp: read error: %v", err)
			return err
		}

		kind, msg, err := rpc.DecodeEnvelope(payload)
		if err != nil {
			log.Error("tramp: malformed frame: %v", err)
			continue
		}

		switch kind {
		case rpc.KindRequest:
			req := msg.(*rpc.Request)
			resp := Dispatch(sess, req)
			if werr := writer.WriteFrame(resp); werr != nil {
				log.Error("tramp: response write failed: %v", werr)
				return werr
			}
		default:
			// The agent never initiates calls in v1, so a response or
			// notification arriving on this side is spurious; ignore it
			// rather than treat it as fatal (§4.3 step 3).
			log.Debug("tramp: ignoring unexpected %v frame from peer", kind)
		}
	}

	return nil
}
