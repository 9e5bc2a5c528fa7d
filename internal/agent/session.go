// Package agent implements the Agent Dispatcher (C3) and Operation Handlers
// (C4): the single-reader request loop and the concrete file/dir/process/
// system/watch/batch method implementations.
//
// The architecture is adapted from internal/ron's Server: a mutex-guarded
// map of live state, a single goroutine owning the shared writer, and a
// channel-fed forwarder for unsolicited events. What changes is the wire
// format (length-prefixed MessagePack request/response/notification frames
// instead of ron's gob-encoded Message envelope) and the operations
// themselves (syscall-backed file/process/system ops instead of VM
// command-and-control).
package agent

import (
	"syscall"
	"time"

	"github.com/sandia-minimega/tramp/internal/proctable"
	"github.com/sandia-minimega/tramp/internal/watchstate"
)

// notificationChanCap is the bound on the channel shared between the watch
// subsystem and the writer task (§4.6, §5). Capacity is a tuning knob, not
// part of the wire contract.
const notificationChanCap = 64

// Session holds everything a single connection's handlers share: the
// process table and watch state. batch requests get a private Session so
// their side effects are isolated from the outer one (§4.3).
type Session struct {
	Version   string
	StartTime time.Time

	Procs   *proctable.Table
	Watches *watchstate.State
}

// NewSession builds the shared state for one top-level agent connection.
func NewSession(version string) (*Session, error) {
	watches, err := watchstate.New(notificationChanCap)
	if err != nil {
		return nil, err
	}
	return &Session{
		Version:   version,
		StartTime: time.Now(),
		Procs:     proctable.New(),
		Watches:   watches,
	}, nil
}

// NewIsolatedSession builds a private Session for one batch call, with its
// own process table and watch state, per §4.3's isolation requirement.
func NewIsolatedSession(version string) (*Session, error) {
	return NewSession(version)
}

// Close tears down the session's watch state and terminates any child
// processes still tracked by its process table, as required on dispatcher
// shutdown (§4.3). Handles that already exited but were never drained by a
// process.read get reaped here too, so none linger past the connection.
func (s *Session) Close() {
	s.Watches.Close()
	for _, h := range s.Procs.Handles() {
		rec, err := s.Procs.Get(h)
		if err != nil {
			continue
		}
		if exited, _ := rec.ExitStatus(); !exited {
			s.Procs.Kill(h, syscall.SIGTERM)
		} else {
			s.Procs.Reap(h)
		}
	}
}
