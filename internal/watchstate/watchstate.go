// Package watchstate implements the Watch Subsystem (C6): a registration
// table over a single OS-level watcher, publishing fs.changed notifications
// into a bounded channel shared with the dispatcher's writer task.
//
// It is grounded on internal/ron's client/command map pattern (a coarse
// mutex around a handle->registration map, ids allocated from a counter)
// but swaps ron's handmade netlink-style plumbing for fsnotify, the
// library this pack's other repos reach for when they need filesystem
// change events.
package watchstate

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Event kinds surfaced on fs.changed notifications.
const (
	EventCreate = "create"
	EventWrite  = "write"
	EventRemove = "remove"
	EventRename = "rename"
	EventChmod  = "chmod"
)

// terminal event kinds must never be dropped on notification-channel
// overflow (§4.6, §9).
func isTerminal(kind string) bool {
	return kind == EventRemove
}

// ChangeEvent is pushed to the shared notification channel and marshalled
// by the dispatcher into an fs.changed notification.
type ChangeEvent struct {
	WatchID  uint64
	Path     string
	Kind     string
	Overflow bool
}

type registration struct {
	id        uint64
	path      string
	recursive bool
}

// State owns the fsnotify watcher, the registration table, and the shared
// outbound channel. One State exists per agent connection; batch requests
// get their own private State so sub-requests cannot observe or affect the
// outer session's watches (§4.3).
type State struct {
	watcher *fsnotify.Watcher
	events  chan ChangeEvent

	mu     sync.Mutex
	nextID uint64
	regs   map[uint64]*registration
	// paths maps a watched directory to every registration covering it,
	// since fsnotify delivers events per-directory, not per-registration.
	paths map[string][]uint64

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a watch state with a channel of the given capacity. A small
// capacity (tens of events) is enough to absorb a write burst between
// dispatcher writer-task turns; see §4.6 for the overflow contract.
func New(channelCap int) (*State, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watchstate: create watcher: %w", err)
	}

	s := &State{
		watcher: w,
		events:  make(chan ChangeEvent, channelCap),
		regs:    make(map[uint64]*registration),
		paths:   make(map[string][]uint64),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

// Events returns the channel the dispatcher's notification forwarder
// drains.
func (s *State) Events() <-chan ChangeEvent {
	return s.events
}

// Add registers a watch on path and returns its id (§4.2 watch.add).
func (s *State) Add(path string, recursive bool) (uint64, error) {
	if err := s.watcher.Add(path); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.regs[id] = &registration{id: id, path: path, recursive: recursive}
	s.paths[path] = append(s.paths[path], id)
	return id, nil
}

// Remove unregisters watchID; after this returns, no further notifications
// bearing that id are emitted (§4.2 watch.remove).
func (s *State) Remove(watchID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.regs[watchID]
	if !ok {
		return fmt.Errorf("watchstate: unknown watch %d", watchID)
	}
	delete(s.regs, watchID)

	ids := s.paths[reg.path]
	for i, id := range ids {
		if id == watchID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.paths, reg.path)
		s.watcher.Remove(reg.path)
	} else {
		s.paths[reg.path] = ids
	}
	return nil
}

// Registration describes one active watch, returned by List.
type Registration struct {
	WatchID   uint64
	Path      string
	Recursive bool
}

// List returns every active registration (§4.2 watch.list).
func (s *State) List() []Registration {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Registration, 0, len(s.regs))
	for _, r := range s.regs {
		out = append(out, Registration{WatchID: r.id, Path: r.path, Recursive: r.recursive})
	}
	return out
}

// Close tears down the underlying watcher and stops the pump goroutine.
func (s *State) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.watcher.Close()
}

func kindFromOp(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return EventCreate
	case op&fsnotify.Remove != 0:
		return EventRemove
	case op&fsnotify.Rename != 0:
		return EventRename
	case op&fsnotify.Chmod != 0:
		return EventChmod
	default:
		return EventWrite
	}
}

func (s *State) pump() {
	defer close(s.events)

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.dispatch(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			_ = err // watcher errors are discarded, not reported to the client
		}
	}
}

func (s *State) dispatch(ev fsnotify.Event) {
	s.mu.Lock()
	// fsnotify reports events against the watched directory; our
	// registrations key on the same path string.
	ids := append([]uint64(nil), s.paths[ev.Name]...)
	// Directory-level watches also receive events for files inside
	// them; fall back to matching by directory prefix registration.
	if len(ids) == 0 {
		for path, regIDs := range s.paths {
			if len(ev.Name) > len(path) && ev.Name[:len(path)] == path {
				ids = append(ids, regIDs...)
			}
		}
	}
	s.mu.Unlock()

	kind := kindFromOp(ev.Op)
	terminal := isTerminal(kind)

	for _, id := range ids {
		s.publish(ChangeEvent{WatchID: id, Path: ev.Name, Kind: kind}, terminal)
	}
}

// publish pushes ce onto the shared channel. Non-terminal events may be
// dropped under overflow (oldest-event eviction), with the overflow flag
// set on the next event that actually gets delivered for that watch.
// Terminal events always block until there is room, since §4.6 forbids
// dropping them.
func (s *State) publish(ce ChangeEvent, terminal bool) {
	if terminal {
		s.events <- ce
		return
	}

	select {
	case s.events <- ce:
	default:
		// Channel full: drop the oldest pending event for room, then
		// mark the new one as having overflowed.
		select {
		case <-s.events:
		default:
		}
		ce.Overflow = true
		select {
		case s.events <- ce:
		default:
			// Still full; give up on this one rather than block the
			// pump forever.
		}
	}
}
