// Package proctable tracks processes spawned by process.start, mapping an
// opaque agent-minted handle to pid, stdio buffers, and exit state (§4.5).
// It is modelled on internal/ron's client/command maps: a coarse mutex
// guards the handle->record map itself, while each stream gets its own
// bounded, separately locked buffer so a slow reader can never deadlock the
// dispatcher.
package proctable

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/kr/pty"
)

// Stream names accepted by process.read / process.write.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// streamBufSize bounds how many chunks of output a record holds before it
// starts dropping the oldest ones and flips Truncated on the next read.
const streamBufSize = 256

// ErrNotFound is returned for a handle that is absent or fully reaped.
var ErrNotFound = fmt.Errorf("process: handle not found")

// ErrStdinClosed is returned by Write after stdin has been closed.
var ErrStdinClosed = fmt.Errorf("process: stdin closed")

type streamBuf struct {
	mu        sync.Mutex
	chunks    [][]byte
	closed    bool
	truncated bool
}

func (b *streamBuf) push(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) >= streamBufSize {
		b.chunks = b.chunks[1:]
		b.truncated = true
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	b.chunks = append(b.chunks, cp)
}

func (b *streamBuf) closeStream() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// read drains up to maxBytes from the buffer, returning the data, whether
// the stream has hit EOF (closed and drained), and whether bytes were
// dropped since the last read.
func (b *streamBuf) read(maxBytes int) (data []byte, eof bool, truncated bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.chunks) > 0 && len(data) < maxBytes {
		c := b.chunks[0]
		remaining := maxBytes - len(data)
		if len(c) <= remaining {
			data = append(data, c...)
			b.chunks = b.chunks[1:]
		} else {
			data = append(data, c[:remaining]...)
			b.chunks[0] = c[remaining:]
		}
	}

	truncated = b.truncated
	b.truncated = false
	eof = b.closed && len(b.chunks) == 0
	return
}

// Record is the bookkeeping the table keeps for one spawned process.
type Record struct {
	Handle uint64
	Pid    int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *streamBuf
	stderr *streamBuf

	// ptmx is set for processes started with Start's pty=true, the master
	// end of the pseudo-terminal carrying the combined stdout+stderr
	// stream. It is closed once the child has exited.
	ptmx *os.File

	mu       sync.Mutex
	exited   bool
	exitCode int32
	waitOnce sync.Once
	waitDone chan struct{}
}

// ExitStatus reports whether the process has exited and, if so, its code.
// -1 is reserved for "killed by signal / no code" per §4.4's numeric
// semantics.
func (r *Record) ExitStatus() (exited bool, code int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exited, r.exitCode
}

func (r *Record) setExited(code int32) {
	r.mu.Lock()
	r.exited = true
	r.exitCode = code
	r.mu.Unlock()
	r.stdout.closeStream()
	r.stderr.closeStream()
}

// Table is the in-memory handle -> Record mapping (§4.5). The zero value is
// not usable; construct with New.
type Table struct {
	mu      sync.Mutex
	records map[uint64]*Record
	nextID  uint64
}

func New() *Table {
	return &Table{records: make(map[uint64]*Record)}
}

// Start launches program with the given args/env/cwd, wires up stdio
// buffers, and inserts a new Record under a freshly allocated handle. When
// usePty is set the child's stdin/stdout/stderr are all attached to one
// pseudo-terminal instead of separate pipes — required for interactive
// programs (editors, REPLs) that refuse to run without a controlling tty.
// The combined output is then read from stdout; stderr reads report EOF at
// once.
func (t *Table) Start(program string, args []string, env []string, cwd string, usePty bool) (*Record, error) {
	cmd := exec.Command(program, args...)
	if len(env) > 0 {
		cmd.Env = env
	}
	if cwd != "" {
		cmd.Dir = cwd
	}

	if usePty {
		return t.startPty(cmd)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	rec := &Record{
		cmd:      cmd,
		Pid:      cmd.Process.Pid,
		stdin:    stdin,
		stdout:   &streamBuf{},
		stderr:   &streamBuf{},
		waitDone: make(chan struct{}),
	}

	// cmd.Wait closes the pipes, so it runs only after both pumps have read
	// to EOF; otherwise trailing output could be lost before it is buffered.
	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() { defer pumps.Done(); pump(stdoutPipe, rec.stdout) }()
	go func() { defer pumps.Done(); pump(stderrPipe, rec.stderr) }()
	go func() { pumps.Wait(); rec.wait() }()

	t.mu.Lock()
	t.nextID++
	rec.Handle = t.nextID
	t.records[rec.Handle] = rec
	t.mu.Unlock()

	return rec, nil
}

func (t *Table) startPty(cmd *exec.Cmd) (*Record, error) {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		cmd:      cmd,
		Pid:      cmd.Process.Pid,
		stdin:    ptmx,
		stdout:   &streamBuf{},
		stderr:   &streamBuf{},
		ptmx:     ptmx,
		waitDone: make(chan struct{}),
	}
	rec.stderr.closeStream()

	// wait closes ptmx, so it runs only after the pump has read to EOF.
	go func() { pump(ptmx, rec.stdout); rec.wait() }()

	t.mu.Lock()
	t.nextID++
	rec.Handle = t.nextID
	t.records[rec.Handle] = rec
	t.mu.Unlock()

	return rec, nil
}

func pump(r io.Reader, buf *streamBuf) {
	b := make([]byte, 32*1024)
	for {
		n, err := r.Read(b)
		if n > 0 {
			buf.push(b[:n])
		}
		if err != nil {
			return
		}
	}
}

func (r *Record) wait() {
	err := r.cmd.Wait()
	code := int32(0)
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				if status.Signaled() {
					code = -1
				} else {
					code = int32(status.ExitStatus())
				}
			} else {
				code = -1
			}
		} else {
			code = -1
		}
	}
	if r.ptmx != nil {
		r.ptmx.Close()
	}
	r.setExited(code)
	r.waitOnce.Do(func() { close(r.waitDone) })
}

// Get returns the record for handle, or ErrNotFound if absent or reaped.
func (t *Table) Get(handle uint64) (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Read drains up to maxBytes from the named stream of handle.
func (t *Table) Read(handle uint64, stream string, maxBytes int) (data []byte, eof bool, truncated bool, err error) {
	rec, err := t.Get(handle)
	if err != nil {
		return nil, false, false, err
	}

	var buf *streamBuf
	switch stream {
	case StreamStdout:
		buf = rec.stdout
	case StreamStderr:
		buf = rec.stderr
	default:
		return nil, false, false, fmt.Errorf("process: unknown stream %q", stream)
	}

	data, eof, truncated = buf.read(maxBytes)
	return data, eof, truncated, nil
}

// Write enqueues data to handle's stdin.
func (t *Table) Write(handle uint64, data []byte) error {
	rec, err := t.Get(handle)
	if err != nil {
		return err
	}
	if rec.stdin == nil {
		return ErrStdinClosed
	}
	_, err = rec.stdin.Write(data)
	if errors.Is(err, os.ErrClosed) {
		return ErrStdinClosed
	}
	return err
}

// Kill sends sig to the handle's process; the next wait-poll (the
// background goroutine from Start) observes the exit, after which the
// handle becomes eligible for Reap.
func (t *Table) Kill(handle uint64, sig syscall.Signal) error {
	rec, err := t.Get(handle)
	if err != nil {
		return err
	}
	if rec.cmd.Process == nil {
		return ErrNotFound
	}
	return rec.cmd.Process.Signal(sig)
}

// Reap removes handle from the table once its process has exited and the
// caller has finished with it. Operations on a reaped handle return
// ErrNotFound, matching §3 invariant 5 (no permanent leaks). Callers are
// process.read, once a drained stream reports eof on an exited handle, and
// Session.Close's shutdown sweep; Reap on a handle that hasn't exited yet
// is a no-op error, not a bug, so callers needn't guard the call.
func (t *Table) Reap(handle uint64) error {
	rec, err := t.Get(handle)
	if err != nil {
		return err
	}

	exited, _ := rec.ExitStatus()
	if !exited {
		return fmt.Errorf("process: handle %d has not exited", handle)
	}

	t.mu.Lock()
	delete(t.records, handle)
	t.mu.Unlock()

	return nil
}

// Len reports the number of live handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Handles returns a snapshot of all live handles, for shutdown sweeps.
func (t *Table) Handles() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]uint64, 0, len(t.records))
	for h := range t.records {
		out = append(out, h)
	}
	return out
}
