package minilog

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Ring is an in-memory, fixed-capacity logger: instead of writing anywhere
// it keeps the most recent size lines, so a long-running agent process
// still has recent history to inspect even when it was started without a
// --logfile.
type Ring struct {
	mu   sync.Mutex
	buf  []string
	next int
	full bool
}

// NewRing allocates a Ring holding at most size lines.
func NewRing(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{buf: make([]string, size)}
}

// Println timestamps and stores v, overwriting the oldest entry once the
// ring has filled up.
func (r *Ring) Println(v ...interface{}) {
	line := stamp(time.Now()) + fmt.Sprintln(v...)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = line
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// Dump returns the buffered lines, oldest first.
func (r *Ring) Dump() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]string, r.next)
		copy(out, r.buf[:r.next])
		return out
	}

	out := make([]string, len(r.buf))
	n := copy(out, r.buf[r.next:])
	copy(out[n:], r.buf[:r.next])
	return out
}

// stamp renders t as a "year/month/day hour:min:sec " prefix with no zero
// padding, without pulling in the stdlib log package just for a timestamp.
// The stderr logger writes no timestamp of its own.
func stamp(t time.Time) string {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	var b []byte
	b = strconv.AppendInt(b, int64(year), 10)
	b = append(b, '/')
	b = strconv.AppendInt(b, int64(month), 10)
	b = append(b, '/')
	b = strconv.AppendInt(b, int64(day), 10)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(hour), 10)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(min), 10)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(sec), 10)
	b = append(b, ' ')
	return string(b)
}
