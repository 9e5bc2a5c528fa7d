// Package transport implements the Transport Adapters (C9): SSH-piped
// stdio, TCP, and UNIX-domain socket adapters that each yield a (reader,
// writer) pair with identical contracts, plus the address-parsing rules
// from §4.9 and §6.
package transport

import (
	"fmt"
	"io"
	"strings"
)

// Conn is the byte-stream contract every adapter satisfies: a
// bidirectional stream that terminates the underlying connection (and, for
// the SSH adapter, the remote agent process) on Close.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Kind identifies which adapter an address string selects.
type Kind int

const (
	KindTCP Kind = iota
	KindUnix
)

// ParseAddr recognises `tcp:<host>:<port>`, `unix:<path>`, and a bare
// `<host>:<port>` (inferred as TCP), per §4.9.
func ParseAddr(addr string) (kind Kind, target string, err error) {
	switch {
	case strings.HasPrefix(addr, "tcp:"):
		return KindTCP, strings.TrimPrefix(addr, "tcp:"), nil
	case strings.HasPrefix(addr, "unix:"):
		return KindUnix, strings.TrimPrefix(addr, "unix:"), nil
	case strings.Contains(addr, ":"):
		return KindTCP, addr, nil
	default:
		return 0, "", fmt.Errorf("transport: cannot parse address %q (expected tcp:<host>:<port>, unix:<path>, or <host>:<port>)", addr)
	}
}
