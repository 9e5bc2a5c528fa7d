package transport

import (
	"fmt"
	"net"
	"time"
)

type unixConn struct {
	*net.UnixConn
}

// DialUnix connects to the UNIX-domain socket at path and verifies the
// remote agent is alive with an immediate ping. Same pattern as DialTCP
// without TCP-specific socket options (§4.9).
func DialUnix(path string, connectTimeout, pingTimeout time.Duration) (Conn, error) {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if pingTimeout <= 0 {
		pingTimeout = DefaultPingTimeout
	}

	d := net.Dialer{Timeout: connectTimeout}
	raw, err := d.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", path, err)
	}
	uc, ok := raw.(*net.UnixConn)
	if !ok {
		raw.Close()
		return nil, fmt.Errorf("transport: expected a UNIX socket connection to %s", path)
	}

	if err := verifyAlive(uc, pingTimeout); err != nil {
		uc.Close()
		return nil, err
	}

	return &unixConn{UnixConn: uc}, nil
}

// ListenUnix accepts one connection at path and returns it, for the
// agent's own --listen unix:<path> server mode (§6). v1 serves a single
// connection then returns, matching the source's --listen behavior.
func ListenUnix(path string) (Conn, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", path, err)
	}
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("transport: accept on %s: %w", path, err)
	}
	return conn, nil
}

// ListenTCP accepts one connection at hostport and returns it, for the
// agent's --listen tcp:<host>:<port> server mode (§6).
func ListenTCP(hostport string) (Conn, error) {
	ln, err := net.Listen("tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", hostport, err)
	}
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("transport: accept on %s: %w", hostport, err)
	}
	return conn, nil
}
