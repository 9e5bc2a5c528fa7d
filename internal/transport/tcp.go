package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/sandia-minimega/tramp/pkg/rpcclient"
)

// DefaultConnectTimeout bounds the initial TCP dial (§4.9).
const DefaultConnectTimeout = 5 * time.Second

// DefaultPingTimeout bounds the post-connect handshake ping (§4.9).
const DefaultPingTimeout = 3 * time.Second

type tcpConn struct {
	*net.TCPConn
}

// DialTCP connects to hostport with Nagle disabled and verifies the remote
// agent is alive with an immediate ping, failing fast if either the
// connect or the ping exceeds its timeout.
func DialTCP(hostport string, connectTimeout, pingTimeout time.Duration) (Conn, error) {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if pingTimeout <= 0 {
		pingTimeout = DefaultPingTimeout
	}

	d := net.Dialer{Timeout: connectTimeout}
	raw, err := d.Dial("tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", hostport, err)
	}
	tc, ok := raw.(*net.TCPConn)
	if !ok {
		raw.Close()
		return nil, fmt.Errorf("transport: expected a TCP connection to %s", hostport)
	}
	if err := tc.SetNoDelay(true); err != nil {
		tc.Close()
		return nil, fmt.Errorf("transport: disable Nagle on %s: %w", hostport, err)
	}

	if err := verifyAlive(tc, pingTimeout); err != nil {
		tc.Close()
		return nil, err
	}

	return &tcpConn{TCPConn: tc}, nil
}

// verifyAlive issues an immediate ping over conn with its own deadline,
// independent of the connect timeout (§4.9).
func verifyAlive(conn net.Conn, timeout time.Duration) error {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("transport: set ping deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	client := rpcclient.New(conn, conn)
	if _, _, err := client.Ping(); err != nil {
		return fmt.Errorf("transport: ping failed: %w", err)
	}
	return nil
}
