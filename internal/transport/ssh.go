package transport

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// sshStdioConn pipes an agent process's stdin/stdout through one SSH
// session. Dropping it (Close) closes the session, which kills the remote
// agent process (§4.9: "dropping the pair terminates the remote agent").
type sshStdioConn struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func (c *sshStdioConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *sshStdioConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }
func (c *sshStdioConn) Close() error                { return c.session.Close() }

// DialSSHStdio starts remoteCommand (the deployed agent binary path) on
// client and pipes the protocol over its stdin/stdout. Stderr is discarded
// so it can never be mistaken for protocol bytes (§6: "Logging: stderr
// only; never intermixed with stdout" applies symmetrically to what the
// client consumes).
func DialSSHStdio(client *ssh.Client, remoteCommand string) (Conn, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("transport: open ssh session: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("transport: ssh stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("transport: ssh stdout pipe: %w", err)
	}
	sess.Stderr = io.Discard

	if err := sess.Start(remoteCommand); err != nil {
		sess.Close()
		return nil, fmt.Errorf("transport: start %q over ssh: %w", remoteCommand, err)
	}

	return &sshStdioConn{session: sess, stdin: stdin, stdout: stdout}, nil
}

// RunCommand executes cmd over a fresh SSH session and returns its
// combined stdout and stderr, untrimmed. Used by the deployment orchestrator for
// uname -sm, test -x <path>, chmod, and mkdir -p steps (§4.8).
func RunCommand(client *ssh.Client, cmd string) (string, error) {
	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("transport: open ssh session: %w", err)
	}
	defer sess.Close()

	var out bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &out

	if err := sess.Run(cmd); err != nil {
		return out.String(), fmt.Errorf("transport: run %q over ssh: %w", cmd, err)
	}
	return out.String(), nil
}
