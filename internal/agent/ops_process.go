package agent

import (
	"bytes"
	"os/exec"
	"syscall"
	"time"

	"github.com/sandia-minimega/tramp/pkg/rpc"
)

// killGrace is how long process.run waits after SIGTERM before escalating
// to SIGKILL on timeout, mirroring §5's "SIGTERM then, after a short
// grace, SIGKILL".
const killGrace = 2 * time.Second

type processRunParams struct {
	Program   string            `param:"program"`
	Args      []string          `param:"args"`
	Env       map[string]string `param:"env"`
	Cwd       string            `param:"cwd"`
	Stdin     []byte            `param:"stdin"`
	TimeoutMs uint64            `param:"timeout_ms"`
	Pty       bool              `param:"pty"`
}

func handleProcessRun(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	var p processRunParams
	if errData := decodeParams(params, &p); errData != nil {
		return nil, errData
	}
	if p.Program == "" {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "missing required parameter %q", "program")
	}

	cmd := exec.Command(p.Program, p.Args...)
	if len(p.Env) > 0 {
		cmd.Env = envSlice(p.Env)
	}
	if p.Cwd != "" {
		cmd.Dir = p.Cwd
	}
	if len(p.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(p.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, osError(err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timedOut := false
	var waitErr error

	if p.TimeoutMs > 0 {
		select {
		case waitErr = <-done:
		case <-time.After(time.Duration(p.TimeoutMs) * time.Millisecond):
			timedOut = true
			cmd.Process.Signal(syscall.SIGTERM)
			select {
			case waitErr = <-done:
			case <-time.After(killGrace):
				cmd.Process.Kill()
				waitErr = <-done
			}
		}
	} else {
		waitErr = <-done
	}

	exitCode := int32(0)
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				exitCode = -1
			} else {
				exitCode = int32(exitErr.ExitCode())
			}
		} else {
			exitCode = -1
		}
	}

	return map[string]interface{}{
		"exit_code":  exitCode,
		"stdout":     stdout.Bytes(),
		"stderr":     stderr.Bytes(),
		"timed_out":  timedOut,
	}, nil
}

func handleProcessStart(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	var p processRunParams
	if errData := decodeParams(params, &p); errData != nil {
		return nil, errData
	}
	if p.Program == "" {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "missing required parameter %q", "program")
	}

	var env []string
	if len(p.Env) > 0 {
		env = envSlice(p.Env)
	}

	rec, err := sess.Procs.Start(p.Program, p.Args, env, p.Cwd, p.Pty)
	if err != nil {
		return nil, osError(err)
	}

	if len(p.Stdin) > 0 {
		sess.Procs.Write(rec.Handle, p.Stdin)
	}

	return map[string]interface{}{"handle": rec.Handle}, nil
}

func handleProcessRead(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	handle, errData := requireUint64(params, "handle")
	if errData != nil {
		return nil, errData
	}
	stream, errData := requireString(params, "stream")
	if errData != nil {
		return nil, errData
	}
	maxBytes := int(optionalUint64(params, "max_bytes", 65536))

	data, eof, truncated, err := sess.Procs.Read(handle, stream, maxBytes)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeNotFound, "%v", err)
	}

	if eof {
		// The stream is closed and drained. If the process has also
		// exited, the handle has nothing left for a caller to observe;
		// reap it so it doesn't linger in the table (§4.5, invariant 5).
		// Reap is a no-op error when the process hasn't exited yet (e.g.
		// stderr hit EOF under a pty before the child exits).
		sess.Procs.Reap(handle)
	}

	return map[string]interface{}{
		"data":      data,
		"eof":       eof,
		"truncated": truncated,
	}, nil
}

func handleProcessWrite(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	handle, errData := requireUint64(params, "handle")
	if errData != nil {
		return nil, errData
	}
	raw, ok := params["data"]
	if !ok {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "missing required parameter %q", "data")
	}
	data, ok := raw.([]byte)
	if !ok {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "parameter %q must be binary", "data")
	}

	if err := sess.Procs.Write(handle, data); err != nil {
		return nil, rpc.NewError(rpc.CodeNotFound, "%v", err)
	}

	return map[string]interface{}{}, nil
}

func handleProcessKill(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	handle, errData := requireUint64(params, "handle")
	if errData != nil {
		return nil, errData
	}
	sig := syscall.Signal(optionalUint64(params, "signal", uint64(syscall.SIGTERM)))

	if err := sess.Procs.Kill(handle, sig); err != nil {
		return nil, rpc.NewError(rpc.CodeNotFound, "%v", err)
	}

	return map[string]interface{}{}, nil
}

func envSlice(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}
