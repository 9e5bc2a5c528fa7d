package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sandia-minimega/tramp/pkg/rpc"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	sess, err := NewSession("0.1.0-test")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(sess.Close)
	return sess
}

func TestDispatchPing(t *testing.T) {
	sess := newTestSession(t)

	resp := Dispatch(sess, &rpc.Request{Version: rpc.Version, ID: 1, Method: "ping", Params: map[string]interface{}{}})
	if resp.Error != nil {
		t.Fatalf("ping returned error: %v", resp.Error)
	}
	result := resp.Result.(map[string]interface{})
	if result["status"] != "ok" {
		t.Fatalf("status = %v, want ok", result["status"])
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	sess := newTestSession(t)

	resp := Dispatch(sess, &rpc.Request{Version: rpc.Version, ID: 7, Method: "nope.doNotExist", Params: map[string]interface{}{}})
	if resp.Error == nil {
		t.Fatal("expected an error for an unknown method")
	}
	if resp.Error.Code != rpc.CodeMethodNotFound {
		t.Fatalf("code = %d, want %d", resp.Error.Code, rpc.CodeMethodNotFound)
	}
	if resp.ID != 7 {
		t.Fatalf("id = %d, want 7", resp.ID)
	}
}

func TestDispatchFileStatAndRoundTrip(t *testing.T) {
	sess := newTestSession(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "t")

	if err := os.WriteFile(path, make([]byte, 42), 0644); err != nil {
		t.Fatal(err)
	}

	resp := Dispatch(sess, &rpc.Request{ID: 1, Method: "file.stat", Params: map[string]interface{}{"path": path}})
	if resp.Error != nil {
		t.Fatalf("file.stat: %v", resp.Error)
	}
	entry := resp.Result.(map[string]interface{})
	if entry["kind"] != "file" {
		t.Fatalf("kind = %v, want file", entry["kind"])
	}
	if entry["size"] != uint64(42) {
		t.Fatalf("size = %v, want 42", entry["size"])
	}

	data := make([]byte, 1024*1024)
	for i := range data {
		data[i] = byte(i)
	}
	bpath := filepath.Join(dir, "b")

	resp = Dispatch(sess, &rpc.Request{ID: 2, Method: "file.write", Params: map[string]interface{}{"path": bpath, "data": data}})
	if resp.Error != nil {
		t.Fatalf("file.write: %v", resp.Error)
	}

	resp = Dispatch(sess, &rpc.Request{ID: 3, Method: "file.read", Params: map[string]interface{}{"path": bpath}})
	if resp.Error != nil {
		t.Fatalf("file.read: %v", resp.Error)
	}
	got := resp.Result.(map[string]interface{})["data"].([]byte)
	if string(got) != string(data) {
		t.Fatal("round-tripped bytes do not match")
	}
}

func TestDispatchDirListWithSymlink(t *testing.T) {
	sess := newTestSession(t)
	dir := t.TempDir()

	real := filepath.Join(dir, "real")
	if err := os.WriteFile(real, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Fatal(err)
	}

	resp := Dispatch(sess, &rpc.Request{ID: 1, Method: "dir.list", Params: map[string]interface{}{"path": dir}})
	if resp.Error != nil {
		t.Fatalf("dir.list: %v", resp.Error)
	}

	entries := resp.Result.(map[string]interface{})["entries"].([]map[string]interface{})
	var sawSymlink, sawFile bool
	for _, e := range entries {
		switch e["name"] {
		case "link":
			sawSymlink = e["kind"] == "symlink" && e["symlink_target"] == real
		case "real":
			sawFile = e["kind"] == "file"
		}
	}
	if !sawSymlink {
		t.Fatal("expected a symlink entry with symlink_target set")
	}
	if !sawFile {
		t.Fatal("expected a file entry for the symlink target")
	}
}

func TestDispatchDirListNonexistent(t *testing.T) {
	sess := newTestSession(t)

	resp := Dispatch(sess, &rpc.Request{ID: 1, Method: "dir.list", Params: map[string]interface{}{"path": "/nonexistent/path/xyz"}})
	if resp.Error == nil || resp.Error.Code != rpc.CodeNotFound {
		t.Fatalf("expected not_found, got %+v", resp.Error)
	}
}

func TestDispatchProcessRunEcho(t *testing.T) {
	sess := newTestSession(t)

	resp := Dispatch(sess, &rpc.Request{ID: 1, Method: "process.run", Params: map[string]interface{}{
		"program": "echo",
		"args":    []interface{}{"hi"},
	}})
	if resp.Error != nil {
		t.Fatalf("process.run: %v", resp.Error)
	}
	result := resp.Result.(map[string]interface{})
	if result["exit_code"] != int32(0) {
		t.Fatalf("exit_code = %v, want 0", result["exit_code"])
	}
	if strings.TrimSpace(string(result["stdout"].([]byte))) != "hi" {
		t.Fatalf("stdout = %q, want hi", result["stdout"])
	}
	if len(result["stderr"].([]byte)) != 0 {
		t.Fatalf("stderr = %q, want empty", result["stderr"])
	}
}

func TestDispatchProcessStartWriteKill(t *testing.T) {
	sess := newTestSession(t)

	resp := Dispatch(sess, &rpc.Request{ID: 1, Method: "process.start", Params: map[string]interface{}{
		"program": "cat",
	}})
	if resp.Error != nil {
		t.Fatalf("process.start: %v", resp.Error)
	}
	handle := resp.Result.(map[string]interface{})["handle"].(uint64)

	resp = Dispatch(sess, &rpc.Request{ID: 2, Method: "process.write", Params: map[string]interface{}{
		"handle": handle, "data": []byte("hello\n"),
	}})
	if resp.Error != nil {
		t.Fatalf("process.write: %v", resp.Error)
	}

	resp = Dispatch(sess, &rpc.Request{ID: 3, Method: "process.kill", Params: map[string]interface{}{"handle": handle}})
	if resp.Error != nil {
		t.Fatalf("process.kill: %v", resp.Error)
	}
}

func TestDispatchProcessReadReapsHandleOnEOF(t *testing.T) {
	sess := newTestSession(t)

	resp := Dispatch(sess, &rpc.Request{ID: 1, Method: "process.start", Params: map[string]interface{}{
		"program": "echo", "args": []interface{}{"hi"},
	}})
	if resp.Error != nil {
		t.Fatalf("process.start: %v", resp.Error)
	}
	handle := resp.Result.(map[string]interface{})["handle"].(uint64)

	// Poll process.read until the exited, fully-drained child reports
	// eof=true; the handle should be reaped out of the table as a side
	// effect (§4.5, invariant 5), rather than lingering for the rest of
	// the connection's lifetime.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp = Dispatch(sess, &rpc.Request{ID: 2, Method: "process.read", Params: map[string]interface{}{
			"handle": handle, "stream": "stdout",
		}})
		if resp.Error != nil {
			t.Fatalf("process.read: %v", resp.Error)
		}
		if resp.Result.(map[string]interface{})["eof"] == true {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("process.read never reported eof")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp = Dispatch(sess, &rpc.Request{ID: 3, Method: "process.read", Params: map[string]interface{}{
		"handle": handle, "stream": "stdout",
	}})
	if resp.Error == nil || resp.Error.Code != rpc.CodeNotFound {
		t.Fatalf("expected not_found for a reaped handle, got %+v", resp.Error)
	}
}

func TestDispatchSystemInfoAndGetenv(t *testing.T) {
	sess := newTestSession(t)

	resp := Dispatch(sess, &rpc.Request{ID: 1, Method: "system.info", Params: map[string]interface{}{}})
	if resp.Error != nil {
		t.Fatalf("system.info: %v", resp.Error)
	}
	info := resp.Result.(map[string]interface{})
	if info["os"] == "" || info["os"] == nil {
		t.Fatal("expected a non-empty os field")
	}

	os.Setenv("TRAMP_TEST_VAR", "present")
	resp = Dispatch(sess, &rpc.Request{ID: 2, Method: "system.getenv", Params: map[string]interface{}{"name": "TRAMP_TEST_VAR"}})
	if resp.Error != nil {
		t.Fatalf("system.getenv: %v", resp.Error)
	}
	if resp.Result.(map[string]interface{})["value"] != "present" {
		t.Fatalf("value = %v, want present", resp.Result.(map[string]interface{})["value"])
	}

	resp = Dispatch(sess, &rpc.Request{ID: 3, Method: "system.getenv", Params: map[string]interface{}{"name": "TRAMP_TEST_VAR_UNSET"}})
	if resp.Error != nil {
		t.Fatalf("system.getenv: %v", resp.Error)
	}
	if resp.Result.(map[string]interface{})["value"] != nil {
		t.Fatalf("value = %v, want nil", resp.Result.(map[string]interface{})["value"])
	}
}

func TestDispatchSystemStatvfsRoot(t *testing.T) {
	sess := newTestSession(t)

	resp := Dispatch(sess, &rpc.Request{ID: 1, Method: "system.statvfs", Params: map[string]interface{}{"path": "/"}})
	if resp.Error != nil {
		t.Fatalf("system.statvfs: %v", resp.Error)
	}
	result := resp.Result.(map[string]interface{})
	if result["total_bytes"].(uint64) == 0 {
		t.Fatal("expected total_bytes > 0")
	}
	if result["avail_bytes"].(uint64) > result["total_bytes"].(uint64) {
		t.Fatal("avail_bytes should not exceed total_bytes")
	}
}

func TestDispatchBatchIsolatesProcessTable(t *testing.T) {
	sess := newTestSession(t)

	// Start a process on the outer session.
	resp := Dispatch(sess, &rpc.Request{ID: 1, Method: "process.start", Params: map[string]interface{}{"program": "cat"}})
	outerHandle := resp.Result.(map[string]interface{})["handle"].(uint64)
	t.Cleanup(func() { sess.Procs.Kill(outerHandle, 9) })

	resp = Dispatch(sess, &rpc.Request{ID: 2, Method: "batch", Params: map[string]interface{}{
		"requests": []interface{}{
			map[string]interface{}{"method": "process.read", "params": map[string]interface{}{
				"handle": outerHandle, "stream": "stdout",
			}},
		},
		"parallel": false,
	}})
	if resp.Error != nil {
		t.Fatalf("batch: %v", resp.Error)
	}
	results := resp.Result.(map[string]interface{})["results"].([]map[string]interface{})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if _, hasErr := results[0]["error"]; !hasErr {
		t.Fatal("expected batch sub-request to fail against the outer session's handle (isolated process table)")
	}
}
