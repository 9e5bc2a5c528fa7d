package proctable

import (
	"strings"
	"testing"
	"time"
)

func TestStartReadWaitReap(t *testing.T) {
	tbl := New()

	rec, err := tbl.Start("echo", []string{"hello"}, nil, "", false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var out []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, eof, _, err := tbl.Read(rec.Handle, StreamStdout, 4096)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		out = append(out, data...)
		if eof {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if strings.TrimSpace(string(out)) != "hello" {
		t.Fatalf("stdout = %q, want %q", out, "hello")
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		if exited, _ := rec.ExitStatus(); exited {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("process never exited")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := tbl.Reap(rec.Handle); err != nil {
		t.Fatalf("Reap: %v", err)
	}

	if _, err := tbl.Get(rec.Handle); err != ErrNotFound {
		t.Fatalf("Get after reap: %v, want ErrNotFound", err)
	}
}

func TestGetUnknownHandle(t *testing.T) {
	tbl := New()
	if _, err := tbl.Get(999); err != ErrNotFound {
		t.Fatalf("Get(999) = %v, want ErrNotFound", err)
	}
}

func TestStartWithPtyCombinesStreams(t *testing.T) {
	tbl := New()

	rec, err := tbl.Start("echo", []string{"hello"}, nil, "", true)
	if err != nil {
		t.Fatalf("Start(pty): %v", err)
	}

	var out []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, eof, _, err := tbl.Read(rec.Handle, StreamStdout, 4096)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		out = append(out, data...)
		if eof {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !strings.Contains(string(out), "hello") {
		t.Fatalf("pty stdout = %q, want it to contain %q", out, "hello")
	}

	if _, eof, _, err := tbl.Read(rec.Handle, StreamStderr, 4096); err != nil || !eof {
		t.Fatalf("pty stderr should already read as eof/empty, got eof=%v err=%v", eof, err)
	}
}

func TestReapBeforeExitFails(t *testing.T) {
	tbl := New()
	rec, err := tbl.Start("sleep", []string{"5"}, nil, "", false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tbl.Kill(rec.Handle, 9)

	if err := tbl.Reap(rec.Handle); err == nil {
		t.Fatal("expected Reap to fail on a still-running process")
	}
}
