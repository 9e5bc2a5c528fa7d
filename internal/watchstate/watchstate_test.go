package watchstate

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAddWriteRemove(t *testing.T) {
	dir := t.TempDir()

	s, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	id, err := s.Add(dir, false)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	f := filepath.Join(dir, "touched")
	if err := os.WriteFile(f, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-s.Events():
		if ev.WatchID != id {
			t.Fatalf("event watch id = %d, want %d", ev.WatchID, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}

	if err := s.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := s.List(); len(got) != 0 {
		t.Fatalf("List after Remove = %v, want empty", got)
	}
}

func TestRemoveUnknownWatch(t *testing.T) {
	s, err := New(4)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Remove(999); err == nil {
		t.Fatal("expected error removing unknown watch id")
	}
}
