package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDropWatcher(t *testing.T) {
	dw, err := NewDropWatcher()
	if err != nil {
		t.Fatalf("NewDropWatcher() failed: %v", err)
	}
	defer dw.Stop()

	if dw.IsRunning() {
		t.Error("new watcher should not be running")
	}
}

func TestDropWatcher_StartStop(t *testing.T) {
	dir := t.TempDir()

	dw, err := NewDropWatcher()
	if err != nil {
		t.Fatalf("NewDropWatcher() failed: %v", err)
	}

	if err := dw.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !dw.IsRunning() {
		t.Error("watcher should be running after Start()")
	}

	if err := dw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if dw.IsRunning() {
		t.Error("watcher should not be running after Stop()")
	}

	// Channels are closed after Stop.
	if _, ok := <-dw.Events(); ok {
		t.Error("Events channel still open after Stop()")
	}
	if _, ok := <-dw.Errors(); ok {
		t.Error("Errors channel still open after Stop()")
	}
}

func TestDropWatcher_StartAlreadyRunning(t *testing.T) {
	dir := t.TempDir()

	dw, err := NewDropWatcher()
	if err != nil {
		t.Fatalf("NewDropWatcher() failed: %v", err)
	}
	defer dw.Stop()

	if err := dw.Start(dir); err != nil {
		t.Fatalf("first Start() failed: %v", err)
	}
	if err := dw.Start(dir); err == nil {
		t.Error("second Start() should fail while running")
	}
}

func TestDropWatcher_ReportsDropFiles(t *testing.T) {
	dir := t.TempDir()

	dw, err := NewDropWatcher()
	if err != nil {
		t.Fatalf("NewDropWatcher() failed: %v", err)
	}
	defer dw.Stop()

	if err := dw.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	path := filepath.Join(dir, "drop-test.json")
	if err := os.WriteFile(path, []byte(`{"organization_id":23}`), 0644); err != nil {
		t.Fatalf("failed to write drop file: %v", err)
	}

	select {
	case got := <-dw.Events():
		if got != path {
			t.Errorf("event path = %q, want %q", got, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for drop event")
	}
}

func TestDropWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()

	dw, err := NewDropWatcher()
	if err != nil {
		t.Fatalf("NewDropWatcher() failed: %v", err)
	}
	defer dw.Stop()

	if err := dw.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// Neither a temp file mid-write nor a rejected file should show up.
	for _, name := range []string{"drop.json.tmp", "notes.txt", "old.json.rejected"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	select {
	case got := <-dw.Events():
		t.Errorf("unexpected event for %q", got)
	case <-time.After(300 * time.Millisecond):
	}
}
