package kv

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func newTestKV(t *testing.T) *Store {
	t.Helper()

	conn, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	s := New(conn)
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return s
}

func TestSetGet(t *testing.T) {
	s := newTestKV(t)
	ctx := context.Background()

	if err := s.Set(ctx, "lastSyncError", `{"message":"timeout"}`); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	value, ok, err := s.Get(ctx, "lastSyncError")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !ok {
		t.Fatal("Get() reported the key missing")
	}
	if value != `{"message":"timeout"}` {
		t.Errorf("value = %q", value)
	}

	// Overwrite replaces.
	if err := s.Set(ctx, "lastSyncError", `{"message":"refused"}`); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	value, _, _ = s.Get(ctx, "lastSyncError")
	if value != `{"message":"refused"}` {
		t.Errorf("value after overwrite = %q", value)
	}
}

func TestGet_Missing(t *testing.T) {
	s := newTestKV(t)

	value, ok, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if ok || value != "" {
		t.Errorf("Get(missing) = (%q, %v), want empty and false", value, ok)
	}
}

func TestDelete(t *testing.T) {
	s := newTestKV(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("key still present after Delete()")
	}

	// Deleting again is harmless.
	if err := s.Delete(ctx, "k"); err != nil {
		t.Errorf("second Delete() failed: %v", err)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	s := newTestKV(t)
	ctx := context.Background()

	want := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	if err := s.SetTime(ctx, "lastSyncTime", want); err != nil {
		t.Fatalf("SetTime() failed: %v", err)
	}

	got, ok, err := s.GetTime(ctx, "lastSyncTime")
	if err != nil {
		t.Fatalf("GetTime() failed: %v", err)
	}
	if !ok {
		t.Fatal("GetTime() reported the key missing")
	}
	if !got.Equal(want) {
		t.Errorf("GetTime() = %v, want %v", got, want)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	s := newTestKV(t)
	ctx := context.Background()

	type syncError struct {
		Message string `json:"message"`
	}

	if err := s.SetJSON(ctx, "lastSyncError", syncError{Message: "circuit open"}); err != nil {
		t.Fatalf("SetJSON() failed: %v", err)
	}

	var out syncError
	ok, err := s.GetJSON(ctx, "lastSyncError", &out)
	if err != nil {
		t.Fatalf("GetJSON() failed: %v", err)
	}
	if !ok {
		t.Fatal("GetJSON() reported the key missing")
	}
	if out.Message != "circuit open" {
		t.Errorf("message = %q, want circuit open", out.Message)
	}

	ok, err = s.GetJSON(ctx, "missing", &out)
	if err != nil {
		t.Fatalf("GetJSON(missing) failed: %v", err)
	}
	if ok {
		t.Error("GetJSON(missing) reported the key present")
	}
}
