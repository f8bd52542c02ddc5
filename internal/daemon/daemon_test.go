package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/api"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/breaker"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/events"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/kv"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/schema"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/store"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/syncer"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/tenant"
)

// fakeRemote acknowledges every pushed row and pulls nothing.
type fakeRemote struct {
	mu        sync.Mutex
	pushCalls int
}

func (f *fakeRemote) Push(ctx context.Context, req *api.PushRequest) (*api.PushResponse, error) {
	f.mu.Lock()
	f.pushCalls++
	f.mu.Unlock()

	resp := &api.PushResponse{}
	next := int64(1000)
	for _, fm := range req.Farms {
		resp.Acks = append(resp.Acks, api.Ack{Table: store.TableFarms, ClientID: fm.ClientID, ServerID: next})
		next++
	}
	for _, b := range req.Batches {
		resp.Acks = append(resp.Acks, api.Ack{Table: store.TableBatches, ClientID: b.ClientID, ServerID: next})
		next++
	}
	for _, r := range req.Records {
		resp.Acks = append(resp.Acks, api.Ack{Table: store.TableRecords, ClientID: r.ClientID, ServerID: next})
		next++
	}
	return resp, nil
}

func (f *fakeRemote) Pull(ctx context.Context, org int64, since time.Time) (*api.PullResponse, error) {
	return &api.PullResponse{}, nil
}

func (f *fakeRemote) pushed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushCalls
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	discard := log.New(io.Discard, "", 0)
	st, err := store.Open(store.Config{
		Path:  filepath.Join(t.TempDir(), "daemon-test.db"),
		Scope: tenant.NewScopeFor(23),
		Bus:   events.NewBus(discard),
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return st
}

func newTestEngine(t *testing.T, st *store.Store, remote *fakeRemote) *syncer.Engine {
	t.Helper()

	discard := log.New(io.Discard, "", 0)
	kvs := kv.New(st.RawDB())
	if err := kvs.InitSchema(context.Background()); err != nil {
		t.Fatalf("kv InitSchema() failed: %v", err)
	}
	return syncer.New(syncer.Config{
		Store:   st,
		KV:      kvs,
		Remote:  remote,
		Breaker: breaker.New(breaker.Config{Logger: discard}),
		Device:  "test-daemon",
		Logger:  discard,
	})
}

func testConfig(dropDir string) *Config {
	return &Config{
		DropDir:          dropDir,
		SyncInterval:     time.Hour,
		DebounceInterval: 50 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

// writeDrop writes a drop file carrying one farm, batch, and record.
func writeDrop(t *testing.T, dir string, exportedAt time.Time) string {
	t.Helper()

	drop := &schema.DropFile{
		Device:         "field-tablet",
		ExportedAt:     exportedAt,
		OrganizationID: 23,
		Farms: []schema.Farm{
			{ID: "drop-farm-1", Name: "Field Farm", Location: "Mubende"},
		},
		Batches: []schema.Batch{
			{ID: "drop-batch-1", FarmID: "drop-farm-1", Name: "Field Layers", BirdType: "layer", CurrentCount: 75},
		},
		ProductionRecords: []schema.ProductionRecord{
			{BatchID: "drop-batch-1", EggsCollected: 60, RecordedAt: exportedAt},
		},
	}
	path, err := schema.WriteDropFile(dir, drop)
	if err != nil {
		t.Fatalf("WriteDropFile() failed: %v", err)
	}
	return path
}

func TestNew_Validation(t *testing.T) {
	st := newTestStore(t)
	engine := newTestEngine(t, st, &fakeRemote{})
	dropDir := t.TempDir()

	tests := []struct {
		name    string
		store   *store.Store
		engine  *syncer.Engine
		config  *Config
		wantErr bool
	}{
		{"valid", st, engine, testConfig(dropDir), false},
		{"nil store", nil, engine, testConfig(dropDir), true},
		{"nil engine", st, nil, testConfig(dropDir), true},
		{"no drop dir", st, engine, &Config{Logger: log.New(io.Discard, "", 0)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.store, tt.engine, tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_DefaultsDropDirFromDataDir(t *testing.T) {
	st := newTestStore(t)
	engine := newTestEngine(t, st, &fakeRemote{})
	dataDir := t.TempDir()

	d, err := New(st, engine, &Config{DataDir: dataDir, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	want := filepath.Join(dataDir, "drops")
	if d.config.DropDir != want {
		t.Errorf("DropDir = %q, want %q", d.config.DropDir, want)
	}
	if d.config.ArchiveDir != filepath.Join(want, "archive") {
		t.Errorf("ArchiveDir = %q, want under drop dir", d.config.ArchiveDir)
	}
}

func TestIngestDropFile(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	path := writeDrop(t, dir, time.Now().UTC())
	ctx := context.Background()

	result, err := IngestDropFile(ctx, st, path, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("IngestDropFile() failed: %v", err)
	}
	if result.Farms != 1 || result.Batches != 1 || result.Records != 1 {
		t.Errorf("result = %+v, want 1/1/1", result)
	}
	if result.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", result.Skipped)
	}

	farm, err := st.GetFarm("drop-farm-1")
	if err != nil {
		t.Fatalf("GetFarm() failed: %v", err)
	}
	if farm.OrganizationID != 23 {
		t.Errorf("farm organization = %d, want 23", farm.OrganizationID)
	}

	// Everything an ingest writes is queued for upload.
	pending, err := st.PendingCounts(ctx)
	if err != nil {
		t.Fatalf("PendingCounts() failed: %v", err)
	}
	if pending.Total() != 3 {
		t.Errorf("pending = %d, want 3", pending.Total())
	}
}

func TestIngestDropFile_OrganizationMismatch(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()

	drop := &schema.DropFile{
		ExportedAt:     time.Now().UTC(),
		OrganizationID: 99,
		Farms:          []schema.Farm{{Name: "Wrong Org Farm", Location: "Kasese"}},
	}
	path, err := schema.WriteDropFile(dir, drop)
	if err != nil {
		t.Fatalf("WriteDropFile() failed: %v", err)
	}

	if _, err := IngestDropFile(context.Background(), st, path, log.New(io.Discard, "", 0)); err == nil {
		t.Fatal("IngestDropFile() accepted a drop file for another organization")
	}

	count, err := st.CountFarms(context.Background())
	if err != nil {
		t.Fatalf("CountFarms() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("farms written despite mismatch: %d", count)
	}
}

func TestIngestDropFile_SkipsBadRows(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()

	drop := &schema.DropFile{
		ExportedAt:     time.Now().UTC(),
		OrganizationID: 23,
		Farms: []schema.Farm{
			{Name: "", Location: "nowhere"},
			{ID: "good-farm", Name: "Good Farm", Location: "Mityana"},
		},
	}
	path, err := schema.WriteDropFile(dir, drop)
	if err != nil {
		t.Fatalf("WriteDropFile() failed: %v", err)
	}

	result, err := IngestDropFile(context.Background(), st, path, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("IngestDropFile() failed: %v", err)
	}
	if result.Farms != 1 {
		t.Errorf("Farms = %d, want 1", result.Farms)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
}

func TestDaemon_IngestsExistingOnStart(t *testing.T) {
	st := newTestStore(t)
	remote := &fakeRemote{}
	engine := newTestEngine(t, st, remote)
	dropDir := t.TempDir()
	writeDrop(t, dropDir, time.Now().UTC())

	d, err := New(st, engine, testConfig(dropDir))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	time.Sleep(300 * time.Millisecond)

	count, err := st.CountFarms(context.Background())
	if err != nil {
		t.Fatalf("CountFarms() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("farms after start = %d, want 1", count)
	}

	// The drop file moved to the archive and out of the watched dir.
	waiting, err := schema.ListDropFiles(dropDir)
	if err != nil {
		t.Fatalf("ListDropFiles() failed: %v", err)
	}
	if len(waiting) != 0 {
		t.Errorf("%d drop files still waiting, want 0", len(waiting))
	}
	archived, err := schema.ListDropFiles(filepath.Join(dropDir, "archive"))
	if err != nil {
		t.Fatalf("ListDropFiles(archive) failed: %v", err)
	}
	if len(archived) != 1 {
		t.Errorf("%d archived drop files, want 1", len(archived))
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Start() returned error: %v", err)
	}
}

func TestDaemon_WatchesNewDrops(t *testing.T) {
	st := newTestStore(t)
	remote := &fakeRemote{}
	engine := newTestEngine(t, st, remote)
	dropDir := t.TempDir()

	d, err := New(st, engine, testConfig(dropDir))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	time.Sleep(150 * time.Millisecond)
	if got := remote.pushed(); got != 0 {
		t.Errorf("pushed %d times before any data existed", got)
	}

	writeDrop(t, dropDir, time.Now().UTC())

	// Wait for the watcher, the debounce flush, and the follow-up sync.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if remote.pushed() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if got := remote.pushed(); got != 1 {
		t.Fatalf("pushed %d times after drop ingest, want 1", got)
	}

	// The pushed rows are acknowledged clean.
	pending, err := st.PendingCounts(context.Background())
	if err != nil {
		t.Fatalf("PendingCounts() failed: %v", err)
	}
	if pending.Total() != 0 {
		t.Errorf("pending after ingest sync = %d, want 0", pending.Total())
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Start() returned error: %v", err)
	}
}

func TestDaemon_RejectsUnreadableDropFile(t *testing.T) {
	st := newTestStore(t)
	engine := newTestEngine(t, st, &fakeRemote{})
	dropDir := t.TempDir()

	d, err := New(st, engine, testConfig(dropDir))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	time.Sleep(150 * time.Millisecond)

	bad := filepath.Join(dropDir, "broken.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write bad file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(bad + ".rejected"); err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if _, err := os.Stat(bad + ".rejected"); err != nil {
		t.Error("bad drop file was not set aside")
	}
	if _, err := os.Stat(bad); !os.IsNotExist(err) {
		t.Error("bad drop file still matches the watcher filter")
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Start() returned error: %v", err)
	}
}
