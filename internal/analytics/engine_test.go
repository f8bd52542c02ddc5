package analytics

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/api"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/cache"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/clock"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/events"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/schema"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/store"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/tenant"
)

type fakeRemote struct {
	mu             sync.Mutex
	dashboardCalls int
	exportCalls    int
	lastExport     *api.ExportRequest

	dashboard func(org int64) (*api.Dashboard, error)
	export    func(req *api.ExportRequest) ([]byte, error)
}

func (f *fakeRemote) FetchDashboard(ctx context.Context, org int64) (*api.Dashboard, error) {
	f.mu.Lock()
	f.dashboardCalls++
	f.mu.Unlock()
	if f.dashboard == nil {
		return &api.Dashboard{OrganizationID: org}, nil
	}
	return f.dashboard(org)
}

func (f *fakeRemote) Export(ctx context.Context, req *api.ExportRequest) ([]byte, error) {
	f.mu.Lock()
	f.exportCalls++
	f.lastExport = req
	f.mu.Unlock()
	if f.export == nil {
		return nil, errors.New("export not scripted")
	}
	return f.export(req)
}

type fakeProbe struct{ online bool }

func (f *fakeProbe) Online(ctx context.Context) bool { return f.online }

type testEnv struct {
	store  *store.Store
	cache  *cache.Cache
	bus    *events.Bus
	clk    *clock.Manual
	remote *fakeRemote
	probe  *fakeProbe
	engine *Engine
}

// newTestEnv wires an engine against a real store and a cache on its
// own database handle, so tests can fail one without the other.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clk := clock.NewManualAt(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC))
	discard := log.New(io.Discard, "", 0)
	bus := events.NewBus(discard)
	dir := t.TempDir()

	st, err := store.Open(store.Config{
		Path:  filepath.Join(dir, "analytics-test.db"),
		Scope: tenant.NewScopeFor(23),
		Bus:   bus,
		Clock: clk,
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	cacheDB, err := sql.Open("sqlite3", "file:"+filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("opening cache db failed: %v", err)
	}
	t.Cleanup(func() { cacheDB.Close() })
	c := cache.New(cacheDB, cache.Config{Clock: clk})
	if err := c.InitSchema(context.Background()); err != nil {
		t.Fatalf("cache InitSchema() failed: %v", err)
	}

	remote := &fakeRemote{}
	probe := &fakeProbe{online: false}
	engine := New(Config{
		Store:  st,
		Cache:  c,
		Remote: remote,
		Probe:  probe,
		Bus:    bus,
		Clock:  clk,
		Logger: discard,
	})
	t.Cleanup(engine.Close)

	return &testEnv{store: st, cache: c, bus: bus, clk: clk, remote: remote, probe: probe, engine: engine}
}

func seedHerd(t *testing.T, env *testEnv, count int) *schema.Batch {
	t.Helper()
	farm := &schema.Farm{Name: "Analytics Farm", Location: "Wakiso"}
	if err := env.store.CreateFarm(farm); err != nil {
		t.Fatalf("CreateFarm() failed: %v", err)
	}
	batch := &schema.Batch{FarmID: farm.ID, Name: "Layers A", BirdType: "layer", CurrentCount: count}
	if err := env.store.CreateBatch(batch); err != nil {
		t.Fatalf("CreateBatch() failed: %v", err)
	}
	return batch
}

func seedEggs(t *testing.T, env *testEnv, batchID string, eggs int, at time.Time) {
	t.Helper()
	rec := &schema.ProductionRecord{BatchID: batchID, EggsCollected: eggs, RecordedAt: at}
	if err := env.store.CreateProductionRecord(rec); err != nil {
		t.Fatalf("CreateProductionRecord() failed: %v", err)
	}
}

func (env *testEnv) cacheEntry(t *testing.T) *cache.Entry {
	t.Helper()
	key := cache.Key("dashboard", map[string]string{"org": "23"})
	entry, err := env.cache.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("cache Get() failed: %v", err)
	}
	return entry
}

func approx(got, want float64) bool {
	return math.Abs(got-want) < 0.001
}

func TestProductionRate(t *testing.T) {
	tests := []struct {
		eggs, birds int64
		want        float64
	}{
		{263, 100, 263},
		{50, 100, 50},
		{0, 100, 0},
		{263, 0, 0},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := productionRate(tt.eggs, tt.birds); !approx(got, tt.want) {
			t.Errorf("productionRate(%d, %d) = %v, want %v", tt.eggs, tt.birds, got, tt.want)
		}
	}
}

func TestPercentageChange(t *testing.T) {
	tests := []struct {
		current, previous int64
		want              float64
	}{
		{6000, 5800, 3.448275},
		{5800, 6000, -3.333333},
		{100, 0, 100},
		{0, 0, 0},
		{0, 100, -100},
	}
	for _, tt := range tests {
		if got := percentageChange(tt.current, tt.previous); !approx(got, tt.want) {
			t.Errorf("percentageChange(%d, %d) = %v, want %v", tt.current, tt.previous, got, tt.want)
		}
	}
}

func TestDashboard_LocalWhenOffline(t *testing.T) {
	env := newTestEnv(t)
	batch := seedHerd(t, env, 100)
	now := env.clk.Now()
	for i, eggs := range []int{85, 90, 88} {
		seedEggs(t, env, batch.ID, eggs, now.AddDate(0, 0, -(i+1)))
	}

	data, err := env.engine.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("Dashboard() failed: %v", err)
	}
	if data.Source != SourceLocal {
		t.Errorf("Source = %q, want %q", data.Source, SourceLocal)
	}
	if data.TotalFarms != 1 || data.TotalBatches != 1 {
		t.Errorf("TotalFarms/TotalBatches = %d/%d, want 1/1", data.TotalFarms, data.TotalBatches)
	}
	if data.TotalBirds != 100 {
		t.Errorf("TotalBirds = %d, want 100", data.TotalBirds)
	}
	if data.TotalEggs != 263 {
		t.Errorf("TotalEggs = %d, want 263", data.TotalEggs)
	}
	if len(data.Batches) != 1 {
		t.Fatalf("got %d batch rows, want 1", len(data.Batches))
	}
	if !approx(data.Batches[0].ProductionRate, 263) {
		t.Errorf("ProductionRate = %v, want 263", data.Batches[0].ProductionRate)
	}
	if data.Weekly.CurrentTotal != 263 || data.Weekly.PreviousTotal != 0 {
		t.Errorf("Weekly = %+v, want current 263 previous 0", data.Weekly)
	}
	if !approx(data.Weekly.PercentageChange, 100) {
		t.Errorf("PercentageChange = %v, want 100", data.Weekly.PercentageChange)
	}
	if env.remote.dashboardCalls != 0 {
		t.Errorf("remote called %d times while offline", env.remote.dashboardCalls)
	}
}

func TestDashboard_WeeklyComparison(t *testing.T) {
	env := newTestEnv(t)
	batch := seedHerd(t, env, 2000)
	now := env.clk.Now()
	seedEggs(t, env, batch.ID, 6000, now.AddDate(0, 0, -2))
	seedEggs(t, env, batch.ID, 5800, now.AddDate(0, 0, -10))

	data, err := env.engine.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("Dashboard() failed: %v", err)
	}
	if data.Weekly.CurrentTotal != 6000 {
		t.Errorf("CurrentTotal = %d, want 6000", data.Weekly.CurrentTotal)
	}
	if data.Weekly.PreviousTotal != 5800 {
		t.Errorf("PreviousTotal = %d, want 5800", data.Weekly.PreviousTotal)
	}
	if !approx(data.Weekly.PercentageChange, 3.448275) {
		t.Errorf("PercentageChange = %v, want about 3.45", data.Weekly.PercentageChange)
	}
}

func TestDashboard_RemoteWhenOnline(t *testing.T) {
	env := newTestEnv(t)
	env.probe.online = true
	env.remote.dashboard = func(org int64) (*api.Dashboard, error) {
		return &api.Dashboard{
			OrganizationID: org,
			TotalFarms:     3,
			TotalBatches:   7,
			TotalBirds:     1200,
			TotalEggs:      999,
			Batches: []api.DashboardBatch{
				{BatchID: 42, Name: "Server Batch", CurrentCount: 400, TotalEggs: 999, ProductionRate: 249.75},
			},
			Weekly:      api.DashboardWeekly{CurrentTotal: 6000, PreviousTotal: 5800, PercentageChange: 3.45},
			GeneratedAt: env.clk.Now(),
		}, nil
	}

	data, err := env.engine.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("Dashboard() failed: %v", err)
	}
	if data.Source != SourceRemote {
		t.Errorf("Source = %q, want %q", data.Source, SourceRemote)
	}
	if data.TotalEggs != 999 {
		t.Errorf("TotalEggs = %d, want 999", data.TotalEggs)
	}
	if len(data.Batches) != 1 || data.Batches[0].BatchID != "42" {
		t.Errorf("Batches = %+v, want server batch 42", data.Batches)
	}

	// The remote result was cached; going offline serves it from there.
	env.probe.online = false
	cached, err := env.engine.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("offline Dashboard() failed: %v", err)
	}
	if cached.Source != SourceCache {
		t.Errorf("Source = %q, want %q", cached.Source, SourceCache)
	}
	if cached.TotalEggs != 999 {
		t.Errorf("cached TotalEggs = %d, want 999", cached.TotalEggs)
	}
	if env.remote.dashboardCalls != 1 {
		t.Errorf("remote called %d times, want 1", env.remote.dashboardCalls)
	}
}

func TestDashboard_RemoteFailureFallsBack(t *testing.T) {
	env := newTestEnv(t)
	env.probe.online = true
	env.remote.dashboard = func(org int64) (*api.Dashboard, error) {
		return nil, &api.NetworkError{Op: "dashboard", Err: errors.New("connection reset")}
	}
	seedHerd(t, env, 50)

	data, err := env.engine.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("Dashboard() failed: %v", err)
	}
	if data.Source != SourceLocal {
		t.Errorf("Source = %q, want %q", data.Source, SourceLocal)
	}
	if data.TotalBirds != 50 {
		t.Errorf("TotalBirds = %d, want 50", data.TotalBirds)
	}
}

func TestCached_FreshnessWindow(t *testing.T) {
	env := newTestEnv(t)
	seedHerd(t, env, 80)
	ctx := context.Background()

	first, err := env.engine.Cached(ctx)
	if err != nil {
		t.Fatalf("Cached() failed: %v", err)
	}
	if first.Source != SourceLocal {
		t.Errorf("first Source = %q, want %q", first.Source, SourceLocal)
	}

	second, err := env.engine.Cached(ctx)
	if err != nil {
		t.Fatalf("Cached() failed: %v", err)
	}
	if second.Source != SourceCache {
		t.Errorf("second Source = %q, want %q", second.Source, SourceCache)
	}

	// Past the TTL the entry no longer counts as fresh and the numbers
	// are recomputed.
	env.clk.Advance(31 * time.Minute)
	third, err := env.engine.Cached(ctx)
	if err != nil {
		t.Fatalf("Cached() failed: %v", err)
	}
	if third.Source != SourceLocal {
		t.Errorf("third Source = %q, want %q", third.Source, SourceLocal)
	}
}

func TestCached_ServesStaleWhenStoreFails(t *testing.T) {
	env := newTestEnv(t)
	batch := seedHerd(t, env, 100)
	seedEggs(t, env, batch.ID, 263, env.clk.Now().AddDate(0, 0, -1))
	ctx := context.Background()

	if _, err := env.engine.Cached(ctx); err != nil {
		t.Fatalf("priming Cached() failed: %v", err)
	}

	env.clk.Advance(31 * time.Minute)
	// Recomputation fails once the store is gone; the expired entry is
	// the only data left.
	if err := env.store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := env.engine.Cached(ctx)
	if err != nil {
		t.Fatalf("Cached() failed: %v", err)
	}
	if data.Source != SourceStale {
		t.Errorf("Source = %q, want %q", data.Source, SourceStale)
	}
	if data.TotalEggs != 263 {
		t.Errorf("stale TotalEggs = %d, want 263", data.TotalEggs)
	}
}

func TestCached_ErrorWhenNothingAvailable(t *testing.T) {
	env := newTestEnv(t)
	if err := env.store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if _, err := env.engine.Cached(context.Background()); err == nil {
		t.Fatal("Cached() succeeded with no store and no cache")
	}
}

func TestDashboard_NoOrganization(t *testing.T) {
	env := newTestEnv(t)
	env.store.Scope().Clear()
	ctx := context.Background()

	if _, err := env.engine.Dashboard(ctx); !errors.Is(err, ErrNoOrganization) {
		t.Errorf("Dashboard() err = %v, want ErrNoOrganization", err)
	}
	if _, err := env.engine.Cached(ctx); !errors.Is(err, ErrNoOrganization) {
		t.Errorf("Cached() err = %v, want ErrNoOrganization", err)
	}
	if _, err := env.engine.Export(ctx, "production", "csv", nil); !errors.Is(err, ErrNoOrganization) {
		t.Errorf("Export() err = %v, want ErrNoOrganization", err)
	}
}

func TestInvalidation_RecordMutation(t *testing.T) {
	env := newTestEnv(t)
	seedHerd(t, env, 60)
	ctx := context.Background()

	if _, err := env.engine.Cached(ctx); err != nil {
		t.Fatalf("priming Cached() failed: %v", err)
	}
	if env.cacheEntry(t) == nil {
		t.Fatal("cache empty after priming")
	}

	// Any store mutation reaches the engine through the bus and drops
	// the cached dashboard.
	if err := env.store.CreateFarm(&schema.Farm{Name: "New Farm", Location: "Hoima"}); err != nil {
		t.Fatalf("CreateFarm() failed: %v", err)
	}
	if env.cacheEntry(t) != nil {
		t.Error("cache entry survived a record mutation")
	}
}

func TestInvalidation_DataSynced(t *testing.T) {
	env := newTestEnv(t)
	seedHerd(t, env, 60)
	ctx := context.Background()

	if _, err := env.engine.Cached(ctx); err != nil {
		t.Fatalf("priming Cached() failed: %v", err)
	}
	env.bus.Emit(events.DataSynced{Uploaded: 2, Downloaded: 5, Tables: []string{store.TableFarms}})
	if env.cacheEntry(t) != nil {
		t.Error("cache entry survived a completed sync")
	}
}

func TestClose_StopsInvalidation(t *testing.T) {
	env := newTestEnv(t)
	seedHerd(t, env, 60)
	ctx := context.Background()

	if _, err := env.engine.Cached(ctx); err != nil {
		t.Fatalf("priming Cached() failed: %v", err)
	}
	env.engine.Close()

	env.bus.Emit(events.DataSynced{})
	if env.cacheEntry(t) == nil {
		t.Error("closed engine still invalidated the cache")
	}
}

func TestExport_RequiresNetwork(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Export(context.Background(), "production", "csv", nil)
	if !errors.Is(err, ErrExportOffline) {
		t.Fatalf("Export() err = %v, want ErrExportOffline", err)
	}
	if env.remote.exportCalls != 0 {
		t.Errorf("remote called %d times while offline", env.remote.exportCalls)
	}
}

func TestExport_Online(t *testing.T) {
	env := newTestEnv(t)
	env.probe.online = true
	want := []byte("batch,eggs\nLayers A,263\n")
	env.remote.export = func(req *api.ExportRequest) ([]byte, error) {
		return want, nil
	}

	got, err := env.engine.Export(context.Background(), "production", "csv", map[string]string{"from": "2024-03-01"})
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("Export() = %q, want %q", got, want)
	}

	req := env.remote.lastExport
	if req.OrganizationID != 23 {
		t.Errorf("OrganizationID = %d, want 23", req.OrganizationID)
	}
	if req.Type != "production" || req.Format != "csv" {
		t.Errorf("Type/Format = %q/%q, want production/csv", req.Type, req.Format)
	}
	if req.Params["from"] != "2024-03-01" {
		t.Errorf("Params = %v, want from=2024-03-01", req.Params)
	}
}
