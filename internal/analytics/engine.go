// Package analytics produces the dashboard metrics the farm screens
// display, degrading gracefully as connectivity does: a reachable
// backend serves authoritative numbers, a fresh cache avoids the round
// trip, the local store recomputes when the cache has expired, and an
// expired cache entry is still served before giving up entirely. Every
// result is labeled with its source so the interface can tell the user
// how trustworthy the numbers are.
//
// The engine subscribes to the event bus and drops its cached results
// whenever records change locally or a sync lands new rows, so cached
// analytics never outlive the data they summarize.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/api"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/cache"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/clock"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/events"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/store"
)

// Source labels on DashboardData.
const (
	// SourceRemote marks numbers computed by the backend.
	SourceRemote = "remote"
	// SourceCache marks a cache hit within the freshness window.
	SourceCache = "cache"
	// SourceLocal marks numbers recomputed from the local store.
	SourceLocal = "local"
	// SourceStale marks an expired cache entry served as a last resort.
	SourceStale = "stale"
)

const cacheTypeDashboard = "dashboard"

var (
	// ErrNoOrganization is returned when no organization is configured.
	ErrNoOrganization = errors.New("no organization configured")

	// ErrExportOffline is returned when an export is requested without
	// a network connection. Exports are rendered by the backend.
	ErrExportOffline = errors.New("export requires a network connection")
)

// BatchProduction is one batch's production summary.
type BatchProduction struct {
	BatchID        string  `json:"batchId"`
	Name           string  `json:"batchName"`
	CurrentCount   int     `json:"currentCount"`
	TotalEggs      int64   `json:"totalEggs"`
	ProductionRate float64 `json:"productionRate"`
}

// WeeklyComparison compares the last seven days of egg production with
// the seven days before that.
type WeeklyComparison struct {
	CurrentTotal     int64   `json:"currentTotal"`
	PreviousTotal    int64   `json:"previousTotal"`
	PercentageChange float64 `json:"percentageChange"`
}

// DashboardData is the full dashboard payload.
type DashboardData struct {
	OrganizationID int64             `json:"organizationId"`
	GeneratedAt    time.Time         `json:"generatedAt"`
	Source         string            `json:"source"`
	TotalFarms     int64             `json:"totalFarms"`
	TotalBatches   int64             `json:"totalBatches"`
	TotalBirds     int64             `json:"totalBirds"`
	TotalEggs      int64             `json:"totalEggs"`
	Batches        []BatchProduction `json:"batches"`
	Weekly         WeeklyComparison  `json:"weekly"`
}

// Remote is the slice of the backend the analytics engine needs.
type Remote interface {
	FetchDashboard(ctx context.Context, organizationID int64) (*api.Dashboard, error)
	Export(ctx context.Context, req *api.ExportRequest) ([]byte, error)
}

// Connectivity reports whether the backend is reachable.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// Config configures an Engine.
type Config struct {
	Store  *store.Store
	Cache  *cache.Cache
	Remote Remote

	// Probe decides remote-versus-local; nil assumes online and lets
	// request errors drive the fallback instead.
	Probe Connectivity

	// Bus, when set, feeds cache invalidation: any record mutation or
	// completed sync drops the cached dashboard.
	Bus *events.Bus

	Clock  clock.Clock
	Logger *log.Logger
}

// Engine serves dashboard analytics and exports.
type Engine struct {
	store  *store.Store
	cache  *cache.Cache
	remote Remote
	probe  Connectivity
	clock  clock.Clock
	logger *log.Logger

	unsubscribe func()
}

// New creates an analytics engine and, when a bus is configured,
// subscribes it for cache invalidation. Call Close to unsubscribe.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[analytics] ", log.LstdFlags)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}

	e := &Engine{
		store:  cfg.Store,
		cache:  cfg.Cache,
		remote: cfg.Remote,
		probe:  cfg.Probe,
		clock:  clk,
		logger: logger,
	}

	if cfg.Bus != nil {
		types := append(events.RecordTypes(), events.TypeDataSynced)
		e.unsubscribe = cfg.Bus.SubscribeMultiple(types, func(events.Event) {
			e.invalidate()
		})
	}
	return e
}

// Close detaches the engine from the event bus.
func (e *Engine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

func (e *Engine) invalidate() {
	if err := e.cache.InvalidateAll(context.Background()); err != nil {
		e.logger.Printf("warning: failed to invalidate analytics cache: %v", err)
	}
}

// Dashboard returns the dashboard, preferring the backend's numbers.
// When the device is offline or the fetch fails it falls back through
// Cached.
func (e *Engine) Dashboard(ctx context.Context) (*DashboardData, error) {
	org, ok := e.store.OrganizationID()
	if !ok {
		return nil, ErrNoOrganization
	}

	if e.online(ctx) {
		data, err := e.fetchRemote(ctx, org)
		if err == nil {
			e.cachePut(ctx, org, data)
			return data, nil
		}
		e.logger.Printf("dashboard fetch failed, falling back to cache: %v", err)
	}

	return e.Cached(ctx)
}

// Cached returns the dashboard without touching the network. A fresh
// cache entry is served as-is; otherwise the numbers are recomputed from
// the local store and re-cached. If recomputation fails and an expired
// entry exists, that entry is served marked stale.
func (e *Engine) Cached(ctx context.Context) (*DashboardData, error) {
	org, ok := e.store.OrganizationID()
	if !ok {
		return nil, ErrNoOrganization
	}

	entry, err := e.cache.Get(ctx, e.cacheKey(org))
	if err != nil {
		e.logger.Printf("warning: failed to read analytics cache: %v", err)
		entry = nil
	}

	if entry != nil && e.cache.Fresh(entry) {
		data, err := decodeDashboard(entry.Payload)
		if err == nil {
			data.Source = SourceCache
			return data, nil
		}
		e.logger.Printf("warning: discarding corrupt dashboard cache entry: %v", err)
	}

	data, err := e.computeLocal(ctx, org)
	if err == nil {
		e.cachePut(ctx, org, data)
		return data, nil
	}

	if entry != nil {
		if stale, decodeErr := decodeDashboard(entry.Payload); decodeErr == nil {
			e.logger.Printf("serving stale dashboard from %v: %v", entry.CachedAt, err)
			stale.Source = SourceStale
			return stale, nil
		}
	}

	return nil, fmt.Errorf("failed to compute dashboard analytics: %w", err)
}

// Export renders an analytics report on the backend and returns the raw
// document. Exports never run offline.
func (e *Engine) Export(ctx context.Context, typ, format string, params map[string]string) ([]byte, error) {
	org, ok := e.store.OrganizationID()
	if !ok {
		return nil, ErrNoOrganization
	}
	if !e.online(ctx) {
		return nil, ErrExportOffline
	}

	data, err := e.remote.Export(ctx, &api.ExportRequest{
		OrganizationID: org,
		Type:           typ,
		Format:         format,
		Params:         params,
	})
	if err != nil {
		return nil, fmt.Errorf("export failed: %w", err)
	}
	return data, nil
}

func (e *Engine) online(ctx context.Context) bool {
	if e.probe == nil {
		return true
	}
	return e.probe.Online(ctx)
}

func (e *Engine) cacheKey(org int64) string {
	return cache.Key(cacheTypeDashboard, map[string]string{
		"org": strconv.FormatInt(org, 10),
	})
}

func (e *Engine) cachePut(ctx context.Context, org int64, data *DashboardData) {
	payload, err := json.Marshal(data)
	if err != nil {
		e.logger.Printf("warning: failed to encode dashboard for cache: %v", err)
		return
	}
	if err := e.cache.Put(ctx, e.cacheKey(org), cacheTypeDashboard, payload); err != nil {
		e.logger.Printf("warning: failed to cache dashboard: %v", err)
	}
}

func decodeDashboard(payload []byte) (*DashboardData, error) {
	var data DashboardData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (e *Engine) fetchRemote(ctx context.Context, org int64) (*DashboardData, error) {
	remote, err := e.remote.FetchDashboard(ctx, org)
	if err != nil {
		return nil, err
	}

	batches := make([]BatchProduction, 0, len(remote.Batches))
	for _, b := range remote.Batches {
		batches = append(batches, BatchProduction{
			BatchID:        strconv.FormatInt(b.BatchID, 10),
			Name:           b.Name,
			CurrentCount:   b.CurrentCount,
			TotalEggs:      b.TotalEggs,
			ProductionRate: b.ProductionRate,
		})
	}

	generated := remote.GeneratedAt
	if generated.IsZero() {
		generated = e.clock.Now().UTC()
	}

	return &DashboardData{
		OrganizationID: org,
		GeneratedAt:    generated,
		Source:         SourceRemote,
		TotalFarms:     remote.TotalFarms,
		TotalBatches:   remote.TotalBatches,
		TotalBirds:     remote.TotalBirds,
		TotalEggs:      remote.TotalEggs,
		Batches:        batches,
		Weekly: WeeklyComparison{
			CurrentTotal:     remote.Weekly.CurrentTotal,
			PreviousTotal:    remote.Weekly.PreviousTotal,
			PercentageChange: remote.Weekly.PercentageChange,
		},
	}, nil
}

func (e *Engine) computeLocal(ctx context.Context, org int64) (*DashboardData, error) {
	farms, err := e.store.CountFarms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count farms: %w", err)
	}
	batchCount, err := e.store.CountBatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count batches: %w", err)
	}
	birds, err := e.store.TotalBirds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to total birds: %w", err)
	}
	totals, err := e.store.BatchProductionTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to total batch production: %w", err)
	}

	var totalEggs int64
	batches := make([]BatchProduction, 0, len(totals))
	for _, bt := range totals {
		totalEggs += bt.TotalEggs
		batches = append(batches, BatchProduction{
			BatchID:        bt.BatchID,
			Name:           bt.Name,
			CurrentCount:   bt.CurrentCount,
			TotalEggs:      bt.TotalEggs,
			ProductionRate: productionRate(bt.TotalEggs, int64(bt.CurrentCount)),
		})
	}

	weekly, err := e.weekly(ctx)
	if err != nil {
		return nil, err
	}

	return &DashboardData{
		OrganizationID: org,
		GeneratedAt:    e.clock.Now().UTC(),
		Source:         SourceLocal,
		TotalFarms:     farms,
		TotalBatches:   batchCount,
		TotalBirds:     birds,
		TotalEggs:      totalEggs,
		Batches:        batches,
		Weekly:         weekly,
	}, nil
}

func (e *Engine) weekly(ctx context.Context) (WeeklyComparison, error) {
	now := e.clock.Now().UTC()
	weekAgo := now.AddDate(0, 0, -7)
	twoWeeksAgo := now.AddDate(0, 0, -14)

	current, err := e.store.EggTotalBetween(ctx, weekAgo, now)
	if err != nil {
		return WeeklyComparison{}, fmt.Errorf("failed to total current week: %w", err)
	}
	previous, err := e.store.EggTotalBetween(ctx, twoWeeksAgo, weekAgo)
	if err != nil {
		return WeeklyComparison{}, fmt.Errorf("failed to total previous week: %w", err)
	}

	return WeeklyComparison{
		CurrentTotal:     current,
		PreviousTotal:    previous,
		PercentageChange: percentageChange(current, previous),
	}, nil
}

// productionRate is eggs per hundred birds. A batch with no birds
// reports zero.
func productionRate(eggs, birds int64) float64 {
	if birds <= 0 {
		return 0
	}
	return float64(eggs) / float64(birds) * 100
}

// percentageChange guards the first-week case: with nothing in the
// previous window, any production reads as +100 and none as 0.
func percentageChange(current, previous int64) float64 {
	if previous == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return (float64(current) - float64(previous)) / float64(previous) * 100
}
