// Package syncer drives the offline-first synchronization loop.
//
// The engine pushes locally modified rows to the backend, pulls the
// organization's server state back down, and applies it to the local
// store. Every run is guarded three ways:
//
//   - a single-flight lock, so overlapping runs fail fast instead of
//     racing each other over the same dirty rows
//   - a circuit breaker, so a flapping backend is left alone for a
//     cooldown period instead of being hammered
//   - a timeout on the whole cycle, so a stalled network call cannot
//     wedge the engine
//
// Outcomes are persisted (lastSyncTime on success, lastSyncError on
// failure) and broadcast on the event bus, so the interface layers can
// mirror sync progress without polling.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/api"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/breaker"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/clock"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/events"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/kv"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/store"
)

// Persisted bookkeeping keys.
const (
	keyLastSyncTime  = "lastSyncTime"
	keyLastSyncError = "lastSyncError"
)

// ReasonCircuitOpen is the machine-readable cause on blocked results.
const ReasonCircuitOpen = "circuit_open"

var (
	// ErrSyncInProgress is returned when a sync starts while another is
	// still running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrBackgrounded is returned when a sync is deferred because the
	// application is not in the foreground.
	ErrBackgrounded = errors.New("sync deferred while backgrounded")

	// ErrNoOrganization is returned when no organization is configured.
	ErrNoOrganization = errors.New("no organization configured")

	// ErrRetriesExhausted is returned by SyncWithRetry when every
	// attempt failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// Remote is the slice of the backend the sync engine needs.
type Remote interface {
	Push(ctx context.Context, req *api.PushRequest) (*api.PushResponse, error)
	Pull(ctx context.Context, organizationID int64, since time.Time) (*api.PullResponse, error)
}

// Connectivity reports whether the backend is reachable.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// Result is the outcome of one sync run.
type Result struct {
	Success bool
	Message string

	// Blocked is set when the circuit breaker refused the run before
	// any network call was made. Reason then carries the cause.
	Blocked bool
	Reason  string

	// Retryable hints whether trying again later could succeed.
	Retryable bool

	Uploaded   int
	Downloaded int
	Tables     []string

	Err error
}

// RetryConfig shapes SyncWithRetry's backoff.
type RetryConfig struct {
	// MaxRetries is how many times a failed sync is retried after the
	// initial attempt. Defaults to 3.
	MaxRetries int

	// InitialDelay is the wait before the first retry. Defaults to one
	// second.
	InitialDelay time.Duration

	// BackoffMultiplier scales the delay after each retry. Defaults
	// to 2.
	BackoffMultiplier float64

	// OnRetry, if set, is called before each retry wait with the retry
	// number (1-based), the configured maximum, and the coming delay.
	OnRetry func(attempt, maxRetries int, delay time.Duration)
}

// DefaultRetryConfig returns the standard backoff: three retries starting
// at one second, doubling each time.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2.0,
	}
}

func normalizeRetry(cfg RetryConfig) RetryConfig {
	defaults := DefaultRetryConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaults.InitialDelay
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = defaults.BackoffMultiplier
	}
	return cfg
}

// Config configures an Engine.
type Config struct {
	Store   *store.Store
	KV      *kv.Store
	Remote  Remote
	Breaker *breaker.Breaker
	Bus     *events.Bus

	// Probe gates InitialSync; a device that is clearly offline skips
	// the startup sync instead of burning the retry budget. May be nil.
	Probe Connectivity

	// Foreground, if set, reports whether the application is in the
	// foreground. Syncs requested while backgrounded are deferred.
	Foreground func() bool

	// Device names this device in push payloads. Defaults to the
	// hostname.
	Device string

	// Timeout bounds one whole sync cycle. Defaults to 30 seconds.
	Timeout time.Duration

	// Retry is the backoff used by InitialSync. Zero fields take the
	// DefaultRetryConfig values.
	Retry RetryConfig

	Clock  clock.Clock
	Logger *log.Logger
}

// Engine runs sync cycles against the backend.
type Engine struct {
	store      *store.Store
	kv         *kv.Store
	remote     Remote
	breaker    *breaker.Breaker
	bus        *events.Bus
	probe      Connectivity
	foreground func() bool
	device     string
	timeout    time.Duration
	retry      RetryConfig
	clock      clock.Clock
	logger     *log.Logger

	mu       sync.Mutex
	running  bool
	deferred bool

	// sleep is swappable so retry backoff is testable without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a sync engine from cfg. Store, KV, Remote, and Breaker are
// required; the rest default sensibly.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	device := cfg.Device
	if device == "" {
		if host, err := os.Hostname(); err == nil {
			device = host
		}
	}

	return &Engine{
		store:      cfg.Store,
		kv:         cfg.KV,
		remote:     cfg.Remote,
		breaker:    cfg.Breaker,
		bus:        cfg.Bus,
		probe:      cfg.Probe,
		foreground: cfg.Foreground,
		device:     device,
		timeout:    timeout,
		retry:      normalizeRetry(cfg.Retry),
		clock:      clk,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// Sync runs one full push/pull cycle against the backend.
//
// Only one sync runs at a time; a second call while one is in flight
// returns immediately with ErrSyncInProgress. When the application is
// backgrounded the run is deferred instead: nothing is attempted and the
// engine remembers that a sync is wanted.
func (e *Engine) Sync(ctx context.Context) Result {
	if !e.begin() {
		return Result{
			Success: false,
			Message: "sync already in progress",
			Err:     ErrSyncInProgress,
		}
	}
	defer e.end()

	if e.foreground != nil && !e.foreground() {
		e.setDeferred(true)
		e.logger.Printf("sync deferred: application backgrounded")
		return Result{
			Success:   false,
			Message:   "sync deferred while backgrounded",
			Retryable: true,
			Err:       ErrBackgrounded,
		}
	}
	e.setDeferred(false)

	org, ok := e.store.OrganizationID()
	if !ok {
		return Result{
			Success: false,
			Message: "no organization configured",
			Err:     ErrNoOrganization,
		}
	}

	start := e.clock.Now()
	e.emit(events.SyncStarted{StartedAt: start})

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var uploaded, downloaded int
	var touched [3]bool

	err := e.breaker.Execute(runCtx, func(ctx context.Context) error {
		up, err := e.push(ctx, org, &touched)
		if err != nil {
			return err
		}
		uploaded = up

		e.emit(events.SyncDownloading{})

		down, err := e.pull(ctx, org, &touched)
		if err != nil {
			return err
		}
		downloaded = down
		return nil
	})

	if errors.Is(err, breaker.ErrOpen) {
		e.logger.Printf("sync blocked: circuit open")
		e.emit(events.SyncBlocked{Reason: ReasonCircuitOpen, CanRetry: true})
		return Result{
			Success:   false,
			Message:   "sync temporarily disabled after repeated failures",
			Blocked:   true,
			Reason:    ReasonCircuitOpen,
			Retryable: true,
			Err:       err,
		}
	}

	if err != nil {
		e.logger.Printf("sync failed: %v", err)
		e.persistError(err)
		e.emit(events.SyncFailed{Err: err})
		return Result{
			Success:   false,
			Message:   err.Error(),
			Retryable: api.Retryable(err),
			Err:       err,
		}
	}

	now := e.clock.Now()
	e.persistSuccess(now)

	duration := now.Sub(start)
	tables := touchedTables(touched)
	e.logger.Printf("sync completed in %v: %d uploaded, %d downloaded", duration, uploaded, downloaded)
	e.emit(events.SyncCompleted{Duration: duration, Uploaded: uploaded, Downloaded: downloaded})
	e.emit(events.DataSynced{Uploaded: uploaded, Downloaded: downloaded, Tables: tables})

	return Result{
		Success:    true,
		Message:    "sync completed",
		Uploaded:   uploaded,
		Downloaded: downloaded,
		Tables:     tables,
	}
}

// SyncWithRetry runs Sync, retrying failures with exponential backoff.
//
// The initial attempt runs immediately; each failure then waits
// InitialDelay scaled by BackoffMultiplier per retry, up to MaxRetries
// retries. OnRetry and a sync_retrying event fire before each wait. The
// first success returns immediately. Blocked results are retried too,
// since the breaker may close again while we wait.
func (e *Engine) SyncWithRetry(ctx context.Context, retry RetryConfig) Result {
	retry = normalizeRetry(retry)

	result := e.Sync(ctx)
	if result.Success {
		return result
	}

	delay := retry.InitialDelay
	for attempt := 1; attempt <= retry.MaxRetries; attempt++ {
		if retry.OnRetry != nil {
			retry.OnRetry(attempt, retry.MaxRetries, delay)
		}
		e.logger.Printf("sync retry %d/%d in %v", attempt, retry.MaxRetries, delay)
		e.emit(events.SyncRetrying{Attempt: attempt, MaxRetries: retry.MaxRetries, Delay: delay})

		if err := e.sleep(ctx, delay); err != nil {
			return Result{Success: false, Message: "sync canceled", Err: err}
		}

		result = e.Sync(ctx)
		if result.Success {
			return result
		}

		delay = time.Duration(float64(delay) * retry.BackoffMultiplier)
	}

	attempts := retry.MaxRetries + 1
	message := fmt.Sprintf("sync failed after %d attempts", attempts)
	e.logger.Printf("%s", message)

	err := ErrRetriesExhausted
	if result.Err != nil {
		err = fmt.Errorf("%w: %v", ErrRetriesExhausted, result.Err)
	}
	return Result{
		Success:   false,
		Message:   message,
		Retryable: false,
		Err:       err,
	}
}

// InitialSync is the startup sync. It runs the full retry loop, but only
// when it can plausibly succeed: with no organization configured or no
// network path it is skipped with an initial_sync_skipped event instead
// of burning the retry budget.
func (e *Engine) InitialSync(ctx context.Context) Result {
	if _, ok := e.store.OrganizationID(); !ok {
		e.logger.Printf("initial sync skipped: no organization configured")
		e.emit(events.InitialSyncSkipped{Reason: "no organization configured"})
		return Result{Success: false, Message: "no organization configured", Err: ErrNoOrganization}
	}

	if e.probe != nil && !e.probe.Online(ctx) {
		e.logger.Printf("initial sync skipped: offline")
		e.emit(events.InitialSyncSkipped{Reason: "offline"})
		return Result{Success: false, Message: "offline", Retryable: true}
	}

	return e.SyncWithRetry(ctx, e.retry)
}

// Running reports whether a sync is in flight.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Deferred reports whether a sync was requested while the application
// was backgrounded and is still wanted.
func (e *Engine) Deferred() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deferred
}

// LastSync returns the persisted time of the last successful sync, with
// ok false if the device has never synced.
func (e *Engine) LastSync(ctx context.Context) (time.Time, bool, error) {
	return e.kv.GetTime(ctx, keyLastSyncTime)
}

// LastError returns the persisted message of the most recent failed
// sync, empty if the last sync succeeded or none has run.
func (e *Engine) LastError(ctx context.Context) (string, error) {
	var rec syncErrorRecord
	ok, err := e.kv.GetJSON(ctx, keyLastSyncError, &rec)
	if err != nil || !ok {
		return "", err
	}
	return rec.Message, nil
}

// BreakerState exposes the circuit breaker's current state for status
// displays.
func (e *Engine) BreakerState() breaker.State {
	return e.breaker.State()
}

func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return false
	}
	e.running = true
	return true
}

func (e *Engine) end() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

func (e *Engine) setDeferred(v bool) {
	e.mu.Lock()
	e.deferred = v
	e.mu.Unlock()
}

func (e *Engine) emit(ev events.Event) {
	if e.bus != nil {
		e.bus.Emit(ev)
	}
}

type syncErrorRecord struct {
	Message string `json:"message"`
}

// persistError records the failure for the status surface. Bookkeeping
// writes use a background context: the sync context may already be
// expired, and losing the note would misreport the device state.
func (e *Engine) persistError(err error) {
	rec := syncErrorRecord{Message: err.Error()}
	if kvErr := e.kv.SetJSON(context.Background(), keyLastSyncError, rec); kvErr != nil {
		e.logger.Printf("warning: failed to persist sync error: %v", kvErr)
	}
}

func (e *Engine) persistSuccess(now time.Time) {
	ctx := context.Background()
	if err := e.kv.SetTime(ctx, keyLastSyncTime, now); err != nil {
		e.logger.Printf("warning: failed to persist sync time: %v", err)
	}
	if err := e.kv.Delete(ctx, keyLastSyncError); err != nil {
		e.logger.Printf("warning: failed to clear sync error: %v", err)
	}
}

// push uploads every dirty row and applies the backend's
// acknowledgements. Returns the number of acknowledged rows.
func (e *Engine) push(ctx context.Context, org int64, touched *[3]bool) (int, error) {
	farms, err := e.store.DirtyFarms(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to collect dirty farms: %w", err)
	}
	batches, err := e.store.DirtyBatches(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to collect dirty batches: %w", err)
	}
	records, err := e.store.DirtyProductionRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to collect dirty production records: %w", err)
	}

	if len(farms)+len(batches)+len(records) == 0 {
		return 0, nil
	}

	req := &api.PushRequest{Device: e.device, OrganizationID: org}
	for _, f := range farms {
		req.Farms = append(req.Farms, api.PushFarm{
			ClientID:  f.ID,
			ServerID:  f.ServerID,
			Deleted:   f.Deleted,
			Name:      f.Name,
			Location:  f.Location,
			UpdatedAt: f.UpdatedAt,
		})
	}
	for _, b := range batches {
		pb := api.PushBatch{
			ClientID:     b.ID,
			ServerID:     b.ServerID,
			Deleted:      b.Deleted,
			FarmServerID: b.FarmServerID,
			Name:         b.Name,
			BirdType:     b.BirdType,
			CurrentCount: b.CurrentCount,
			Status:       b.Status,
			UpdatedAt:    b.UpdatedAt,
		}
		if b.FarmServerID == 0 {
			pb.FarmClientID = b.FarmID
		}
		req.Batches = append(req.Batches, pb)
	}
	for _, r := range records {
		pr := api.PushRecord{
			ClientID:      r.ID,
			ServerID:      r.ServerID,
			Deleted:       r.Deleted,
			BatchServerID: r.BatchServerID,
			EggsCollected: r.EggsCollected,
			Mortality:     r.Mortality,
			Notes:         r.Notes,
			RecordedAt:    r.RecordedAt,
			UpdatedAt:     r.UpdatedAt,
		}
		if r.BatchServerID == 0 {
			pr.BatchClientID = r.BatchID
		}
		req.Records = append(req.Records, pr)
	}

	resp, err := e.remote.Push(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("push failed: %w", err)
	}

	for _, ack := range resp.Acks {
		if err := e.store.MarkSynced(ctx, ack.Table, ack.ClientID, ack.ServerID); err != nil {
			return 0, fmt.Errorf("failed to apply ack for %s %s: %w", ack.Table, ack.ClientID, err)
		}
		markTouched(touched, ack.Table)
	}

	return len(resp.Acks), nil
}

// pull downloads the organization's server state and applies it to the
// local store. Returns the number of rows written.
func (e *Engine) pull(ctx context.Context, org int64, touched *[3]bool) (int, error) {
	since, _, err := e.kv.GetTime(ctx, keyLastSyncTime)
	if err != nil {
		return 0, fmt.Errorf("failed to read last sync time: %w", err)
	}

	resp, err := e.remote.Pull(ctx, org, since)
	if err != nil {
		return 0, fmt.Errorf("pull failed: %w", err)
	}

	downloaded := 0

	n, err := e.store.ApplyFarms(ctx, resp.Farms)
	if err != nil {
		return downloaded, fmt.Errorf("failed to apply farms: %w", err)
	}
	if n > 0 {
		markTouched(touched, store.TableFarms)
	}
	downloaded += n

	n, err = e.store.ApplyBatches(ctx, resp.Batches)
	if err != nil {
		return downloaded, fmt.Errorf("failed to apply batches: %w", err)
	}
	if n > 0 {
		markTouched(touched, store.TableBatches)
	}
	downloaded += n

	n, err = e.store.ApplyProductionRecords(ctx, resp.ProductionRecords)
	if err != nil {
		return downloaded, fmt.Errorf("failed to apply production records: %w", err)
	}
	if n > 0 {
		markTouched(touched, store.TableRecords)
	}
	downloaded += n

	return downloaded, nil
}

var tableOrder = []string{store.TableFarms, store.TableBatches, store.TableRecords}

func markTouched(touched *[3]bool, table string) {
	for i, name := range tableOrder {
		if name == table {
			touched[i] = true
			return
		}
	}
}

func touchedTables(touched [3]bool) []string {
	var tables []string
	for i, name := range tableOrder {
		if touched[i] {
			tables = append(tables, name)
		}
	}
	return tables
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
