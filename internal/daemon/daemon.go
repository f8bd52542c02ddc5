package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/schema"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/store"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/syncer"
)

// Config holds configuration for the daemon.
type Config struct {
	// DropDir is the directory watched for record-drop files. Defaults
	// to DataDir/drops when DataDir is set.
	DropDir string

	// ArchiveDir is where ingested drop files are moved. Defaults to
	// DropDir/archive.
	ArchiveDir string

	// DataDir anchors the default drop directory.
	DataDir string

	// SyncInterval is how often a background sync runs.
	SyncInterval time.Duration

	// DebounceInterval is how long to wait before ingesting queued drop
	// files, batching rapid writes together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates drop-file ingestion and periodic synchronization.
type Daemon struct {
	store  *store.Store
	engine *syncer.Engine
	config *Config

	watcher *DropWatcher

	queue   map[string]time.Time
	queueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. Use Start() to begin watching and syncing.
func New(st *store.Store, engine *syncer.Engine, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("sync engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = 5 * time.Minute
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}
	if config.DropDir == "" {
		if config.DataDir == "" {
			return nil, fmt.Errorf("drop directory not configured")
		}
		config.DropDir = filepath.Join(config.DataDir, "drops")
	}
	if config.ArchiveDir == "" {
		config.ArchiveDir = filepath.Join(config.DropDir, "archive")
	}

	watcher, err := NewDropWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:   st,
		engine:  engine,
		config:  config,
		watcher: watcher,
		queue:   make(map[string]time.Time),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon ingests any drop files already waiting, runs the startup
// sync, then starts three loops: the drop-dir watcher, the debounced
// ingest queue, and the periodic sync ticker. This blocks until ctx is
// cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := os.MkdirAll(d.config.DropDir, 0755); err != nil {
		return fmt.Errorf("failed to create drop directory: %w", err)
	}

	// Files dropped while the daemon was down are still waiting.
	if err := d.ingestExisting(); err != nil {
		return err
	}

	// The startup sync may fail offline; that is routine, not fatal.
	result := d.engine.InitialSync(d.ctx)
	if !result.Success {
		d.config.Logger.Printf("Startup sync did not complete: %s", result.Message)
	}

	if err := d.watcher.Start(d.config.DropDir); err != nil {
		return err
	}

	d.config.Logger.Printf("Watching: %s", d.config.DropDir)

	d.wg.Add(3)
	go d.watchDrops()
	go d.processQueue()
	go d.syncLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Printf("Error stopping watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// ingestExisting processes every drop file already in the drop dir.
func (d *Daemon) ingestExisting() error {
	paths, err := schema.ListDropFiles(d.config.DropDir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return nil
	}

	d.config.Logger.Printf("Ingesting %d waiting drop files", len(paths))
	for _, path := range paths {
		d.ingestFile(path)
	}
	return nil
}

// watchDrops consumes watcher events and queues paths for ingest.
func (d *Daemon) watchDrops() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case path, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("Drop file event: %s", path)
			d.queueChange(path)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	d.queue[path] = time.Now()
}

// processQueue flushes the change queue on the debounce interval.
func (d *Daemon) processQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPending()
		}
	}
}

// processPending ingests files that have been queued for at least the
// debounce interval, then triggers a sync so the new rows upload.
func (d *Daemon) processPending() {
	d.queueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.queue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.queue, path)
	}
	d.queueMu.Unlock()

	if len(ready) == 0 {
		return
	}

	ingested := 0
	for _, path := range ready {
		if d.ingestFile(path) {
			ingested++
		}
	}

	if ingested > 0 {
		d.engine.Sync(d.ctx)
	}
}

// ingestFile ingests one drop file and archives it. Reports whether any
// rows were written.
func (d *Daemon) ingestFile(path string) bool {
	// The file may have been archived or removed since it was queued.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	}

	result, err := IngestDropFile(d.ctx, d.store, path, d.config.Logger)
	if err != nil {
		d.config.Logger.Printf("Rejecting drop file %s: %v", path, err)
		d.reject(path)
		return false
	}

	d.config.Logger.Printf("Ingested %s: %d farms, %d batches, %d records (%d skipped)",
		filepath.Base(path), result.Farms, result.Batches, result.Records, result.Skipped)
	d.archive(path)
	return result.Total() > 0
}

// archive moves an ingested drop file out of the watched directory.
func (d *Daemon) archive(path string) {
	if err := os.MkdirAll(d.config.ArchiveDir, 0755); err != nil {
		d.config.Logger.Printf("Warning: failed to create archive directory: %v", err)
		return
	}
	dest := filepath.Join(d.config.ArchiveDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		d.config.Logger.Printf("Warning: failed to archive %s: %v", path, err)
	}
}

// reject renames an unreadable drop file so it stops matching the
// watcher's filter but stays on disk for inspection.
func (d *Daemon) reject(path string) {
	if err := os.Rename(path, path+".rejected"); err != nil {
		d.config.Logger.Printf("Warning: failed to set aside %s: %v", path, err)
	}
}

// syncLoop runs a sync on every interval tick.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.engine.Sync(d.ctx)
		}
	}
}
