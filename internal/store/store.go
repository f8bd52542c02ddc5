// Package store is the device-local database for Poultry360 farm data.
//
// The store holds every farm, batch, and production record the device
// knows about in an embedded SQLite database with WAL mode for concurrent
// access. It is the single source of truth while the device is offline.
//
// Two bookkeeping columns drive synchronization:
//   - dirty: the row has local changes the backend has not seen
//   - deleted: the row is a tombstone awaiting upload
//
// Rows carry two identifiers. The client id (a UUID, the primary key) is
// assigned at creation so records work offline; the server id arrives
// later, in the push acknowledgement. Reads are scoped to the active
// organization: with no organization configured, queries return empty
// results rather than errors, so a signed-out device degrades quietly.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/clock"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/events"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/tenant"
)

// Table names, shared with push acknowledgements and change events.
const (
	TableFarms   = "farms"
	TableBatches = "batches"
	TableRecords = "production_records"
)

// Config configures a Store.
type Config struct {
	// Path is the database file location. Parent directories are created
	// as needed.
	Path string

	// Scope is the active organization. If nil, a fresh unset scope is
	// created; SetOrganization activates it later.
	Scope *tenant.Scope

	// Bus receives record change events after successful writes. May be
	// nil, in which case no events are emitted.
	Bus *events.Bus

	// Clock stamps created_at and updated_at. Defaults to the system
	// clock.
	Clock clock.Clock
}

// Store wraps the SQLite connection with tenant-scoped CRUD and the
// dirty-row bookkeeping the sync engine depends on.
type Store struct {
	conn   *sql.DB
	path   string
	scope  *tenant.Scope
	bus    *events.Bus
	clock  clock.Clock
	closed bool
}

// Open creates a store at cfg.Path using embedded SQLite.
//
// The database is opened in WAL mode for concurrent reads. If it doesn't
// exist it is created; call InitSchema afterwards to create the tables.
//
// The caller MUST call Close() when done.
func Open(cfg Config) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", cfg.Path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:  conn,
		path:  cfg.Path,
		scope: cfg.Scope,
		bus:   cfg.Bus,
		clock: cfg.Clock,
	}
	if s.scope == nil {
		s.scope = tenant.NewScope()
	}
	if s.clock == nil {
		s.clock = clock.System()
	}

	// Enable WAL mode for concurrent reads
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to 5 seconds
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection. The key-value and
// analytics cache layers share it so the device keeps a single database
// file.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Scope returns the tenant scope the store reads and writes through.
func (s *Store) Scope() *tenant.Scope {
	return s.scope
}

// SetOrganization activates an organization for all subsequent scoped
// operations. Non-positive ids are ignored.
func (s *Store) SetOrganization(id int64) {
	s.scope.SetOrganization(id)
}

// OrganizationID returns the active organization id, and whether one is
// configured.
func (s *Store) OrganizationID() (int64, bool) {
	return s.scope.OrganizationID()
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
//
// The connection handle stays in place so queries issued after Close fail
// with a database-closed error instead of dereferencing nil. Closing twice
// is harmless.
func (s *Store) Close() error {
	if s.conn == nil || s.closed {
		return nil
	}
	s.closed = true

	// Checkpoint WAL before closing
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// InitSchema creates the database schema if it doesn't exist.
//
// This creates the farms, batches, and production_records tables along
// with indexes for scoped and dirty-row queries. Idempotent - safe to
// call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	-- Core tables
	CREATE TABLE IF NOT EXISTS farms (
		id TEXT PRIMARY KEY,
		server_id INTEGER,
		organization_id INTEGER NOT NULL DEFAULT 0,
		name TEXT NOT NULL,
		location TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,

		-- Sync bookkeeping
		dirty INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		server_id INTEGER,
		organization_id INTEGER NOT NULL DEFAULT 0,
		farm_id TEXT NOT NULL,
		name TEXT NOT NULL,
		bird_type TEXT,
		current_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		dirty INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (farm_id) REFERENCES farms(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS production_records (
		id TEXT PRIMARY KEY,
		server_id INTEGER,
		organization_id INTEGER NOT NULL DEFAULT 0,
		batch_id TEXT NOT NULL,
		eggs_collected INTEGER NOT NULL DEFAULT 0,
		mortality INTEGER NOT NULL DEFAULT 0,
		notes TEXT,
		recorded_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		dirty INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (batch_id) REFERENCES batches(id) ON DELETE CASCADE
	);

	-- Indexes for scoped queries
	CREATE INDEX IF NOT EXISTS idx_farms_org ON farms(organization_id);
	CREATE INDEX IF NOT EXISTS idx_batches_org ON batches(organization_id);
	CREATE INDEX IF NOT EXISTS idx_batches_farm ON batches(farm_id);
	CREATE INDEX IF NOT EXISTS idx_records_batch ON production_records(batch_id);
	CREATE INDEX IF NOT EXISTS idx_records_recorded ON production_records(recorded_at);

	-- Indexes for sync
	CREATE INDEX IF NOT EXISTS idx_farms_dirty ON farms(dirty);
	CREATE INDEX IF NOT EXISTS idx_batches_dirty ON batches(dirty);
	CREATE INDEX IF NOT EXISTS idx_records_dirty ON production_records(dirty);
	CREATE INDEX IF NOT EXISTS idx_farms_server ON farms(server_id);
	CREATE INDEX IF NOT EXISTS idx_batches_server ON batches(server_id);
	CREATE INDEX IF NOT EXISTS idx_records_server ON production_records(server_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// emit publishes ev if a bus is configured.
func (s *Store) emit(ev events.Event) {
	if s.bus != nil {
		s.bus.Emit(ev)
	}
}

// newID returns a fresh client identifier.
func newID() string {
	return uuid.NewString()
}

// now returns the clock's current time in UTC. All timestamps are stored
// as UTC RFC3339 text so lexicographic comparison matches time order.
func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// timeToText formats a timestamp for storage.
func timeToText(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// textToTime parses a stored timestamp. Invalid values come back as the
// zero time rather than failing the whole scan.
func textToTime(text string) time.Time {
	t, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return time.Time{}
	}
	return t
}

// serverIDToNull converts a server id for storage. Zero means the backend
// has not assigned one yet and is stored as NULL.
func serverIDToNull(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}

// nullToServerID converts a stored server id back, NULL becoming zero.
func nullToServerID(ns sql.NullInt64) int64 {
	if !ns.Valid {
		return 0
	}
	return ns.Int64
}
