// Package cache is the versioned analytics cache.
//
// Each entry stores one computed analytics payload as JSON under a
// canonical key, together with the schema version that wrote it and the
// time it was cached. Entries written under a different schema version
// are treated as misses and lazily deleted, so upgrading the application
// never serves a stale layout.
//
// Freshness is a reader-side decision: Get returns expired entries too,
// because a stale dashboard beats no dashboard when the recompute path
// fails. Callers use Fresh to tell the two cases apart.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/clock"
)

// SchemaVersion identifies the cache entry layout. Bump it when the
// cached payload shape changes.
const SchemaVersion = 1

// DefaultTTL is how long an entry counts as fresh unless configured
// otherwise.
const DefaultTTL = 30 * time.Minute

// Entry is one cached analytics payload.
type Entry struct {
	Key      string
	Type     string
	Version  int
	Payload  []byte
	CachedAt time.Time
}

// Config configures a Cache.
type Config struct {
	// TTL is the freshness window. Zero means DefaultTTL.
	TTL time.Duration

	// Clock measures entry age. Defaults to the system clock.
	Clock clock.Clock
}

// Cache reads and writes the analytics_cache table.
type Cache struct {
	conn  *sql.DB
	ttl   time.Duration
	clock clock.Clock
}

// New wraps an open database connection. Call InitSchema before first use.
func New(conn *sql.DB, cfg Config) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Cache{conn: conn, ttl: ttl, clock: clk}
}

// InitSchema creates the analytics_cache table if it doesn't exist.
// Idempotent.
func (c *Cache) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS analytics_cache (
		key TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		version INTEGER NOT NULL,
		payload TEXT NOT NULL,
		cached_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cache_type ON analytics_cache(type);
	`
	if _, err := c.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return nil
}

// Key builds a canonical cache key from an analytics type and its
// parameters. Parameters are sorted so equivalent requests share an
// entry.
func Key(typ string, params map[string]string) string {
	if len(params) == 0 {
		return typ
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(typ)
	for _, name := range names {
		sb.WriteString("|")
		sb.WriteString(name)
		sb.WriteString("=")
		sb.WriteString(params[name])
	}
	return sb.String()
}

// Put stores payload under key, stamped with the current schema version
// and time.
func (c *Cache) Put(ctx context.Context, key, typ string, payload []byte) error {
	query := `
	INSERT INTO analytics_cache (key, type, version, payload, cached_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		type = excluded.type,
		version = excluded.version,
		payload = excluded.payload,
		cached_at = excluded.cached_at
	`
	_, err := c.conn.ExecContext(ctx, query,
		key,
		typ,
		SchemaVersion,
		string(payload),
		c.clock.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to cache %s: %w", key, err)
	}
	return nil
}

// Get returns the entry under key, fresh or not, or nil if there is
// none. An entry written under a different schema version counts as
// missing and is deleted on the way out.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, error) {
	query := `SELECT key, type, version, payload, cached_at FROM analytics_cache WHERE key = ?`

	var e Entry
	var payload, cachedAt string
	err := c.conn.QueryRowContext(ctx, query, key).Scan(&e.Key, &e.Type, &e.Version, &payload, &cachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache %s: %w", key, err)
	}

	if e.Version != SchemaVersion {
		if _, err := c.conn.ExecContext(ctx, `DELETE FROM analytics_cache WHERE key = ?`, key); err != nil {
			return nil, fmt.Errorf("failed to drop outdated cache %s: %w", key, err)
		}
		return nil, nil
	}

	e.Payload = []byte(payload)
	if t, err := time.Parse(time.RFC3339, cachedAt); err == nil {
		e.CachedAt = t
	}
	return &e, nil
}

// Fresh reports whether e is inside the freshness window. Nil entries
// are never fresh.
func (c *Cache) Fresh(e *Entry) bool {
	if e == nil {
		return false
	}
	return c.clock.Now().Sub(e.CachedAt) < c.ttl
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Invalidate removes every entry of one analytics type.
func (c *Cache) Invalidate(ctx context.Context, typ string) error {
	if _, err := c.conn.ExecContext(ctx, `DELETE FROM analytics_cache WHERE type = ?`, typ); err != nil {
		return fmt.Errorf("failed to invalidate %s cache: %w", typ, err)
	}
	return nil
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if _, err := c.conn.ExecContext(ctx, `DELETE FROM analytics_cache`); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}
