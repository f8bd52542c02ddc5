package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/api"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/schema"
)

// DirtyFarm is a farm row pending upload, with its tombstone flag.
type DirtyFarm struct {
	schema.Farm
	Deleted bool
}

// DirtyBatch is a batch row pending upload. FarmServerID carries the
// parent farm's server id when it has one, so the push payload can
// reference parents the backend already knows.
type DirtyBatch struct {
	schema.Batch
	Deleted      bool
	FarmServerID int64
}

// DirtyRecord is a production record pending upload.
type DirtyRecord struct {
	schema.ProductionRecord
	Deleted       bool
	BatchServerID int64
}

// DirtyFarms returns every farm row with unpushed changes, tombstones
// included, oldest first.
func (s *Store) DirtyFarms(ctx context.Context) ([]DirtyFarm, error) {
	query := `
	SELECT id, server_id, organization_id, name, location,
	       created_at, updated_at, deleted
	FROM farms
	WHERE dirty = 1
	ORDER BY created_at ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query dirty farms: %w", err)
	}
	defer rows.Close()

	var dirty []DirtyFarm
	for rows.Next() {
		var d DirtyFarm
		var serverID sql.NullInt64
		var createdAt, updatedAt string
		var deleted int

		err := rows.Scan(
			&d.ID,
			&serverID,
			&d.OrganizationID,
			&d.Name,
			&d.Location,
			&createdAt,
			&updatedAt,
			&deleted,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dirty farm: %w", err)
		}

		d.ServerID = nullToServerID(serverID)
		d.CreatedAt = textToTime(createdAt)
		d.UpdatedAt = textToTime(updatedAt)
		d.Deleted = deleted == 1
		dirty = append(dirty, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dirty farms: %w", err)
	}

	return dirty, nil
}

// DirtyBatches returns every batch row with unpushed changes, tombstones
// included, oldest first.
func (s *Store) DirtyBatches(ctx context.Context) ([]DirtyBatch, error) {
	query := `
	SELECT b.id, b.server_id, b.organization_id, b.farm_id, b.name, b.bird_type,
	       b.current_count, b.status, b.created_at, b.updated_at, b.deleted,
	       COALESCE(f.server_id, 0)
	FROM batches b
	LEFT JOIN farms f ON b.farm_id = f.id
	WHERE b.dirty = 1
	ORDER BY b.created_at ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query dirty batches: %w", err)
	}
	defer rows.Close()

	var dirty []DirtyBatch
	for rows.Next() {
		var d DirtyBatch
		var serverID sql.NullInt64
		var createdAt, updatedAt string
		var deleted int

		err := rows.Scan(
			&d.ID,
			&serverID,
			&d.OrganizationID,
			&d.FarmID,
			&d.Name,
			&d.BirdType,
			&d.CurrentCount,
			&d.Status,
			&createdAt,
			&updatedAt,
			&deleted,
			&d.FarmServerID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dirty batch: %w", err)
		}

		d.ServerID = nullToServerID(serverID)
		d.CreatedAt = textToTime(createdAt)
		d.UpdatedAt = textToTime(updatedAt)
		d.Deleted = deleted == 1
		dirty = append(dirty, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dirty batches: %w", err)
	}

	return dirty, nil
}

// DirtyProductionRecords returns every production record with unpushed
// changes, tombstones included, oldest first.
func (s *Store) DirtyProductionRecords(ctx context.Context) ([]DirtyRecord, error) {
	query := `
	SELECT p.id, p.server_id, p.organization_id, p.batch_id, p.eggs_collected,
	       p.mortality, p.notes, p.recorded_at, p.created_at, p.updated_at,
	       p.deleted, COALESCE(b.server_id, 0)
	FROM production_records p
	LEFT JOIN batches b ON p.batch_id = b.id
	WHERE p.dirty = 1
	ORDER BY p.created_at ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query dirty production records: %w", err)
	}
	defer rows.Close()

	var dirty []DirtyRecord
	for rows.Next() {
		var d DirtyRecord
		var serverID sql.NullInt64
		var recordedAt, createdAt, updatedAt string
		var deleted int

		err := rows.Scan(
			&d.ID,
			&serverID,
			&d.OrganizationID,
			&d.BatchID,
			&d.EggsCollected,
			&d.Mortality,
			&d.Notes,
			&recordedAt,
			&createdAt,
			&updatedAt,
			&deleted,
			&d.BatchServerID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dirty production record: %w", err)
		}

		d.ServerID = nullToServerID(serverID)
		d.RecordedAt = textToTime(recordedAt)
		d.CreatedAt = textToTime(createdAt)
		d.UpdatedAt = textToTime(updatedAt)
		d.Deleted = deleted == 1
		dirty = append(dirty, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dirty production records: %w", err)
	}

	return dirty, nil
}

// MarkSynced records a push acknowledgement: the row gets its server id
// and is no longer dirty. Acknowledged tombstones are purged for real,
// cascading to child rows. A row that vanished locally in the meantime is
// ignored.
func (s *Store) MarkSynced(ctx context.Context, table, clientID string, serverID int64) error {
	switch table {
	case TableFarms, TableBatches, TableRecords:
	default:
		return fmt.Errorf("unknown table %q", table)
	}

	var deleted int
	lookup := fmt.Sprintf(`SELECT deleted FROM %s WHERE id = ?`, table)
	err := s.conn.QueryRowContext(ctx, lookup, clientID).Scan(&deleted)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up %s row %s: %w", table, clientID, err)
	}

	if deleted == 1 {
		purge := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table)
		if _, err := s.conn.ExecContext(ctx, purge, clientID); err != nil {
			return fmt.Errorf("failed to purge %s tombstone %s: %w", table, clientID, err)
		}
		return nil
	}

	update := fmt.Sprintf(`UPDATE %s SET server_id = ?, dirty = 0 WHERE id = ?`, table)
	if _, err := s.conn.ExecContext(ctx, update, serverIDToNull(serverID), clientID); err != nil {
		return fmt.Errorf("failed to mark %s row %s synced: %w", table, clientID, err)
	}
	return nil
}

// ApplyFarms upserts farm rows pulled from the backend as clean rows.
//
// A row with local unpushed changes is left alone; the local edit wins
// until it has been uploaded. Returns the number of rows written.
func (s *Store) ApplyFarms(ctx context.Context, farms []api.Farm) (int, error) {
	applied := 0
	for i := range farms {
		remote := &farms[i]

		var id string
		var dirty int
		err := s.conn.QueryRowContext(ctx,
			`SELECT id, dirty FROM farms WHERE server_id = ?`, remote.ID,
		).Scan(&id, &dirty)

		switch {
		case err == sql.ErrNoRows:
			insert := `
			INSERT INTO farms (
				id, server_id, organization_id, name, location,
				created_at, updated_at, dirty, deleted
			) VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0)
			`
			_, err := s.conn.ExecContext(ctx, insert,
				newID(),
				remote.ID,
				remote.OrganizationID,
				remote.Name,
				remote.Location,
				timeToText(s.remoteTime(remote.CreatedAt)),
				timeToText(s.remoteTime(remote.UpdatedAt)),
			)
			if err != nil {
				return applied, fmt.Errorf("failed to apply farm %d: %w", remote.ID, err)
			}
			applied++

		case err != nil:
			return applied, fmt.Errorf("failed to look up farm %d: %w", remote.ID, err)

		case dirty == 1:
			// Local unpushed changes win until uploaded.

		default:
			update := `
			UPDATE farms
			SET organization_id = ?, name = ?, location = ?, updated_at = ?, deleted = 0
			WHERE id = ?
			`
			_, err := s.conn.ExecContext(ctx, update,
				remote.OrganizationID,
				remote.Name,
				remote.Location,
				timeToText(s.remoteTime(remote.UpdatedAt)),
				id,
			)
			if err != nil {
				return applied, fmt.Errorf("failed to apply farm %d: %w", remote.ID, err)
			}
			applied++
		}
	}
	return applied, nil
}

// ApplyBatches upserts batch rows pulled from the backend. Rows whose
// parent farm is not yet known locally are skipped; the next pull brings
// the farm first.
func (s *Store) ApplyBatches(ctx context.Context, batches []api.Batch) (int, error) {
	applied := 0
	for i := range batches {
		remote := &batches[i]

		var farmID string
		err := s.conn.QueryRowContext(ctx,
			`SELECT id FROM farms WHERE server_id = ?`, remote.FarmID,
		).Scan(&farmID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return applied, fmt.Errorf("failed to resolve farm %d: %w", remote.FarmID, err)
		}

		status := remote.Status
		if status == "" {
			status = schema.BatchStatusActive
		}

		var id string
		var dirty int
		err = s.conn.QueryRowContext(ctx,
			`SELECT id, dirty FROM batches WHERE server_id = ?`, remote.ID,
		).Scan(&id, &dirty)

		switch {
		case err == sql.ErrNoRows:
			insert := `
			INSERT INTO batches (
				id, server_id, organization_id, farm_id, name, bird_type,
				current_count, status, created_at, updated_at, dirty, deleted
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
			`
			_, err := s.conn.ExecContext(ctx, insert,
				newID(),
				remote.ID,
				remote.OrganizationID,
				farmID,
				remote.Name,
				remote.BirdType,
				remote.CurrentCount,
				status,
				timeToText(s.remoteTime(remote.CreatedAt)),
				timeToText(s.remoteTime(remote.UpdatedAt)),
			)
			if err != nil {
				return applied, fmt.Errorf("failed to apply batch %d: %w", remote.ID, err)
			}
			applied++

		case err != nil:
			return applied, fmt.Errorf("failed to look up batch %d: %w", remote.ID, err)

		case dirty == 1:
			// Local unpushed changes win until uploaded.

		default:
			update := `
			UPDATE batches
			SET organization_id = ?, farm_id = ?, name = ?, bird_type = ?,
			    current_count = ?, status = ?, updated_at = ?, deleted = 0
			WHERE id = ?
			`
			_, err := s.conn.ExecContext(ctx, update,
				remote.OrganizationID,
				farmID,
				remote.Name,
				remote.BirdType,
				remote.CurrentCount,
				status,
				timeToText(s.remoteTime(remote.UpdatedAt)),
				id,
			)
			if err != nil {
				return applied, fmt.Errorf("failed to apply batch %d: %w", remote.ID, err)
			}
			applied++
		}
	}
	return applied, nil
}

// ApplyProductionRecords upserts production record rows pulled from the
// backend. Rows whose parent batch is not yet known locally are skipped.
func (s *Store) ApplyProductionRecords(ctx context.Context, records []api.ProductionRecord) (int, error) {
	applied := 0
	for i := range records {
		remote := &records[i]

		var batchID string
		err := s.conn.QueryRowContext(ctx,
			`SELECT id FROM batches WHERE server_id = ?`, remote.BatchID,
		).Scan(&batchID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return applied, fmt.Errorf("failed to resolve batch %d: %w", remote.BatchID, err)
		}

		var id string
		var dirty int
		err = s.conn.QueryRowContext(ctx,
			`SELECT id, dirty FROM production_records WHERE server_id = ?`, remote.ID,
		).Scan(&id, &dirty)

		switch {
		case err == sql.ErrNoRows:
			insert := `
			INSERT INTO production_records (
				id, server_id, organization_id, batch_id, eggs_collected,
				mortality, notes, recorded_at, created_at, updated_at, dirty, deleted
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
			`
			_, err := s.conn.ExecContext(ctx, insert,
				newID(),
				remote.ID,
				remote.OrganizationID,
				batchID,
				remote.EggsCollected,
				remote.Mortality,
				remote.Notes,
				timeToText(s.remoteTime(remote.RecordedAt)),
				timeToText(s.remoteTime(remote.CreatedAt)),
				timeToText(s.remoteTime(remote.UpdatedAt)),
			)
			if err != nil {
				return applied, fmt.Errorf("failed to apply production record %d: %w", remote.ID, err)
			}
			applied++

		case err != nil:
			return applied, fmt.Errorf("failed to look up production record %d: %w", remote.ID, err)

		case dirty == 1:
			// Local unpushed changes win until uploaded.

		default:
			update := `
			UPDATE production_records
			SET organization_id = ?, batch_id = ?, eggs_collected = ?, mortality = ?,
			    notes = ?, recorded_at = ?, updated_at = ?, deleted = 0
			WHERE id = ?
			`
			_, err := s.conn.ExecContext(ctx, update,
				remote.OrganizationID,
				batchID,
				remote.EggsCollected,
				remote.Mortality,
				remote.Notes,
				timeToText(s.remoteTime(remote.RecordedAt)),
				timeToText(s.remoteTime(remote.UpdatedAt)),
				id,
			)
			if err != nil {
				return applied, fmt.Errorf("failed to apply production record %d: %w", remote.ID, err)
			}
			applied++
		}
	}
	return applied, nil
}

// PendingCounts reports how many rows in each table await upload.
type PendingCounts struct {
	Farms   int64
	Batches int64
	Records int64
}

// Total sums the pending rows across all tables.
func (pc PendingCounts) Total() int64 {
	return pc.Farms + pc.Batches + pc.Records
}

// PendingCounts returns the dirty-row totals for the whole device. Not
// scoped: pending uploads are device state, not organization state.
func (s *Store) PendingCounts(ctx context.Context) (PendingCounts, error) {
	var pc PendingCounts
	targets := []struct {
		table string
		dst   *int64
	}{
		{TableFarms, &pc.Farms},
		{TableBatches, &pc.Batches},
		{TableRecords, &pc.Records},
	}

	for _, t := range targets {
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE dirty = 1`, t.table)
		if err := s.conn.QueryRowContext(ctx, query).Scan(t.dst); err != nil {
			return PendingCounts{}, fmt.Errorf("failed to count pending %s: %w", t.table, err)
		}
	}
	return pc, nil
}

// remoteTime substitutes the current time for payload timestamps the
// backend left unset.
func (s *Store) remoteTime(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}
