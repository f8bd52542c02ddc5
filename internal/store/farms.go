package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/events"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/schema"
)

// CreateFarm inserts a farm as a dirty row pending upload.
//
// A client id is assigned when f.ID is empty. The active organization is
// stamped unless the record already carries an authoritative one, as rows
// imported from another device's drop file do.
func (s *Store) CreateFarm(f *schema.Farm) error {
	return s.CreateFarmContext(context.Background(), f)
}

// CreateFarmContext inserts a farm with context support.
func (s *Store) CreateFarmContext(ctx context.Context, f *schema.Farm) error {
	if f.ID == "" {
		f.ID = newID()
	}
	if f.OrganizationID == 0 {
		if org, ok := s.scope.OrganizationID(); ok {
			f.OrganizationID = org
		}
	}
	now := s.now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid farm: %w", err)
	}

	query := `
	INSERT INTO farms (
		id, server_id, organization_id, name, location,
		created_at, updated_at, dirty, deleted
	) VALUES (?, ?, ?, ?, ?, ?, ?, 1, 0)
	`

	_, err := s.conn.ExecContext(ctx, query,
		f.ID,
		serverIDToNull(f.ServerID),
		f.OrganizationID,
		f.Name,
		f.Location,
		timeToText(f.CreatedAt),
		timeToText(f.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create farm: %w", err)
	}

	s.emit(events.RecordCreated{Table: TableFarms, ID: f.ID, OrganizationID: f.OrganizationID})
	return nil
}

// UpdateFarm overwrites a farm's editable fields and marks the row dirty.
// Returns sql.ErrNoRows if the farm does not exist or is deleted.
func (s *Store) UpdateFarm(f *schema.Farm) error {
	return s.UpdateFarmContext(context.Background(), f)
}

// UpdateFarmContext updates a farm with context support.
func (s *Store) UpdateFarmContext(ctx context.Context, f *schema.Farm) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid farm: %w", err)
	}
	f.UpdatedAt = s.now()

	query := `
	UPDATE farms
	SET name = ?, location = ?, updated_at = ?, dirty = 1
	WHERE id = ? AND deleted = 0
	`

	res, err := s.conn.ExecContext(ctx, query,
		f.Name,
		f.Location,
		timeToText(f.UpdatedAt),
		f.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update farm %s: %w", f.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update farm %s: %w", f.ID, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	s.emit(events.RecordUpdated{Table: TableFarms, ID: f.ID, OrganizationID: f.OrganizationID})
	return nil
}

// DeleteFarm tombstones a farm. The row stays in place, dirty, until the
// deletion has been pushed; then it is purged, cascading to the farm's
// batches. Deleting an unknown farm is a no-op (idempotent).
func (s *Store) DeleteFarm(id string) error {
	return s.DeleteFarmContext(context.Background(), id)
}

// DeleteFarmContext tombstones a farm with context support.
func (s *Store) DeleteFarmContext(ctx context.Context, id string) error {
	var org int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT organization_id FROM farms WHERE id = ? AND deleted = 0`, id,
	).Scan(&org)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up farm %s: %w", id, err)
	}

	query := `UPDATE farms SET deleted = 1, dirty = 1, updated_at = ? WHERE id = ?`
	if _, err := s.conn.ExecContext(ctx, query, timeToText(s.now()), id); err != nil {
		return fmt.Errorf("failed to delete farm %s: %w", id, err)
	}

	s.emit(events.RecordDeleted{Table: TableFarms, ID: id, OrganizationID: org})
	return nil
}

// GetFarm retrieves a single farm by client id.
// Returns sql.ErrNoRows if the farm is not found.
func (s *Store) GetFarm(id string) (*schema.Farm, error) {
	return s.GetFarmContext(context.Background(), id)
}

// GetFarmContext retrieves a single farm with context support.
func (s *Store) GetFarmContext(ctx context.Context, id string) (*schema.Farm, error) {
	query := `
	SELECT id, server_id, organization_id, name, location, created_at, updated_at
	FROM farms
	WHERE id = ? AND deleted = 0
	`

	var f schema.Farm
	var serverID sql.NullInt64
	var createdAt, updatedAt string

	err := s.conn.QueryRowContext(ctx, query, id).Scan(
		&f.ID,
		&serverID,
		&f.OrganizationID,
		&f.Name,
		&f.Location,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	f.ServerID = nullToServerID(serverID)
	f.CreatedAt = textToTime(createdAt)
	f.UpdatedAt = textToTime(updatedAt)
	return &f, nil
}

// ListFarmsFilter narrows ListFarms. Zero values mean no filtering.
type ListFarmsFilter struct {
	// Search matches a substring of the farm name
	Search string
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// ListFarms returns the active organization's farms ordered by name.
// With no organization configured the result is empty.
func (s *Store) ListFarms(ctx context.Context, filter ListFarmsFilter) ([]*schema.Farm, error) {
	org, ok := s.scope.OrganizationID()
	if !ok {
		return nil, nil
	}

	conditions := []string{"organization_id = ?", "deleted = 0"}
	args := []interface{}{org}

	if filter.Search != "" {
		conditions = append(conditions, "name LIKE ?")
		args = append(args, "%"+filter.Search+"%")
	}

	query := `
	SELECT id, server_id, organization_id, name, location, created_at, updated_at
	FROM farms
	WHERE ` + strings.Join(conditions, " AND ") + `
	ORDER BY name ASC
	`

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query farms: %w", err)
	}
	defer rows.Close()

	return scanFarms(rows)
}

// CountFarms returns the number of live farms in the active organization,
// zero when none is configured.
func (s *Store) CountFarms(ctx context.Context) (int64, error) {
	org, ok := s.scope.OrganizationID()
	if !ok {
		return 0, nil
	}

	var count int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM farms WHERE organization_id = ? AND deleted = 0`, org,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count farms: %w", err)
	}
	return count, nil
}

// scanFarms is a helper function to scan multiple farms from query results.
func scanFarms(rows *sql.Rows) ([]*schema.Farm, error) {
	var farms []*schema.Farm

	for rows.Next() {
		var f schema.Farm
		var serverID sql.NullInt64
		var createdAt, updatedAt string

		err := rows.Scan(
			&f.ID,
			&serverID,
			&f.OrganizationID,
			&f.Name,
			&f.Location,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan farm: %w", err)
		}

		f.ServerID = nullToServerID(serverID)
		f.CreatedAt = textToTime(createdAt)
		f.UpdatedAt = textToTime(updatedAt)
		farms = append(farms, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating farms: %w", err)
	}

	return farms, nil
}
