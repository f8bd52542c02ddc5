package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/events"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/schema"
)

// CreateBatch inserts a batch as a dirty row pending upload. The parent
// farm must already exist locally. An empty status defaults to active.
func (s *Store) CreateBatch(b *schema.Batch) error {
	return s.CreateBatchContext(context.Background(), b)
}

// CreateBatchContext inserts a batch with context support.
func (s *Store) CreateBatchContext(ctx context.Context, b *schema.Batch) error {
	if b.ID == "" {
		b.ID = newID()
	}
	if b.Status == "" {
		b.Status = schema.BatchStatusActive
	}
	if b.OrganizationID == 0 {
		if org, ok := s.scope.OrganizationID(); ok {
			b.OrganizationID = org
		}
	}
	now := s.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	query := `
	INSERT INTO batches (
		id, server_id, organization_id, farm_id, name, bird_type,
		current_count, status, created_at, updated_at, dirty, deleted
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0)
	`

	_, err := s.conn.ExecContext(ctx, query,
		b.ID,
		serverIDToNull(b.ServerID),
		b.OrganizationID,
		b.FarmID,
		b.Name,
		b.BirdType,
		b.CurrentCount,
		b.Status,
		timeToText(b.CreatedAt),
		timeToText(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}

	s.emit(events.RecordCreated{Table: TableBatches, ID: b.ID, OrganizationID: b.OrganizationID})
	return nil
}

// UpdateBatch overwrites a batch's editable fields and marks the row
// dirty. Returns sql.ErrNoRows if the batch does not exist or is deleted.
func (s *Store) UpdateBatch(b *schema.Batch) error {
	return s.UpdateBatchContext(context.Background(), b)
}

// UpdateBatchContext updates a batch with context support.
func (s *Store) UpdateBatchContext(ctx context.Context, b *schema.Batch) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	b.UpdatedAt = s.now()

	query := `
	UPDATE batches
	SET name = ?, bird_type = ?, current_count = ?, status = ?, updated_at = ?, dirty = 1
	WHERE id = ? AND deleted = 0
	`

	res, err := s.conn.ExecContext(ctx, query,
		b.Name,
		b.BirdType,
		b.CurrentCount,
		b.Status,
		timeToText(b.UpdatedAt),
		b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch %s: %w", b.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update batch %s: %w", b.ID, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	s.emit(events.RecordUpdated{Table: TableBatches, ID: b.ID, OrganizationID: b.OrganizationID})
	return nil
}

// DeleteBatch tombstones a batch pending upload. Idempotent.
func (s *Store) DeleteBatch(id string) error {
	return s.DeleteBatchContext(context.Background(), id)
}

// DeleteBatchContext tombstones a batch with context support.
func (s *Store) DeleteBatchContext(ctx context.Context, id string) error {
	var org int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT organization_id FROM batches WHERE id = ? AND deleted = 0`, id,
	).Scan(&org)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up batch %s: %w", id, err)
	}

	query := `UPDATE batches SET deleted = 1, dirty = 1, updated_at = ? WHERE id = ?`
	if _, err := s.conn.ExecContext(ctx, query, timeToText(s.now()), id); err != nil {
		return fmt.Errorf("failed to delete batch %s: %w", id, err)
	}

	s.emit(events.RecordDeleted{Table: TableBatches, ID: id, OrganizationID: org})
	return nil
}

// GetBatch retrieves a single batch by client id.
// Returns sql.ErrNoRows if the batch is not found.
func (s *Store) GetBatch(id string) (*schema.Batch, error) {
	return s.GetBatchContext(context.Background(), id)
}

// GetBatchContext retrieves a single batch with context support.
func (s *Store) GetBatchContext(ctx context.Context, id string) (*schema.Batch, error) {
	query := `
	SELECT id, server_id, organization_id, farm_id, name, bird_type,
	       current_count, status, created_at, updated_at
	FROM batches
	WHERE id = ? AND deleted = 0
	`

	var b schema.Batch
	var serverID sql.NullInt64
	var createdAt, updatedAt string

	err := s.conn.QueryRowContext(ctx, query, id).Scan(
		&b.ID,
		&serverID,
		&b.OrganizationID,
		&b.FarmID,
		&b.Name,
		&b.BirdType,
		&b.CurrentCount,
		&b.Status,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.ServerID = nullToServerID(serverID)
	b.CreatedAt = textToTime(createdAt)
	b.UpdatedAt = textToTime(updatedAt)
	return &b, nil
}

// ListBatchesFilter narrows ListBatches. Zero values mean no filtering.
type ListBatchesFilter struct {
	// FarmID restricts to one farm's batches
	FarmID string
	// Status restricts to one lifecycle status (active, inactive, closed)
	Status string
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// ListBatches returns the active organization's batches ordered by name.
// With no organization configured the result is empty.
func (s *Store) ListBatches(ctx context.Context, filter ListBatchesFilter) ([]*schema.Batch, error) {
	org, ok := s.scope.OrganizationID()
	if !ok {
		return nil, nil
	}

	conditions := []string{"organization_id = ?", "deleted = 0"}
	args := []interface{}{org}

	if filter.FarmID != "" {
		conditions = append(conditions, "farm_id = ?")
		args = append(args, filter.FarmID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	query := `
	SELECT id, server_id, organization_id, farm_id, name, bird_type,
	       current_count, status, created_at, updated_at
	FROM batches
	WHERE ` + strings.Join(conditions, " AND ") + `
	ORDER BY name ASC
	`

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	return scanBatches(rows)
}

// CountBatches returns the number of live batches in the active
// organization, zero when none is configured.
func (s *Store) CountBatches(ctx context.Context) (int64, error) {
	org, ok := s.scope.OrganizationID()
	if !ok {
		return 0, nil
	}

	var count int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM batches WHERE organization_id = ? AND deleted = 0`, org,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count batches: %w", err)
	}
	return count, nil
}

// TotalBirds returns the bird count summed over the organization's active
// batches, zero when no organization is configured.
func (s *Store) TotalBirds(ctx context.Context) (int64, error) {
	org, ok := s.scope.OrganizationID()
	if !ok {
		return 0, nil
	}

	var total int64
	err := s.conn.QueryRowContext(ctx, `
	SELECT COALESCE(SUM(current_count), 0)
	FROM batches
	WHERE organization_id = ? AND deleted = 0 AND status = ?
	`, org, schema.BatchStatusActive).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to total birds: %w", err)
	}
	return total, nil
}

// scanBatches is a helper function to scan multiple batches from query results.
func scanBatches(rows *sql.Rows) ([]*schema.Batch, error) {
	var batches []*schema.Batch

	for rows.Next() {
		var b schema.Batch
		var serverID sql.NullInt64
		var createdAt, updatedAt string

		err := rows.Scan(
			&b.ID,
			&serverID,
			&b.OrganizationID,
			&b.FarmID,
			&b.Name,
			&b.BirdType,
			&b.CurrentCount,
			&b.Status,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}

		b.ServerID = nullToServerID(serverID)
		b.CreatedAt = textToTime(createdAt)
		b.UpdatedAt = textToTime(updatedAt)
		batches = append(batches, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batches: %w", err)
	}

	return batches, nil
}
