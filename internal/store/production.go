package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/events"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/schema"
)

// CreateProductionRecord inserts a daily production record as a dirty row
// pending upload. A zero RecordedAt defaults to the current time.
//
// Recording mortality decrements the parent batch's bird count in the
// same transaction, flooring at zero.
func (s *Store) CreateProductionRecord(p *schema.ProductionRecord) error {
	return s.CreateProductionRecordContext(context.Background(), p)
}

// CreateProductionRecordContext inserts a production record with context
// support.
func (s *Store) CreateProductionRecordContext(ctx context.Context, p *schema.ProductionRecord) error {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.OrganizationID == 0 {
		if org, ok := s.scope.OrganizationID(); ok {
			p.OrganizationID = org
		}
	}
	now := s.now()
	if p.RecordedAt.IsZero() {
		p.RecordedAt = now
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid production record: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO production_records (
		id, server_id, organization_id, batch_id, eggs_collected,
		mortality, notes, recorded_at, created_at, updated_at, dirty, deleted
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0)
	`

	_, err = tx.ExecContext(ctx, query,
		p.ID,
		serverIDToNull(p.ServerID),
		p.OrganizationID,
		p.BatchID,
		p.EggsCollected,
		p.Mortality,
		p.Notes,
		timeToText(p.RecordedAt),
		timeToText(p.CreatedAt),
		timeToText(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create production record: %w", err)
	}

	if p.Mortality > 0 {
		update := `
		UPDATE batches
		SET current_count = MAX(0, current_count - ?), updated_at = ?, dirty = 1
		WHERE id = ? AND deleted = 0
		`
		if _, err := tx.ExecContext(ctx, update, p.Mortality, timeToText(now), p.BatchID); err != nil {
			return fmt.Errorf("failed to apply mortality to batch %s: %w", p.BatchID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.emit(events.RecordCreated{Table: TableRecords, ID: p.ID, OrganizationID: p.OrganizationID})
	if p.Mortality > 0 {
		s.emit(events.RecordUpdated{Table: TableBatches, ID: p.BatchID, OrganizationID: p.OrganizationID})
	}
	return nil
}

// UpdateProductionRecord overwrites a record's editable fields and marks
// the row dirty. Bird counts are not re-adjusted; mortality only affects
// the batch at creation time. Returns sql.ErrNoRows if the record does
// not exist or is deleted.
func (s *Store) UpdateProductionRecord(p *schema.ProductionRecord) error {
	return s.UpdateProductionRecordContext(context.Background(), p)
}

// UpdateProductionRecordContext updates a production record with context
// support.
func (s *Store) UpdateProductionRecordContext(ctx context.Context, p *schema.ProductionRecord) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid production record: %w", err)
	}
	p.UpdatedAt = s.now()

	query := `
	UPDATE production_records
	SET eggs_collected = ?, mortality = ?, notes = ?, recorded_at = ?, updated_at = ?, dirty = 1
	WHERE id = ? AND deleted = 0
	`

	res, err := s.conn.ExecContext(ctx, query,
		p.EggsCollected,
		p.Mortality,
		p.Notes,
		timeToText(p.RecordedAt),
		timeToText(p.UpdatedAt),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update production record %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update production record %s: %w", p.ID, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	s.emit(events.RecordUpdated{Table: TableRecords, ID: p.ID, OrganizationID: p.OrganizationID})
	return nil
}

// DeleteProductionRecord tombstones a production record pending upload.
// Idempotent.
func (s *Store) DeleteProductionRecord(id string) error {
	return s.DeleteProductionRecordContext(context.Background(), id)
}

// DeleteProductionRecordContext tombstones a production record with
// context support.
func (s *Store) DeleteProductionRecordContext(ctx context.Context, id string) error {
	var org int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT organization_id FROM production_records WHERE id = ? AND deleted = 0`, id,
	).Scan(&org)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up production record %s: %w", id, err)
	}

	query := `UPDATE production_records SET deleted = 1, dirty = 1, updated_at = ? WHERE id = ?`
	if _, err := s.conn.ExecContext(ctx, query, timeToText(s.now()), id); err != nil {
		return fmt.Errorf("failed to delete production record %s: %w", id, err)
	}

	s.emit(events.RecordDeleted{Table: TableRecords, ID: id, OrganizationID: org})
	return nil
}

// GetProductionRecord retrieves a single production record by client id.
// Returns sql.ErrNoRows if the record is not found.
func (s *Store) GetProductionRecord(id string) (*schema.ProductionRecord, error) {
	return s.GetProductionRecordContext(context.Background(), id)
}

// GetProductionRecordContext retrieves a single production record with
// context support.
func (s *Store) GetProductionRecordContext(ctx context.Context, id string) (*schema.ProductionRecord, error) {
	query := `
	SELECT id, server_id, organization_id, batch_id, eggs_collected,
	       mortality, notes, recorded_at, created_at, updated_at
	FROM production_records
	WHERE id = ? AND deleted = 0
	`

	rows, err := s.conn.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanProductionRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, sql.ErrNoRows
	}
	return records[0], nil
}

// ListRecordsFilter narrows ListProductionRecords. Zero values mean no
// filtering.
type ListRecordsFilter struct {
	// BatchID restricts to one batch's records
	BatchID string
	// From is an inclusive lower bound on recorded_at
	From time.Time
	// To is an exclusive upper bound on recorded_at
	To time.Time
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// ListProductionRecords returns production records newest first.
//
// Scoping goes through the parent batch: a record is visible when its
// batch belongs to the active organization, regardless of what the record
// row itself carries. With no organization configured the result is
// empty.
func (s *Store) ListProductionRecords(ctx context.Context, filter ListRecordsFilter) ([]*schema.ProductionRecord, error) {
	org, ok := s.scope.OrganizationID()
	if !ok {
		return nil, nil
	}

	conditions := []string{"b.organization_id = ?", "b.deleted = 0", "p.deleted = 0"}
	args := []interface{}{org}

	if filter.BatchID != "" {
		conditions = append(conditions, "p.batch_id = ?")
		args = append(args, filter.BatchID)
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "p.recorded_at >= ?")
		args = append(args, timeToText(filter.From))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "p.recorded_at < ?")
		args = append(args, timeToText(filter.To))
	}

	query := `
	SELECT p.id, p.server_id, p.organization_id, p.batch_id, p.eggs_collected,
	       p.mortality, p.notes, p.recorded_at, p.created_at, p.updated_at
	FROM production_records p
	JOIN batches b ON p.batch_id = b.id
	WHERE ` + strings.Join(conditions, " AND ") + `
	ORDER BY p.recorded_at DESC
	`

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query production records: %w", err)
	}
	defer rows.Close()

	return scanProductionRecords(rows)
}

// BatchTotals is one batch's all-time production summary.
type BatchTotals struct {
	BatchID      string
	ServerID     int64
	Name         string
	CurrentCount int
	TotalEggs    int64
}

// BatchProductionTotals sums egg production per batch for the active
// organization, ordered by batch name. Batches with no records appear
// with a zero total. With no organization configured the result is empty.
func (s *Store) BatchProductionTotals(ctx context.Context) ([]BatchTotals, error) {
	org, ok := s.scope.OrganizationID()
	if !ok {
		return nil, nil
	}

	query := `
	SELECT b.id, b.server_id, b.name, b.current_count,
	       COALESCE(SUM(p.eggs_collected), 0)
	FROM batches b
	LEFT JOIN production_records p ON p.batch_id = b.id AND p.deleted = 0
	WHERE b.organization_id = ? AND b.deleted = 0
	GROUP BY b.id
	ORDER BY b.name ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, org)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch totals: %w", err)
	}
	defer rows.Close()

	var totals []BatchTotals
	for rows.Next() {
		var t BatchTotals
		var serverID sql.NullInt64
		if err := rows.Scan(&t.BatchID, &serverID, &t.Name, &t.CurrentCount, &t.TotalEggs); err != nil {
			return nil, fmt.Errorf("failed to scan batch totals: %w", err)
		}
		t.ServerID = nullToServerID(serverID)
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batch totals: %w", err)
	}

	return totals, nil
}

// EggTotalBetween sums eggs collected in [from, to) for the active
// organization, scoped through the parent batch. Zero when no
// organization is configured.
func (s *Store) EggTotalBetween(ctx context.Context, from, to time.Time) (int64, error) {
	org, ok := s.scope.OrganizationID()
	if !ok {
		return 0, nil
	}

	var total int64
	err := s.conn.QueryRowContext(ctx, `
	SELECT COALESCE(SUM(p.eggs_collected), 0)
	FROM production_records p
	JOIN batches b ON p.batch_id = b.id
	WHERE b.organization_id = ? AND b.deleted = 0 AND p.deleted = 0
	  AND p.recorded_at >= ? AND p.recorded_at < ?
	`, org, timeToText(from), timeToText(to)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to total eggs: %w", err)
	}
	return total, nil
}

// TotalEggs sums all-time egg production for the active organization,
// zero when none is configured.
func (s *Store) TotalEggs(ctx context.Context) (int64, error) {
	org, ok := s.scope.OrganizationID()
	if !ok {
		return 0, nil
	}

	var total int64
	err := s.conn.QueryRowContext(ctx, `
	SELECT COALESCE(SUM(p.eggs_collected), 0)
	FROM production_records p
	JOIN batches b ON p.batch_id = b.id
	WHERE b.organization_id = ? AND b.deleted = 0 AND p.deleted = 0
	`, org).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to total eggs: %w", err)
	}
	return total, nil
}

// scanProductionRecords is a helper function to scan multiple production
// records from query results.
func scanProductionRecords(rows *sql.Rows) ([]*schema.ProductionRecord, error) {
	var records []*schema.ProductionRecord

	for rows.Next() {
		var p schema.ProductionRecord
		var serverID sql.NullInt64
		var recordedAt, createdAt, updatedAt string

		err := rows.Scan(
			&p.ID,
			&serverID,
			&p.OrganizationID,
			&p.BatchID,
			&p.EggsCollected,
			&p.Mortality,
			&p.Notes,
			&recordedAt,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan production record: %w", err)
		}

		p.ServerID = nullToServerID(serverID)
		p.RecordedAt = textToTime(recordedAt)
		p.CreatedAt = textToTime(createdAt)
		p.UpdatedAt = textToTime(updatedAt)
		records = append(records, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating production records: %w", err)
	}

	return records, nil
}
