// Package schema provides the data structures shared by the local store,
// the sync engine, and the record-drop import path.
package schema

import (
	"fmt"
	"time"
)

// Batch status values accepted by Batch.Validate.
const (
	BatchStatusActive   = "active"
	BatchStatusInactive = "inactive"
	BatchStatusClosed   = "closed"
)

// Farm represents a farm site belonging to one organization.
//
// ID is the client-generated identifier (UUID for locally created rows);
// ServerID is the authoritative identifier assigned by the backend once the
// row has been uploaded (0 until then). Every entity carries its
// organization id so tenant filtering never depends on join order alone.
type Farm struct {
	// ===== Identity =====
	ID             string `json:"id"`
	ServerID       int64  `json:"server_id,omitempty"`
	OrganizationID int64  `json:"organization_id"`

	// ===== Content =====
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`

	// ===== Timestamps =====
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the Farm has valid field values.
func (f *Farm) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("id is required")
	}
	if f.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(f.Name) > 200 {
		return fmt.Errorf("name must be 200 characters or less (got %d)", len(f.Name))
	}
	if f.OrganizationID < 0 {
		return fmt.Errorf("organization_id must not be negative (got %d)", f.OrganizationID)
	}
	return nil
}

// Batch represents a flock of birds raised together on one farm.
type Batch struct {
	// ===== Identity =====
	ID             string `json:"id"`
	ServerID       int64  `json:"server_id,omitempty"`
	OrganizationID int64  `json:"organization_id"`
	FarmID         string `json:"farm_id"`

	// ===== Content =====
	Name         string `json:"name"`
	BirdType     string `json:"bird_type,omitempty"` // layer, broiler, dual
	CurrentCount int    `json:"current_count"`
	Status       string `json:"status"` // active, inactive, closed

	// ===== Timestamps =====
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the Batch has valid field values.
func (b *Batch) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("id is required")
	}
	if b.FarmID == "" {
		return fmt.Errorf("farm_id is required")
	}
	if b.Name == "" {
		return fmt.Errorf("name is required")
	}
	if b.CurrentCount < 0 {
		return fmt.Errorf("current_count must not be negative (got %d)", b.CurrentCount)
	}
	switch b.Status {
	case BatchStatusActive, BatchStatusInactive, BatchStatusClosed:
	case "":
		return fmt.Errorf("status is required")
	default:
		return fmt.Errorf("unknown status %q", b.Status)
	}
	if b.OrganizationID < 0 {
		return fmt.Errorf("organization_id must not be negative (got %d)", b.OrganizationID)
	}
	return nil
}

// ProductionRecord represents one day's collection figures for a batch.
type ProductionRecord struct {
	// ===== Identity =====
	ID             string `json:"id"`
	ServerID       int64  `json:"server_id,omitempty"`
	OrganizationID int64  `json:"organization_id"`
	BatchID        string `json:"batch_id"`

	// ===== Measurements =====
	EggsCollected int    `json:"eggs_collected"`
	Mortality     int    `json:"mortality,omitempty"`
	Notes         string `json:"notes,omitempty"`

	// ===== Timestamps =====
	RecordedAt time.Time `json:"recorded_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks that the ProductionRecord has valid field values.
func (p *ProductionRecord) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.BatchID == "" {
		return fmt.Errorf("batch_id is required")
	}
	if p.EggsCollected < 0 {
		return fmt.Errorf("eggs_collected must not be negative (got %d)", p.EggsCollected)
	}
	if p.Mortality < 0 {
		return fmt.Errorf("mortality must not be negative (got %d)", p.Mortality)
	}
	if p.RecordedAt.IsZero() {
		return fmt.Errorf("recorded_at is required")
	}
	if p.OrganizationID < 0 {
		return fmt.Errorf("organization_id must not be negative (got %d)", p.OrganizationID)
	}
	return nil
}
