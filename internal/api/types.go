package api

import "time"

// Farm is a farm row as the backend returns it. Identifiers are
// server-assigned integers; the local store maps them onto client rows.
type Farm struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organizationId"`
	Name           string    `json:"farmName"`
	Location       string    `json:"location,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Batch is a flock row as the backend returns it. FarmID references the
// parent farm by its server identifier.
type Batch struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organizationId"`
	FarmID         int64     `json:"farmId"`
	Name           string    `json:"batchName"`
	BirdType       string    `json:"birdType,omitempty"`
	CurrentCount   int       `json:"currentCount"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ProductionRecord is a daily production row as the backend returns it.
type ProductionRecord struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organizationId"`
	BatchID        int64     `json:"batchId"`
	EggsCollected  int       `json:"eggsCollected"`
	Mortality      int       `json:"mortality,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	RecordedAt     time.Time `json:"recordDate"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// PushFarm is a locally created or modified farm being uploaded.
// ServerID is zero for rows the backend has not seen yet.
type PushFarm struct {
	ClientID  string    `json:"clientId"`
	ServerID  int64     `json:"serverId,omitempty"`
	Deleted   bool      `json:"deleted,omitempty"`
	Name      string    `json:"farmName"`
	Location  string    `json:"location,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PushBatch is a locally created or modified batch being uploaded.
//
// The parent farm is referenced two ways: FarmServerID when the farm has
// already been assigned a server identifier, and FarmClientID otherwise so
// the backend can resolve parents created in the same push.
type PushBatch struct {
	ClientID     string    `json:"clientId"`
	ServerID     int64     `json:"serverId,omitempty"`
	Deleted      bool      `json:"deleted,omitempty"`
	FarmClientID string    `json:"farmClientId,omitempty"`
	FarmServerID int64     `json:"farmServerId,omitempty"`
	Name         string    `json:"batchName"`
	BirdType     string    `json:"birdType,omitempty"`
	CurrentCount int       `json:"currentCount"`
	Status       string    `json:"status"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PushRecord is a locally created or modified production record being
// uploaded. Parent batch references follow the same dual scheme as PushBatch.
type PushRecord struct {
	ClientID      string    `json:"clientId"`
	ServerID      int64     `json:"serverId,omitempty"`
	Deleted       bool      `json:"deleted,omitempty"`
	BatchClientID string    `json:"batchClientId,omitempty"`
	BatchServerID int64     `json:"batchServerId,omitempty"`
	EggsCollected int       `json:"eggsCollected"`
	Mortality     int       `json:"mortality,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	RecordedAt    time.Time `json:"recordDate"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// PushRequest carries every dirty row on the device in one upload.
// Tables are ordered parent first so the backend can resolve references.
type PushRequest struct {
	Device         string       `json:"device,omitempty"`
	OrganizationID int64        `json:"organizationId"`
	Farms          []PushFarm   `json:"farms,omitempty"`
	Batches        []PushBatch  `json:"batches,omitempty"`
	Records        []PushRecord `json:"productionRecords,omitempty"`
}

// Ack maps one uploaded row to the server identifier the backend assigned
// (or confirmed) for it.
type Ack struct {
	Table    string `json:"table"`
	ClientID string `json:"clientId"`
	ServerID int64  `json:"serverId"`
}

// PushResponse acknowledges an upload row by row.
type PushResponse struct {
	Acks []Ack `json:"acks"`
}

// PullResponse carries the organization's current server state.
type PullResponse struct {
	Farms             []Farm             `json:"farms"`
	Batches           []Batch            `json:"batches"`
	ProductionRecords []ProductionRecord `json:"productionRecords"`
	ServerTime        time.Time          `json:"serverTime"`
}

// DashboardBatch is one batch's production summary in a server-computed
// dashboard.
type DashboardBatch struct {
	BatchID        int64   `json:"batchId"`
	Name           string  `json:"batchName"`
	CurrentCount   int     `json:"currentCount"`
	TotalEggs      int64   `json:"totalEggs"`
	ProductionRate float64 `json:"productionRate"`
}

// DashboardWeekly compares the last seven days of egg production against
// the seven days before that.
type DashboardWeekly struct {
	CurrentTotal     int64   `json:"currentTotal"`
	PreviousTotal    int64   `json:"previousTotal"`
	PercentageChange float64 `json:"percentageChange"`
}

// Dashboard is the server-computed analytics snapshot for an organization.
type Dashboard struct {
	OrganizationID int64            `json:"organizationId"`
	TotalFarms     int64            `json:"totalFarms"`
	TotalBatches   int64            `json:"totalBatches"`
	TotalBirds     int64            `json:"totalBirds"`
	TotalEggs      int64            `json:"totalEggs"`
	Batches        []DashboardBatch `json:"batches"`
	Weekly         DashboardWeekly  `json:"weekly"`
	GeneratedAt    time.Time        `json:"generatedAt"`
}

// ExportRequest asks the backend to render an analytics report.
type ExportRequest struct {
	OrganizationID int64             `json:"organizationId"`
	Type           string            `json:"type"`
	Format         string            `json:"format"`
	Params         map[string]string `json:"params,omitempty"`
}
