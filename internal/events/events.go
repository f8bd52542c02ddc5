// Package events provides the synchronous typed pub/sub bus that decouples
// mutation producers from refresh consumers. Sync lifecycle stages and
// store mutations are modeled as a closed set of event types; subscribers
// register per type and receive events on the emitter's goroutine.
package events

import "time"

// Type identifies one kind of event. The wire strings match the sync
// callback payloads the mobile client exposes to its subscribers.
type Type string

const (
	// TypeSyncStarted is emitted when a sync session begins.
	TypeSyncStarted Type = "sync_started"
	// TypeSyncDownloading is emitted when the session moves from uploading
	// local changes to downloading authoritative rows.
	TypeSyncDownloading Type = "downloading"
	// TypeSyncCompleted is emitted when a session finishes successfully.
	TypeSyncCompleted Type = "sync_completed"
	// TypeSyncFailed is emitted when the remote operation fails.
	TypeSyncFailed Type = "sync_failed"
	// TypeSyncBlocked is emitted when the circuit breaker rejects a session.
	TypeSyncBlocked Type = "sync_blocked"
	// TypeSyncRetrying is emitted before each backoff delay in a retry loop.
	TypeSyncRetrying Type = "sync_retrying"
	// TypeInitialSyncSkipped is emitted when the startup sync is skipped.
	TypeInitialSyncSkipped Type = "initial_sync_skipped"
	// TypeDataSynced is emitted once per successful session with row counts.
	TypeDataSynced Type = "data_synced"

	// TypeRecordCreated, TypeRecordUpdated and TypeRecordDeleted are the
	// domain-change events the store emits after a write commits.
	TypeRecordCreated Type = "record_created"
	TypeRecordUpdated Type = "record_updated"
	TypeRecordDeleted Type = "record_deleted"
)

// Event is implemented by every event delivered on the bus. Events are
// immutable once emitted; each concrete type carries only the fields
// relevant to its stage.
type Event interface {
	EventType() Type
}

// SyncStarted signals the beginning of a sync session.
type SyncStarted struct {
	StartedAt time.Time
}

// EventType implements Event.
func (SyncStarted) EventType() Type { return TypeSyncStarted }

// SyncDownloading signals the download phase of a session.
type SyncDownloading struct{}

// EventType implements Event.
func (SyncDownloading) EventType() Type { return TypeSyncDownloading }

// SyncCompleted signals a successful session.
type SyncCompleted struct {
	Duration   time.Duration
	Uploaded   int
	Downloaded int
}

// EventType implements Event.
func (SyncCompleted) EventType() Type { return TypeSyncCompleted }

// SyncFailed signals a failed remote operation.
type SyncFailed struct {
	Err error
}

// EventType implements Event.
func (SyncFailed) EventType() Type { return TypeSyncFailed }

// SyncBlocked signals that the circuit breaker rejected the session
// before any network call was made.
type SyncBlocked struct {
	Reason   string
	CanRetry bool
}

// EventType implements Event.
func (SyncBlocked) EventType() Type { return TypeSyncBlocked }

// SyncRetrying is emitted before each retry delay.
type SyncRetrying struct {
	Attempt    int
	MaxRetries int
	Delay      time.Duration
}

// EventType implements Event.
func (SyncRetrying) EventType() Type { return TypeSyncRetrying }

// InitialSyncSkipped signals that the startup sync did not run.
type InitialSyncSkipped struct {
	Reason string
}

// EventType implements Event.
func (InitialSyncSkipped) EventType() Type { return TypeInitialSyncSkipped }

// DataSynced carries the row counts of a successful session.
type DataSynced struct {
	Uploaded   int
	Downloaded int
	Tables     []string
}

// EventType implements Event.
func (DataSynced) EventType() Type { return TypeDataSynced }

// RecordCreated signals a committed insert on a tenant table.
type RecordCreated struct {
	Table          string
	ID             string
	OrganizationID int64
}

// EventType implements Event.
func (RecordCreated) EventType() Type { return TypeRecordCreated }

// RecordUpdated signals a committed update on a tenant table.
type RecordUpdated struct {
	Table          string
	ID             string
	OrganizationID int64
}

// EventType implements Event.
func (RecordUpdated) EventType() Type { return TypeRecordUpdated }

// RecordDeleted signals a committed delete on a tenant table.
type RecordDeleted struct {
	Table          string
	ID             string
	OrganizationID int64
}

// EventType implements Event.
func (RecordDeleted) EventType() Type { return TypeRecordDeleted }

// SyncTypes returns the sync lifecycle event types, in emission order.
// Useful for subscribers that mirror the whole lifecycle, like the
// dashboard handler.
func SyncTypes() []Type {
	return []Type{
		TypeSyncStarted,
		TypeSyncDownloading,
		TypeSyncCompleted,
		TypeSyncFailed,
		TypeSyncBlocked,
		TypeSyncRetrying,
		TypeInitialSyncSkipped,
		TypeDataSynced,
	}
}

// RecordTypes returns the domain-change event types.
func RecordTypes() []Type {
	return []Type{TypeRecordCreated, TypeRecordUpdated, TypeRecordDeleted}
}
