package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/events"
)

// Stats is the cumulative counter snapshot the dashboard maintains for
// the lifetime of the process. It is sent to each client on connect and
// re-broadcast whenever a counter changes.
type Stats struct {
	SyncsCompleted  int        `json:"syncs_completed"`
	SyncsFailed     int        `json:"syncs_failed"`
	SyncsBlocked    int        `json:"syncs_blocked"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
	LastResult      string     `json:"last_result,omitempty"`
	TotalUploaded   int        `json:"total_uploaded"`
	TotalDownloaded int        `json:"total_downloaded"`
	RecordsCreated  int        `json:"records_created"`
	RecordsUpdated  int        `json:"records_updated"`
	RecordsDeleted  int        `json:"records_deleted"`
}

// SyncUpdateData is the data payload for sync lifecycle frames. Fields
// are populated per stage; unset fields are omitted from the wire.
type SyncUpdateData struct {
	DurationMS int64    `json:"duration_ms,omitempty"`
	Uploaded   int      `json:"uploaded,omitempty"`
	Downloaded int      `json:"downloaded,omitempty"`
	Tables     []string `json:"tables,omitempty"`
	Error      string   `json:"error,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	CanRetry   bool     `json:"can_retry,omitempty"`
	Attempt    int      `json:"attempt,omitempty"`
	MaxRetries int      `json:"max_retries,omitempty"`
	DelayMS    int64    `json:"delay_ms,omitempty"`
}

// RecordChangeData is the data payload for record change frames.
type RecordChangeData struct {
	Table          string `json:"table"`
	ID             string `json:"id"`
	OrganizationID int64  `json:"organization_id"`
}

// Handler subscribes to the event bus and mirrors every sync lifecycle
// and record change event to the dashboard's WebSocket clients, keeping
// running statistics as it goes.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats Stats

	unsubscribe func()
}

// NewHandler wires a dashboard server to the event bus. The handler
// also installs itself as the server's hello hook so new clients get a
// stats snapshot on connect.
func NewHandler(server *Server, bus *events.Bus, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
	}

	types := append(events.SyncTypes(), events.RecordTypes()...)
	h.unsubscribe = bus.SubscribeMultiple(types, h.handle)

	server.SetHello(h.statsMessage)

	return h
}

// Close detaches the handler from the event bus. The server keeps
// running; clients just stop receiving event frames.
func (h *Handler) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}
}

// GetStats returns a snapshot of the cumulative statistics.
func (h *Handler) GetStats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) handle(ev events.Event) {
	switch e := ev.(type) {
	case events.SyncStarted:
		h.send(ev, nil)

	case events.SyncDownloading:
		h.send(ev, nil)

	case events.SyncCompleted:
		now := time.Now()
		h.mu.Lock()
		h.stats.SyncsCompleted++
		h.stats.TotalUploaded += e.Uploaded
		h.stats.TotalDownloaded += e.Downloaded
		h.stats.LastSyncAt = &now
		h.stats.LastResult = "success"
		h.mu.Unlock()

		h.send(ev, SyncUpdateData{
			DurationMS: e.Duration.Milliseconds(),
			Uploaded:   e.Uploaded,
			Downloaded: e.Downloaded,
		})
		h.broadcastStats()

	case events.SyncFailed:
		h.mu.Lock()
		h.stats.SyncsFailed++
		h.stats.LastResult = "failed"
		h.mu.Unlock()

		data := SyncUpdateData{}
		if e.Err != nil {
			data.Error = e.Err.Error()
		}
		h.send(ev, data)
		h.broadcastStats()

	case events.SyncBlocked:
		h.mu.Lock()
		h.stats.SyncsBlocked++
		h.stats.LastResult = "blocked"
		h.mu.Unlock()

		h.send(ev, SyncUpdateData{
			Reason:   e.Reason,
			CanRetry: e.CanRetry,
		})
		h.broadcastStats()

	case events.SyncRetrying:
		h.send(ev, SyncUpdateData{
			Attempt:    e.Attempt,
			MaxRetries: e.MaxRetries,
			DelayMS:    e.Delay.Milliseconds(),
		})

	case events.InitialSyncSkipped:
		h.send(ev, SyncUpdateData{Reason: e.Reason})

	case events.DataSynced:
		h.send(ev, SyncUpdateData{
			Uploaded:   e.Uploaded,
			Downloaded: e.Downloaded,
			Tables:     e.Tables,
		})

	case events.RecordCreated:
		h.mu.Lock()
		h.stats.RecordsCreated++
		h.mu.Unlock()
		h.send(ev, RecordChangeData{Table: e.Table, ID: e.ID, OrganizationID: e.OrganizationID})
		h.broadcastStats()

	case events.RecordUpdated:
		h.mu.Lock()
		h.stats.RecordsUpdated++
		h.mu.Unlock()
		h.send(ev, RecordChangeData{Table: e.Table, ID: e.ID, OrganizationID: e.OrganizationID})
		h.broadcastStats()

	case events.RecordDeleted:
		h.mu.Lock()
		h.stats.RecordsDeleted++
		h.mu.Unlock()
		h.send(ev, RecordChangeData{Table: e.Table, ID: e.ID, OrganizationID: e.OrganizationID})
		h.broadcastStats()

	default:
		h.send(ev, nil)
	}
}

// send broadcasts one event frame. The frame type is the event's wire
// string, so WebSocket clients see the same vocabulary bus subscribers do.
func (h *Handler) send(ev events.Event, data interface{}) {
	msg := Message{
		Type:      MessageType(ev.EventType()),
		Timestamp: time.Now(),
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			h.logger.Printf("Failed to encode %s frame: %v", ev.EventType(), err)
			return
		}
		msg.Data = raw
	}

	h.server.Broadcast(msg)
}

func (h *Handler) statsMessage() Message {
	data, err := json.Marshal(h.GetStats())
	if err != nil {
		h.logger.Printf("Failed to encode stats frame: %v", err)
		return Message{Type: MessageTypeStats, Timestamp: time.Now()}
	}
	return Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func (h *Handler) broadcastStats() {
	h.server.Broadcast(h.statsMessage())
}
