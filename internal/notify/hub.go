package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"server/internal/infra"
)

// EventType labels a live-update event.
type EventType string

const (
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventPing      EventType = "ping"
)

// Event is the payload written to live connections.
type Event struct {
	Type          EventType `json:"type"`
	JobID         string    `json:"job_id,omitempty"`
	TerminalState string    `json:"terminal_state,omitempty"`
	ArtifactRef   string    `json:"artifact_ref,omitempty"`
	ErrorReason   string    `json:"error_reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// connBuffer is how many events a connection may fall behind before it is
// treated as a failed write and dropped.
const connBuffer = 16

// Connection is one open live-update channel for one user. Ephemeral and
// in-memory only; a process restart drops every connection and clients
// reconnect.
type Connection struct {
	ID     string
	UserID string
	ch     chan Event
}

// Events exposes the connection's delivery channel. It is closed when the
// connection is unregistered.
func (c *Connection) Events() <-chan Event {
	return c.ch
}

// Hub is the per-user fan-out registry for live connections. It is an
// explicit process-scoped service object passed to whatever owns the
// live-update endpoint; the registry is not shared across instances, so a
// multi-instance deployment needs sticky routing or an external pub/sub
// layer in front.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]*Connection
	byUser map[string]map[string]*Connection

	heartbeat time.Duration
	logger    infra.Logger
	metrics   *infra.Metrics
}

// NewHub constructs a Hub. A heartbeat <= 0 falls back to 30 seconds.
func NewHub(heartbeat time.Duration, logger infra.Logger, metrics *infra.Metrics) *Hub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Hub{
		conns:     make(map[string]*Connection),
		byUser:    make(map[string]map[string]*Connection),
		heartbeat: heartbeat,
		logger:    logger,
		metrics:   metrics,
	}
}

// Register opens a new connection for the user and returns it.
func (h *Hub) Register(userID string) *Connection {
	conn := &Connection{
		ID:     uuid.NewString(),
		UserID: userID,
		ch:     make(chan Event, connBuffer),
	}

	h.mu.Lock()
	h.conns[conn.ID] = conn
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[string]*Connection)
	}
	h.byUser[userID][conn.ID] = conn
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ConnectionsOpen.Inc()
	}
	h.logger.Debug().Str("connection_id", conn.ID).Str("user_id", userID).Msg("notify: connection registered")
	return conn
}

// Unregister removes the connection and closes its channel.
func (h *Hub) Unregister(connectionID string) {
	h.mu.Lock()
	conn, ok := h.conns[connectionID]
	if ok {
		h.removeLocked(conn)
	}
	h.mu.Unlock()

	if ok {
		if h.metrics != nil {
			h.metrics.ConnectionsOpen.Dec()
		}
		h.logger.Debug().Str("connection_id", connectionID).Msg("notify: connection unregistered")
	}
}

// Broadcast writes the event to every currently-registered connection of the
// user. A connection that cannot accept the event is dropped and
// unregistered, the same as any other failed write. Returns the number of
// deliveries.
func (h *Hub) Broadcast(userID string, event Event) int {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	delivered, dropped := h.sendToUserLocked(userID, event)
	h.mu.Unlock()

	h.account(delivered, dropped)
	return delivered
}

// Run pushes a no-op heartbeat to every open connection at the configured
// interval so intermediary infrastructure does not time out idle channels.
// It blocks until the context is canceled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping := Event{Type: EventPing, Timestamp: time.Now().UTC()}
			h.mu.Lock()
			var delivered, dropped int
			for userID := range h.byUser {
				d, x := h.sendToUserLocked(userID, ping)
				delivered += d
				dropped += x
			}
			h.mu.Unlock()
			h.account(0, dropped) // heartbeats are not counted as broadcasts
			_ = delivered
		}
	}
}

// sendToUserLocked delivers to one user's connections and prunes any that
// fail. Caller holds h.mu.
func (h *Hub) sendToUserLocked(userID string, event Event) (delivered, dropped int) {
	for _, conn := range h.byUser[userID] {
		select {
		case conn.ch <- event:
			delivered++
		default:
			h.removeLocked(conn)
			dropped++
			h.logger.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", conn.UserID).
				Msg("notify: dropping stalled connection")
		}
	}
	return delivered, dropped
}

// removeLocked deletes the connection from both indexes and closes its
// channel. Caller holds h.mu; sends only happen under the same lock, so the
// close cannot race a send.
func (h *Hub) removeLocked(conn *Connection) {
	delete(h.conns, conn.ID)
	if userConns := h.byUser[conn.UserID]; userConns != nil {
		delete(userConns, conn.ID)
		if len(userConns) == 0 {
			delete(h.byUser, conn.UserID)
		}
	}
	close(conn.ch)
}

func (h *Hub) account(delivered, dropped int) {
	if h.metrics == nil {
		return
	}
	if delivered > 0 {
		h.metrics.EventsBroadcast.Add(float64(delivered))
	}
	if dropped > 0 {
		h.metrics.ConnectionsDrops.Add(float64(dropped))
		h.metrics.ConnectionsOpen.Sub(float64(dropped))
	}
}
