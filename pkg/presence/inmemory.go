package presence

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helenkilolo/afrovibe/pkg/entitlement"
)

// wire envelope for server-to-client events.
type serverEvent struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// InMemoryRegistry keeps rooms in process-local maps. A room is created
// implicitly on first join and discarded when its last connection leaves.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Connection
	rooms map[string]map[uuid.UUID]*Connection

	logger *slog.Logger
}

var _ Registry = (*InMemoryRegistry)(nil)

func NewInMemoryRegistry(logger *slog.Logger) *InMemoryRegistry {
	return &InMemoryRegistry{
		conns:  make(map[uuid.UUID]*Connection),
		rooms:  make(map[string]map[uuid.UUID]*Connection),
		logger: logger.With(slog.String("component", "presence_registry")),
	}
}

func (r *InMemoryRegistry) Register(conn Sender, connID uuid.UUID, userID, ipAddr string, ent entitlement.Snapshot) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	c := &Connection{
		ID:          connID,
		UserID:      userID,
		IPAddress:   ipAddr,
		Entitlement: ent,
		Transport:   conn,
		CreatedAt:   time.Now(),
	}
	r.conns[connID] = c
	r.joinLocked(c, userID)

	r.logger.Debug("Connection registered", slog.String("connID", connID.String()), slog.String("userID", userID))
	return c, nil
}

func (r *InMemoryRegistry) Join(connID uuid.UUID, userID string) {
	if !ValidUserID(userID) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	// A connection only ever joins its owner's room; anything else is
	// untrusted client input and is dropped.
	if userID != conn.UserID {
		r.logger.Warn("Join for foreign user id ignored",
			slog.String("connID", connID.String()),
			slog.String("userID", userID),
		)
		return
	}
	r.joinLocked(conn, userID)
}

// joinLocked is idempotent: re-adding the same connection to the same room
// has no effect.
func (r *InMemoryRegistry) joinLocked(conn *Connection, userID string) {
	room, ok := r.rooms[userID]
	if !ok {
		room = make(map[uuid.UUID]*Connection)
		r.rooms[userID] = room
	}
	room[conn.ID] = conn
}

func (r *InMemoryRegistry) Leave(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)

	if room, ok := r.rooms[conn.UserID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, conn.UserID)
			r.logger.Debug("Removed empty room", slog.String("userID", conn.UserID))
		}
	}
	r.logger.Debug("Connection left", slog.String("connID", connID.String()))
}

func (r *InMemoryRegistry) Deliver(userID, event string, payload any) int {
	msg, err := json.Marshal(serverEvent{Event: event, Payload: payload})
	if err != nil {
		r.logger.Error("Failed to marshal event", slog.String("event", event), slog.Any("error", err))
		return 0
	}

	r.mu.RLock()
	room := r.rooms[userID]
	targets := make([]Sender, 0, len(room))
	for _, conn := range room {
		targets = append(targets, conn.Transport)
	}
	r.mu.RUnlock()

	for _, t := range targets {
		t.Send(msg)
	}
	return len(targets)
}

func (r *InMemoryRegistry) Get(connID uuid.UUID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

func (r *InMemoryRegistry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[userID])
}

func (r *InMemoryRegistry) OldestConnection(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var oldest *Connection
	for _, conn := range r.rooms[userID] {
		if oldest == nil || conn.CreatedAt.Before(oldest.CreatedAt) {
			oldest = conn
		}
	}
	return oldest, oldest != nil
}

func (r *InMemoryRegistry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}
