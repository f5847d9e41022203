package presence

import (
	"time"

	"github.com/google/uuid"

	"github.com/helenkilolo/afrovibe/pkg/entitlement"
)

// Sender is the write half of a live transport connection. The registry
// holds a non-owning reference; the transport layer owns the connection.
type Sender interface {
	Send(message []byte)
	Close(err error)
}

// Connection is the registry's view of a single realtime session. Identity
// and entitlement are resolved at handshake and immutable afterwards.
type Connection struct {
	ID          uuid.UUID
	UserID      string
	IPAddress   string
	Entitlement entitlement.Snapshot
	Transport   Sender
	CreatedAt   time.Time
}

// Registry maps user ids to their live connections so any component can
// deliver an event to "this user" without knowing which devices they hold.
// Delivery is best-effort and at-most-once: if the user has no connection
// the event is dropped, durability lives in the stores.
type Registry interface {
	// Register records a fully authenticated connection and joins it to its
	// owner's room.
	Register(conn Sender, connID uuid.UUID, userID, ipAddr string, ent entitlement.Snapshot) (*Connection, error)

	// Join is the idempotent client-driven re-registration. Invalid or
	// foreign user ids are silently ignored; the input comes straight from
	// the client.
	Join(connID uuid.UUID, userID string)

	// Leave removes the connection from every room it had joined. Invoked
	// on disconnect.
	Leave(connID uuid.UUID)

	// Deliver fans an event out to every connection in the user's room and
	// reports how many connections it reached.
	Deliver(userID, event string, payload any) int

	Get(connID uuid.UUID) (*Connection, bool)
	ConnectionCount(userID string) int
	OldestConnection(userID string) (*Connection, bool)
	Connections() []*Connection
}

// ValidUserID reports whether the id is well-formed. User ids are UUIDs.
func ValidUserID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
