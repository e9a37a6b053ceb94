package services

import (
	"log/slog"
	"sync"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
	"github.com/roykane/flower-shop-sub000/internal/core/ports"
	"github.com/roykane/flower-shop-sub000/internal/metrics"
)

// ConnectionRegistry maps live identities to connection handles. Customers
// are keyed by session id, staff by staff id; the keyspaces never collide.
type ConnectionRegistry struct {
	mu        sync.RWMutex
	customers map[string]ports.Connection
	staff     map[string]ports.Connection
	logger    *slog.Logger
}

// NewConnectionRegistry creates an empty registry
func NewConnectionRegistry(logger *slog.Logger) *ConnectionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionRegistry{
		customers: make(map[string]ports.Connection),
		staff:     make(map[string]ports.Connection),
		logger:    logger.With("component", "registry"),
	}
}

func (r *ConnectionRegistry) space(kind domain.ParticipantKind) map[string]ports.Connection {
	if kind == domain.ParticipantStaff {
		return r.staff
	}
	return r.customers
}

// Register binds id to conn, replacing any previous handle for the same id.
// The first staff connection announces staff presence to every customer.
func (r *ConnectionRegistry) Register(kind domain.ParticipantKind, id string, conn ports.Connection) {
	r.mu.Lock()
	space := r.space(kind)
	_, replaced := space[id]
	space[id] = conn
	staffCameOnline := kind == domain.ParticipantStaff && !replaced && len(r.staff) == 1
	r.mu.Unlock()

	if !replaced {
		metrics.Connections.WithLabelValues(string(kind)).Inc()
	}
	r.logger.Debug("connection registered",
		"kind", kind,
		"id", id,
		"conn_id", conn.ID(),
		"replaced", replaced,
	)

	if staffCameOnline {
		r.BroadcastCustomers(domain.NewEvent(domain.EventAgentOnlineStatus, domain.OnlinePayload{Online: true}))
	}
}

// Unregister removes id only if it still maps to conn, so a stale
// disconnect never evicts a newer connection. Returns whether it removed.
func (r *ConnectionRegistry) Unregister(kind domain.ParticipantKind, id string, conn ports.Connection) bool {
	r.mu.Lock()
	space := r.space(kind)
	current, ok := space[id]
	if !ok || current.ID() != conn.ID() {
		r.mu.Unlock()
		return false
	}
	delete(space, id)
	staffWentOffline := kind == domain.ParticipantStaff && len(r.staff) == 0
	r.mu.Unlock()

	metrics.Connections.WithLabelValues(string(kind)).Dec()
	r.logger.Debug("connection unregistered", "kind", kind, "id", id, "conn_id", conn.ID())

	if staffWentOffline {
		r.BroadcastCustomers(domain.NewEvent(domain.EventAgentOnlineStatus, domain.OnlinePayload{Online: false}))
	}
	return true
}

// Resolve returns the live connection for id, if any
func (r *ConnectionRegistry) Resolve(kind domain.ParticipantKind, id string) (ports.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.space(kind)[id]
	return conn, ok
}

// StaffOnline reports whether at least one staff member is connected
func (r *ConnectionRegistry) StaffOnline() bool {
	return r.StaffCount() > 0
}

// StaffCount returns the number of connected staff members
func (r *ConnectionRegistry) StaffCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.staff)
}

// CustomerCount returns the number of connected customers
func (r *ConnectionRegistry) CustomerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.customers)
}

// SendTo delivers event to id if connected. Missing or slow recipients are
// skipped without error.
func (r *ConnectionRegistry) SendTo(kind domain.ParticipantKind, id string, event domain.OutboundEvent) bool {
	conn, ok := r.Resolve(kind, id)
	if !ok {
		return false
	}
	return deliver(conn, event)
}

// BroadcastStaff delivers event to every connected staff member
func (r *ConnectionRegistry) BroadcastStaff(event domain.OutboundEvent) {
	for _, conn := range r.snapshot(domain.ParticipantStaff) {
		deliver(conn, event)
	}
}

// BroadcastCustomers delivers event to every connected customer
func (r *ConnectionRegistry) BroadcastCustomers(event domain.OutboundEvent) {
	for _, conn := range r.snapshot(domain.ParticipantCustomer) {
		deliver(conn, event)
	}
}

// CloseAll terminates every connection; used on shutdown
func (r *ConnectionRegistry) CloseAll() {
	for _, conn := range append(r.snapshot(domain.ParticipantCustomer), r.snapshot(domain.ParticipantStaff)...) {
		conn.Close()
	}
}

// snapshot copies handles so sends happen outside the lock
func (r *ConnectionRegistry) snapshot(kind domain.ParticipantKind) []ports.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	space := r.space(kind)
	out := make([]ports.Connection, 0, len(space))
	for _, conn := range space {
		out = append(out, conn)
	}
	return out
}

func deliver(conn ports.Connection, event domain.OutboundEvent) bool {
	if !conn.Send(event) {
		metrics.DroppedEvents.Inc()
		return false
	}
	return true
}
