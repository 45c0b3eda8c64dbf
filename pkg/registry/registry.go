// Package registry tracks the single live connection per participant and
// the room membership used for fan-out. It is in-memory and process-local;
// clients resubscribe on reconnect.
package registry

import (
	"sync"

	"supportchat/pkg/logger"
	"supportchat/pkg/metrics"
	"supportchat/pkg/models"
)

// Handle is the transport side of a connection. Enqueue must not block:
// it hands the event to the connection's buffered writer and reports
// whether it was accepted. Close asks the transport to shut down.
type Handle interface {
	Enqueue(ev models.Event) bool
	Close(reason string)
}

// DisconnectFunc is invoked after a participant's live connection goes
// away for good (not when it is merely replaced by a newer one). sessions
// holds the rooms the participant was joined to at disconnect time.
type DisconnectFunc func(participant string, role models.Role, sessions []string)

type conn struct {
	participant string
	role        models.Role
	handle      Handle
	rooms       map[string]struct{}
}

type Registry struct {
	mu    sync.RWMutex
	conns map[string]*conn
	// rooms maps session ID -> member participant IDs.
	rooms map[string]map[string]struct{}
	hooks []DisconnectFunc
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]*conn),
		rooms: make(map[string]map[string]struct{}),
	}
}

// OnDisconnect registers a hook run on participant disconnect. Hooks are
// called outside the registry lock.
func (r *Registry) OnDisconnect(fn DisconnectFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Register installs the handle as the participant's live connection,
// replacing any prior one (latest wins). The evicted handle receives a
// close signal. Room memberships do not carry over; clients rejoin rooms
// after connecting.
func (r *Registry) Register(participant string, role models.Role, h Handle) {
	r.mu.Lock()
	old := r.conns[participant]
	if old != nil {
		for s := range old.rooms {
			r.dropFromRoom(s, participant)
		}
	}
	r.conns[participant] = &conn{participant: participant, role: role, handle: h, rooms: make(map[string]struct{})}
	r.mu.Unlock()

	if old != nil {
		logger.Info("connection_replaced", "participant", participant)
		old.handle.Close("replaced by newer connection")
	} else {
		metrics.Connections.Inc()
	}
	logger.Info("connection_registered", "participant", participant, "role", role)
}

// Unregister removes the mapping if h is still the participant's current
// handle, and fires disconnect hooks. A stale handle (already evicted by a
// newer Register) is ignored so a reconnect is not misreported as the
// participant leaving.
func (r *Registry) Unregister(participant string, h Handle) {
	r.mu.Lock()
	c := r.conns[participant]
	if c == nil || c.handle != h {
		r.mu.Unlock()
		return
	}
	sessions := make([]string, 0, len(c.rooms))
	for s := range c.rooms {
		sessions = append(sessions, s)
		r.dropFromRoom(s, participant)
	}
	delete(r.conns, participant)
	hooks := append([]DisconnectFunc(nil), r.hooks...)
	r.mu.Unlock()

	metrics.Connections.Dec()
	logger.Info("connection_unregistered", "participant", participant, "sessions", len(sessions))
	for _, fn := range hooks {
		fn(participant, c.role, sessions)
	}
}

// Send delivers an event to the participant's live connection. Delivery is
// fire-and-forget: no connection or a full buffer means the event is
// dropped (messages themselves are durable in the store regardless).
func (r *Registry) Send(participant string, ev models.Event) bool {
	r.mu.RLock()
	c := r.conns[participant]
	r.mu.RUnlock()
	if c == nil {
		return false
	}
	if !c.handle.Enqueue(ev) {
		metrics.FanoutDropped.Inc()
		logger.Warn("fanout_dropped", "participant", participant, "event", ev.Type)
		return false
	}
	return true
}

// JoinRoom adds the participant's connection to a session room. Returns
// false when the participant has no live connection.
func (r *Registry) JoinRoom(participant, session string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conns[participant]
	if c == nil {
		return false
	}
	c.rooms[session] = struct{}{}
	m, ok := r.rooms[session]
	if !ok {
		m = make(map[string]struct{})
		r.rooms[session] = m
	}
	m[participant] = struct{}{}
	return true
}

// LeaveRoom removes the participant from a session room.
func (r *Registry) LeaveRoom(participant, session string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.conns[participant]; c != nil {
		delete(c.rooms, session)
	}
	r.dropFromRoom(session, participant)
}

// InRoom reports whether the participant is currently joined to the room.
func (r *Registry) InRoom(participant, session string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.rooms[session]
	_, ok := m[participant]
	return ok
}

// RoomMembers returns a snapshot of the room's member participant IDs.
func (r *Registry) RoomMembers(session string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.rooms[session]
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	return out
}

// Broadcast fans an event out to all room members except the listed ones.
// The member set is snapshotted under the read lock; the actual sends are
// non-blocking handoffs to per-connection buffers, so a slow receiver
// never stalls other participants.
func (r *Registry) Broadcast(session string, ev models.Event, except ...string) int {
	members := r.RoomMembers(session)
	skip := make(map[string]struct{}, len(except))
	for _, p := range except {
		skip[p] = struct{}{}
	}
	delivered := 0
	for _, p := range members {
		if _, ok := skip[p]; ok {
			continue
		}
		if r.Send(p, ev) {
			delivered++
		}
	}
	return delivered
}

// Connected reports whether the participant has a live connection.
func (r *Registry) Connected(participant string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[participant] != nil
}

// Role returns the role the participant connected with.
func (r *Registry) Role(participant string) (models.Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c := r.conns[participant]; c != nil {
		return c.role, true
	}
	return "", false
}

// CloseAll closes every live connection; used during shutdown.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	conns := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*conn)
	r.rooms = make(map[string]map[string]struct{})
	r.mu.Unlock()

	for _, c := range conns {
		c.handle.Close(reason)
		metrics.Connections.Dec()
	}
}

// dropFromRoom must be called with r.mu held.
func (r *Registry) dropFromRoom(session, participant string) {
	if m, ok := r.rooms[session]; ok {
		delete(m, participant)
		if len(m) == 0 {
			delete(r.rooms, session)
		}
	}
}
