// Package registry tracks which live connections belong to which rooms.
// It is the only shared-write state in the relay; every mutation goes
// through one RWMutex so membership changes are atomic.
package registry

import "sync"

// Conn is the registry's view of one authenticated connection. The relay's
// client type implements it; tests substitute fakes.
type Conn interface {
	// ID uniquely identifies the connection for its lifetime.
	ID() string

	// UserID is the identity bound at authentication time.
	UserID() string

	// Enqueue offers a frame to the connection's outbound queue without
	// blocking. It reports false if the queue is full or the connection
	// is shutting down.
	Enqueue(frame []byte) bool

	// Close tears the connection down. Safe to call more than once.
	Close()
}

// Registry is a bidirectional membership index: connection -> joined rooms
// and room -> member connections. Both directions are kept so that
// removing a connection touches only the rooms it actually joined.
type Registry struct {
	mu    sync.RWMutex
	conns map[Conn]map[string]struct{}
	rooms map[string]map[Conn]struct{}
}

func New() *Registry {
	return &Registry{
		conns: make(map[Conn]map[string]struct{}),
		rooms: make(map[string]map[Conn]struct{}),
	}
}

// Add registers a connection with an empty room set. The caller must
// register each physical connection exactly once.
func (r *Registry) Add(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = make(map[string]struct{})
}

// Remove deletes the connection and every room membership it holds in one
// step. Calling it for an unknown connection is a no-op, so the lifecycle
// cleanup path can invoke it unconditionally.
func (r *Registry) Remove(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.conns[c]
	if !ok {
		return
	}
	for roomID := range joined {
		members := r.rooms[roomID]
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	delete(r.conns, c)
}

// Join adds the connection to a room. No-op if it is already a member or
// was never registered.
func (r *Registry) Join(c Conn, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.conns[c]
	if !ok {
		return
	}
	joined[roomID] = struct{}{}

	members := r.rooms[roomID]
	if members == nil {
		members = make(map[Conn]struct{})
		r.rooms[roomID] = members
	}
	members[c] = struct{}{}
}

// Leave removes the connection from a room. No-op if it is not a member.
func (r *Registry) Leave(c Conn, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.conns[c]
	if !ok {
		return
	}
	delete(joined, roomID)

	members := r.rooms[roomID]
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// Members returns a snapshot of the connections currently joined to the
// room. The slice is owned by the caller; later joins and leaves do not
// affect it.
func (r *Registry) Members(roomID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]Conn, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

func (r *Registry) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ActiveRooms returns the member count per room with at least one member.
func (r *Registry) ActiveRooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.rooms))
	for roomID, members := range r.rooms {
		out[roomID] = len(members)
	}
	return out
}
