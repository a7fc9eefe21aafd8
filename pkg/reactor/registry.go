package reactor

import (
	"sync"
	"sync/atomic"

	"github.com/clusterlockd/ltd/pkg/proto"
)

// Registry tracks every live connection a node holds, indexed by ID and by
// client name, so the replication layer can replay queued drop-requests to
// a client identified by name rather than by a possibly-stale socket.
type Registry struct {
	nextID atomic.Uint64

	mu      sync.RWMutex
	byID    map[uint64]*Conn
	byName  map[string]*Conn
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[uint64]*Conn),
		byName: make(map[string]*Conn),
	}
}

// add registers c by ID and removes it from both indexes when it closes;
// ListenAndServe and Dial call it before starting c's serve loop.
func (r *Registry) add(c *Conn) {
	r.mu.Lock()
	r.byID[c.ID] = c
	r.mu.Unlock()

	c.OnClose(func(c *Conn) {
		r.mu.Lock()
		delete(r.byID, c.ID)
		if r.byName[c.Name] == c {
			delete(r.byName, c.Name)
		}
		r.mu.Unlock()
	})
}

func (r *Registry) newID() uint64 { return r.nextID.Add(1) }

// BindName associates a logged-in connection with its client/slave/peer
// name, overwriting any previous connection under that name (a client
// reconnect replaces its stale socket).
func (r *Registry) BindName(c *Conn, name string) {
	c.Name = name
	r.mu.Lock()
	r.byName[name] = c
	r.mu.Unlock()
}

// ByName returns the live connection bound to name, if any.
func (r *Registry) ByName(name string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// ByID returns the live connection with the given ID, if any. Replies
// (replication's Sink.SendReply, LTPX's forwardToClient) are routed by ID
// and dropped when that connection is gone; callbacks are routed by name
// through ByName.
func (r *Registry) ByID(id uint64) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// Each calls fn for every live connection matching role. A zero Role value
// (proto.RolePending) matches every connection.
func (r *Registry) Each(role proto.Role, fn func(*Conn)) {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.byID))
	for _, c := range r.byID {
		if role == 0 || c.Role == role {
			conns = append(conns, c)
		}
	}
	r.mu.RUnlock()
	for _, c := range conns {
		fn(c)
	}
}

// Count returns the number of live connections with the given role (0
// matches all).
func (r *Registry) Count(role proto.Role) int {
	n := 0
	r.Each(role, func(*Conn) { n++ })
	return n
}
