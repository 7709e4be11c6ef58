package presence

import (
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Peer is the sending half of a live connection. Send must not block; it
// reports false when the frame could not be queued.
type Peer interface {
	ID() string
	Send(msg models.Outbound) bool
	Close() error
}

// Role is what a connection has identified itself as. It is either
// Anonymous or Admin.
type Role interface {
	isRole()
}

// Anonymous is a connection that has not registered as an admin: an end
// user, a driver, or anyone else.
type Anonymous struct{}

// Admin is a connection that sent registerAsAdmin.
type Admin struct {
	ID   string
	Name string
}

func (Anonymous) isRole() {}
func (Admin) isRole()     {}

// Connection is the registry's record of a live connection.
type Connection struct {
	ID          string
	Peer        Peer
	Role        Role
	ConnectedAt time.Time
}

// Admin returns the admin identity of the connection, if any.
func (c *Connection) Admin() (Admin, bool) {
	a, ok := c.Role.(Admin)
	return a, ok
}

// Send is a no-op for a nil connection, which lets callers send to the
// result of a lookup without checking liveness first.
func (c *Connection) Send(event string, data any) bool {
	if c == nil {
		return false
	}
	if !c.Peer.Send(models.Outbound{Event: event, Data: data}) {
		observability.SendDropped.Inc()
		return false
	}
	return true
}

// Registry tracks every live connection. It is owned by the broker loop
// and is not safe for concurrent use.
type Registry struct {
	conns  map[string]*Connection
	order  []string
	admins int
	hooks  []func(connID string)
	now    func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{conns: make(map[string]*Connection), now: now}
}

// OnRemove adds a hook run after a connection leaves the registry.
func (r *Registry) OnRemove(hook func(connID string)) {
	r.hooks = append(r.hooks, hook)
}

// Register adds a connection as Anonymous. Registering an id twice keeps the
// first record.
func (r *Registry) Register(p Peer) *Connection {
	if c, ok := r.conns[p.ID()]; ok {
		return c
	}
	c := &Connection{ID: p.ID(), Peer: p, Role: Anonymous{}, ConnectedAt: r.now()}
	r.conns[c.ID] = c
	r.order = append(r.order, c.ID)
	observability.ConnectionsLive.Inc()
	return c
}

// MarkAdmin sets the role of a live Anonymous connection. It returns false
// when the connection is unknown or already an admin; the role is set once.
func (r *Registry) MarkAdmin(connID, adminID, adminName string) bool {
	c, ok := r.conns[connID]
	if !ok {
		return false
	}
	if _, already := c.Admin(); already {
		return false
	}
	c.Role = Admin{ID: adminID, Name: adminName}
	r.admins++
	observability.AdminsLive.Inc()
	return true
}

func (r *Registry) IsLive(connID string) bool {
	_, ok := r.conns[connID]
	return ok
}

// Get returns the live connection or nil.
func (r *Registry) Get(connID string) *Connection {
	return r.conns[connID]
}

// ForEachAdmin calls fn for every live admin connection in connect order.
func (r *Registry) ForEachAdmin(fn func(c *Connection, a Admin)) {
	r.ForEachConnection(func(c *Connection) {
		if a, ok := c.Admin(); ok {
			fn(c, a)
		}
	})
}

// ForEachConnection calls fn for every live connection in connect order.
func (r *Registry) ForEachConnection(fn func(c *Connection)) {
	for _, id := range r.order {
		if c, ok := r.conns[id]; ok {
			fn(c)
		}
	}
}

// Remove drops a connection and runs the removal hooks. It returns false,
// without running hooks, when the connection was not live.
func (r *Registry) Remove(connID string) bool {
	c, ok := r.conns[connID]
	if !ok {
		return false
	}
	delete(r.conns, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	observability.ConnectionsLive.Dec()
	if _, admin := c.Admin(); admin {
		r.admins--
		observability.AdminsLive.Dec()
	}
	for _, hook := range r.hooks {
		hook(connID)
	}
	return true
}

func (r *Registry) Len() int    { return len(r.conns) }
func (r *Registry) Admins() int { return r.admins }
