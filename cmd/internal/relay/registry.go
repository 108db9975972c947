package relay

import (
	"log/slog"
	"sync"
)

// Predicate selects broadcast recipients by connection id.
type Predicate func(connID string) bool

// AllConnections is the unconditional broadcast predicate.
func AllConnections(string) bool { return true }

// Registry is the concurrency-safe map from live connection id to outbound
// handle, plus a secondary index from authenticated user id to connection id.
//
// Invariants:
// - each ConnID maps to at most one Client;
// - insert/remove and broadcast are mutually exclusive at map granularity, so
//   a broadcast never touches a handle that remove has already dropped;
// - Remove is idempotent to keep teardown safe under races.
//
// The registry is constructed once at process start and shared by every
// connection goroutine; it is never torn down before shutdown.
type Registry struct {
	log     *slog.Logger
	metrics *Metrics

	mu    sync.RWMutex
	conns map[string]*Client
	users map[string]string // user id -> conn id
}

// NewRegistry constructs an empty registry.
func NewRegistry(log *slog.Logger, metrics *Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:     log,
		metrics: metrics,
		conns:   make(map[string]*Client),
		users:   make(map[string]string),
	}
}

// Insert adds or replaces the entry for client.ConnID. Replacing drops the
// old handle without closing it; the lifecycle owning that handle is
// responsible for its own teardown.
func (r *Registry) Insert(client *Client) {
	if client == nil || client.ConnID == "" {
		return
	}

	r.mu.Lock()
	r.conns[client.ConnID] = client
	n := len(r.conns)
	r.mu.Unlock()

	r.metrics.setConnections(n)
	r.log.Info("registry.insert", "conn_id", client.ConnID, "live", n)
}

// Remove deletes the entry for connID if present, along with any user-index
// entry pointing at it. Removing an absent id is a no-op.
func (r *Registry) Remove(connID string) {
	if connID == "" {
		return
	}

	r.mu.Lock()
	_, present := r.conns[connID]
	delete(r.conns, connID)
	for uid, cid := range r.users {
		if cid == connID {
			delete(r.users, uid)
		}
	}
	n := len(r.conns)
	r.mu.Unlock()

	if present {
		r.metrics.setConnections(n)
		r.log.Info("registry.remove", "conn_id", connID, "live", n)
	}
}

// BindUser records connID as the live connection for userID. The index backs
// targeted delivery; broadcast does not consult it.
func (r *Registry) BindUser(connID, userID string) {
	if connID == "" || userID == "" {
		return
	}

	r.mu.Lock()
	r.users[userID] = connID
	r.mu.Unlock()
}

// LookupUser returns the outbound handle bound to userID, if any.
func (r *Registry) LookupUser(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.users[userID]
	if !ok {
		return nil, false
	}
	c, ok := r.conns[connID]
	return c, ok
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast pushes payload to every live handle accepted by pred and returns
// the number of deliveries. A failed push (full queue, closing client) is
// logged and skipped; it never aborts delivery to the rest.
func (r *Registry) Broadcast(pred Predicate, payload string) int {
	if pred == nil {
		pred = AllConnections
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for id, c := range r.conns {
		if !pred(id) {
			continue
		}
		if c.TryPush(payload) {
			delivered++
			r.metrics.broadcastDelivered()
			continue
		}
		r.metrics.broadcastDropped()
		r.log.Warn("registry.broadcast.drop", "conn_id", id)
	}
	return delivered
}
