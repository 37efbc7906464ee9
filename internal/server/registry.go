// Package server implements the connection registry, which owns the mapping
// from opaque connection ids to their transport handles.
package server

import "io"

// connection is the registry's view of one transport handle: the buffered
// outbound channel drained by the connection's write pump, and the underlying
// closer used during shutdown. The closer is nil for test connections.
type connection struct {
	send   chan []byte
	closer io.Closer
}

// registry maps connection ids to live transport handles. It is not
// synchronized on its own; the hub serializes all access under its mutex,
// so the registry, presence index, and room directory always mutate inside
// a single mutual-exclusion domain.
type registry struct {
	conns map[string]*connection
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*connection)}
}

// register binds a fresh connection id to its transport handle. Registering a
// duplicate id is a programming error upstream; the registry does not guard
// against it.
func (r *registry) register(id string, send chan []byte, closer io.Closer) {
	r.conns[id] = &connection{send: send, closer: closer}
}

// unregister removes the binding and closes the send channel, which tells the
// write pump to finish. It reports whether the id was present, so callers can
// treat a repeated unregister as the no-op it is.
func (r *registry) unregister(id string) bool {
	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	delete(r.conns, id)
	close(conn.send)
	return true
}

// send attempts a non-blocking write of a serialized message to the handle.
// It returns false for an unknown id or a full outbound buffer; it never
// blocks and never panics. A false return means the connection is no longer
// keeping up and the caller is responsible for reaping it.
func (r *registry) send(id string, raw []byte) bool {
	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	select {
	case conn.send <- raw:
		return true
	default:
		return false
	}
}

func (r *registry) count() int {
	return len(r.conns)
}

func (r *registry) ids() []string {
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// closeAll closes every registered transport handle. Used during shutdown to
// unblock read pumps; the pumps then reap their own connections.
func (r *registry) closeAll() {
	for _, conn := range r.conns {
		if conn.closer != nil {
			conn.closer.Close()
		}
	}
}
