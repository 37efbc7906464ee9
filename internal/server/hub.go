// Package server coordinates presence tracking, message routing, and
// connection cleanup for the wasd hub via the Hub type.
package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub owns the three shared structures — connection registry, presence index,
// and room directory — and serializes every mutation under a single mutex.
// Client pumps call into the hub one event at a time, preserving per
// connection ordering; events from different connections interleave
// arbitrarily.
//
// Sends performed while holding the mutex are non-blocking pushes into
// buffered per-client channels, so the lock is never held across transport
// I/O. A push that cannot complete counts as a delivery failure and the
// offending connection is reaped after the current delivery pass.
type Hub struct {
	mu       sync.Mutex
	registry *registry
	presence *presenceIndex
	rooms    *roomDirectory
	wg       sync.WaitGroup
}

// NewHub creates a Hub with empty state, ready to accept connections.
func NewHub() *Hub {
	return &Hub{
		registry: newRegistry(),
		presence: newPresenceIndex(),
		rooms:    newRoomDirectory(),
	}
}

// Attach registers an upgraded WebSocket connection under a fresh connection
// id and launches its read and write pumps. The room id comes from the
// request path and stays fixed for the connection's lifetime.
func (h *Hub) Attach(conn *websocket.Conn, roomID, addr string) *Client {
	client := newClient(h, conn, roomID, addr)

	h.mu.Lock()
	h.registry.register(client.id, client.send, conn)
	total := h.registry.count()
	h.mu.Unlock()

	log.Printf("Connection %s from %s attached to room %q. Total connections: %d",
		client.id, addr, roomID, total)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()

	return client
}

// Dispatch routes one decoded event from a connection. Every variant of the
// Event union is handled; an unhandled variant is a bug the default branch
// makes loud.
func (h *Hub) Dispatch(c *Client, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev := ev.(type) {
	case JoinEvent:
		h.handleJoin(c, ev)
	case ChatEvent:
		h.handleChat(c, ev)
	case SignalEvent:
		h.handleSignal(c, ev)
	case TransferRequestEvent:
		h.handleTransferRequest(c, ev)
	case TransferResponseEvent:
		h.handleTransferResponse(c, ev)
	default:
		log.Printf("Dropping event with unhandled type %q from %s", ev.eventType(), c.id)
	}
}

// HandleMalformed reacts to an inbound frame that failed validation. The
// frame is dropped; the file transfer request path additionally reports the
// rejection back to the sender, matching the delivery-failure notice clients
// already handle on that path.
func (h *Hub) HandleMalformed(c *Client, derr *DecodeError) {
	log.Printf("Dropping malformed event from %s: %v", c.id, derr)

	if derr.EventType != "file_transfer_request" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifyLocked(c.id, errorMsg{Type: "error", Message: "Invalid file transfer request"})
}

// Reap removes every trace of a connection from the shared state and notifies
// room survivors. It is the single cleanup entry point for explicit leaves,
// transport disconnects, and failed sends, and is idempotent.
func (h *Hub) Reap(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reapLocked(connID)
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.count()
}

// RoomMembers returns the member list of one room, empty when the room does
// not exist.
func (h *Hub) RoomMembers(roomID string) []Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.members(roomID)
}

// Snapshot dumps the full internal state for the diagnostics endpoints.
func (h *Hub) Snapshot() DebugSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return DebugSnapshot{
		Rooms:            h.rooms.snapshot(),
		Connections:      h.registry.ids(),
		UserConnections:  copyStringMap(h.presence.userConns),
		ConnectionUsers:  copyStringMap(h.presence.connUsers),
		ConnectionRooms:  copyStringMap(h.presence.connRooms),
		TotalConnections: h.registry.count(),
	}
}

// Shutdown closes every live transport handle and waits for the pump
// goroutines to drain, or until the timeout elapses. Read pumps observe the
// close, reap their connections, and the reaps cascade into write pump
// termination.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Shutting down hub, closing all connections...")

	h.mu.Lock()
	h.registry.closeAll()
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some connections may still be draining")
		return context.DeadlineExceeded
	}
}

// handleJoin binds the username, adds the member record, acknowledges the
// joiner, and tells the room. A connection belongs to at most one room: a
// join while still bound to a different room leaves that room first, with the
// usual survivor notices.
func (h *Hub) handleJoin(c *Client, ev JoinEvent) {
	if prev := h.presence.roomOf(c.id); prev != "" && prev != c.roomID {
		h.leaveRoomLocked(c.id, prev)
	}

	h.presence.bind(c.id, c.roomID, ev.Username)
	h.rooms.addMember(c.roomID, c.id, ev.Username)

	log.Printf("User %q (%s) joined room %q", ev.Username, c.id, c.roomID)

	if !h.notifyLocked(c.id, joinSuccessMsg{
		Type:         "join_success",
		RoomID:       c.roomID,
		ConnectionID: c.id,
	}) {
		// The joiner is already unreachable; the reap above the notice also
		// undid the membership just created.
		return
	}

	h.broadcastLocked(c.roomID, userJoinedMsg{
		Type:     "user_joined",
		Username: ev.Username,
		Message:  ev.Username + " has joined the room!",
	}, c.id)

	h.broadcastUserListLocked(c.roomID)
}

// handleChat broadcasts the message to every member of the connection's room,
// sender included. A timestamp supplied by the client is echoed; otherwise it
// is computed here, per event.
func (h *Hub) handleChat(c *Client, ev ChatEvent) {
	timestamp := ev.Timestamp
	if timestamp == "" {
		timestamp = time.Now().Format(time.RFC3339)
	}
	h.broadcastLocked(c.roomID, newMessageMsg{
		Type:      "new_message",
		Username:  ev.Username,
		Message:   ev.Message,
		Timestamp: timestamp,
	}, "")
}

// handleSignal relays an opaque signaling payload to the target user. A
// missing target and a failed delivery look the same to the sender: an error
// notice naming the unreachable user.
func (h *Hub) handleSignal(c *Client, ev SignalEvent) {
	if h.unicastLocked(ev.Target, signalMsg{
		Type:   "webrtc_signal",
		Sender: ev.Sender,
		Data:   ev.Data,
	}) {
		return
	}
	log.Printf("Failed to deliver WebRTC signal from %q to %q", ev.Sender, ev.Target)
	h.notifyLocked(c.id, errorMsg{
		Type:    "error",
		Message: "Failed to deliver WebRTC signal to " + ev.Target,
	})
}

// handleTransferRequest relays a file transfer offer to the target user,
// reporting an unreachable target back to the sender.
func (h *Hub) handleTransferRequest(c *Client, ev TransferRequestEvent) {
	if h.unicastLocked(ev.Target, transferRequestMsg{
		Type:     "file_transfer_request",
		Sender:   ev.Sender,
		Filename: ev.Filename,
		FileSize: ev.FileSize,
		FileType: ev.FileType,
	}) {
		log.Printf("File transfer request %q (%d bytes) relayed from %q to %q",
			ev.Filename, ev.FileSize, ev.Sender, ev.Target)
		return
	}
	log.Printf("Failed to relay file transfer request from %q to %q", ev.Sender, ev.Target)
	h.notifyLocked(c.id, errorMsg{
		Type:    "error",
		Message: "User " + ev.Target + " is not available",
	})
}

// handleTransferResponse relays an accept/reject back to the requester.
// Unlike the request path, a failed delivery here is only logged, never
// surfaced to the sender. The asymmetry is inherited behavior clients may
// rely on; keep it until the protocol is revised.
func (h *Hub) handleTransferResponse(c *Client, ev TransferResponseEvent) {
	if h.unicastLocked(ev.Target, transferResponseMsg{
		Type:     "file_transfer_response",
		Sender:   ev.Sender,
		Accepted: ev.Accepted,
		Filename: ev.Filename,
	}) {
		return
	}
	log.Printf("Failed to relay file transfer response from %q to %q", ev.Sender, ev.Target)
}

// reapLocked is the cleanup protocol: unregister the transport handle, unbind
// presence (capturing what was bound), drop the room membership, and notify
// any survivors. Reaping an already-reaped id is a no-op.
func (h *Hub) reapLocked(connID string) {
	if !h.registry.unregister(connID) {
		return
	}

	username, roomID := h.presence.unbind(connID)
	log.Printf("Reaped connection %s (user: %q). Total connections: %d",
		connID, username, h.registry.count())

	if roomID == "" {
		return
	}
	if !h.rooms.removeMember(roomID, connID) {
		return
	}
	if !h.rooms.exists(roomID) {
		log.Printf("Removed empty room %q", roomID)
		return
	}

	h.broadcastLocked(roomID, userLeftMsg{
		Type:     "user_left",
		Username: username,
		Message:  username + " has left the room!",
	}, "")
	h.broadcastUserListLocked(roomID)
}

// leaveRoomLocked removes a still-live connection from a room and notifies
// survivors. Presence bindings are left alone; the caller rebinds them.
func (h *Hub) leaveRoomLocked(connID, roomID string) {
	username := h.presence.usernameOf(connID)
	if !h.rooms.removeMember(roomID, connID) {
		return
	}
	log.Printf("User %q (%s) left room %q", username, connID, roomID)
	if !h.rooms.exists(roomID) {
		log.Printf("Removed empty room %q", roomID)
		return
	}
	h.broadcastLocked(roomID, userLeftMsg{
		Type:     "user_left",
		Username: username,
		Message:  username + " has left the room!",
	}, "")
	h.broadcastUserListLocked(roomID)
}

// broadcastLocked delivers a message to every current member of a room except
// the excluded connection. The member set is snapshotted before the pass and
// never mutated during it; connections whose send failed are collected and
// reaped only after the pass completes. Partial delivery is an expected
// outcome, not an error for the room.
func (h *Hub) broadcastLocked(roomID string, v any, exclude string) {
	raw, err := encode(v)
	if err != nil {
		log.Printf("Dropping broadcast to room %q: %v", roomID, err)
		return
	}

	members := h.rooms.members(roomID)
	var failed []string
	for _, m := range members {
		if m.ID == exclude {
			continue
		}
		if !h.registry.send(m.ID, raw) {
			failed = append(failed, m.ID)
		}
	}
	for _, id := range failed {
		log.Printf("Send to %s failed during broadcast, reaping", id)
		h.reapLocked(id)
	}
}

// broadcastUserListLocked sends the room's refreshed member snapshot to every
// member, joiner included.
func (h *Hub) broadcastUserListLocked(roomID string) {
	h.broadcastLocked(roomID, onlineUsersMsg{
		Type:  "online_users",
		Users: h.rooms.members(roomID),
	}, "")
}

// unicastLocked resolves a username through the presence index and delivers
// one message to it. It returns false when the user is unknown or the send
// fails; a failed send also reaps the dead target so the next lookup misses.
func (h *Hub) unicastLocked(target string, v any) bool {
	connID := h.presence.connectionOf(target)
	if connID == "" {
		return false
	}
	raw, err := encode(v)
	if err != nil {
		log.Printf("Dropping unicast to %q: %v", target, err)
		return false
	}
	if !h.registry.send(connID, raw) {
		h.reapLocked(connID)
		return false
	}
	return true
}

// notifyLocked sends a message straight to a connection id, reaping it on
// failure. Used for acknowledgements and error notices.
func (h *Hub) notifyLocked(connID string, v any) bool {
	raw, err := encode(v)
	if err != nil {
		log.Printf("Dropping notice to %s: %v", connID, err)
		return false
	}
	if !h.registry.send(connID, raw) {
		h.reapLocked(connID)
		return false
	}
	return true
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
