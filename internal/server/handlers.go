// Package server exposes HTTP handlers: WebSocket upgrades, health checks,
// and the diagnostics endpoints.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler upgrades the request and attaches the connection to the
// hub. The room id is taken from the request path; it is an externally
// supplied string with no internal structure.
func (h *Hub) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	roomID := r.PathValue("room")
	if roomID == "" {
		http.Error(w, "Room id is required.", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.Attach(conn, roomID, r.RemoteAddr)
}

// RoomUsersHandler returns the member list of one room.
func (h *Hub) RoomUsersHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	writeJSON(w, struct {
		RoomID string   `json:"room_id"`
		Users  []Member `json:"users"`
	}{
		RoomID: roomID,
		Users:  h.RoomMembers(roomID),
	})
}

// DebugHandler dumps the hub's internal state: per-room member lists, the
// identity mapping tables, and the connection count. Observability only.
func (h *Hub) DebugHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.Snapshot())
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "wasd hub is running!")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}
