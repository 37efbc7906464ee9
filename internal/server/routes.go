// Package server wires HTTP handlers into a ServeMux for the wasd
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: health check, the WebSocket endpoint, and the diagnostics API.
func SetupRoutes(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws/{room}", h.WebSocketHandler)
	mux.HandleFunc("/api/rooms/{room}/users", h.RoomUsersHandler)
	mux.HandleFunc("/api/debug", h.DebugHandler)
	return mux
}
