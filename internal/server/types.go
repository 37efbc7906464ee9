// Package server defines shared wire types and utility helpers that are
// reused across client and hub logic.
package server

import "strings"

// Member describes one room participant as exposed on the wire: the
// human-chosen username and the opaque connection id it is bound to.
type Member struct {
	Username string `json:"username"`
	ID       string `json:"id"`
}

// DebugSnapshot is a direct dump of the hub's internal state, consumed by the
// diagnostics endpoints. It is observability output, not a control surface.
type DebugSnapshot struct {
	Rooms            map[string][]Member `json:"rooms"`
	Connections      []string            `json:"connections"`
	UserConnections  map[string]string   `json:"user_connections"`
	ConnectionUsers  map[string]string   `json:"connection_users"`
	ConnectionRooms  map[string]string   `json:"connection_rooms"`
	TotalConnections int                 `json:"total_connections"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
