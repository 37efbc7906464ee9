package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const testOrigin = "http://localhost:8080"

// wsSession wraps a dialed WebSocket connection for tests. Outbound frames
// may batch several queued messages separated by newlines, so reads go
// through a local queue that splits them back apart.
type wsSession struct {
	conn  *websocket.Conn
	queue [][]byte
}

func dialRoom(t *testing.T, srv *httptest.Server, room string) *wsSession {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + room
	header := http.Header{"Origin": {testOrigin}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial %s failed: %v", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return &wsSession{conn: conn}
}

func (s *wsSession) sendJSON(t *testing.T, v any) {
	t.Helper()
	if err := s.conn.WriteJSON(v); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// next returns the next individual message, reading another frame when the
// queue is empty.
func (s *wsSession) next(t *testing.T) map[string]any {
	t.Helper()
	for len(s.queue) == 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatalf("set read deadline: %v", err)
		}
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		for _, part := range bytes.Split(frame, []byte{'\n'}) {
			if len(part) > 0 {
				s.queue = append(s.queue, part)
			}
		}
	}
	raw := s.queue[0]
	s.queue = s.queue[1:]

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("undecodable message %q: %v", raw, err)
	}
	return m
}

func (s *wsSession) expect(t *testing.T, msgType string) map[string]any {
	t.Helper()
	m := s.next(t)
	if m["type"] != msgType {
		t.Fatalf("expected message type %q, got %v", msgType, m)
	}
	return m
}

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub()
	srv := httptest.NewServer(SetupRoutes(h))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { h.Shutdown(2 * time.Second) })
	return h, srv
}

// TestWebSocketSessionFlow drives two live connections through the full
// protocol: join acknowledgements, room notices, a chat broadcast, and the
// survivor notices after one side disconnects.
func TestWebSocketSessionFlow(t *testing.T) {
	_, srv := newTestServer(t)

	alice := dialRoom(t, srv, "lobby")
	alice.sendJSON(t, map[string]any{"type": "join_room", "username": "alice"})
	alice.expect(t, "join_success")
	alice.expect(t, "online_users")

	bob := dialRoom(t, srv, "lobby")
	bob.sendJSON(t, map[string]any{"type": "join_room", "username": "bob"})
	ack := bob.expect(t, "join_success")
	if ack["room_id"] != "lobby" {
		t.Errorf("join_success room_id = %v, want lobby", ack["room_id"])
	}
	bob.expect(t, "online_users")

	joined := alice.expect(t, "user_joined")
	if joined["username"] != "bob" || joined["message"] != "bob has joined the room!" {
		t.Errorf("unexpected user_joined: %v", joined)
	}
	alice.expect(t, "online_users")

	alice.sendJSON(t, map[string]any{"type": "chat_message", "username": "alice", "message": "hello"})
	for _, s := range []*wsSession{alice, bob} {
		msg := s.expect(t, "new_message")
		if msg["username"] != "alice" || msg["message"] != "hello" {
			t.Errorf("unexpected new_message: %v", msg)
		}
		if ts, _ := msg["timestamp"].(string); ts == "" {
			t.Error("new_message should carry a timestamp")
		}
	}

	bob.conn.Close()
	left := alice.expect(t, "user_left")
	if left["username"] != "bob" {
		t.Errorf("user_left = %v, want bob", left)
	}
	alice.expect(t, "online_users")
}

// TestWebSocketSignalAndTransfer verifies the targeted relays over a live
// transport, including the defensive file size handling.
func TestWebSocketSignalAndTransfer(t *testing.T) {
	_, srv := newTestServer(t)

	alice := dialRoom(t, srv, "lobby")
	alice.sendJSON(t, map[string]any{"type": "join_room", "username": "alice"})
	alice.expect(t, "join_success")
	alice.expect(t, "online_users")

	bob := dialRoom(t, srv, "lobby")
	bob.sendJSON(t, map[string]any{"type": "join_room", "username": "bob"})
	bob.expect(t, "join_success")
	bob.expect(t, "online_users")
	alice.expect(t, "user_joined")
	alice.expect(t, "online_users")

	alice.sendJSON(t, map[string]any{
		"type": "webrtc_signal", "sender": "alice", "target": "bob",
		"data": map[string]any{"type": "offer", "sdp": "v=0"},
	})
	sig := bob.expect(t, "webrtc_signal")
	if sig["sender"] != "alice" {
		t.Errorf("signal sender = %v, want alice", sig["sender"])
	}

	alice.sendJSON(t, map[string]any{
		"type": "webrtc_signal", "sender": "alice", "target": "carol",
		"data": map[string]any{},
	})
	errNotice := alice.expect(t, "error")
	if errNotice["message"] != "Failed to deliver WebRTC signal to carol" {
		t.Errorf("unexpected error message: %v", errNotice["message"])
	}

	// A garbage size must not reject the request; it is forwarded as zero.
	alice.sendJSON(t, map[string]any{
		"type": "file_transfer_request", "sender": "alice", "target": "bob",
		"filename": "pic.png", "file_size": "not-a-number",
	})
	req := bob.expect(t, "file_transfer_request")
	if req["file_size"] != float64(0) {
		t.Errorf("file_size = %v, want 0", req["file_size"])
	}

	bob.sendJSON(t, map[string]any{
		"type": "file_transfer_response", "sender": "bob", "target": "alice",
		"accepted": true, "filename": "pic.png",
	})
	resp := alice.expect(t, "file_transfer_response")
	if resp["accepted"] != true {
		t.Errorf("unexpected file_transfer_response: %v", resp)
	}

	// A malformed request gets an error notice back instead of a relay.
	alice.sendJSON(t, map[string]any{"type": "file_transfer_request", "sender": "alice"})
	invalid := alice.expect(t, "error")
	if invalid["message"] != "Invalid file transfer request" {
		t.Errorf("unexpected error message: %v", invalid["message"])
	}
}

// TestWebSocketHandlerRejectsNonGET verifies the method check on the upgrade
// endpoint.
func TestWebSocketHandlerRejectsNonGET(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/ws/lobby", "text/plain", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

// TestWebSocketHandlerRejectsDisallowedOrigin verifies the origin allow list
// blocks the upgrade handshake.
func TestWebSocketHandlerRejectsDisallowedOrigin(t *testing.T) {
	_, srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/lobby"
	header := http.Header{"Origin": {"http://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		conn.Close()
		t.Fatal("dial from a disallowed origin should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected a 403 handshake rejection, got %v", resp)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}

// TestRoomUsersEndpoint verifies the member listing API for live and unknown
// rooms.
func TestRoomUsersEndpoint(t *testing.T) {
	_, srv := newTestServer(t)

	alice := dialRoom(t, srv, "lobby")
	alice.sendJSON(t, map[string]any{"type": "join_room", "username": "alice"})
	alice.expect(t, "join_success")
	alice.expect(t, "online_users")

	var listing struct {
		RoomID string   `json:"room_id"`
		Users  []Member `json:"users"`
	}
	getJSON(t, srv.URL+"/api/rooms/lobby/users", &listing)
	if listing.RoomID != "lobby" || len(listing.Users) != 1 || listing.Users[0].Username != "alice" {
		t.Errorf("unexpected room listing: %+v", listing)
	}

	getJSON(t, srv.URL+"/api/rooms/ghost/users", &listing)
	if len(listing.Users) != 0 {
		t.Errorf("unknown room should list no users, got %+v", listing.Users)
	}
}

// TestDebugEndpoint verifies the diagnostics dump reflects live state.
func TestDebugEndpoint(t *testing.T) {
	_, srv := newTestServer(t)

	alice := dialRoom(t, srv, "lobby")
	alice.sendJSON(t, map[string]any{"type": "join_room", "username": "alice"})
	alice.expect(t, "join_success")
	alice.expect(t, "online_users")

	var snap DebugSnapshot
	getJSON(t, srv.URL+"/api/debug", &snap)
	if snap.TotalConnections != 1 {
		t.Errorf("TotalConnections = %d, want 1", snap.TotalConnections)
	}
	if _, ok := snap.UserConnections["alice"]; !ok {
		t.Errorf("UserConnections missing alice: %v", snap.UserConnections)
	}
	if len(snap.Rooms["lobby"]) != 1 {
		t.Errorf("Rooms[lobby] = %v, want one member", snap.Rooms["lobby"])
	}
}

// TestHealthEndpoint verifies the health check response.
func TestHealthEndpoint(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "wasd hub is running!" {
		t.Errorf("health check returned %d %q", resp.StatusCode, body)
	}
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s returned %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}
