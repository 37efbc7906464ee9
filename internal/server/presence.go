// Package server implements the presence index: the bidirectional mapping
// between usernames and connection ids, plus the connection-to-room lookup
// used during cleanup.
package server

// presenceIndex tracks which username is reachable on which connection and
// which room a connection currently belongs to. Like the registry, it relies
// on the hub's mutex for synchronization.
//
// The username binding is last-writer-wins: binding a username to a second
// connection makes the first unreachable by username lookup without closing
// it. The stale connection is cleaned up when its own transport drops or a
// send to it fails.
type presenceIndex struct {
	userConns map[string]string // username -> connection id
	connUsers map[string]string // connection id -> username
	connRooms map[string]string // connection id -> room id
}

func newPresenceIndex() *presenceIndex {
	return &presenceIndex{
		userConns: make(map[string]string),
		connUsers: make(map[string]string),
		connRooms: make(map[string]string),
	}
}

// bind associates a connection with a username and room. Any previous
// username held by this connection is released first, then the username
// binding is overwritten regardless of which connection held it before.
func (p *presenceIndex) bind(connID, roomID, username string) {
	if old, ok := p.connUsers[connID]; ok && old != username {
		if p.userConns[old] == connID {
			delete(p.userConns, old)
		}
	}
	p.userConns[username] = connID
	p.connUsers[connID] = username
	p.connRooms[connID] = roomID
}

// unbind removes every trace of the connection and returns the username and
// room it held, if any. The username mapping is only removed when it still
// points at this connection, so a superseded binding is left intact.
func (p *presenceIndex) unbind(connID string) (username, roomID string) {
	username = p.connUsers[connID]
	roomID = p.connRooms[connID]
	if username != "" && p.userConns[username] == connID {
		delete(p.userConns, username)
	}
	delete(p.connUsers, connID)
	delete(p.connRooms, connID)
	return username, roomID
}

// usernameOf returns the username bound to the connection, or "" on a miss.
func (p *presenceIndex) usernameOf(connID string) string {
	return p.connUsers[connID]
}

// connectionOf returns the connection id a username is reachable on, or ""
// on a miss.
func (p *presenceIndex) connectionOf(username string) string {
	return p.userConns[username]
}

// roomOf returns the room a connection belongs to, or "" on a miss.
func (p *presenceIndex) roomOf(connID string) string {
	return p.connRooms[connID]
}
