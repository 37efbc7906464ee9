// Package server implements the room directory, which owns the mapping from
// room ids to their current member sets.
package server

// roomDirectory maps room ids to member lists. A room exists in the directory
// iff it has at least one member: rooms are created lazily on first join and
// deleted synchronously when the last member leaves. Members are kept in join
// order so repeated reads of an unchanged room return the same ordering.
// Synchronization is provided by the hub's mutex.
type roomDirectory struct {
	rooms map[string][]Member
}

func newRoomDirectory() *roomDirectory {
	return &roomDirectory{rooms: make(map[string][]Member)}
}

// addMember inserts a member record, first dropping any existing entry with
// the same connection id or the same username. That covers both reconnection
// shapes: a reused username arriving on a fresh connection, and a stale
// connection id lingering after a crash.
func (d *roomDirectory) addMember(roomID, connID, username string) {
	members := d.rooms[roomID]
	kept := members[:0]
	for _, m := range members {
		if m.ID == connID || m.Username == username {
			continue
		}
		kept = append(kept, m)
	}
	d.rooms[roomID] = append(kept, Member{Username: username, ID: connID})
}

// removeMember deletes the entry matching the connection id. If the room
// becomes empty it is removed from the directory entirely. It reports whether
// a member was actually removed.
func (d *roomDirectory) removeMember(roomID, connID string) bool {
	members, ok := d.rooms[roomID]
	if !ok {
		return false
	}
	kept := members[:0]
	removed := false
	for _, m := range members {
		if m.ID == connID {
			removed = true
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) == 0 {
		delete(d.rooms, roomID)
		return removed
	}
	d.rooms[roomID] = kept
	return removed
}

// members returns a copy of the room's member list, empty for an unknown
// room. Callers may hold the copy across sends without observing concurrent
// mutation.
func (d *roomDirectory) members(roomID string) []Member {
	members := d.rooms[roomID]
	out := make([]Member, len(members))
	copy(out, members)
	return out
}

// exists reports whether the room is present in the directory.
func (d *roomDirectory) exists(roomID string) bool {
	_, ok := d.rooms[roomID]
	return ok
}

// snapshot copies the full directory for diagnostics.
func (d *roomDirectory) snapshot() map[string][]Member {
	out := make(map[string][]Member, len(d.rooms))
	for id := range d.rooms {
		out[id] = d.members(id)
	}
	return out
}
