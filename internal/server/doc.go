// Package server implements the wasd presence and message-routing hub.
//
// The hub tracks which participants are connected, maps usernames to
// ephemeral connection ids, and routes room broadcasts, WebRTC signaling
// messages, and file transfer handshakes between participants without
// persisting any of it. The implementation is organized into one file per
// concern — registry, presence, rooms, events, hub, clients, configuration,
// and HTTP plumbing — to keep the codebase maintainable and testable.
package server
