// Package server decodes inbound client events into typed variants and
// defines the outbound message formats. Validation happens here, at the
// boundary, so the hub only ever dispatches well-formed events.
package server

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cast"
)

const defaultFileType = "application/octet-stream"

// Event is the closed set of inbound event variants. The hub switches
// exhaustively over the concrete types; nothing else implements the
// interface.
type Event interface {
	eventType() string
}

// JoinEvent binds a username to the connection and adds it to the
// connection's room.
type JoinEvent struct {
	Username string
}

// ChatEvent broadcasts a message to every member of the sender's room.
type ChatEvent struct {
	Username  string
	Message   string
	Timestamp string
}

// SignalEvent relays an opaque signaling payload to one target user. The hub
// never interprets Data.
type SignalEvent struct {
	Sender string
	Target string
	Data   json.RawMessage
}

// TransferRequestEvent offers a file transfer to one target user.
type TransferRequestEvent struct {
	Sender   string
	Target   string
	Filename string
	FileSize int64
	FileType string
}

// TransferResponseEvent accepts or rejects a previously offered transfer.
type TransferResponseEvent struct {
	Sender   string
	Target   string
	Accepted bool
	Filename string
}

func (JoinEvent) eventType() string             { return "join_room" }
func (ChatEvent) eventType() string             { return "chat_message" }
func (SignalEvent) eventType() string           { return "webrtc_signal" }
func (TransferRequestEvent) eventType() string  { return "file_transfer_request" }
func (TransferResponseEvent) eventType() string { return "file_transfer_response" }

// DecodeError reports an inbound event that failed validation. The event is
// dropped; for some event types the hub additionally notifies the sender.
type DecodeError struct {
	EventType string
	Reason    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid %q event: %s", e.EventType, e.Reason)
}

// inboundWire is the superset of fields across all inbound event types.
// FileSize stays untyped because clients send it as number, string, or not
// at all; normalization happens after the type switch.
type inboundWire struct {
	Type      string          `json:"type"`
	Username  string          `json:"username"`
	Message   string          `json:"message"`
	Timestamp string          `json:"timestamp"`
	Sender    string          `json:"sender"`
	Target    string          `json:"target"`
	Data      json.RawMessage `json:"data"`
	Filename  string          `json:"filename"`
	FileSize  any             `json:"file_size"`
	FileType  string          `json:"file_type"`
	Accepted  bool            `json:"accepted"`
}

// DecodeEvent parses and validates a raw inbound frame. A nil error
// guarantees the returned event carries every required field for its type.
func DecodeEvent(raw []byte) (Event, error) {
	var w inboundWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &DecodeError{EventType: "unknown", Reason: err.Error()}
	}

	switch w.Type {
	case "join_room":
		if w.Username == "" {
			return nil, &DecodeError{EventType: w.Type, Reason: "missing username"}
		}
		return JoinEvent{Username: w.Username}, nil

	case "chat_message":
		if w.Username == "" || w.Message == "" {
			return nil, &DecodeError{EventType: w.Type, Reason: "missing username or message"}
		}
		return ChatEvent{Username: w.Username, Message: w.Message, Timestamp: w.Timestamp}, nil

	case "webrtc_signal":
		if w.Sender == "" || w.Target == "" || len(w.Data) == 0 {
			return nil, &DecodeError{EventType: w.Type, Reason: "missing sender, target, or data"}
		}
		return SignalEvent{Sender: w.Sender, Target: w.Target, Data: w.Data}, nil

	case "file_transfer_request":
		if w.Sender == "" || w.Target == "" {
			return nil, &DecodeError{EventType: w.Type, Reason: "missing sender or target"}
		}
		filename := w.Filename
		if filename == "" {
			filename = "Unknown file"
		}
		fileType := w.FileType
		if fileType == "" {
			fileType = defaultFileType
		}
		return TransferRequestEvent{
			Sender:   w.Sender,
			Target:   w.Target,
			Filename: filename,
			FileSize: normalizeFileSize(w.FileSize),
			FileType: fileType,
		}, nil

	case "file_transfer_response":
		if w.Sender == "" || w.Target == "" {
			return nil, &DecodeError{EventType: w.Type, Reason: "missing sender or target"}
		}
		filename := w.Filename
		if filename == "" {
			filename = "Unknown file"
		}
		return TransferResponseEvent{
			Sender:   w.Sender,
			Target:   w.Target,
			Accepted: w.Accepted,
			Filename: filename,
		}, nil

	default:
		return nil, &DecodeError{EventType: w.Type, Reason: "unknown event type"}
	}
}

// normalizeFileSize coerces whatever the client sent into a non-negative
// byte count. Anything non-numeric or negative becomes zero; the event is
// never rejected over a bad size.
func normalizeFileSize(v any) int64 {
	size, err := cast.ToInt64E(v)
	if err != nil || size < 0 {
		return 0
	}
	return size
}

// Outbound message formats. Each carries its own discriminating type tag so
// clients can dispatch without context.

type joinSuccessMsg struct {
	Type         string `json:"type"`
	RoomID       string `json:"room_id"`
	ConnectionID string `json:"connection_id"`
}

type userJoinedMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

type userLeftMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

type onlineUsersMsg struct {
	Type  string   `json:"type"`
	Users []Member `json:"users"`
}

type newMessageMsg struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type signalMsg struct {
	Type   string          `json:"type"`
	Sender string          `json:"sender"`
	Data   json.RawMessage `json:"data"`
}

type transferRequestMsg struct {
	Type     string `json:"type"`
	Sender   string `json:"sender"`
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
	FileType string `json:"file_type"`
}

type transferResponseMsg struct {
	Type     string `json:"type"`
	Sender   string `json:"sender"`
	Accepted bool   `json:"accepted"`
	Filename string `json:"filename"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// encode marshals an outbound message. The message types above contain
// nothing unmarshalable, so an error here is a programming bug; it is
// reported to the caller rather than panicking so one bad payload cannot
// take down a connection's session.
func encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode outbound message: %w", err)
	}
	return raw, nil
}
