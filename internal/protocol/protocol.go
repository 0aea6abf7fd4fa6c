// Package protocol defines the JSON frames exchanged over a relay
// connection. The chat payload is opaque to the relay; only the envelope
// (type, roomId, message presence) is validated here.
package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// Client -> server frame types.
const (
	TypeJoinRoom  = "join-room"
	TypeLeaveRoom = "leave-room"
	TypeChat      = "chat"
)

// Server -> client frame types.
const (
	TypeRoomJoined = "room-joined"
	TypeError      = "error"
	TypeWelcome    = "welcome"
)

var (
	ErrInvalidJSON    = errors.New("frame is not valid JSON")
	ErrUnknownType    = errors.New("unknown frame type")
	ErrMissingRoomID  = errors.New("frame missing roomId")
	ErrMissingMessage = errors.New("chat frame missing message")
)

// Inbound is the envelope of a client frame.
type Inbound struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId,omitempty"`
	Message string `json:"message,omitempty"`
}

// Outbound is the envelope of a server frame.
type Outbound struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId,omitempty"`
	Message   string `json:"message,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ParseInbound decodes and validates a client frame envelope.
func ParseInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, ErrInvalidJSON
	}

	switch in.Type {
	case TypeJoinRoom, TypeLeaveRoom:
		if in.RoomID == "" {
			return Inbound{}, ErrMissingRoomID
		}
	case TypeChat:
		if in.RoomID == "" {
			return Inbound{}, ErrMissingRoomID
		}
		if in.Message == "" {
			return Inbound{}, ErrMissingMessage
		}
	default:
		return Inbound{}, ErrUnknownType
	}

	return in, nil
}

func Chat(roomID, message, userID string, at time.Time) Outbound {
	return Outbound{
		Type:      TypeChat,
		RoomID:    roomID,
		Message:   message,
		UserID:    userID,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

func RoomJoined(roomID string) Outbound {
	return Outbound{Type: TypeRoomJoined, RoomID: roomID}
}

func Error(message string) Outbound {
	return Outbound{Type: TypeError, Message: message}
}

func Welcome(userID string) Outbound {
	return Outbound{Type: TypeWelcome, UserID: userID}
}

// Marshal encodes an outbound frame. Outbound frames are plain structs,
// so encoding cannot fail at runtime; the error return keeps call sites
// honest anyway.
func Marshal(out Outbound) ([]byte, error) {
	return json.Marshal(out)
}
