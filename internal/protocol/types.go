// Package protocol defines the speeddrawer wire format: a typed Envelope
// carrying a schema-encoded payload, and one payload record per message type.
//
// Both layers use the protobuf wire encoding so any protobuf runtime can read
// frames produced here.
package protocol

import "fmt"

// MessageType tags the payload schema carried by an Envelope.
type MessageType int32

const (
	TypeUnspecified            MessageType = 0
	TypeInitializeUser         MessageType = 1
	TypeInitializeUserResponse MessageType = 2
	TypeKickUser               MessageType = 3
	TypeUserJoinedInfo         MessageType = 4
	TypeUserLeftInfo           MessageType = 5
	TypeChangeRoom             MessageType = 6
	TypeChangeRoomInfo         MessageType = 7
	TypeGameStart              MessageType = 8
	TypeGameStartInfo          MessageType = 9
)

var typeNames = map[MessageType]string{
	TypeInitializeUser:         "INITIALIZE_USER",
	TypeInitializeUserResponse: "INITIALIZE_USER_RESPONSE",
	TypeKickUser:               "KICK_USER",
	TypeUserJoinedInfo:         "USER_JOINED_INFO",
	TypeUserLeftInfo:           "USER_LEFT_INFO",
	TypeChangeRoom:             "CHANGE_ROOM",
	TypeChangeRoomInfo:         "CHANGE_ROOM_INFO",
	TypeGameStart:              "GAME_START",
	TypeGameStartInfo:          "GAME_START_INFO",
}

// AllTypes lists every valid MessageType in tag order.
var AllTypes = []MessageType{
	TypeInitializeUser,
	TypeInitializeUserResponse,
	TypeKickUser,
	TypeUserJoinedInfo,
	TypeUserLeftInfo,
	TypeChangeRoom,
	TypeChangeRoomInfo,
	TypeGameStart,
	TypeGameStartInfo,
}

// Valid reports whether t is one of the nine registered message types.
func (t MessageType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// ClientOriginated reports whether clients are allowed to send t.
// The remaining types are notifications produced only by the server.
func (t MessageType) ClientOriginated() bool {
	switch t {
	case TypeInitializeUser, TypeKickUser, TypeChangeRoom, TypeGameStart:
		return true
	default:
		return false
	}
}

// String returns the wire name of t, e.g. "KICK_USER".
func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", int32(t))
}
