// Package session provides connected-user tracking for the game server.
package session

import "github.com/speeddrawer/server/internal/protocol"

// Transport is the per-connection handle the session layer drives.
// Sends are fire-and-forget: an error only reports that the frame could not
// be queued, never that the peer received it.
type Transport interface {
	// Send queues one binary frame for delivery.
	Send(frame []byte) error
	// Ping queues a liveness probe. The acknowledgment arrives later as a
	// separate event.
	Ping() error
	// Close starts a graceful close handshake.
	Close() error
	// ForceClose drops the connection immediately.
	ForceClose() error
	// IsOpen reports whether frames can still be queued.
	IsOpen() bool
	// RemoteAddr identifies the peer for logging.
	RemoteAddr() string
}

// User is the state of one live connection.
type User struct {
	// ID is assigned at connect time and stable for the connection's lifetime.
	ID string
	// Username is empty until the initialize handshake succeeds.
	Username string
	// RoomID is a lookup key into the room registry, empty when the user is
	// in no room. The user never owns the room.
	RoomID string
	// Conn is the user's transport.
	Conn Transport
	// Alive is cleared by every heartbeat sweep and set again by each probe
	// acknowledgment.
	Alive bool
}

// Initialized reports whether the handshake has completed.
func (u *User) Initialized() bool {
	return u.Username != ""
}

// InRoom reports whether the user currently belongs to a room.
func (u *User) InRoom() bool {
	return u.RoomID != ""
}

// Info returns the wire representation of the user.
func (u *User) Info() protocol.UserInfo {
	return protocol.UserInfo{ID: u.ID, Username: u.Username}
}
