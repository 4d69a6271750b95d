// Package room implements game rooms and the registry that owns their
// membership transitions: create, join, leave, owner succession, and removal
// of empty rooms.
package room

import (
	"slices"

	"github.com/speeddrawer/server/internal/game/session"
	"github.com/speeddrawer/server/internal/protocol"
)

// Room is one game session.
//
// Invariant: a Room reachable from a Registry has at least one member, and
// its owner is one of them.
type Room struct {
	// ID is the registry key.
	ID string
	// Started is set once the owner starts the game.
	Started bool
	// RoundNumber is the configured number of rounds.
	RoundNumber uint32

	members []*session.User
	owner   *session.User
}

// Members returns a snapshot of the members in join order.
func (r *Room) Members() []*session.User {
	return slices.Clone(r.members)
}

// Len returns the number of members.
func (r *Room) Len() int {
	return len(r.members)
}

// Owner returns the current owner.
func (r *Room) Owner() *session.User {
	return r.owner
}

// IsOwner reports whether u owns the room.
func (r *Room) IsOwner(u *session.User) bool {
	return r.owner == u
}

// Has reports whether u is a member.
func (r *Room) Has(u *session.User) bool {
	return slices.Contains(r.members, u)
}

// MemberInfos returns the wire representation of every member in join order.
func (r *Room) MemberInfos() []protocol.UserInfo {
	out := make([]protocol.UserInfo, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.Info())
	}
	return out
}

// remove deletes u from the member list and reports whether it was present.
// Remaining members keep their relative order.
func (r *Room) remove(u *session.User) bool {
	idx := slices.Index(r.members, u)
	if idx < 0 {
		return false
	}
	r.members = slices.Delete(r.members, idx, idx+1)
	return true
}
