package room

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/speeddrawer/server/internal/game/session"
)

var (
	// ErrIdentityInconsistency reports room/user bookkeeping that violates a
	// membership invariant. It is never corrected silently.
	ErrIdentityInconsistency = errors.New("identity inconsistency")
	// ErrRoomNotFound reports a room id absent from the registry.
	ErrRoomNotFound = errors.New("room not found")
)

// LeaveResult describes the transition caused by Leave.
type LeaveResult struct {
	// Room is the room that was left. When Removed is true it is no longer
	// in the registry and must not be mutated.
	Room *Room
	// Removed is true when the departure emptied the room.
	Removed bool
	// NewOwner is set when the departing user was the owner and ownership
	// moved to the earliest-joined remaining member.
	NewOwner *session.User
}

// Registry maps room ids to Rooms.
//
// A Registry is not safe for concurrent use. Like session.Directory it is
// owned by the game server's event loop.
type Registry struct {
	rooms         map[string]*Room
	defaultRounds uint32
	logger        *zap.Logger
}

// NewRegistry creates an empty Registry whose new rooms start with
// defaultRounds rounds.
//
// Precondition: logger must be non-nil.
func NewRegistry(defaultRounds uint32, logger *zap.Logger) *Registry {
	return &Registry{
		rooms:         make(map[string]*Room),
		defaultRounds: defaultRounds,
		logger:        logger,
	}
}

// Create registers a new room with first as its only member and owner.
//
// Precondition: id must be non-empty; first must be in no room.
// Postcondition: Returns the new Room, or an error if id is taken or first
// already belongs to a room.
func (g *Registry) Create(id string, first *session.User) (*Room, error) {
	if _, exists := g.rooms[id]; exists {
		return nil, fmt.Errorf("room %q already exists", id)
	}
	if first.InRoom() {
		return nil, fmt.Errorf("%w: user %s creating room %s while in room %s",
			ErrIdentityInconsistency, first.ID, id, first.RoomID)
	}
	r := &Room{
		ID:          id,
		RoundNumber: g.defaultRounds,
		members:     []*session.User{first},
		owner:       first,
	}
	g.rooms[id] = r
	first.RoomID = id
	return r, nil
}

// Get returns the room with the given id.
func (g *Registry) Get(id string) (*Room, bool) {
	r, ok := g.rooms[id]
	return r, ok
}

// RoomOf resolves u's room reference.
//
// Postcondition: Returns (nil, false) when u is in no room or its reference
// is stale.
func (g *Registry) RoomOf(u *session.User) (*Room, bool) {
	if !u.InRoom() {
		return nil, false
	}
	return g.Get(u.RoomID)
}

// Join appends u to r's members.
//
// Precondition: u must be in no room; any previous membership must already
// have been released with Leave.
// Postcondition: u is the last member of r and u.RoomID == r.ID, or an error
// wrapping ErrRoomNotFound or ErrIdentityInconsistency is returned and
// nothing changed.
func (g *Registry) Join(u *session.User, r *Room) error {
	if g.rooms[r.ID] != r {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, r.ID)
	}
	if u.RoomID == r.ID || r.Has(u) {
		return fmt.Errorf("%w: user %s already in room %s", ErrIdentityInconsistency, u.ID, r.ID)
	}
	if u.InRoom() {
		return fmt.Errorf("%w: user %s joining room %s while in room %s",
			ErrIdentityInconsistency, u.ID, r.ID, u.RoomID)
	}
	r.members = append(r.members, u)
	u.RoomID = r.ID
	return nil
}

// Leave removes u from its room. An emptied room is deleted from the
// registry; otherwise a departing owner is succeeded by members[0], the
// longest continuously present member.
//
// Precondition: u must be a member of the room named by u.RoomID.
// Postcondition: u.RoomID is empty. Returns an error wrapping
// ErrIdentityInconsistency when u's reference and the room's member list
// disagree.
func (g *Registry) Leave(u *session.User) (LeaveResult, error) {
	if !u.InRoom() {
		return LeaveResult{}, fmt.Errorf("%w: user %s is in no room", ErrIdentityInconsistency, u.ID)
	}
	r, ok := g.rooms[u.RoomID]
	if !ok {
		return LeaveResult{}, fmt.Errorf("%w: user %s references missing room %s",
			ErrIdentityInconsistency, u.ID, u.RoomID)
	}
	if !r.remove(u) {
		return LeaveResult{}, fmt.Errorf("%w: user %s not a member of room %s",
			ErrIdentityInconsistency, u.ID, r.ID)
	}
	u.RoomID = ""

	res := LeaveResult{Room: r}
	if len(r.members) == 0 {
		delete(g.rooms, r.ID)
		r.owner = nil
		res.Removed = true
		return res, nil
	}
	if r.owner == u {
		r.owner = r.members[0]
		res.NewOwner = r.owner
	}
	return res, nil
}

// SendToAll delivers an encoded frame to every member of r whose transport
// is open, skipping except when non-nil. A failed send is logged and does
// not affect delivery to the other members.
//
// Postcondition: Returns the number of members the frame was queued for.
func (g *Registry) SendToAll(r *Room, frame []byte, except *session.User) int {
	delivered := 0
	for _, m := range r.members {
		if m == except || !m.Conn.IsOpen() {
			continue
		}
		if err := m.Conn.Send(frame); err != nil {
			g.logger.Warn("room broadcast send failed",
				zap.String("room", r.ID),
				zap.String("user", m.ID),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}

// Rooms returns every registered room in unspecified order.
func (g *Registry) Rooms() []*Room {
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out
}

// Count returns the number of registered rooms.
func (g *Registry) Count() int {
	return len(g.rooms)
}
