package gameserver

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/speeddrawer/server/internal/game/room"
	"github.com/speeddrawer/server/internal/game/session"
	"github.com/speeddrawer/server/internal/observability"
	"github.com/speeddrawer/server/internal/protocol"
)

// onFrame decodes one inbound frame and routes it. Malformed frames and
// protocol violations terminate the connection; rejected requests are
// logged and the connection stays open.
func (h *Hub) onFrame(conn session.Transport, frame []byte) {
	u, ok := h.users.Lookup(conn)
	if !ok {
		// Frames can still be queued behind the close event that removed the user.
		return
	}

	msg, err := protocol.Decode(frame)
	if err != nil {
		h.terminate(u, err)
		return
	}
	if !msg.Type().ClientOriginated() {
		h.terminate(u, fmt.Errorf("%w: client sent server notification %s", ErrProtocolViolation, msg.Type()))
		return
	}
	if !u.Initialized() && msg.Type() != protocol.TypeInitializeUser {
		h.terminate(u, fmt.Errorf("%w: %s before initialize", ErrProtocolViolation, msg.Type()))
		return
	}

	if err := h.dispatch(u, msg); err != nil {
		if errors.Is(err, ErrValidationRejected) {
			h.logger.Warn("request rejected",
				append(observability.UserFields(u),
					zap.Stringer("type", msg.Type()),
					zap.Error(err),
				)...,
			)
			return
		}
		h.terminate(u, err)
	}
}

// dispatch routes a client-originated msg to its handler.
func (h *Hub) dispatch(u *session.User, msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.InitializeUser:
		return h.initializeUser(u, m)
	case *protocol.KickUser:
		return h.kickUser(u, m)
	case *protocol.ChangeRoom:
		return h.changeRoom(u, m)
	case *protocol.GameStart:
		return h.startGame(u)
	default:
		return fmt.Errorf("%w: unhandled message type %s", ErrProtocolViolation, msg.Type())
	}
}

// validUsername reports whether name's length lies strictly between the
// configured bounds.
func (h *Hub) validUsername(name string) bool {
	n := utf8.RuneCountInString(name)
	return n > h.opts.UsernameMin && n < h.opts.UsernameMax
}

// initializeUser performs the handshake. A missing target room creates a
// new room owned by u; a target that does not exist rejects the handshake
// without creating anything, and u may retry.
func (h *Hub) initializeUser(u *session.User, m *protocol.InitializeUser) error {
	if u.Initialized() {
		return fmt.Errorf("%w: user already initialized", ErrProtocolViolation)
	}
	if !h.validUsername(m.Username) {
		h.send(u, &protocol.InitializeUserResponse{})
		return fmt.Errorf("%w: username length %d outside (%d, %d)",
			ErrValidationRejected, utf8.RuneCountInString(m.Username), h.opts.UsernameMin, h.opts.UsernameMax)
	}

	var r *room.Room
	if m.RoomID == nil {
		id := uniqueID(h.newID, func(id string) bool {
			_, taken := h.rooms.Get(id)
			return taken
		})
		created, err := h.rooms.Create(id, u)
		if err != nil {
			return err
		}
		r = created
		h.logger.Info("room created", zap.String("room", r.ID), zap.String("owner", u.ID))
	} else {
		target, ok := h.rooms.Get(*m.RoomID)
		if !ok {
			h.send(u, &protocol.InitializeUserResponse{})
			return fmt.Errorf("%w: %w: %q", ErrValidationRejected, room.ErrRoomNotFound, *m.RoomID)
		}
		if err := h.rooms.Join(u, target); err != nil {
			return err
		}
		r = target
	}

	u.Username = m.Username
	h.send(u, &protocol.InitializeUserResponse{
		Success: true,
		UserID:  protocol.String(u.ID),
		RoomID:  protocol.String(r.ID),
		Users:   r.MemberInfos(),
		OwnerID: protocol.String(r.Owner().ID),
	})
	h.broadcast(r, &protocol.UserJoinedInfo{User: u.Info()}, u)
	h.logger.Info("user joined room",
		append(observability.UserFields(u), zap.Int("members", r.Len()))...,
	)
	return nil
}

// ownedRoom resolves u's room and checks that u owns it.
func (h *Hub) ownedRoom(u *session.User) (*room.Room, error) {
	r, ok := h.rooms.RoomOf(u)
	if !ok {
		return nil, fmt.Errorf("%w: initialized user %s has no room", room.ErrIdentityInconsistency, u.ID)
	}
	if !r.IsOwner(u) {
		return nil, fmt.Errorf("%w: user %s does not own room %s", ErrValidationRejected, u.ID, r.ID)
	}
	return r, nil
}

// kickUser forcibly disconnects another member of the caller's room.
func (h *Hub) kickUser(u *session.User, m *protocol.KickUser) error {
	r, err := h.ownedRoom(u)
	if err != nil {
		return err
	}
	target, ok := h.users.ByID(m.UserID)
	if !ok || target == u || !r.Has(target) {
		return fmt.Errorf("%w: kick target %q is not another member of room %s", ErrValidationRejected, m.UserID, r.ID)
	}
	h.logger.Info("kicking user", zap.String("room", r.ID), zap.String("owner", u.ID), zap.String("target", target.ID))
	h.terminate(target, errKicked)
	return nil
}

// changeRoom updates the room's round count and notifies the other members.
func (h *Hub) changeRoom(u *session.User, m *protocol.ChangeRoom) error {
	r, err := h.ownedRoom(u)
	if err != nil {
		return err
	}
	if r.Started {
		return fmt.Errorf("%w: room %s already started", ErrValidationRejected, r.ID)
	}
	if m.RoundNumber < 1 || m.RoundNumber > h.opts.MaxRounds {
		return fmt.Errorf("%w: round number %d outside [1, %d]", ErrValidationRejected, m.RoundNumber, h.opts.MaxRounds)
	}
	r.RoundNumber = m.RoundNumber
	h.broadcast(r, &protocol.ChangeRoomInfo{RoundNumber: r.RoundNumber}, u)
	h.logger.Info("room changed", zap.String("room", r.ID), zap.Uint32("round_number", r.RoundNumber))
	return nil
}

// startGame marks the room started and notifies every member, the owner
// included.
func (h *Hub) startGame(u *session.User) error {
	r, err := h.ownedRoom(u)
	if err != nil {
		return err
	}
	if r.Started {
		return fmt.Errorf("%w: room %s already started", ErrValidationRejected, r.ID)
	}
	r.Started = true
	h.broadcast(r, &protocol.GameStartInfo{RoundNumber: r.RoundNumber}, nil)
	h.logger.Info("game started", zap.String("room", r.ID), zap.Int("members", r.Len()))
	return nil
}

// leaveRoom releases u's membership and tells the remaining members.
func (h *Hub) leaveRoom(u *session.User) {
	res, err := h.rooms.Leave(u)
	if err != nil {
		h.logger.Error("leaving room", append(observability.UserFields(u), zap.Error(err))...)
		return
	}
	if res.Removed {
		h.logger.Info("room removed", zap.String("room", res.Room.ID))
		return
	}
	left := &protocol.UserLeftInfo{UserID: u.ID}
	if res.NewOwner != nil {
		left.NewOwnerID = protocol.String(res.NewOwner.ID)
		h.logger.Info("room owner changed", zap.String("room", res.Room.ID), zap.String("owner", res.NewOwner.ID))
	}
	h.broadcast(res.Room, left, u)
}

func (h *Hub) send(u *session.User, msg protocol.Message) {
	if err := u.Conn.Send(protocol.Encode(msg)); err != nil {
		h.logger.Warn("send failed",
			append(observability.UserFields(u), zap.Stringer("type", msg.Type()), zap.Error(err))...,
		)
	}
}

func (h *Hub) broadcast(r *room.Room, msg protocol.Message, except *session.User) {
	h.rooms.SendToAll(r, protocol.Encode(msg), except)
}
