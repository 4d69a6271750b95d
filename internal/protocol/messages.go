package protocol

import "google.golang.org/protobuf/encoding/protowire"

// Message is a typed payload record. The set of implementations is closed:
// only the nine records declared in this package satisfy it.
type Message interface {
	Type() MessageType
	appendPayload(b []byte) []byte
	unmarshalPayload(b []byte) error
}

func newMessage(t MessageType) Message {
	switch t {
	case TypeInitializeUser:
		return &InitializeUser{}
	case TypeInitializeUserResponse:
		return &InitializeUserResponse{}
	case TypeKickUser:
		return &KickUser{}
	case TypeUserJoinedInfo:
		return &UserJoinedInfo{}
	case TypeUserLeftInfo:
		return &UserLeftInfo{}
	case TypeChangeRoom:
		return &ChangeRoom{}
	case TypeChangeRoomInfo:
		return &ChangeRoomInfo{}
	case TypeGameStart:
		return &GameStart{}
	case TypeGameStartInfo:
		return &GameStartInfo{}
	default:
		return nil
	}
}

// UserInfo identifies a room member.
type UserInfo struct {
	ID       string
	Username string
}

func (u UserInfo) appendTo(b []byte) []byte {
	b = appendString(b, 1, u.ID)
	return appendString(b, 2, u.Username)
}

func (u *UserInfo) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var (
			n   int
			err error
		)
		switch num {
		case 1:
			u.ID, n, err = consumeString(num, typ, b)
		case 2:
			u.Username, n, err = consumeString(num, typ, b)
		default:
			return skipField(num, typ, b)
		}
		return n, err
	})
}

// InitializeUser is the handshake a client must send before anything else.
// A nil RoomID asks the server to create a fresh room.
type InitializeUser struct {
	Username string
	RoomID   *string
}

func (*InitializeUser) Type() MessageType { return TypeInitializeUser }

func (m *InitializeUser) appendPayload(b []byte) []byte {
	b = appendString(b, 1, m.Username)
	return appendOptionalString(b, 2, m.RoomID)
}

func (m *InitializeUser) unmarshalPayload(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(num, typ, b)
			m.Username = s
			return n, err
		case 2:
			s, n, err := consumeString(num, typ, b)
			m.RoomID = &s
			return n, err
		default:
			return skipField(num, typ, b)
		}
	})
}

// InitializeUserResponse answers InitializeUser. On rejection Success is
// false and every identifier is absent.
type InitializeUserResponse struct {
	Success bool
	UserID  *string
	RoomID  *string
	Users   []UserInfo
	OwnerID *string
}

func (*InitializeUserResponse) Type() MessageType { return TypeInitializeUserResponse }

func (m *InitializeUserResponse) appendPayload(b []byte) []byte {
	b = appendBool(b, 1, m.Success)
	b = appendOptionalString(b, 2, m.UserID)
	b = appendOptionalString(b, 3, m.RoomID)
	for _, u := range m.Users {
		b = appendMessage(b, 4, u.appendTo(nil))
	}
	return appendOptionalString(b, 5, m.OwnerID)
}

func (m *InitializeUserResponse) unmarshalPayload(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(num, typ, b)
			m.Success = protowire.DecodeBool(v)
			return n, err
		case 2:
			s, n, err := consumeString(num, typ, b)
			m.UserID = &s
			return n, err
		case 3:
			s, n, err := consumeString(num, typ, b)
			m.RoomID = &s
			return n, err
		case 4:
			body, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			var u UserInfo
			if err := u.unmarshal(body); err != nil {
				return 0, err
			}
			m.Users = append(m.Users, u)
			return n, nil
		case 5:
			s, n, err := consumeString(num, typ, b)
			m.OwnerID = &s
			return n, err
		default:
			return skipField(num, typ, b)
		}
	})
}

// KickUser asks the server to disconnect another member of the caller's room.
type KickUser struct {
	UserID string
}

func (*KickUser) Type() MessageType { return TypeKickUser }

func (m *KickUser) appendPayload(b []byte) []byte {
	return appendString(b, 1, m.UserID)
}

func (m *KickUser) unmarshalPayload(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skipField(num, typ, b)
		}
		s, n, err := consumeString(num, typ, b)
		m.UserID = s
		return n, err
	})
}

// UserJoinedInfo notifies room members that User joined.
type UserJoinedInfo struct {
	User UserInfo
}

func (*UserJoinedInfo) Type() MessageType { return TypeUserJoinedInfo }

func (m *UserJoinedInfo) appendPayload(b []byte) []byte {
	return appendMessage(b, 1, m.User.appendTo(nil))
}

func (m *UserJoinedInfo) unmarshalPayload(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skipField(num, typ, b)
		}
		body, n, err := consumeBytes(num, typ, b)
		if err != nil {
			return 0, err
		}
		if err := m.User.unmarshal(body); err != nil {
			return 0, err
		}
		return n, nil
	})
}

// UserLeftInfo notifies room members that a user left. NewOwnerID is set
// only when the departure moved ownership.
type UserLeftInfo struct {
	UserID     string
	NewOwnerID *string
}

func (*UserLeftInfo) Type() MessageType { return TypeUserLeftInfo }

func (m *UserLeftInfo) appendPayload(b []byte) []byte {
	b = appendString(b, 1, m.UserID)
	return appendOptionalString(b, 2, m.NewOwnerID)
}

func (m *UserLeftInfo) unmarshalPayload(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(num, typ, b)
			m.UserID = s
			return n, err
		case 2:
			s, n, err := consumeString(num, typ, b)
			m.NewOwnerID = &s
			return n, err
		default:
			return skipField(num, typ, b)
		}
	})
}

// ChangeRoom is the owner's room configuration update.
type ChangeRoom struct {
	RoundNumber uint32
}

func (*ChangeRoom) Type() MessageType { return TypeChangeRoom }

func (m *ChangeRoom) appendPayload(b []byte) []byte {
	return appendUint32(b, 1, m.RoundNumber)
}

func (m *ChangeRoom) unmarshalPayload(data []byte) error {
	return unmarshalRoundNumber(data, &m.RoundNumber)
}

// ChangeRoomInfo notifies members of a new room configuration.
type ChangeRoomInfo struct {
	RoundNumber uint32
}

func (*ChangeRoomInfo) Type() MessageType { return TypeChangeRoomInfo }

func (m *ChangeRoomInfo) appendPayload(b []byte) []byte {
	return appendUint32(b, 1, m.RoundNumber)
}

func (m *ChangeRoomInfo) unmarshalPayload(data []byte) error {
	return unmarshalRoundNumber(data, &m.RoundNumber)
}

// GameStart is the owner's request to start the game. It has no fields.
type GameStart struct{}

func (*GameStart) Type() MessageType { return TypeGameStart }

func (*GameStart) appendPayload(b []byte) []byte { return b }

func (*GameStart) unmarshalPayload(data []byte) error {
	return walkFields(data, skipField)
}

// GameStartInfo notifies every member that the game started.
type GameStartInfo struct {
	RoundNumber uint32
}

func (*GameStartInfo) Type() MessageType { return TypeGameStartInfo }

func (m *GameStartInfo) appendPayload(b []byte) []byte {
	return appendUint32(b, 1, m.RoundNumber)
}

func (m *GameStartInfo) unmarshalPayload(data []byte) error {
	return unmarshalRoundNumber(data, &m.RoundNumber)
}

func unmarshalRoundNumber(data []byte, dst *uint32) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skipField(num, typ, b)
		}
		v, n, err := consumeUint32(num, typ, b)
		*dst = v
		return n, err
	})
}
