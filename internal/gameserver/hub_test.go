package gameserver

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/speeddrawer/server/internal/game/room"
	"github.com/speeddrawer/server/internal/game/session"
	"github.com/speeddrawer/server/internal/protocol"
	"github.com/speeddrawer/server/internal/testutil"
)

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func newTestHub(t testing.TB, logger *zap.Logger) (*Hub, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock()
	return NewHub(DefaultOptions(), clock, sequentialIDs("id"), logger), clock
}

// connect registers a fresh fake transport and returns it with its user.
func connect(t testing.TB, h *Hub) (*testutil.FakeTransport, *session.User) {
	t.Helper()
	conn := testutil.NewFakeTransport()
	h.onConnect(conn)
	u, ok := h.users.Lookup(conn)
	require.True(t, ok)
	return conn, u
}

func initialize(h *Hub, conn *testutil.FakeTransport, name string, roomID *string) *protocol.InitializeUserResponse {
	conn.Reset()
	h.onFrame(conn, protocol.Encode(&protocol.InitializeUser{Username: name, RoomID: roomID}))
	for _, msg := range conn.Messages() {
		if resp, ok := msg.(*protocol.InitializeUserResponse); ok {
			return resp
		}
	}
	return nil
}

// joined connects a user and completes the handshake into roomID, or into a
// new room when roomID is nil.
func joined(t testing.TB, h *Hub, name string, roomID *string) (*testutil.FakeTransport, *session.User) {
	t.Helper()
	conn, u := connect(t, h)
	resp := initialize(h, conn, name, roomID)
	require.NotNil(t, resp)
	require.True(t, resp.Success)
	return conn, u
}

func assertTerminated(t *testing.T, h *Hub, conn *testutil.FakeTransport) {
	t.Helper()
	_, ok := h.users.Lookup(conn)
	assert.False(t, ok, "user still registered")
	assert.True(t, conn.ForceClosed(), "transport not force closed")
}

func TestHub_ConnectAssignsUniqueIDs(t *testing.T) {
	clock := testutil.NewManualClock()
	h := NewHub(DefaultOptions(), clock, func() string { return "same" }, zaptest.NewLogger(t))
	_, a := connect(t, h)
	_, b := connect(t, h)
	assert.Equal(t, "same", a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, a.Alive)
	assert.False(t, a.Initialized())
}

func TestHub_InitializeCreatesRoom(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	conn, u := connect(t, h)

	resp := initialize(h, conn, "alice", nil)
	require.NotNil(t, resp)
	assert.True(t, resp.Success)
	assert.Equal(t, u.ID, *resp.UserID)
	require.NotNil(t, resp.RoomID)
	assert.Equal(t, u.ID, *resp.OwnerID)
	assert.Equal(t, []protocol.UserInfo{{ID: u.ID, Username: "alice"}}, resp.Users)

	r, ok := h.rooms.Get(*resp.RoomID)
	require.True(t, ok)
	assert.Same(t, u, r.Owner())
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, uint32(3), r.RoundNumber)
}

func TestHub_UsernameBoundaries(t *testing.T) {
	cases := []struct {
		name     string
		accepted bool
	}{
		{"ab", false},
		{strings.Repeat("x", 20), false},
		{"", false},
		{"abc", true},
		{strings.Repeat("x", 19), true},
		{"äöü", true},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%q", tc.name), func(t *testing.T) {
			h, _ := newTestHub(t, zaptest.NewLogger(t))
			conn, u := connect(t, h)
			resp := initialize(h, conn, tc.name, nil)
			require.NotNil(t, resp)
			assert.Equal(t, tc.accepted, resp.Success)
			assert.Equal(t, tc.accepted, u.Initialized())
			if !tc.accepted {
				assert.Nil(t, resp.UserID)
				assert.Nil(t, resp.RoomID)
				assert.Nil(t, resp.OwnerID)
				assert.Empty(t, resp.Users)
				assert.Equal(t, 0, h.rooms.Count())
			}
			assert.True(t, conn.IsOpen())
		})
	}
}

func TestHub_RejectedHandshakeCanRetry(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	conn, u := connect(t, h)

	resp := initialize(h, conn, "ab", nil)
	require.False(t, resp.Success)
	resp = initialize(h, conn, "abc", nil)
	require.True(t, resp.Success)
	assert.True(t, u.Initialized())
}

func TestHub_JoinExistingRoom(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	connA, a := joined(t, h, "alice", nil)
	connA.Reset()

	connB, b := connect(t, h)
	resp := initialize(h, connB, "bob", protocol.String(a.RoomID))
	require.True(t, resp.Success)
	assert.Equal(t, a.RoomID, *resp.RoomID)
	assert.Equal(t, a.ID, *resp.OwnerID)
	assert.Equal(t, []protocol.UserInfo{
		{ID: a.ID, Username: "alice"},
		{ID: b.ID, Username: "bob"},
	}, resp.Users)

	require.Len(t, connA.Messages(), 1)
	assert.Equal(t, &protocol.UserJoinedInfo{User: protocol.UserInfo{ID: b.ID, Username: "bob"}}, connA.Last())
}

func TestHub_JoinMissingRoomFailsHandshake(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	conn, u := connect(t, h)

	resp := initialize(h, conn, "alice", protocol.String("nowhere"))
	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	assert.Nil(t, resp.RoomID)
	assert.False(t, u.Initialized())
	assert.False(t, u.InRoom())
	assert.Equal(t, 0, h.rooms.Count(), "no fallback room")
	assert.True(t, conn.IsOpen())
}

func TestHub_MessageBeforeInitializeTerminates(t *testing.T) {
	for _, msg := range []protocol.Message{
		&protocol.KickUser{UserID: "x"},
		&protocol.ChangeRoom{RoundNumber: 2},
		&protocol.GameStart{},
	} {
		t.Run(msg.Type().String(), func(t *testing.T) {
			h, _ := newTestHub(t, zaptest.NewLogger(t))
			conn, _ := connect(t, h)
			h.onFrame(conn, protocol.Encode(msg))
			assertTerminated(t, h, conn)
		})
	}
}

func TestHub_MalformedFrameTerminates(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	connA, a := joined(t, h, "alice", nil)
	connB, _ := joined(t, h, "bob", protocol.String(a.RoomID))
	connB.Reset()

	h.onFrame(connA, []byte{0xff, 0xff, 0xff})
	assertTerminated(t, h, connA)

	left, ok := connB.Last().(*protocol.UserLeftInfo)
	require.True(t, ok)
	assert.Equal(t, a.ID, left.UserID)
}

func TestHub_SecondInitializeTerminates(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	conn, _ := joined(t, h, "alice", nil)
	h.onFrame(conn, protocol.Encode(&protocol.InitializeUser{Username: "alice2"}))
	assertTerminated(t, h, conn)
	assert.Equal(t, 0, h.rooms.Count())
}

func TestHub_ServerNotificationFromClientTerminates(t *testing.T) {
	for _, msg := range []protocol.Message{
		&protocol.InitializeUserResponse{Success: true},
		&protocol.UserJoinedInfo{},
		&protocol.UserLeftInfo{UserID: "x"},
		&protocol.ChangeRoomInfo{RoundNumber: 1},
		&protocol.GameStartInfo{RoundNumber: 1},
	} {
		t.Run(msg.Type().String(), func(t *testing.T) {
			h, _ := newTestHub(t, zaptest.NewLogger(t))
			conn, _ := joined(t, h, "alice", nil)
			h.onFrame(conn, protocol.Encode(msg))
			assertTerminated(t, h, conn)
		})
	}
}

func TestHub_OwnerSuccessionOnDisconnect(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	connA, a := joined(t, h, "alice", nil)
	connB, b := joined(t, h, "bob", protocol.String(a.RoomID))
	connC, c := joined(t, h, "carol", protocol.String(a.RoomID))
	connB.Reset()
	connC.Reset()

	h.onClose(connA)

	r, ok := h.rooms.Get(b.RoomID)
	require.True(t, ok)
	assert.Same(t, b, r.Owner())
	assert.Equal(t, []*session.User{b, c}, r.Members())
	assert.False(t, connA.ForceClosed(), "peer-initiated close is graceful")

	want := &protocol.UserLeftInfo{UserID: a.ID, NewOwnerID: protocol.String(b.ID)}
	assert.Equal(t, want, connB.Last())
	assert.Equal(t, want, connC.Last())
}

func TestHub_NonOwnerLeaveHasNoNewOwner(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	connA, a := joined(t, h, "alice", nil)
	connB, b := joined(t, h, "bob", protocol.String(a.RoomID))
	connA.Reset()

	h.onClose(connB)
	assert.Equal(t, &protocol.UserLeftInfo{UserID: b.ID}, connA.Last())
}

func TestHub_EmptyRoomRemoved(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	connA, a := joined(t, h, "alice", nil)
	roomID := a.RoomID

	h.onClose(connA)
	_, ok := h.rooms.Get(roomID)
	assert.False(t, ok)
	assert.Equal(t, 0, h.users.Count())
}

func TestHub_CloseIsIdempotent(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	conn, _ := joined(t, h, "alice", nil)
	h.onClose(conn)
	h.onClose(conn)
	h.onFrame(conn, protocol.Encode(&protocol.GameStart{}))
	h.onPong(conn)
	assert.Equal(t, 0, h.users.Count())
}

func TestHub_KickByNonOwnerHasNoEffect(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	_, a := joined(t, h, "alice", nil)
	connB, _ := joined(t, h, "bob", protocol.String(a.RoomID))
	connC, c := joined(t, h, "carol", protocol.String(a.RoomID))

	h.onFrame(connB, protocol.Encode(&protocol.KickUser{UserID: c.ID}))

	assert.True(t, connB.IsOpen())
	assert.True(t, connC.IsOpen())
	r, _ := h.rooms.Get(a.RoomID)
	assert.Equal(t, 3, r.Len())
}

func TestHub_KickByOwner(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	connA, a := joined(t, h, "alice", nil)
	connB, b := joined(t, h, "bob", protocol.String(a.RoomID))
	connC, _ := joined(t, h, "carol", protocol.String(a.RoomID))
	connA.Reset()
	connC.Reset()

	h.onFrame(connA, protocol.Encode(&protocol.KickUser{UserID: b.ID}))

	assertTerminated(t, h, connB)
	r, _ := h.rooms.Get(a.RoomID)
	assert.Equal(t, 2, r.Len())
	assert.Same(t, a, r.Owner())
	assert.Equal(t, &protocol.UserLeftInfo{UserID: b.ID}, connA.Last())
	assert.Equal(t, &protocol.UserLeftInfo{UserID: b.ID}, connC.Last())
}

func TestHub_KickRejections(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	connA, a := joined(t, h, "alice", nil)
	connX, x := joined(t, h, "xavier", nil)

	for _, target := range []string{a.ID, x.ID, "missing"} {
		h.onFrame(connA, protocol.Encode(&protocol.KickUser{UserID: target}))
	}

	assert.True(t, connA.IsOpen())
	assert.True(t, connX.IsOpen())
	assert.Equal(t, 2, h.users.Count())
	assert.Equal(t, 2, h.rooms.Count())
}

func TestHub_KickSoleMemberThenOwnerLeavesRemovesRoom(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	connA, a := joined(t, h, "alice", nil)
	_, b := joined(t, h, "bob", protocol.String(a.RoomID))
	roomID := a.RoomID

	h.onFrame(connA, protocol.Encode(&protocol.KickUser{UserID: b.ID}))
	h.onClose(connA)
	_, ok := h.rooms.Get(roomID)
	assert.False(t, ok)
}

func TestHub_ChangeRoom(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	connA, a := joined(t, h, "alice", nil)
	connB, _ := joined(t, h, "bob", protocol.String(a.RoomID))
	connA.Reset()
	connB.Reset()

	h.onFrame(connA, protocol.Encode(&protocol.ChangeRoom{RoundNumber: 7}))

	r, _ := h.rooms.Get(a.RoomID)
	assert.Equal(t, uint32(7), r.RoundNumber)
	assert.Equal(t, &protocol.ChangeRoomInfo{RoundNumber: 7}, connB.Last())
	assert.Empty(t, connA.Frames(), "owner is not notified of its own change")
}

func TestHub_ChangeRoomRejections(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	connA, a := joined(t, h, "alice", nil)
	connB, _ := joined(t, h, "bob", protocol.String(a.RoomID))
	r, _ := h.rooms.Get(a.RoomID)

	h.onFrame(connB, protocol.Encode(&protocol.ChangeRoom{RoundNumber: 5}))
	h.onFrame(connA, protocol.Encode(&protocol.ChangeRoom{RoundNumber: 0}))
	h.onFrame(connA, protocol.Encode(&protocol.ChangeRoom{RoundNumber: 11}))
	assert.Equal(t, uint32(3), r.RoundNumber)

	h.onFrame(connA, protocol.Encode(&protocol.GameStart{}))
	h.onFrame(connA, protocol.Encode(&protocol.ChangeRoom{RoundNumber: 5}))
	assert.Equal(t, uint32(3), r.RoundNumber)
	assert.True(t, connA.IsOpen())
	assert.True(t, connB.IsOpen())
}

func TestHub_GameStart(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	connA, a := joined(t, h, "alice", nil)
	connB, _ := joined(t, h, "bob", protocol.String(a.RoomID))
	connA.Reset()
	connB.Reset()

	h.onFrame(connB, protocol.Encode(&protocol.GameStart{}))
	assert.Empty(t, connA.Frames(), "non-owner start ignored")

	h.onFrame(connA, protocol.Encode(&protocol.GameStart{}))
	r, _ := h.rooms.Get(a.RoomID)
	assert.True(t, r.Started)
	assert.Equal(t, &protocol.GameStartInfo{RoundNumber: 3}, connA.Last())
	assert.Equal(t, &protocol.GameStartInfo{RoundNumber: 3}, connB.Last())

	connA.Reset()
	h.onFrame(connA, protocol.Encode(&protocol.GameStart{}))
	assert.Empty(t, connA.Frames(), "second start ignored")
}

func TestHub_BroadcastSurvivesFailingMember(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	connA, a := joined(t, h, "alice", nil)
	connB, _ := joined(t, h, "bob", protocol.String(a.RoomID))
	connC, _ := joined(t, h, "carol", protocol.String(a.RoomID))
	connB.SetFailSends(true)
	connC.Reset()

	h.onFrame(connA, protocol.Encode(&protocol.GameStart{}))
	assert.Equal(t, &protocol.GameStartInfo{RoundNumber: 3}, connC.Last())
	assert.True(t, connB.IsOpen(), "send failure is not a disconnect")
}

func TestHub_IdentityInconsistencyForceDisconnects(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h, _ := newTestHub(t, zap.New(core))
	connA, a := joined(t, h, "alice", nil)
	roomID := a.RoomID
	a.RoomID = "ghost"

	h.onFrame(connA, protocol.Encode(&protocol.ChangeRoom{RoundNumber: 5}))

	assertTerminated(t, h, connA)
	terminating := logs.FilterMessage("terminating user").All()
	require.Len(t, terminating, 1)
	err, ok := terminating[0].ContextMap()["error"].(string)
	require.True(t, ok)
	assert.Contains(t, err, room.ErrIdentityInconsistency.Error())
	assert.Len(t, logs.FilterMessage("leaving room").All(), 1)

	// The corrupted membership is reported, not repaired: the real room keeps
	// its stale member.
	r, ok := h.rooms.Get(roomID)
	require.True(t, ok)
	assert.True(t, r.Has(a))
	assert.Equal(t, uint32(3), r.RoundNumber)
}

func TestHub_HeartbeatEviction(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	connA, a := joined(t, h, "alice", nil)
	connB, b := joined(t, h, "bob", protocol.String(a.RoomID))
	connB.Reset()

	h.sweep()
	assert.Equal(t, 1, connA.Pings())
	assert.False(t, a.Alive)
	h.onPong(connB)
	assert.True(t, b.Alive)

	h.sweep()
	assertTerminated(t, h, connA)
	r, ok := h.rooms.Get(b.RoomID)
	require.True(t, ok)
	assert.Same(t, b, r.Owner())
	assert.Equal(t, &protocol.UserLeftInfo{UserID: a.ID, NewOwnerID: protocol.String(b.ID)}, connB.Last())
	_, ok = h.users.Lookup(connB)
	assert.True(t, ok)
}

func TestHub_HeartbeatEvictsUninitializedUser(t *testing.T) {
	h, _ := newTestHub(t, zaptest.NewLogger(t))
	conn, _ := connect(t, h)
	h.sweep()
	_, ok := h.users.Lookup(conn)
	assert.True(t, ok, "one missed probe only marks the user")
	h.sweep()
	assertTerminated(t, h, conn)
}

func TestHub_Run(t *testing.T) {
	h, clock := newTestHub(t, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	silent := testutil.NewFakeTransport()
	h.Connect(silent)
	h.Receive(silent, protocol.Encode(&protocol.InitializeUser{Username: "alice"}))

	responsive := testutil.NewFakeTransport()
	h.Connect(responsive)

	require.Eventually(t, func() bool {
		s, err := h.Stats(ctx)
		return err == nil && s.Users == 2 && s.Rooms == 1
	}, time.Second, 5*time.Millisecond)

	clock.Advance()
	require.Eventually(t, func() bool { return silent.Pings() == 1 && responsive.Pings() == 1 }, time.Second, 5*time.Millisecond)
	h.Acknowledge(responsive)
	// Stats queues behind the acknowledgment, so it returns once the pong is applied.
	_, err := h.Stats(ctx)
	require.NoError(t, err)
	clock.Advance()

	require.Eventually(t, func() bool {
		s, err := h.Stats(ctx)
		return err == nil && s.Users == 1 && s.Rooms == 0
	}, time.Second, 5*time.Millisecond)
	assert.True(t, silent.ForceClosed())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, responsive.ForceClosed(), "shutdown terminates remaining users")
	assert.Equal(t, 1, clock.Stops())

	_, err = h.Stats(context.Background())
	assert.Error(t, err)
	// Posting after shutdown must not block.
	h.Disconnect(responsive)
}

func checkHubInvariants(t require.TestingT, h *Hub) {
	for _, r := range h.rooms.Rooms() {
		require.GreaterOrEqual(t, r.Len(), 1)
		require.True(t, r.Has(r.Owner()))
		for _, m := range r.Members() {
			cur, ok := h.users.ByID(m.ID)
			require.True(t, ok, "room member %s not in directory", m.ID)
			require.Same(t, m, cur)
		}
	}
	for _, u := range h.users.Users() {
		if u.Initialized() {
			r, ok := h.rooms.RoomOf(u)
			require.True(t, ok, "initialized user %s has no room", u.ID)
			require.True(t, r.Has(u))
		} else {
			require.False(t, u.InRoom())
		}
	}
}

func TestHub_Invariants_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := NewHub(DefaultOptions(), testutil.NewManualClock(), sequentialIDs("id"), zap.NewNop())
		var conns []*testutil.FakeTransport
		pick := func() *testutil.FakeTransport {
			return rapid.SampledFrom(conns).Draw(rt, "conn")
		}
		steps := rapid.IntRange(1, 80).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.IntRange(0, 7).Draw(rt, "op")
			if len(conns) == 0 {
				op = 0
			}
			switch op {
			case 0:
				c := testutil.NewFakeTransport()
				h.onConnect(c)
				conns = append(conns, c)
			case 1:
				var roomID *string
				if rooms := h.rooms.Rooms(); len(rooms) > 0 && rapid.Bool().Draw(rt, "join") {
					ids := make([]string, 0, len(rooms))
					for _, r := range rooms {
						ids = append(ids, r.ID)
					}
					slices.Sort(ids)
					roomID = protocol.String(rapid.SampledFrom(ids).Draw(rt, "room"))
				}
				name := rapid.StringMatching(`[a-z]{1,22}`).Draw(rt, "name")
				h.onFrame(pick(), protocol.Encode(&protocol.InitializeUser{Username: name, RoomID: roomID}))
			case 2:
				h.onClose(pick())
			case 3:
				target := pick()
				if u, ok := h.users.Lookup(target); ok {
					h.onFrame(pick(), protocol.Encode(&protocol.KickUser{UserID: u.ID}))
				}
			case 4:
				h.sweep()
			case 5:
				h.onPong(pick())
			case 6:
				h.onFrame(pick(), protocol.Encode(&protocol.ChangeRoom{RoundNumber: rapid.Uint32Range(0, 12).Draw(rt, "rounds")}))
			case 7:
				h.onFrame(pick(), protocol.Encode(&protocol.GameStart{}))
			}
			checkHubInvariants(rt, h)
		}
	})
}
