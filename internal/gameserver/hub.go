// Package gameserver runs the speeddrawer session layer: a single event loop
// that owns the session directory and room registry, decodes inbound frames,
// dispatches them, and fans notifications out to room members.
package gameserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/speeddrawer/server/internal/config"
	"github.com/speeddrawer/server/internal/game/room"
	"github.com/speeddrawer/server/internal/game/session"
	"github.com/speeddrawer/server/internal/heartbeat"
	"github.com/speeddrawer/server/internal/observability"
)

// Options holds the rules the Hub enforces.
type Options struct {
	// UsernameMin and UsernameMax are exclusive bounds on username length
	// in characters.
	UsernameMin int
	UsernameMax int
	// DefaultRounds is the round count of a new room.
	DefaultRounds uint32
	// MaxRounds caps CHANGE_ROOM.
	MaxRounds uint32
	// HeartbeatInterval is the liveness sweep period.
	HeartbeatInterval time.Duration
	// InboxSize is the capacity of the event queue shared by all connections.
	InboxSize int
}

// DefaultOptions returns the rules used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		UsernameMin:       2,
		UsernameMax:       20,
		DefaultRounds:     3,
		MaxRounds:         10,
		HeartbeatInterval: heartbeat.DefaultInterval,
		InboxSize:         1024,
	}
}

// OptionsFromConfig derives Options from the loaded configuration.
//
// Precondition: cfg must have passed Validate.
func OptionsFromConfig(cfg config.Config) Options {
	opts := DefaultOptions()
	opts.UsernameMin = cfg.Game.UsernameMin
	opts.UsernameMax = cfg.Game.UsernameMax
	opts.DefaultRounds = uint32(cfg.Game.DefaultRounds)
	opts.MaxRounds = uint32(cfg.Game.MaxRounds)
	opts.HeartbeatInterval = cfg.Heartbeat.Interval
	return opts
}

// Stats is a point-in-time view of the Hub's tables.
type Stats struct {
	Users int
	Rooms int
}

type eventKind int

const (
	evConnect eventKind = iota
	evFrame
	evPong
	evClose
	evStats
)

type event struct {
	kind  eventKind
	conn  session.Transport
	frame []byte
	reply chan<- Stats
}

// Hub is the dispatch loop. The session directory and room registry are
// touched only from the goroutine running Run, so every handler runs to
// completion without interleaving with any other mutation.
//
// Connect, Receive, Acknowledge, Disconnect, and Stats are safe for
// concurrent use by transport goroutines; they only enqueue events.
type Hub struct {
	opts    Options
	users   *session.Directory
	rooms   *room.Registry
	monitor *heartbeat.Monitor
	newID   func() string
	logger  *zap.Logger

	inbox    chan event
	done     chan struct{}
	doneOnce sync.Once
}

// NewHub creates a Hub with empty tables.
//
// Precondition: clock and logger must be non-nil. A nil newID uses ShortID.
// Postcondition: Returns a Hub ready for Run.
func NewHub(opts Options, clock heartbeat.Clock, newID func() string, logger *zap.Logger) *Hub {
	if newID == nil {
		newID = ShortID
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultOptions().InboxSize
	}
	return &Hub{
		opts:    opts,
		users:   session.NewDirectory(),
		rooms:   room.NewRegistry(opts.DefaultRounds, logger),
		monitor: heartbeat.NewMonitor(opts.HeartbeatInterval, clock, logger),
		newID:   newID,
		logger:  logger,
		inbox:   make(chan event, opts.InboxSize),
		done:    make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled. On return every remaining
// connection has been terminated and the heartbeat timer cancelled.
//
// Precondition: Run must be called at most once.
func (h *Hub) Run(ctx context.Context) error {
	ticks := h.monitor.Start()
	defer h.shutdown()

	h.logger.Info("hub running")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.inbox:
			h.handle(ev)
		case <-ticks:
			h.sweep()
		}
	}
}

func (h *Hub) shutdown() {
	h.monitor.Stop()
	h.doneOnce.Do(func() { close(h.done) })
	users := h.users.Users()
	rooms := h.rooms.Count()
	for _, u := range users {
		h.terminate(u, errShutdown)
	}
	h.logger.Info("hub stopped", zap.Int("terminated", len(users)), zap.Int("rooms", rooms))
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) post(ev event) {
	select {
	case h.inbox <- ev:
	case <-h.done:
	}
}

// Connect registers a newly accepted connection.
func (h *Hub) Connect(conn session.Transport) {
	h.post(event{kind: evConnect, conn: conn})
}

// Receive delivers one inbound frame from conn.
func (h *Hub) Receive(conn session.Transport, frame []byte) {
	h.post(event{kind: evFrame, conn: conn, frame: frame})
}

// Acknowledge records a liveness probe acknowledgment from conn.
func (h *Hub) Acknowledge(conn session.Transport) {
	h.post(event{kind: evPong, conn: conn})
}

// Disconnect reports that conn closed.
func (h *Hub) Disconnect(conn session.Transport) {
	h.post(event{kind: evClose, conn: conn})
}

// Stats returns the current table sizes, read on the event loop.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.inbox <- event{kind: evStats, reply: reply}:
	case <-h.done:
		return Stats{}, errShutdown
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-h.done:
		return Stats{}, errShutdown
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (h *Hub) handle(ev event) {
	switch ev.kind {
	case evConnect:
		h.onConnect(ev.conn)
	case evFrame:
		h.onFrame(ev.conn, ev.frame)
	case evPong:
		h.onPong(ev.conn)
	case evClose:
		h.onClose(ev.conn)
	case evStats:
		ev.reply <- Stats{Users: h.users.Count(), Rooms: h.rooms.Count()}
	}
}

func (h *Hub) onConnect(conn session.Transport) {
	id := uniqueID(h.newID, func(id string) bool {
		_, taken := h.users.ByID(id)
		return taken
	})
	u, err := h.users.Add(id, conn)
	if err != nil {
		h.logger.Error("registering connection", zap.String("remote_addr", conn.RemoteAddr()), zap.Error(err))
		_ = conn.ForceClose()
		return
	}
	h.logger.Info("user connected", observability.UserFields(u)...)
}

func (h *Hub) onPong(conn session.Transport) {
	if u, ok := h.users.Lookup(conn); ok {
		heartbeat.Acknowledge(u)
	}
}

func (h *Hub) onClose(conn session.Transport) {
	if u, ok := h.users.Lookup(conn); ok {
		h.terminate(u, nil)
	}
}

func (h *Hub) sweep() {
	res := h.monitor.Sweep(h.users.Users(), func(u *session.User) {
		h.terminate(u, errLivenessTimeout)
	})
	h.logger.Debug("heartbeat sweep",
		zap.Int("probed", res.Probed),
		zap.Int("evicted", res.Evicted),
	)
}

// terminate is the single exit path for a connection. It releases room
// membership, emitting the departure notification, removes the user from
// the directory, and closes the transport. A nil cause means the peer
// closed the connection itself.
//
// Postcondition: u is absent from the directory and from every room.
// Calling terminate again for the same user has no effect.
func (h *Hub) terminate(u *session.User, cause error) {
	if cur, ok := h.users.Lookup(u.Conn); !ok || cur != u {
		return
	}

	fields := observability.UserFields(u)
	switch {
	case cause == nil:
		h.logger.Info("user disconnected", fields...)
	case errors.Is(cause, room.ErrIdentityInconsistency):
		h.logger.Error("terminating user", append(fields, zap.Error(cause))...)
	default:
		h.logger.Info("terminating user", append(fields, zap.Error(cause))...)
	}

	if u.InRoom() {
		h.leaveRoom(u)
	}
	h.users.Remove(u.Conn)

	var err error
	if cause == nil {
		err = u.Conn.Close()
	} else {
		err = u.Conn.ForceClose()
	}
	if err != nil {
		h.logger.Debug("closing transport", zap.String("user", u.ID), zap.Error(err))
	}
}
