// Package heartbeat detects unresponsive connections with periodic liveness
// probes.
//
// Every sweep clears each user's Alive flag and probes it; an acknowledgment
// sets the flag again. A user found with the flag still cleared at the next
// sweep is evicted. One missed interval therefore only marks a user suspect:
// eviction happens on the second consecutive sweep without an acknowledgment.
package heartbeat

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/speeddrawer/server/internal/game/session"
)

// DefaultInterval is the sweep period used when none is configured.
const DefaultInterval = 5 * time.Second

// Clock produces periodic ticks. It exists so tests can drive sweeps
// without waiting on the wall clock.
type Clock interface {
	// Tick returns a channel that receives once per d, and a function that
	// releases the underlying timer.
	Tick(d time.Duration) (<-chan time.Time, func())
}

type wallClock struct{}

// WallClock returns a Clock backed by time.Ticker.
func WallClock() Clock { return wallClock{} }

func (wallClock) Tick(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Probed  int
	Evicted int
}

// Monitor owns the heartbeat timer and the sweep rule. It does not own the
// users it sweeps; the caller passes them in from its session directory.
type Monitor struct {
	interval time.Duration
	clock    Clock
	logger   *zap.Logger

	mu      sync.Mutex
	stopFn  func()
	stopped bool
}

// NewMonitor creates a stopped Monitor.
//
// Precondition: clock and logger must be non-nil. A non-positive interval is
// replaced by DefaultInterval.
func NewMonitor(interval time.Duration, clock Clock, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{interval: interval, clock: clock, logger: logger}
}

// Start arms the timer and returns the tick channel. The caller runs Sweep
// on every receive.
//
// Precondition: Start must be called at most once.
func (m *Monitor) Start() <-chan time.Time {
	ch, stop := m.clock.Tick(m.interval)
	m.mu.Lock()
	m.stopFn = stop
	m.mu.Unlock()
	m.logger.Info("heartbeat monitor started", zap.Duration("interval", m.interval))
	return ch
}

// Stop cancels the timer. Only the first call has an effect.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	if m.stopFn != nil {
		m.stopFn()
	}
	m.logger.Info("heartbeat monitor stopped")
}

// Sweep visits every user once, in the order given. A user whose Alive flag
// is still cleared from the previous sweep is passed to terminate; every
// other user has its flag cleared and is probed.
//
// Postcondition: every surviving user has Alive == false and one probe queued.
func (m *Monitor) Sweep(users []*session.User, terminate func(*session.User)) SweepResult {
	var res SweepResult
	for _, u := range users {
		if !u.Alive {
			m.logger.Info("liveness timeout",
				zap.String("user", u.ID),
				zap.String("remote_addr", u.Conn.RemoteAddr()),
			)
			terminate(u)
			res.Evicted++
			continue
		}
		u.Alive = false
		if err := u.Conn.Ping(); err != nil {
			m.logger.Debug("liveness probe failed",
				zap.String("user", u.ID),
				zap.Error(err),
			)
		}
		res.Probed++
	}
	return res
}

// Acknowledge records a probe acknowledgment from u.
func Acknowledge(u *session.User) {
	u.Alive = true
}
