// Package websocket is the player-facing transport: it upgrades HTTP
// requests to WebSocket connections and feeds their frames to a
// SessionHandler.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/speeddrawer/server/internal/config"
	"github.com/speeddrawer/server/internal/game/session"
)

// SessionHandler receives connection lifecycle events. Every method must be
// safe for concurrent use; calls for one connection arrive in order, with
// Connect first and Disconnect last.
type SessionHandler interface {
	Connect(conn session.Transport)
	Receive(conn session.Transport, frame []byte)
	Acknowledge(conn session.Transport)
	Disconnect(conn session.Transport)
}

// Acceptor serves WebSocket upgrades on an HTTP listener and dispatches
// each connection to a SessionHandler.
type Acceptor struct {
	cfg      config.WebSocketConfig
	handler  SessionHandler
	logger   *zap.Logger
	upgrader gws.Upgrader

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	conns    map[*Conn]struct{}
}

// NewAcceptor creates a WebSocket acceptor with the given configuration.
//
// Precondition: cfg must have passed Validate; handler and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.WebSocketConfig, handler SessionHandler, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		upgrader: gws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Game clients are served from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		quit:  make(chan struct{}),
		conns: make(map[*Conn]struct{}),
	}
}

// ListenAndServe starts the HTTP listener and serves upgrades until Stop is
// called. This method blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Path, a)

	a.mu.Lock()
	a.listener = listener
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	srv := a.server
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket: %w", err)
	}
	return nil
}

// ServeHTTP upgrades one request and runs the connection until it closes.
func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	conn := NewConn(ws, a.cfg.SendBuffer, a.cfg.WriteTimeout)
	if !a.track(conn) {
		_ = conn.ForceClose()
		return
	}
	defer a.untrack(conn)

	start := time.Now()
	a.handler.Connect(conn)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		conn.writePump()
	}()

	if err := conn.readPump(a.handler, a.cfg.ReadLimit); err != nil {
		a.logger.Debug("connection ended",
			zap.String("remote_addr", conn.RemoteAddr()),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		a.logger.Info("connection ended cleanly",
			zap.String("remote_addr", conn.RemoteAddr()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (a *Acceptor) track(c *Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.quit:
		return false
	default:
	}
	a.conns[c] = struct{}{}
	a.wg.Add(1)
	return true
}

func (a *Acceptor) untrack(c *Conn) {
	a.mu.Lock()
	delete(a.conns, c)
	a.mu.Unlock()
	a.wg.Done()
}

// Stop stops accepting upgrades, force closes every open connection, and
// waits for all pumps to exit.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	select {
	case <-a.quit:
		a.mu.Unlock()
		return
	default:
	}
	close(a.quit)
	srv := a.server
	open := make([]*Conn, 0, len(a.conns))
	for c := range a.conns {
		open = append(open, c)
	}
	a.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("websocket server shutdown", zap.Error(err))
		}
		cancel()
	}
	for _, c := range open {
		_ = c.ForceClose()
	}
	a.wg.Wait()

	a.logger.Info("websocket acceptor stopped", zap.Int("closed", len(open)))
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}
