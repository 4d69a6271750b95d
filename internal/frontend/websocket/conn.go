package websocket

import (
	"errors"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
)

var (
	// ErrConnClosed is returned by operations on a connection that has
	// already been closed by either side.
	ErrConnClosed = errors.New("websocket connection closed")
	// ErrSendBufferFull is returned by Send when the peer is not draining
	// outbound frames fast enough.
	ErrSendBufferFull = errors.New("websocket send buffer full")
)

// Conn adapts a gorilla WebSocket connection to session.Transport.
//
// Outbound data frames are queued on a buffered channel and written by a
// single writer goroutine; probes and close frames go out as control frames,
// which gorilla allows concurrently with the writer.
type Conn struct {
	ws           *gws.Conn
	send         chan []byte
	writeTimeout time.Duration
	addr         string

	mu       sync.Mutex
	closed   bool
	graceful bool
}

// NewConn wraps an upgraded WebSocket connection.
//
// Precondition: ws must be an open connection; sendBuffer must be positive.
// Postcondition: Returns an open Conn. Its pumps are not yet running.
func NewConn(ws *gws.Conn, sendBuffer int, writeTimeout time.Duration) *Conn {
	return &Conn{
		ws:           ws,
		send:         make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		addr:         ws.RemoteAddr().String(),
	}
}

// Send queues one binary frame for delivery.
//
// Postcondition: Returns ErrConnClosed after close, or ErrSendBufferFull
// when the queue is saturated. The frame is dropped in both cases.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Ping writes a WebSocket ping control frame. The peer's pong is reported
// through SessionHandler.Acknowledge.
func (c *Conn) Ping() error {
	if !c.IsOpen() {
		return ErrConnClosed
	}
	return c.ws.WriteControl(gws.PingMessage, nil, c.deadline())
}

// Close flushes queued frames and then sends a normal close frame.
func (c *Conn) Close() error {
	return c.shutdown(true)
}

// ForceClose drops queued frames and closes the socket without a close
// handshake.
func (c *Conn) ForceClose() error {
	return c.shutdown(false)
}

// IsOpen reports whether neither side has closed the connection.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// RemoteAddr returns the peer address captured at upgrade time.
func (c *Conn) RemoteAddr() string {
	return c.addr
}

func (c *Conn) shutdown(graceful bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.closed = true
	c.graceful = graceful
	close(c.send)
	c.mu.Unlock()

	if graceful {
		return nil
	}
	return c.ws.Close()
}

func (c *Conn) deadline() time.Time {
	return time.Now().Add(c.writeTimeout)
}

// writePump is the only goroutine that writes data frames.
func (c *Conn) writePump() {
	for frame := range c.send {
		_ = c.ws.SetWriteDeadline(c.deadline())
		if err := c.ws.WriteMessage(gws.BinaryMessage, frame); err != nil {
			_ = c.shutdown(false)
			return
		}
	}

	c.mu.Lock()
	graceful := c.graceful
	c.mu.Unlock()
	if !graceful {
		return
	}
	msg := gws.FormatCloseMessage(gws.CloseNormalClosure, "")
	if err := c.ws.WriteControl(gws.CloseMessage, msg, c.deadline()); err != nil {
		_ = c.ws.Close()
		return
	}
	// Bound the wait for the peer's close reply.
	_ = c.ws.SetReadDeadline(c.deadline())
}

// readPump delivers inbound frames to h until the connection fails or is
// closed, then reports the disconnect exactly once.
func (c *Conn) readPump(h SessionHandler, readLimit int64) error {
	defer func() {
		_ = c.shutdown(false)
		_ = c.ws.Close()
		h.Disconnect(c)
	}()

	if readLimit > 0 {
		c.ws.SetReadLimit(readLimit)
	}
	c.ws.SetPongHandler(func(string) error {
		h.Acknowledge(c)
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) {
				return nil
			}
			return err
		}
		h.Receive(c, data)
	}
}
