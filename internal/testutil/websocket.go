package testutil

import (
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/speeddrawer/server/internal/protocol"
)

// WSClient is a WebSocket game client for integration testing.
type WSClient struct {
	conn *gws.Conn
	t    *testing.T
}

// NewWSClient dials the given ws:// URL and returns a test client. An
// http:// URL, as reported by httptest, is rewritten to ws://.
//
// Precondition: url must point at a listening WebSocket endpoint.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()
	start := time.Now()

	if strings.HasPrefix(url, "http") {
		url = "ws" + strings.TrimPrefix(url, "http")
	}
	dialer := gws.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", url, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("websocket client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Send encodes msg in an envelope and writes it as one binary frame.
func (c *WSClient) Send(msg protocol.Message) {
	c.t.Helper()
	c.SendRaw(protocol.Encode(msg))
}

// SendRaw writes frame as one binary message.
func (c *WSClient) SendRaw(frame []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(gws.BinaryMessage, frame); err != nil {
		c.t.Fatalf("sending frame: %v", err)
	}
}

// Expect reads the next data message and decodes it. Pings received while
// waiting are answered automatically unless IgnorePings was called.
//
// Postcondition: Returns the decoded message, or fails on timeout or error.
func (c *WSClient) Expect(timeout time.Duration) protocol.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading message: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		c.t.Fatalf("decoding message: %v", err)
	}
	return msg
}

// ReadError reads until the connection fails and returns the error.
// Data messages received in the meantime are discarded.
func (c *WSClient) ReadError(timeout time.Duration) error {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

// IgnorePings makes the client stop answering liveness probes.
func (c *WSClient) IgnorePings() {
	c.conn.SetPingHandler(func(string) error { return nil })
}

// Close sends a normal close frame and closes the socket.
func (c *WSClient) Close() {
	msg := gws.FormatCloseMessage(gws.CloseNormalClosure, "")
	_ = c.conn.WriteControl(gws.CloseMessage, msg, time.Now().Add(time.Second))
	c.conn.Close()
}
