package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConn_SendQueuesUntilFull(t *testing.T) {
	c := &Conn{send: make(chan []byte, 2)}

	require.NoError(t, c.Send([]byte{1}))
	require.NoError(t, c.Send([]byte{2}))
	assert.ErrorIs(t, c.Send([]byte{3}), ErrSendBufferFull)
	assert.Equal(t, []byte{1}, <-c.send)
	assert.NoError(t, c.Send([]byte{4}))
}

func TestConn_SendAfterCloseFails(t *testing.T) {
	c := &Conn{send: make(chan []byte, 1)}
	require.NoError(t, c.Close())

	assert.False(t, c.IsOpen())
	assert.ErrorIs(t, c.Send([]byte{1}), ErrConnClosed)
	assert.ErrorIs(t, c.Ping(), ErrConnClosed)
	assert.ErrorIs(t, c.Close(), ErrConnClosed)
	assert.ErrorIs(t, c.ForceClose(), ErrConnClosed)
}

func TestConn_CloseKeepsQueuedFrames(t *testing.T) {
	c := &Conn{send: make(chan []byte, 2)}
	require.NoError(t, c.Send([]byte{1}))
	require.NoError(t, c.Close())

	frame, ok := <-c.send
	assert.True(t, ok)
	assert.Equal(t, []byte{1}, frame)
	_, ok = <-c.send
	assert.False(t, ok)
}
