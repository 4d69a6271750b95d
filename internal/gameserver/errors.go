package gameserver

import "errors"

var (
	// ErrProtocolViolation reports a message that is not allowed in the
	// sender's current state: anything before the handshake, a second
	// handshake, or a server-only notification sent by a client. It is
	// fatal to the connection.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrValidationRejected reports a well-formed request that cannot be
	// honored. The connection stays open.
	ErrValidationRejected = errors.New("validation rejected")

	errLivenessTimeout = errors.New("liveness timeout")
	errKicked          = errors.New("kicked by room owner")
	errShutdown        = errors.New("server shutting down")
)
