package domain

import (
	"context"
)

// Peer represents one transport-attached chat connection
type Peer interface {
	// ID returns the opaque identifier of the connection. It is used for
	// equality and lookup only and never leaves the process.
	ID() string

	// Send queues an already encoded event for the peer. It must not block
	// on a slow peer: a full queue is reported as ErrSendBufferFull.
	Send(ctx context.Context, message []byte) error

	// CloseWith closes the connection with an application close code and
	// a human readable reason
	CloseWith(code int, reason string) error

	// Close closes the connection
	Close() error

	// Context is cancelled once the transport is gone
	Context() context.Context
}

// MessageHandler is a function that handles incoming frames
type MessageHandler func(message []byte) error
