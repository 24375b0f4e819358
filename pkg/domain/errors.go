package domain

import (
	"github.com/HMasataka/relay/pkg/errors"
)

// Application close codes, see RFC 6455 section 7.4.2 (4000-4999 is private use)
const (
	CloseNameTaken       = 4000
	CloseReasonNameTaken = "Username already in use."
)

// Error codes
const (
	CodeNameTaken         = "NAME_TAKEN"
	CodeEmptyName         = "EMPTY_NAME"
	CodeAlreadyRegistered = "ALREADY_REGISTERED"
	CodeMalformedEvent    = "MALFORMED_EVENT"
	CodeUnknownEvent      = "UNKNOWN_EVENT"
	CodePeerClosed        = "PEER_CLOSED"
	CodeSendBufferFull    = "SEND_BUFFER_FULL"
	CodePeerSendFailed    = "PEER_SEND_FAILED"
	CodeHubStopped        = "HUB_STOPPED"
)

var (
	// ErrNameTaken is returned when another connection already holds the name
	ErrNameTaken = errors.New(errors.ErrorTypeConflict, CodeNameTaken, "username already in use")

	// ErrEmptyName is returned when admitting a connection without a name
	ErrEmptyName = errors.New(errors.ErrorTypeValidation, CodeEmptyName, "display name is empty")

	// ErrAlreadyRegistered is returned when a registered connection asks for a name again
	ErrAlreadyRegistered = errors.New(errors.ErrorTypeConflict, CodeAlreadyRegistered, "connection is already registered")

	// ErrMalformedEvent is returned for payloads that cannot be decoded or validated
	ErrMalformedEvent = errors.New(errors.ErrorTypeValidation, CodeMalformedEvent, "malformed event")

	// ErrUnknownEvent is returned when no handler exists for an event type
	ErrUnknownEvent = errors.New(errors.ErrorTypeProtocol, CodeUnknownEvent, "unknown event type")

	// ErrPeerClosed is returned when sending to a closed connection
	ErrPeerClosed = errors.New(errors.ErrorTypeTransport, CodePeerClosed, "connection closed")

	// ErrSendBufferFull is returned when a peer's outbound queue is full
	ErrSendBufferFull = errors.New(errors.ErrorTypeTransport, CodeSendBufferFull, "send buffer is full")

	// ErrPeerSendFailed wraps a per-recipient delivery failure during a broadcast
	ErrPeerSendFailed = errors.New(errors.ErrorTypeTransport, CodePeerSendFailed, "failed to deliver to peer")

	// ErrHubStopped is returned when broadcasting through a stopped hub
	ErrHubStopped = errors.New(errors.ErrorTypeInternal, CodeHubStopped, "hub stopped")
)
