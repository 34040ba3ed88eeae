// Package live is the reference presence transport: a websocket hub that
// hosts presence rooms and a client that implements presence.Channel.
package live

import (
	"errors"

	"github.com/recera/livecanvas/pkg/presence"
)

// MessageType represents the type of live protocol message
type MessageType uint8

const (
	// Frame types
	FrameHello    MessageType = 0x00 // S->C: own id and the current records
	FramePresence MessageType = 0x01 // S->C: one full record
	FrameLeave    MessageType = 0x02 // S->C: a connection left
	FrameUpdate   MessageType = 0x03 // C->S: partial update of the own record
	FrameReaction MessageType = 0x04 // both: one emitted reaction
	FrameControl  MessageType = 0x05 // both: PING, PONG, ERROR <text>
)

func (t MessageType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FramePresence:
		return "presence"
	case FrameLeave:
		return "leave"
	case FrameUpdate:
		return "update"
	case FrameReaction:
		return "reaction"
	case FrameControl:
		return "control"
	default:
		return "unknown"
	}
}

// Control messages
const (
	ControlPing  = "PING"
	ControlPong  = "PONG"
	ControlError = "ERROR"
)

var (
	// ErrClosed is returned when using a closed client.
	ErrClosed = errors.New("live: connection closed")

	// ErrSendBufferFull is reported when a frame cannot be queued.
	ErrSendBufferFull = errors.New("live: send buffer full")

	// ErrUnknownFrame is returned for frames with an unknown type byte.
	ErrUnknownFrame = errors.New("live: unknown frame type")

	// ErrRejected wraps ERROR control messages sent by the hub.
	ErrRejected = errors.New("live: rejected by server")

	errTooLarge = errors.New("live: length exceeds limit")
)

// Hello is the first frame a client receives.
type Hello struct {
	Self    presence.ConnectionID
	Records []presence.Presence
}

// Control is a decoded control frame.
type Control struct {
	Kind string
	Text string
}
