// Package presence defines the per-participant presence record shared across a
// canvas session and the channel contract used to read and publish it.
//
// A record is owned by exactly one connection. Only the owner publishes
// updates for it; every other participant only reads it.
package presence

import (
	"errors"
	"fmt"
)

// ConnectionID identifies one participant connection for its whole lifetime.
type ConnectionID int

// Point is a position in canvas-local coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%g,%g)", p.X, p.Y)
}

// Presence is the shared record of one participant.
type Presence struct {
	ConnectionID ConnectionID `json:"connectionId"`
	Cursor       *Point       `json:"cursor,omitempty"`
	Message      *string      `json:"message,omitempty"`
}

// Clone returns a deep copy so callers can hand out records without sharing
// the pointed-to cursor or message.
func (p Presence) Clone() Presence {
	out := Presence{ConnectionID: p.ConnectionID}
	if p.Cursor != nil {
		c := *p.Cursor
		out.Cursor = &c
	}
	if p.Message != nil {
		m := *p.Message
		out.Message = &m
	}
	return out
}

// MessageText returns the message or "" when absent.
func (p Presence) MessageText() string {
	if p.Message == nil {
		return ""
	}
	return *p.Message
}

// Reaction is a single emitted reaction broadcast to the room.
type Reaction struct {
	From  ConnectionID `json:"from"`
	Glyph string       `json:"glyph"`
	Point Point        `json:"point"`
}

var (
	// ErrForeignWrite is returned when a connection tries to publish into a
	// record it does not own.
	ErrForeignWrite = errors.New("presence: write to a record owned by another connection")

	// ErrLeft is returned when publishing through a member that already left.
	ErrLeft = errors.New("presence: connection has left the room")
)

// Channel is the presence capability consumed by a participant.
type Channel interface {
	// Self returns the last known own record.
	Self() Presence

	// Update merges u into the own record and publishes it. It does not wait
	// for delivery.
	Update(u Update)

	// SubscribeOthers registers fn to receive the full list of other
	// participants whenever any of them changes. The returned function
	// removes the subscription.
	SubscribeOthers(fn func(others []Presence)) (unsubscribe func())
}

// ErrorReporter is implemented by channels that can fail to publish.
type ErrorReporter interface {
	Errors() <-chan error
}

// Broadcaster is implemented by channels that relay reactions to the room.
type Broadcaster interface {
	BroadcastReaction(r Reaction)
	SubscribeReactions(fn func(Reaction)) (unsubscribe func())
}
