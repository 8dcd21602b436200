// Package player tracks authenticated players and their lobby state.
package player

import (
	"github.com/Cheyans/server/internal/protocol"
	"github.com/Cheyans/server/internal/store"
)

// State describes what a player is currently doing.
type State int

const (
	StateIdle State = iota
	StateHosting
	StateJoining
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHosting:
		return "hosting"
	case StateJoining:
		return "joining"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Session is the transport-side handle a player is attached to. The
// lobby session type implements it; registries only need to push
// messages and force disconnects.
type Session interface {
	// Send queues a message for delivery. Non-blocking; returns false
	// if the session's outbound queue is full or closed.
	Send(msg protocol.Message) bool

	// Close tears the connection down. Safe to call more than once.
	Close()

	// RemoteAddr returns the peer address string.
	RemoteAddr() string
}

// Player is an authenticated player attached to a live session.
type Player struct {
	ID    int
	Login string

	// Network identity used to correlate UDP traversal packets with
	// this player's TCP session.
	IP           string
	GamePort     int
	SessionToken string

	Ratings store.Ratings

	State State

	// CurrentGameID is the id of the game the player is hosting or has
	// joined, or 0 when idle. Game lifetime is owned by the game
	// registry; this is only a reference.
	CurrentGameID int

	Session Session
}

// New builds a player from an authenticated account record.
func New(rec *store.PlayerRecord, ratings *store.Ratings, session Session) *Player {
	p := &Player{
		ID:      rec.ID,
		Login:   rec.Login,
		State:   StateIdle,
		Session: session,
	}
	if ratings != nil {
		p.Ratings = *ratings
	}
	return p
}
