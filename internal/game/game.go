// Package game manages hosted game sessions: lifecycle state, team
// assignments, per-mode containers, and the dirty set that drives
// lobby broadcasts.
package game

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// State is a game's lifecycle state.
type State int

const (
	StateLobbyOpen State = iota
	StateLobbyClosed
	StateLive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateLobbyOpen:
		return "open"
	case StateLobbyClosed:
		return "closed"
	case StateLive:
		return "playing"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Visibility controls whether a game appears publicly joinable.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// legal lifecycle transitions
var transitions = map[State][]State{
	StateLobbyOpen:   {StateLobbyClosed, StateLive, StateEnded},
	StateLobbyClosed: {StateLive, StateEnded},
	StateLive:        {StateEnded},
	StateEnded:       {},
}

// InvalidTransitionError is returned when a lifecycle transition is not
// allowed from the game's current state.
type InvalidTransitionError struct {
	GameID int
	From   State
	To     State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("game %d: invalid transition %s -> %s", e.GameID, e.From, e.To)
}

// Game is one hosted game session. Metadata mutation is owned by the
// hosting player's session; the registry serializes shared access.
type Game struct {
	ID       int
	UUID     string
	Name     string
	Mode     string
	MapName  string
	GameType string

	HostID    int
	HostLogin string

	Visibility Visibility
	Password   string
	Listable   bool

	state State

	// Teams maps team number to an ordered list of member player ids.
	Teams map[int][]int

	CreatedAt    time.Time
	LastActivity time.Time
}

func newGame(id int, mode, name, mapName string, hostID int, hostLogin string, now time.Time) *Game {
	gameUUID, _ := uuid.NewV4()
	return &Game{
		ID:           id,
		UUID:         gameUUID.String(),
		Name:         name,
		Mode:         mode,
		MapName:      mapName,
		GameType:     "custom",
		HostID:       hostID,
		HostLogin:    hostLogin,
		Visibility:   VisibilityPublic,
		Listable:     true,
		state:        StateLobbyOpen,
		Teams:        make(map[int][]int),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// State returns the current lifecycle state.
func (g *Game) State() State {
	return g.state
}

// TransitionTo moves the game to a new lifecycle state, rejecting
// transitions the lifecycle does not allow.
func (g *Game) TransitionTo(to State) error {
	for _, allowed := range transitions[g.state] {
		if allowed == to {
			g.state = to
			return nil
		}
	}
	return &InvalidTransitionError{GameID: g.ID, From: g.state, To: to}
}

// Touch records activity so the stale sweep leaves the game alone.
func (g *Game) Touch(now time.Time) {
	g.LastActivity = now
}

// AddPlayer appends a player to a team. Joining twice is a no-op.
func (g *Game) AddPlayer(playerID, team int) {
	for _, members := range g.Teams {
		for _, id := range members {
			if id == playerID {
				return
			}
		}
	}
	g.Teams[team] = append(g.Teams[team], playerID)
}

// RemovePlayer takes a player out of the team assignment. Returns true
// if the player was a member.
func (g *Game) RemovePlayer(playerID int) bool {
	for team, members := range g.Teams {
		for i, id := range members {
			if id == playerID {
				g.Teams[team] = append(members[:i], members[i+1:]...)
				if len(g.Teams[team]) == 0 {
					delete(g.Teams, team)
				}
				return true
			}
		}
	}
	return false
}

// PlayerCount returns the number of players across all teams.
func (g *Game) PlayerCount() int {
	n := 0
	for _, members := range g.Teams {
		n += len(members)
	}
	return n
}

// Players returns the ids of all players across teams.
func (g *Game) Players() []int {
	var out []int
	for _, members := range g.Teams {
		out = append(out, members...)
	}
	return out
}

// HasPlayer reports whether a player is in the team assignment.
func (g *Game) HasPlayer(playerID int) bool {
	for _, members := range g.Teams {
		for _, id := range members {
			if id == playerID {
				return true
			}
		}
	}
	return false
}

// RenderInfo flattens the game into the wire shape used by game_info
// broadcasts. Empty teams are never rendered.
func (g *Game) RenderInfo() map[string]any {
	teams := make(map[string][]int)
	for team, members := range g.Teams {
		if len(members) == 0 {
			continue
		}
		teams[strconv.Itoa(team)] = append([]int(nil), members...)
	}

	return map[string]any{
		"id":           g.ID,
		"uuid":         g.UUID,
		"title":        g.Name,
		"state":        g.state.String(),
		"featured_mod": g.Mode,
		"mapname":      strings.ToLower(g.MapName),
		"host":         g.HostLogin,
		"num_players":  g.PlayerCount(),
		"game_type":    g.GameType,
		"visibility":   string(g.Visibility),
		"teams":        teams,
	}
}
