// Package events defines the lobby server's publish-subscribe event
// system, used to decouple session handling from telemetry and admin
// tooling.
package events

// EventType identifies the kind of event emitted through the Bus.
type EventType string

const (
	// Player lifecycle
	EventPlayerLogin  EventType = "player_login"
	EventPlayerLogout EventType = "player_logout"

	// Game lifecycle
	EventGameHosted EventType = "game_hosted"
	EventGameEnded  EventType = "game_ended"
	EventMatchMade  EventType = "match_made"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// Event is a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// PlayerPayload accompanies player login/logout events.
type PlayerPayload struct {
	PlayerID int
	Login    string
	Address  string
}

// GamePayload accompanies game lifecycle events.
type GamePayload struct {
	GameID    int
	GameUUID  string
	Mode      string
	MapName   string
	HostLogin string
}

// MatchPayload accompanies match_made events.
type MatchPayload struct {
	GameID  int
	Player1 string
	Player2 string
}
