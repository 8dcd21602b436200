// Package protocol implements the length-prefixed wire protocol spoken
// between the lobby server and game clients. Each frame is a 4-byte
// big-endian payload length followed by a JSON object; every message
// carries a "command" field identifying its purpose. The framing is
// symmetric for client->server and server->client traffic.
package protocol

// Message is a single decoded protocol message: a string-keyed mapping
// whose values are strings, numbers, booleans, or nested lists/mappings
// of the same.
type Message map[string]any

// Known command values.
const (
	CommandHello       = "hello"
	CommandAskSession  = "ask_session"
	CommandSession     = "session"
	CommandWelcome     = "welcome"
	CommandNotice      = "notice"
	CommandGameInfo    = "game_info"
	CommandGameHost    = "game_host"
	CommandGameJoin    = "game_join"
	CommandGameLaunch  = "game_launch"
	CommandMatchmaking = "game_matchmaking"
	CommandModInfo     = "mod_info"
	CommandQuit        = "quit"
)

// MaxMessageSize is the maximum allowed size for a single frame payload.
const MaxMessageSize = 512 * 1024

// LengthPrefixSize is the size of the frame length prefix in bytes.
const LengthPrefixSize = 4

// Command returns the message's command field, or "" if absent or not
// a string.
func (m Message) Command() string {
	cmd, _ := m["command"].(string)
	return cmd
}

// String returns the string value for key, or "" if absent.
func (m Message) String(key string) string {
	v, _ := m[key].(string)
	return v
}

// Int returns the integer value for key. JSON numbers decode as float64,
// so both numeric forms are accepted.
func (m Message) Int(key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Bool returns the boolean value for key, or false if absent.
func (m Message) Bool(key string) bool {
	v, _ := m[key].(bool)
	return v
}

// Notice builds a server notice message of the given style.
func Notice(style, text string) Message {
	return Message{
		"command": CommandNotice,
		"style":   style,
		"text":    text,
	}
}

// ErrorNotice builds an error-style notice.
func ErrorNotice(text string) Message {
	return Notice("error", text)
}
