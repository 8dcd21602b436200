package config

import "fmt"

// Issue describes a single validation problem.
type Issue struct {
	Field   string
	Message string
}

// ValidationResult aggregates validation errors and warnings.
type ValidationResult struct {
	Errors   []Issue
	Warnings []Issue
}

// IsValid returns true if no errors were found.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) addError(field, message string) {
	r.Errors = append(r.Errors, Issue{Field: field, Message: message})
}

func (r *ValidationResult) addWarning(field, message string) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Message: message})
}

// Validate checks the configuration for invalid or suspicious values.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	checkPort := func(field string, port int) {
		if port < 1 || port > 65535 {
			result.addError(field, fmt.Sprintf("port %d out of range 1-65535", port))
		}
	}

	checkPort("lobby.lobby_port", cfg.Lobby.Port)
	checkPort("lobby.game_port", cfg.Lobby.GamePort)
	checkPort("control.port", cfg.Control.Port)

	if cfg.Lobby.Port == cfg.Lobby.GamePort {
		result.addError("lobby.game_port", "lobby and game ports must differ")
	}

	if cfg.Database.Path == "" {
		result.addError("database.path", "database path must not be empty")
	}

	if cfg.Lobby.OutboundQueueSize < 1 {
		result.addError("lobby.outbound_queue_size", "outbound queue size must be at least 1")
	}

	if cfg.Timers.DirtyBroadcastInterval < 1 {
		result.addWarning("timers.dirty_broadcast_interval_sec",
			"broadcast interval below 1s, using 1s")
	}

	if cfg.MQTT.Enabled && cfg.MQTT.BrokerURL == "" {
		result.addError("mqtt.broker_url", "MQTT enabled but no broker URL configured")
	}

	return result
}
