package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/energizer-project/ladderbridge/internal/protocol"
	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateLadderData(&cfg.LadderData, result)
	validateApplicationData(&cfg.ApplicationData, &cfg.LadderData, result)

	return result
}

func validateLadderData(data *LadderData, result *ValidationResult) {
	// The engine port sits two above the game port and must stay in range.
	validatePort(data.GamePort, "ladder_data.game_port", result)
	if data.EnginePort() > 65535 {
		result.AddError("ladder_data.game_port",
			fmt.Sprintf("engine port %d (game port + %d) is out of range", data.EnginePort(), EnginePortOffset))
	}
	if data.StartPort != 0 {
		validatePort(data.StartPort, "ladder_data.start_port", result)
	}
	if data.GamePort > 0 && data.GamePort <= 65535 && !IsPortAvailable(data.GamePort) {
		result.AddWarning("ladder_data.game_port",
			fmt.Sprintf("game port %d is already in use", data.GamePort))
	}

	exe := strings.TrimSpace(data.Engine.Executable)
	if exe == "" {
		result.AddError("ladder_data.engine.executable", "engine executable is required")
	} else if info, err := os.Stat(exe); err != nil {
		result.AddWarning("ladder_data.engine.executable",
			fmt.Sprintf("executable does not exist: %s", exe))
	} else if info.IsDir() {
		result.AddError("ladder_data.engine.executable",
			fmt.Sprintf("executable is a directory: %s", exe))
	}

	if strings.TrimSpace(data.Map) == "" {
		result.AddError("ladder_data.map", "map is required")
	}

	if _, err := protocol.ParseRace(data.PlayerRace); err != nil {
		result.AddError("ladder_data.player_race", err.Error())
	}
	if data.ComputerOpponent {
		if _, err := protocol.ParseRace(data.ComputerRace); err != nil {
			result.AddError("ladder_data.computer_race", err.Error())
		}
		if _, err := protocol.ParseDifficulty(data.ComputerDifficulty); err != nil {
			result.AddError("ladder_data.computer_difficulty", err.Error())
		}
		if !data.HostMode() {
			result.AddWarning("ladder_data.computer_opponent",
				"computer opponent is ignored when relaying for a ladder server")
		}
	}

	if data.Engine.ConnectRetryLimit < 1 {
		result.AddError("ladder_data.engine.connect_retry_limit", "must allow at least 1 attempt")
	}
	if data.Engine.ConnectRetryIntervalMS <= 0 {
		result.AddError("ladder_data.engine.connect_retry_interval_ms", "retry interval must be positive")
	}
	if data.Engine.ResponseTimeoutSec <= 0 {
		result.AddError("ladder_data.engine.response_timeout_sec", "response timeout must be positive")
	}
	if data.Engine.DisplayMode != 0 && data.Engine.DisplayMode != 1 {
		result.AddWarning("ladder_data.engine.display_mode",
			fmt.Sprintf("unexpected display mode %d (0 windowed, 1 fullscreen)", data.Engine.DisplayMode))
	}
}

func validateApplicationData(data *ApplicationData, ladder *LadderData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if data.API.Port == ladder.GamePort || data.API.Port == ladder.EnginePort() {
			result.AddError("application_data.api.port",
				fmt.Sprintf("port %d conflicts with the game or engine port", data.API.Port))
		}
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if data.History.Enabled && strings.TrimSpace(data.History.Path) == "" {
		result.AddError("application_data.history.path", "history path is required when enabled")
	}

	if data.History.Enabled && data.History.CleanupTime != "" {
		if _, err := time.Parse("15:04", data.History.CleanupTime); err != nil {
			result.AddError("application_data.history.cleanup_time",
				fmt.Sprintf("invalid cleanup time %q (want HH:MM)", data.History.CleanupTime))
		}
	}
	if data.History.RetentionDays < 0 {
		result.AddError("application_data.history.retention_days", "retention must not be negative")
	}

	if data.Health.Enabled && data.Health.CheckIntervalSec < 1 {
		result.AddError("application_data.health.check_interval_sec", "check interval must be at least 1 second")
	}

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS)")
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(data.Logging.Level)); err != nil {
		result.AddWarning("application_data.logging.level",
			fmt.Sprintf("unknown log level %q, falling back to info", data.Logging.Level))
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
