// Package config handles configuration loading, validation, and persistence
// for ladderbridge.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/energizer-project/ladderbridge/internal/maps"
	"github.com/energizer-project/ladderbridge/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultGamePort   = 5677
	DefaultStartPort  = 5690
	DefaultAPIPort    = 5600
	DefaultMap        = "InterloperLE.SC2Map"

	// EnginePortOffset is added to the game port to get the engine's port.
	EnginePortOffset = 2
)

// Config is the root configuration structure for ladderbridge.
type Config struct {
	mu   sync.RWMutex
	path string

	LadderData      LadderData      `json:"ladder_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// LadderData describes the bridged session: which engine to run, where to
// listen and what game to create.
type LadderData struct {
	// Ports
	ListenHost string `json:"listen_host" env:"LADDER_LISTEN_HOST"`
	GamePort   int    `json:"game_port" env:"LADDER_GAME_PORT"`
	StartPort  int    `json:"start_port" env:"LADDER_START_PORT"`

	// Relay-only when set; empty means this bridge hosts the game.
	LadderServer string `json:"ladder_server" env:"LADDER_SERVER"`

	// Instance type tag carried into logs, history and telemetry.
	Type string `json:"type" env:"LADDER_TYPE"`

	// Match
	Map                  string `json:"map" env:"LADDER_MAP"`
	PlayerRace           string `json:"player_race" env:"LADDER_PLAYER_RACE"`
	ComputerOpponent     bool   `json:"computer_opponent" env:"LADDER_COMPUTER_OPPONENT"`
	ComputerRace         string `json:"computer_race" env:"LADDER_COMPUTER_RACE"`
	ComputerDifficulty   string `json:"computer_difficulty" env:"LADDER_COMPUTER_DIFFICULTY"`
	AbortOnCreateFailure bool   `json:"abort_on_create_failure" env:"LADDER_ABORT_ON_CREATE_FAILURE"`

	Engine EngineConfig `json:"engine"`
}

// EngineConfig holds engine process and link settings.
type EngineConfig struct {
	Executable     string   `json:"executable" env:"LADDER_ENGINE_EXECUTABLE"`
	WorkDir        string   `json:"work_dir" env:"LADDER_ENGINE_WORK_DIR"`
	DataVersion    string   `json:"data_version" env:"LADDER_ENGINE_DATA_VERSION"`
	DisplayMode    int      `json:"display_mode" env:"LADDER_ENGINE_DISPLAY_MODE"`
	LibraryMapsDir string   `json:"library_maps_dir" env:"LADDER_LIBRARY_MAPS_DIR"`
	ExtraMapDirs   []string `json:"extra_map_dirs" env:"LADDER_EXTRA_MAP_DIRS"`

	ConnectRetryLimit      int `json:"connect_retry_limit" env:"LADDER_CONNECT_RETRY_LIMIT"`
	ConnectRetryIntervalMS int `json:"connect_retry_interval_ms" env:"LADDER_CONNECT_RETRY_INTERVAL_MS"`
	ResponseTimeoutSec     int `json:"response_timeout_sec" env:"LADDER_RESPONSE_TIMEOUT_SEC"`
}

// ApplicationData contains the bridge's own services.
type ApplicationData struct {
	API      APIConfig      `json:"api"`
	MQTT     MQTTConfig     `json:"mqtt"`
	History  HistoryConfig  `json:"history"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
	Health   HealthConfig   `json:"health"`
	Console  bool           `json:"console" env:"LADDER_CONSOLE"`
}

// APIConfig holds the control API settings.
type APIConfig struct {
	Enabled bool   `json:"enabled" env:"LADDER_API_ENABLED"`
	Host    string `json:"host" env:"LADDER_API_HOST"`
	Port    int    `json:"port" env:"LADDER_API_PORT"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled" env:"LADDER_MQTT_ENABLED"`
	BrokerURL string `json:"broker_url" env:"LADDER_MQTT_BROKER_URL"`
	Port      int    `json:"port" env:"LADDER_MQTT_PORT"`
	UseTLS    bool   `json:"use_tls" env:"LADDER_MQTT_USE_TLS"`
	CertFile  string `json:"cert_file" env:"LADDER_MQTT_CERT_FILE"`
	KeyFile   string `json:"key_file" env:"LADDER_MQTT_KEY_FILE"`
	CAFile    string `json:"ca_file" env:"LADDER_MQTT_CA_FILE"`
	ClientID  string `json:"client_id" env:"LADDER_MQTT_CLIENT_ID"`
}

// HistoryConfig holds the session history store settings.
type HistoryConfig struct {
	Enabled bool   `json:"enabled" env:"LADDER_HISTORY_ENABLED"`
	Path    string `json:"path" env:"LADDER_HISTORY_PATH"`

	// Finished sessions older than this are pruned daily. Zero keeps all.
	RetentionDays int `json:"retention_days" env:"LADDER_HISTORY_RETENTION_DAYS"`
	// Local time of day the cleanup runs, "HH:MM".
	CleanupTime string `json:"cleanup_time" env:"LADDER_HISTORY_CLEANUP_TIME"`
}

// HealthConfig holds the periodic engine and host checks.
type HealthConfig struct {
	Enabled              bool    `json:"enabled" env:"LADDER_HEALTH_ENABLED"`
	CheckIntervalSec     int     `json:"check_interval_sec" env:"LADDER_HEALTH_CHECK_INTERVAL_SEC"`
	HeartbeatIntervalSec int     `json:"heartbeat_interval_sec" env:"LADDER_HEALTH_HEARTBEAT_INTERVAL_SEC"`
	EngineMemoryWarnMB   float64 `json:"engine_memory_warn_mb" env:"LADDER_HEALTH_ENGINE_MEMORY_WARN_MB"`
	MinDiskFreeGB        uint64  `json:"min_disk_free_gb" env:"LADDER_HEALTH_MIN_DISK_FREE_GB"`
}

// SecurityConfig holds control API hardening settings.
type SecurityConfig struct {
	AllowedOrigins []string `json:"allowed_origins" env:"LADDER_ALLOWED_ORIGINS"`
	RateLimitRPS   int      `json:"rate_limit_rps" env:"LADDER_RATE_LIMIT_RPS"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" env:"LADDER_LOG_LEVEL"`
	Directory  string `json:"directory" env:"LADDER_LOG_DIR"`
	MaxBackups int    `json:"max_backups" env:"LADDER_LOG_MAX_BACKUPS"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LadderData: LadderData{
			ListenHost:           "0.0.0.0",
			GamePort:             DefaultGamePort,
			StartPort:            DefaultStartPort,
			Map:                  DefaultMap,
			PlayerRace:           "Terran",
			ComputerRace:         "Random",
			ComputerDifficulty:   "Easy",
			AbortOnCreateFailure: true,
			Engine: EngineConfig{
				ConnectRetryLimit:      60,
				ConnectRetryIntervalMS: 1000,
				ResponseTimeoutSec:     100,
			},
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    DefaultAPIPort,
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    1883,
			},
			History: HistoryConfig{
				Enabled: true,
				Path:    filepath.Join("data", "ladderbridge.db"),

				RetentionDays: 30,
				CleanupTime:   "04:00",
			},
			Security: SecurityConfig{
				RateLimitRPS: 50,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 7,
			},
			Health: HealthConfig{
				Enabled:              true,
				CheckIntervalSec:     30,
				HeartbeatIntervalSec: 60,
				EngineMemoryWarnMB:   8192,
				MinDiskFreeGB:        2,
			},
			Console: true,
		},
	}
}

// Load reads configuration from a JSON file in configDir, creating it with
// defaults on first run.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json lists options added since it was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// ApplyEnv overlays LADDER_* environment variables. Values only live in
// memory; Save does not see them unless called afterwards.
func (c *Config) ApplyEnv() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ParseEnv(c)
}

// GetLadderData returns a copy of the session configuration.
func (c *Config) GetLadderData() LadderData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LadderData
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LadderData.Engine.Executable == ""
}

// ListenAddr returns the address the ladder client connects to.
func (d LadderData) ListenAddr() string {
	return net.JoinHostPort(d.ListenHost, strconv.Itoa(d.GamePort))
}

// EnginePort returns the port the engine is told to listen on.
func (d LadderData) EnginePort() int {
	return d.GamePort + EnginePortOffset
}

// HostMode reports whether this bridge creates the game itself.
func (d LadderData) HostMode() bool {
	return d.LadderServer == ""
}

// Players returns the player list for game creation: the externally
// controlled participant, then either a computer or a second participant.
func (d LadderData) Players() ([]protocol.PlayerSetup, error) {
	race, err := protocol.ParseRace(d.PlayerRace)
	if err != nil {
		return nil, fmt.Errorf("player_race: %w", err)
	}
	players := []protocol.PlayerSetup{protocol.Participant(race)}

	if !d.ComputerOpponent {
		return append(players, protocol.Participant(race)), nil
	}

	compRace, err := protocol.ParseRace(d.ComputerRace)
	if err != nil {
		return nil, fmt.Errorf("computer_race: %w", err)
	}
	difficulty, err := protocol.ParseDifficulty(d.ComputerDifficulty)
	if err != nil {
		return nil, fmt.Errorf("computer_difficulty: %w", err)
	}
	return append(players, protocol.Computer(compRace, difficulty)), nil
}

// MapSearchRoots returns the directories probed for a local map, in order.
func (d LadderData) MapSearchRoots() []string {
	return maps.SearchRoots(d.Engine.Executable, d.Engine.LibraryMapsDir, d.Engine.ExtraMapDirs...)
}

// RetryInterval returns the connect retry interval.
func (e EngineConfig) RetryInterval() time.Duration {
	return time.Duration(e.ConnectRetryIntervalMS) * time.Millisecond
}

// ResponseTimeout returns how long the engine gets per response.
func (e EngineConfig) ResponseTimeout() time.Duration {
	return time.Duration(e.ResponseTimeoutSec) * time.Second
}
