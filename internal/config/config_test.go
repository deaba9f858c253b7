package config

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/energizer-project/ladderbridge/internal/protocol"
	"github.com/spf13/pflag"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LadderData.GamePort != DefaultGamePort {
		t.Errorf("GamePort = %d, want %d", cfg.LadderData.GamePort, DefaultGamePort)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Errorf("expected config file to be written: %v", err)
	}
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFile)
	if err := os.WriteFile(path, []byte(`{"ladder_data":{"game_port":6000,"map":"Acropolis LE"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LadderData.GamePort != 6000 || cfg.LadderData.Map != "Acropolis LE" {
		t.Errorf("unexpected ladder data %+v", cfg.LadderData)
	}
	if cfg.LadderData.Engine.ConnectRetryLimit != 60 {
		t.Errorf("expected default retry limit to survive, got %d", cfg.LadderData.Engine.ConnectRetryLimit)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "connect_retry_limit") {
		t.Error("expected re-saved config to contain new default fields")
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644)
	if _, err := Load(dir); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LADDER_GAME_PORT", "7000")
	t.Setenv("LADDER_ENGINE_EXECUTABLE", "/opt/sc2/SC2_x64")
	t.Setenv("LADDER_EXTRA_MAP_DIRS", "/maps/a,/maps/b")
	t.Setenv("LADDER_MQTT_ENABLED", "true")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	d := cfg.LadderData
	if d.GamePort != 7000 {
		t.Errorf("GamePort = %d, want 7000", d.GamePort)
	}
	if d.Engine.Executable != "/opt/sc2/SC2_x64" {
		t.Errorf("Executable = %q", d.Engine.Executable)
	}
	if len(d.Engine.ExtraMapDirs) != 2 || d.Engine.ExtraMapDirs[1] != "/maps/b" {
		t.Errorf("ExtraMapDirs = %v", d.Engine.ExtraMapDirs)
	}
	if !cfg.ApplicationData.MQTT.Enabled {
		t.Error("expected MQTT to be enabled")
	}
	if d.Map != DefaultMap {
		t.Errorf("unset variable changed Map to %q", d.Map)
	}
}

func TestApplyEnvInvalidValue(t *testing.T) {
	t.Setenv("LADDER_GAME_PORT", "not-a-number")
	err := DefaultConfig().ApplyEnv()
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Errorf("expected parse env error, got %v", err)
	}
}

func TestFlagsApplyOnlyChanged(t *testing.T) {
	var flags Flags
	fs := pflag.NewFlagSet("ladderbridge", pflag.ContinueOnError)
	flags.AddFlags(fs)

	err := fs.Parse([]string{"-g", "5000", "-c", "--ComputerRace", "zerg", "-d", "VeryHard", "-t", "ranked"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg := DefaultConfig()
	cfg.LadderData.Map = "Custom.SC2Map"
	flags.Apply(fs, cfg)

	d := cfg.LadderData
	if d.GamePort != 5000 || d.EnginePort() != 5002 {
		t.Errorf("ports = %d/%d, want 5000/5002", d.GamePort, d.EnginePort())
	}
	if !d.ComputerOpponent || d.ComputerRace != "zerg" || d.ComputerDifficulty != "VeryHard" {
		t.Errorf("unexpected computer settings %+v", d)
	}
	if d.Type != "ranked" {
		t.Errorf("Type = %q", d.Type)
	}
	if d.Map != "Custom.SC2Map" {
		t.Errorf("unset flag overwrote Map: %q", d.Map)
	}
	if d.StartPort != DefaultStartPort {
		t.Errorf("unset flag overwrote StartPort: %d", d.StartPort)
	}
}

func TestPlayers(t *testing.T) {
	d := DefaultConfig().LadderData

	players, err := d.Players()
	if err != nil {
		t.Fatal(err)
	}
	want := []protocol.PlayerSetup{protocol.Participant(protocol.RaceTerran), protocol.Participant(protocol.RaceTerran)}
	if len(players) != 2 || players[0] != want[0] || players[1] != want[1] {
		t.Errorf("Players = %v, want %v", players, want)
	}

	d.ComputerOpponent = true
	d.ComputerRace = "Protoss"
	d.ComputerDifficulty = "Hard"
	players, err = d.Players()
	if err != nil {
		t.Fatal(err)
	}
	if players[1] != protocol.Computer(protocol.RaceProtoss, protocol.DifficultyHard) {
		t.Errorf("computer = %v", players[1])
	}

	d.ComputerRace = "Murloc"
	if _, err := d.Players(); err == nil {
		t.Error("expected error for unknown race")
	}
}

func TestValidate(t *testing.T) {
	exe := filepath.Join(t.TempDir(), "SC2_x64")
	os.WriteFile(exe, []byte("#!/bin/sh\n"), 0755)

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing executable", func(c *Config) { c.LadderData.Engine.Executable = "" }, "ladder_data.engine.executable"},
		{"game port too high", func(c *Config) { c.LadderData.GamePort = 65534 }, "ladder_data.game_port"},
		{"bad race", func(c *Config) { c.LadderData.PlayerRace = "Human" }, "ladder_data.player_race"},
		{"bad difficulty", func(c *Config) {
			c.LadderData.ComputerOpponent = true
			c.LadderData.ComputerDifficulty = "Impossible"
		}, "ladder_data.computer_difficulty"},
		{"ladder difficulty name", func(c *Config) {
			c.LadderData.ComputerOpponent = true
			c.LadderData.ComputerDifficulty = "HardVeryHard"
		}, ""},
		{"no retries", func(c *Config) { c.LadderData.Engine.ConnectRetryLimit = 0 }, "ladder_data.engine.connect_retry_limit"},
		{"api port clash", func(c *Config) { c.ApplicationData.API.Port = c.LadderData.EnginePort() }, "application_data.api.port"},
		{"mqtt without broker", func(c *Config) { c.ApplicationData.MQTT.Enabled = true }, "application_data.mqtt.broker_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.LadderData.Engine.Executable = exe
			tt.mutate(cfg)

			result := Validate(cfg)
			if tt.wantField == "" {
				if !result.IsValid() {
					t.Errorf("expected valid config, got %v", result.Errors)
				}
				return
			}
			found := false
			for _, e := range result.Errors {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.wantField, result.Errors)
			}
		})
	}
}

func TestValidateWarnsOnMissingExecutable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LadderData.Engine.Executable = filepath.Join(t.TempDir(), "nope")

	result := Validate(cfg)
	if !result.IsValid() {
		t.Fatalf("expected only warnings, got errors %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning for the missing executable")
	}
}

func TestValidateWarnsOnBusyGamePort(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := DefaultConfig()
	cfg.LadderData.GamePort = ln.Addr().(*net.TCPAddr).Port

	result := Validate(cfg)
	found := false
	for _, w := range result.Warnings {
		if w.Field == "ladder_data.game_port" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a busy port warning, got %v", result.Warnings)
	}
}

func TestRunSetupWizard(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "SC2_x64")
	os.WriteFile(exe, []byte("#!/bin/sh\n"), 0755)

	cfg := DefaultConfig()
	cfg.path = filepath.Join(dir, "config", DefaultConfigFile)

	// executable, data version, game port, start port, map, player race,
	// computer opponent, computer race, computer difficulty, mqtt
	answers := strings.Join([]string{
		exe, "", "6100", "", "", "Zerg", "yes", "Terran", "Harder", "no",
	}, "\n") + "\n"

	if err := RunSetupWizard(cfg, strings.NewReader(answers)); err != nil {
		t.Fatalf("RunSetupWizard: %v", err)
	}

	d := cfg.GetLadderData()
	if d.Engine.Executable != exe || d.GamePort != 6100 || d.PlayerRace != "Zerg" {
		t.Errorf("unexpected ladder data %+v", d)
	}
	if !d.ComputerOpponent || d.ComputerDifficulty != "Harder" {
		t.Errorf("unexpected computer settings %+v", d)
	}
	if cfg.IsFirstRun() {
		t.Error("expected IsFirstRun to be false after setup")
	}
	if _, err := os.Stat(cfg.Path()); err != nil {
		t.Errorf("expected config to be saved: %v", err)
	}
}
