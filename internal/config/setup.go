package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard asks for the settings a first run cannot guess and saves
// them. It reads answers from in.
func RunSetupWizard(cfg *Config, in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║        ladderbridge - First Run Setup        ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Println()

	cfg.mu.Lock()
	d := &cfg.LadderData

	fmt.Println("── Engine ──")
	d.Engine.Executable = promptString(reader, "Engine executable", defaultExecutable())
	d.Engine.DataVersion = promptString(reader, "Data version (blank for the executable's own)", d.Engine.DataVersion)

	fmt.Println()
	fmt.Println("── Network Ports ──")
	d.GamePort = promptInt(reader, "Game port (the engine gets game port + 2)", d.GamePort)
	d.StartPort = promptInt(reader, "Starting server port", d.StartPort)

	fmt.Println()
	fmt.Println("── Match ──")
	d.Map = promptString(reader, "Map", d.Map)
	d.PlayerRace = promptString(reader, "Player race", d.PlayerRace)
	d.ComputerOpponent = promptBool(reader, "Play against a computer opponent", d.ComputerOpponent)
	if d.ComputerOpponent {
		d.ComputerRace = promptString(reader, "Computer race", d.ComputerRace)
		d.ComputerDifficulty = promptString(reader, "Computer difficulty", d.ComputerDifficulty)
	}

	fmt.Println()
	fmt.Println("── MQTT Telemetry ──")
	cfg.ApplicationData.MQTT.Enabled = promptBool(reader, "Enable MQTT telemetry", cfg.ApplicationData.MQTT.Enabled)
	if cfg.ApplicationData.MQTT.Enabled {
		cfg.ApplicationData.MQTT.BrokerURL = promptString(reader, "MQTT broker", cfg.ApplicationData.MQTT.BrokerURL)
	}
	cfg.mu.Unlock()

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Println("\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Printf("  - [%s] %s\n", e.Field, e.Message)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Println()
	fmt.Println("✓ Configuration saved to " + cfg.Path())
	fmt.Println()

	return nil
}

func promptString(reader *bufio.Reader, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Printf("  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, prompt string, defaultVal int) int {
	fmt.Printf("  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Printf("    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Printf("  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}

func defaultExecutable() string {
	switch runtime.GOOS {
	case "windows":
		return `C:\Program Files (x86)\StarCraft II\Versions\Base75689\SC2_x64.exe`
	case "darwin":
		return "/Applications/StarCraft II/Versions/Base75689/SC2.app/Contents/MacOS/SC2"
	default:
		return filepath.Join(os.Getenv("HOME"), "StarCraftII", "Versions", "Base75689", "SC2_x64")
	}
}
