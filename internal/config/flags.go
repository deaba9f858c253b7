package config

import (
	"github.com/spf13/pflag"
)

// Flags are the command-line overrides. Only flags that were set on the
// command line are applied; everything else keeps its file or env value.
type Flags struct {
	ConfigDir string

	gamePort           int
	startPort          int
	ladderServer       string
	computerOpponent   bool
	computerRace       string
	computerDifficulty string
	instanceType       string
	executable         string
	mapName            string
	dataVersion        string
	noConsole          bool
}

// AddFlags registers the overrides on fs.
func (f *Flags) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.ConfigDir, "config", DefaultConfigDir, "configuration directory")
	fs.IntVarP(&f.gamePort, "GamePort", "g", DefaultGamePort, "port the ladder client connects to")
	fs.IntVarP(&f.startPort, "StartPort", "o", DefaultStartPort, "starting server port")
	fs.StringVarP(&f.ladderServer, "LadderServer", "l", "", "ladder server address (relay only, no game creation)")
	fs.BoolVarP(&f.computerOpponent, "ComputerOpponent", "c", false, "play against a built-in computer opponent")
	fs.StringVarP(&f.computerRace, "ComputerRace", "a", "", "race of the computer opponent")
	fs.StringVarP(&f.computerDifficulty, "ComputerDifficulty", "d", "", "difficulty of the computer opponent")
	fs.StringVarP(&f.instanceType, "Type", "t", "", "type of instance")
	fs.StringVarP(&f.executable, "Executable", "e", "", "path to the engine executable")
	fs.StringVarP(&f.mapName, "Map", "m", "", "map name or .SC2Map path")
	fs.StringVar(&f.dataVersion, "DataVersion", "", "engine data version")
	fs.BoolVar(&f.noConsole, "no-console", false, "disable the interactive console")
}

// Apply copies every flag that was set on fs into cfg.
func (f *Flags) Apply(fs *pflag.FlagSet, cfg *Config) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	d := &cfg.LadderData
	if fs.Changed("GamePort") {
		d.GamePort = f.gamePort
	}
	if fs.Changed("StartPort") {
		d.StartPort = f.startPort
	}
	if fs.Changed("LadderServer") {
		d.LadderServer = f.ladderServer
	}
	if fs.Changed("ComputerOpponent") {
		d.ComputerOpponent = f.computerOpponent
	}
	if fs.Changed("ComputerRace") {
		d.ComputerRace = f.computerRace
	}
	if fs.Changed("ComputerDifficulty") {
		d.ComputerDifficulty = f.computerDifficulty
	}
	if fs.Changed("Type") {
		d.Type = f.instanceType
	}
	if fs.Changed("Executable") {
		d.Engine.Executable = f.executable
	}
	if fs.Changed("Map") {
		d.Map = f.mapName
	}
	if fs.Changed("DataVersion") {
		d.Engine.DataVersion = f.dataVersion
	}
	if fs.Changed("no-console") {
		cfg.ApplicationData.Console = !f.noConsole
	}
}
