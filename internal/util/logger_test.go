package util

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitLoggerWritesFileAndConsole(t *testing.T) {
	saved := log.Logger
	savedLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = saved
		zerolog.SetGlobalLevel(savedLevel)
	})

	dir := t.TempDir()
	var console bytes.Buffer
	f, err := InitLogger(LogConfig{Level: "DEBUG", Directory: dir, MaxBackups: 3, Console: true, Tag: "ranked", ConsoleOut: &console})
	if err != nil {
		t.Fatalf("InitLogger: %v", err)
	}
	defer f.Close()

	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("level = %s, want debug", zerolog.GlobalLevel())
	}

	logger := ComponentLogger("test")
	logger.Info().Msg("hello bridge")

	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"app":"ladderbridge"`, `"type":"ranked"`, `"component":"test"`, "hello bridge"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file missing %s:\n%s", want, data)
		}
	}
	if !strings.Contains(console.String(), "hello bridge") {
		t.Errorf("console output missing message: %q", console.String())
	}
}

func TestCleanOldLogsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	for i, name := range []string{"a.log", "b.log", "c.log", "d.log"} {
		path := filepath.Join(dir, name)
		os.WriteFile(path, []byte("x"), 0644)
		mod := now.Add(time.Duration(i-4) * time.Hour)
		os.Chtimes(path, mod, mod)
	}
	os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("x"), 0644)

	if n := CleanOldLogs(dir, 2); n != 2 {
		t.Errorf("removed = %d, want 2", n)
	}

	entries, _ := os.ReadDir(dir)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	got := strings.Join(names, ",")
	if got != "c.log,d.log,keep.txt" {
		t.Errorf("remaining files = %s, want c.log,d.log,keep.txt", got)
	}
}
