// ladderbridge runs one ladder game session against a local engine.
//
// It launches the engine, connects to its API endpoint with a bounded retry,
// creates the game when no ladder server is configured, and relays every
// request from the ladder client to the engine until it is stopped. The
// engine is terminated on every exit path.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/energizer-project/ladderbridge/internal/api"
	"github.com/energizer-project/ladderbridge/internal/cli"
	"github.com/energizer-project/ladderbridge/internal/config"
	"github.com/energizer-project/ladderbridge/internal/db"
	"github.com/energizer-project/ladderbridge/internal/events"
	"github.com/energizer-project/ladderbridge/internal/health"
	"github.com/energizer-project/ladderbridge/internal/scheduler"
	"github.com/energizer-project/ladderbridge/internal/session"
	"github.com/energizer-project/ladderbridge/internal/telemetry"
	"github.com/energizer-project/ladderbridge/internal/util"
)

const (
	AppName    = "ladderbridge"
	AppVersion = "1.0.0"
	Banner     = ` _           _     _           _          _     _
| | __ _  __| | __| | ___ _ __| |__  _ __(_) __| | __ _  ___
| |/ _' |/ _' |/ _' |/ _ \ '__| '_ \| '__| |/ _' |/ _' |/ _ \
| | (_| | (_| | (_| |  __/ |  | |_) | |  | | (_| | (_| |  __/
|_|\__,_|\__,_|\__,_|\___|_|  |_.__/|_|  |_|\__,_|\__, |\___|
                                                  |___/ v%s
`
)

func main() {
	os.Exit(run())
}

func run() int {
	var flags config.Flags
	fs := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
	flags.AddFlags(fs)
	showVersion := fs.BoolP("version", "v", false, "print version and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *showVersion {
		fmt.Printf("%s %s\n", AppName, AppVersion)
		return 0
	}

	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	if interactive {
		fmt.Printf(Banner, AppVersion)
		fmt.Println()
	}

	// Defaults first; reconfigured once the configuration is known.
	bootLog, err := util.InitLogger(util.DefaultLogConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer bootLog.Close()

	cfg, err := config.Load(flags.ConfigDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return 1
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Error().Err(err).Msg("invalid environment override")
		return 1
	}
	flags.Apply(fs, cfg)

	if cfg.IsFirstRun() && interactive {
		log.Info().Msg("first run detected, launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin); err != nil {
			log.Error().Err(err).Msg("setup wizard failed")
			return 1
		}
	}

	appData := cfg.GetApplicationData()
	ladder := cfg.GetLadderData()

	logFile, err := util.InitLogger(util.LogConfig{
		Level:      appData.Logging.Level,
		Directory:  appData.Logging.Directory,
		MaxBackups: appData.Logging.MaxBackups,
		Console:    true,
		Tag:        ladder.Type,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	} else {
		defer logFile.Close()
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Str("config", cfg.Path()).
		Msg("starting ladderbridge")

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Error().Msg("configuration validation failed, please fix the errors above")
		return 1
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	// The session stops first; services outlive it so its final events
	// still reach history, telemetry and the API.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svcCtx, svcCancel := context.WithCancel(context.Background())
	defer svcCancel()

	eventBus := events.NewEventBus()

	var history *db.HistoryStore
	if appData.History.Enabled {
		history, err = db.NewHistoryStore(ctx, appData.History.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open session history, history disabled")
			history = nil
		} else {
			defer history.Close()
			history.Subscribe(eventBus)
		}
	}

	var mqttHandler *telemetry.MQTTHandler
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(appData.MQTT, ladder.Type, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
			mqttHandler = nil
		}
	}

	sess := session.New(ladder, eventBus, nil)

	// A typed nil must not reach the interfaces below.
	var historySource api.HistorySource
	var cliHistory cli.HistorySource
	if history != nil {
		historySource = history
		cliHistory = history
	}

	shutdown := make(chan string, 1)
	requestShutdown := func(reason string) {
		select {
		case shutdown <- reason:
		default:
		}
	}
	eventBus.Subscribe(events.EventShutdown, "main", func(_ context.Context, e events.Event) error {
		reason := e.Source
		if p, ok := e.Payload.(events.ShutdownPayload); ok && p.Reason != "" {
			reason = p.Reason
		}
		requestShutdown(reason)
		return nil
	})

	var wg sync.WaitGroup

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(svcCtx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if appData.API.Enabled {
		apiServer := api.NewServer(cfg, eventBus, sess, historySource, AppVersion)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(svcCtx); err != nil {
				log.Warn().Err(err).Msg("control API failed (non-fatal)")
			}
		}()
	}

	if appData.Health.Enabled {
		monitor := health.NewMonitor(appData.Health, eventBus, sess, appData.Logging.Directory)
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor.Start(svcCtx)
		}()
	}

	var pruner scheduler.Pruner
	if history != nil {
		pruner = history
	}
	sched := scheduler.NewScheduler(appData.History, appData.Logging, pruner)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(svcCtx)
	}()

	if appData.Console && interactive {
		console := cli.NewCLI(eventBus, sess, cliHistory)
		go console.Start(svcCtx)
	}

	sessionDone := make(chan error, 1)
	go func() {
		sessionDone <- sess.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var sessionErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
		sessionErr = <-sessionDone
	case reason := <-shutdown:
		log.Info().Str("reason", reason).Msg("shutdown requested")
		cancel()
		sessionErr = <-sessionDone
	case sessionErr = <-sessionDone:
		cancel()
	}

	log.Info().Msg("initiating graceful shutdown...")
	svcCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	eventBus.Stop()

	if sessionErr != nil {
		log.Error().Err(sessionErr).Msg("ladderbridge stopped with an error")
		return 1
	}
	log.Info().Msg("ladderbridge stopped")
	return 0
}
