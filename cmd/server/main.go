// Lobby server for a multiplayer RTS: authenticates players, tracks
// who is online, lists and manages hosted games, pairs ranked 1v1
// players, and relays UDP NAT traversal packets between peers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Cheyans/server/internal/cli"
	"github.com/Cheyans/server/internal/config"
	"github.com/Cheyans/server/internal/control"
	"github.com/Cheyans/server/internal/dependencies/clock"
	"github.com/Cheyans/server/internal/dependencies/random"
	"github.com/Cheyans/server/internal/events"
	"github.com/Cheyans/server/internal/game"
	"github.com/Cheyans/server/internal/lobby"
	"github.com/Cheyans/server/internal/matchmaker"
	"github.com/Cheyans/server/internal/natrelay"
	"github.com/Cheyans/server/internal/player"
	"github.com/Cheyans/server/internal/scheduler"
	"github.com/Cheyans/server/internal/store"
	"github.com/Cheyans/server/internal/telemetry"
	"github.com/Cheyans/server/internal/util"
)

const (
	AppName    = "lobby-server"
	AppVersion = "1.0.0"
)

func main() {
	// Logger with defaults first; reconfigured after config load.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting lobby server")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	// The datastore must open, or there is nothing to serve.
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Error().Err(err).Msg("failed to open datastore")
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	shutdownCh := make(chan struct{}, 1)
	bus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, event events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	players := player.NewRegistry()
	games := game.NewRegistry(clock.New())
	mm := matchmaker.New(games, db, random.New())

	lobbyServer := lobby.NewServer(lobby.Deps{
		Players:    players,
		Games:      games,
		Matchmaker: mm,
		DB:         db,
		Bus:        bus,
		Config:     cfg.GetLobby(),
	})

	relay, err := natrelay.New(cfg.Lobby.GamePort)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind game UDP port")
	}

	sched := scheduler.New(cfg.GetTimers(), players, games)

	var mqttPublisher *telemetry.Publisher
	if cfg.MQTT.Enabled {
		mqttPublisher, err = telemetry.NewPublisher(cfg, bus, players, games, mm)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	cliHandler := cli.New(cfg, bus, players, games, mm)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.Lobby.Port).Msg("starting lobby listener")
		if err := lobbyServer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("lobby listener: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.Lobby.GamePort).Msg("starting NAT relay")
		relay.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	if cfg.Control.Enabled {
		controlServer := control.NewServer(cfg, players, games, mm)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.Control.Port).Msg("starting control endpoint")
			if err := controlServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("control endpoint failed (non-fatal)")
			}
		}()
	}

	if mqttPublisher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttPublisher.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested via CLI")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
		exitCode = 1
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	bus.Stop()

	log.Info().Msg("lobby server stopped")
	os.Exit(exitCode)
}
