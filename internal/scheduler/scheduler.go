// Package scheduler runs the lobby server's recurring background
// tasks: the dirty-game broadcast cycle and the stale-game sweep.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Cheyans/server/internal/config"
	"github.com/Cheyans/server/internal/game"
	"github.com/Cheyans/server/internal/player"
	"github.com/Cheyans/server/internal/protocol"
)

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     config.TimerConfig
	players *player.Registry
	games   *game.Registry
}

// New creates a task scheduler.
func New(cfg config.TimerConfig, players *player.Registry, games *game.Registry) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		players: players,
		games:   games,
	}
}

// Start runs all scheduled tasks until the context is cancelled.
// Blocking; run in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	go s.runBroadcastLoop(ctx)
	go s.runSweepLoop(ctx)

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runBroadcastLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.DirtyBroadcastInterval) * time.Second
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.BroadcastOnce()
		}
	}
}

func (s *Scheduler) runSweepLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.GameSweepInterval) * time.Second
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// BroadcastOnce drains the dirty set and pushes the state of each
// drained game to every player not currently in a game.
func (s *Scheduler) BroadcastOnce() {
	dirty := s.games.DrainDirty()
	if len(dirty) == 0 {
		return
	}

	// Rendered under the registry lock; games evicted between drain
	// and render are skipped.
	rendered := s.games.RenderByIDs(dirty)
	if len(rendered) == 0 {
		return
	}

	msg := protocol.Message{
		"command": protocol.CommandGameInfo,
		"games":   rendered,
	}
	sent := s.players.Broadcast(msg, func(p *player.Player) bool {
		return p.CurrentGameID == 0
	})

	log.Debug().Int("games", len(rendered)).Int("recipients", sent).
		Msg("dirty games broadcast")
}

// SweepOnce evicts stale games from the registry.
func (s *Scheduler) SweepOnce() {
	maxIdle := time.Duration(s.cfg.MaxLobbyIdle) * time.Second
	removed := s.games.EvictStale(maxIdle)
	if len(removed) > 0 {
		log.Info().Int("removed", len(removed)).Msg("stale games evicted")
	}
}
