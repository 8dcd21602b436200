// Package control serves the read-only diagnostics endpoint: a
// loopback-only HTTP server reporting current player and game counts.
// No authentication; it never binds beyond 127.0.0.1.
package control

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Cheyans/server/internal/config"
	"github.com/Cheyans/server/internal/game"
	"github.com/Cheyans/server/internal/matchmaker"
	"github.com/Cheyans/server/internal/player"
	"github.com/Cheyans/server/internal/util"
)

// Server is the diagnostics HTTP server.
type Server struct {
	cfg     *config.Config
	players *player.Registry
	games   *game.Registry
	mm      *matchmaker.Matchmaker

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a diagnostics server.
func NewServer(cfg *config.Config, players *player.Registry, games *game.Registry,
	mm *matchmaker.Matchmaker) *Server {

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:     cfg,
		players: players,
		games:   games,
		mm:      mm,
	}
}

// Start serves the diagnostics endpoint until the context is cancelled.
// Blocking; run in its own goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Control.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("control endpoint started")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control endpoint failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		log.Info().Msg("control endpoint stopped")
		return nil
	}
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost", "http://127.0.0.1"}
	router.Use(cors.New(corsConfig))

	router.GET("/", s.handleReport)
	router.GET("/stats", s.handleStats)

	return router
}

// handleReport renders the plaintext summary line monitoring scripts
// scrape.
func (s *Server) handleReport(c *gin.Context) {
	report := fmt.Sprintf("Users (%d)\nGames (%d)\n",
		s.players.Count(), s.games.Count())
	c.String(http.StatusOK, report)
}

func (s *Server) handleStats(c *gin.Context) {
	sysInfo := util.GetSystemInfo()

	stats := gin.H{
		"players":      s.players.Count(),
		"games":        s.games.Count(),
		"ladder_queue": s.mm.QueueLen(),
		"modes":        s.games.Modes(),
		"hostname":     sysInfo.Hostname,
		"os":           sysInfo.OS,
	}

	if memUsage, err := util.GetMemoryUsage(); err == nil {
		stats["memory_used_percent"] = memUsage.UsedPercent
	}
	if cpuUsage, err := util.GetCPUUsage(); err == nil {
		stats["cpu_percent"] = cpuUsage
	}

	c.JSON(http.StatusOK, stats)
}
