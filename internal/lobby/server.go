package lobby

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cheyans/server/internal/util"
)

// Server accepts lobby connections and runs one Session per client.
type Server struct {
	deps     Deps
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates a lobby server.
func NewServer(deps Deps) *Server {
	return &Server{
		deps:   deps,
		logger: util.ComponentLogger("lobby"),
	}
}

// Start listens on the configured lobby port and accepts connections
// until the context is cancelled. Blocking; run in its own goroutine.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.deps.Config.Port)

	// SO_REUSEADDR allows immediate rebinding after a restart while the
	// old socket sits in TIME_WAIT.
	lc := ReuseAddrListenConfig()
	var err error
	s.listener, err = lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start lobby listener on %s: %w", addr, err)
	}

	s.logger.Info().Str("addr", addr).Msg("lobby listener started")

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("lobby listener stopping")
				return nil
			default:
				s.logger.Error().Err(err).Msg("failed to accept connection")
				continue
			}
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(30 * time.Second)
		}

		s.logger.Debug().Str("remote", conn.RemoteAddr().String()).
			Msg("new client connection")

		session := NewSession(conn, s.deps)
		go session.Run(ctx)
	}
}

// Stop closes the listener.
func (s *Server) Stop() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
