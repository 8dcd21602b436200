// Package lobby implements the TCP lobby service: one session per
// connected client, a command dispatch table, and the listener that
// accepts connections.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"

	"github.com/Cheyans/server/internal/config"
	"github.com/Cheyans/server/internal/events"
	"github.com/Cheyans/server/internal/game"
	"github.com/Cheyans/server/internal/matchmaker"
	"github.com/Cheyans/server/internal/player"
	"github.com/Cheyans/server/internal/protocol"
	"github.com/Cheyans/server/internal/store"
	"github.com/Cheyans/server/internal/util"
)

// AuthFailureText is the exact user-facing text sent when credentials
// do not match. Clients key error display off this string.
const AuthFailureText = "Login not found or password incorrect. They are case sensitive."

// SessionState tracks where a session is in its lifecycle.
type SessionState int

const (
	SessionConnected SessionState = iota
	SessionAuthenticated
	SessionInGame
	SessionClosed
)

// Deps bundles the shared services a session operates on.
type Deps struct {
	Players    *player.Registry
	Games      *game.Registry
	Matchmaker *matchmaker.Matchmaker
	DB         store.Store
	Bus        *events.Bus
	Config     config.LobbyConfig
}

// Session owns one client connection: it reads frames, dispatches
// commands, and pushes state updates back through a bounded outbound
// queue.
type Session struct {
	deps Deps
	conn net.Conn

	mu           sync.Mutex
	state        SessionState
	player       *player.Player
	sessionToken string

	outbound  chan protocol.Message
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	logger zerolog.Logger
}

// handler processes one inbound command. A returned error closes the
// session.
type handler func(s *Session, msg protocol.Message) error

// handlers is the closed set of commands the session understands.
// Unknown commands get an error notice, not a disconnect.
var handlers = map[string]handler{
	protocol.CommandHello:       (*Session).handleHello,
	protocol.CommandAskSession:  (*Session).handleAskSession,
	protocol.CommandGameHost:    (*Session).handleGameHost,
	protocol.CommandGameJoin:    (*Session).handleGameJoin,
	protocol.CommandMatchmaking: (*Session).handleMatchmaking,
	protocol.CommandGameInfo:    (*Session).handleGameInfo,
	protocol.CommandQuit:        (*Session).handleQuit,
}

// preAuthCommands may be issued before authentication.
var preAuthCommands = map[string]bool{
	protocol.CommandHello:      true,
	protocol.CommandAskSession: true,
	protocol.CommandQuit:       true,
}

// errSessionQuit signals a clean client-requested shutdown.
var errSessionQuit = errors.New("client quit")

// NewSession wraps an accepted connection.
func NewSession(conn net.Conn, deps Deps) *Session {
	return &Session{
		deps:     deps,
		conn:     conn,
		state:    SessionConnected,
		outbound: make(chan protocol.Message, deps.Config.OutboundQueueSize),
		done:     make(chan struct{}),
		logger: util.ComponentLogger("session").With().
			Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// Run drives the session until the connection closes or the context is
// cancelled. Blocking; run in its own goroutine.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer s.Close()
	defer func() {
		// One session's fault must not take the process down.
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("session panicked")
		}
	}()

	go s.writeLoop(ctx)

	idleTimeout := time.Duration(s.deps.Config.IdleTimeoutSec) * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if idleTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		}

		msg, err := protocol.ReadMessage(s.conn)
		if err != nil {
			switch {
			case err == io.EOF:
				s.logger.Debug().Msg("client disconnected")
			case isTimeout(err):
				s.logger.Info().Msg("idle timeout, disconnecting")
			case protocol.IsProtocolError(err):
				s.logger.Warn().Err(err).Msg("malformed frame, disconnecting")
			case ctx.Err() != nil:
				// shutting down
			default:
				s.logger.Warn().Err(err).Msg("read failed")
			}
			return
		}

		if err := s.dispatch(msg); err != nil {
			if !errors.Is(err, errSessionQuit) {
				s.logger.Warn().Err(err).Str("command", msg.Command()).
					Msg("command failed, disconnecting")
			}
			return
		}
	}
}

func (s *Session) dispatch(msg protocol.Message) error {
	cmd := msg.Command()

	h, known := handlers[cmd]
	if !known {
		s.logger.Debug().Str("command", cmd).Msg("unknown command")
		s.Send(protocol.ErrorNotice(fmt.Sprintf("Unknown command: %s", cmd)))
		return nil
	}

	// Close may race the read loop; a closed session handles nothing.
	if s.State() == SessionClosed {
		return errSessionQuit
	}

	// Unauthenticated clients never receive game or player data.
	if s.State() == SessionConnected && !preAuthCommands[cmd] {
		s.Send(protocol.ErrorNotice("You must log in first."))
		return nil
	}

	return h(s, msg)
}

// State returns the session's lifecycle state. An authenticated session
// whose player occupies a game reports SessionInGame; the game
// reference on the player is the single source of truth.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionAuthenticated && s.player != nil && s.player.CurrentGameID != 0 {
		return SessionInGame
	}
	return s.state
}

// Player returns the authenticated player, or nil.
func (s *Session) Player() *player.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

// Send queues a message for delivery. Returns false and schedules a
// disconnect if the client cannot keep up; a stalled peer must not pin
// server memory.
func (s *Session) Send(msg protocol.Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.outbound <- msg:
		return true
	default:
		s.logger.Warn().Msg("outbound queue full, disconnecting slow client")
		go s.Close()
		return false
	}
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Close tears the session down: detaches the player from the shared
// registries before returning, closes the connection, and cancels the
// session context. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = SessionClosed
		p := s.player
		s.player = nil
		cancel := s.cancel
		s.mu.Unlock()

		close(s.done)

		// Detach before yielding so no task observes a half-removed
		// player.
		if p != nil {
			s.deps.Matchmaker.Remove(p)
			affected := s.deps.Games.RemovePlayer(p.ID)
			for _, g := range affected {
				if g.State() == game.StateEnded {
					result := &store.GameResult{
						GameUUID:  g.UUID,
						Mode:      g.Mode,
						MapName:   g.MapName,
						HostID:    g.HostID,
						PlayerIDs: append(g.Players(), p.ID),
					}
					if err := s.deps.DB.PersistGameResult(result); err != nil {
						s.logger.Warn().Err(err).Int("game", g.ID).
							Msg("failed to persist game result")
					}
					s.emit(events.EventGameEnded, events.GamePayload{
						GameID: g.ID, GameUUID: g.UUID, Mode: g.Mode,
						MapName: g.MapName, HostLogin: g.HostLogin,
					})
				}
			}
			s.deps.Players.Unregister(p)
			s.emit(events.EventPlayerLogout, events.PlayerPayload{
				PlayerID: p.ID, Login: p.Login, Address: s.RemoteAddr(),
			})
			s.logger.Info().Str("login", p.Login).Msg("player logged out")
		}

		s.conn.Close()
		if cancel != nil {
			cancel()
		}
	})
}

func (s *Session) writeLoop(ctx context.Context) {
	writeTimeout := time.Duration(s.deps.Config.WriteTimeoutSec) * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg := <-s.outbound:
			if writeTimeout > 0 {
				s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			}
			if err := protocol.WriteMessage(s.conn, msg); err != nil {
				s.logger.Debug().Err(err).Msg("write failed, closing")
				go s.Close()
				return
			}
		}
	}
}

func (s *Session) emit(t events.EventType, payload interface{}) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Emit(context.Background(), events.Event{
		Type:    t,
		Source:  "session:" + s.RemoteAddr(),
		Payload: payload,
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// --- command handlers ---

func (s *Session) handleAskSession(msg protocol.Message) error {
	s.mu.Lock()
	if s.sessionToken == "" {
		token, err := uuid.NewV4()
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to generate session token: %w", err)
		}
		s.sessionToken = token.String()
	}
	token := s.sessionToken
	s.mu.Unlock()

	s.Send(protocol.Message{
		"command": protocol.CommandSession,
		"session": token,
	})
	return nil
}

func (s *Session) handleHello(msg protocol.Message) error {
	// Check the player directly, not the derived state: a second hello
	// is rejected whether the client is in the lobby or in a game.
	s.mu.Lock()
	loggedIn := s.player != nil
	s.mu.Unlock()
	if loggedIn {
		s.Send(protocol.ErrorNotice("Already logged in."))
		return nil
	}

	login := msg.String("login")
	password := msg.String("password")

	rec, err := s.deps.DB.Authenticate(login, password)
	if err != nil {
		if errors.Is(err, store.ErrAuthFailure) {
			s.logger.Info().Str("login", login).Msg("authentication failed")
			// Exact text, and the connection stays open.
			s.Send(protocol.ErrorNotice(AuthFailureText))
			return nil
		}
		return fmt.Errorf("authentication query failed: %w", err)
	}

	ratings, err := s.deps.DB.LoadRatings(rec.ID)
	if err != nil {
		return fmt.Errorf("failed to load ratings: %w", err)
	}

	host, _, _ := net.SplitHostPort(s.RemoteAddr())

	p := player.New(rec, ratings, s)
	p.IP = host
	p.GamePort = msg.Int("game_port")

	s.mu.Lock()
	p.SessionToken = s.sessionToken
	s.state = SessionAuthenticated
	s.player = p
	s.mu.Unlock()

	// Newest connection wins; any prior session for this login is
	// closed by the registry.
	s.deps.Players.Register(p)

	s.logger.Info().Str("login", p.Login).Int("id", p.ID).Msg("player logged in")
	s.emit(events.EventPlayerLogin, events.PlayerPayload{
		PlayerID: p.ID, Login: p.Login, Address: s.RemoteAddr(),
	})

	s.Send(protocol.Message{
		"command": protocol.CommandWelcome,
		"id":      p.ID,
		"login":   p.Login,
		"rating": map[string]any{
			"global": []float64{p.Ratings.Global.Mean, p.Ratings.Global.Deviation},
			"ladder": []float64{p.Ratings.Ladder1v1.Mean, p.Ratings.Ladder1v1.Deviation},
		},
	})
	s.Send(protocol.Message{
		"command": protocol.CommandModInfo,
		"mods":    s.deps.Games.Modes(),
	})
	s.sendGameList()
	return nil
}

func (s *Session) handleGameHost(msg protocol.Message) error {
	p := s.Player()
	if p == nil {
		return errSessionQuit
	}
	if p.CurrentGameID != 0 {
		s.Send(protocol.ErrorNotice("You are already in a game."))
		return nil
	}

	visibility := game.VisibilityPublic
	if msg.String("visibility") == string(game.VisibilityPrivate) {
		visibility = game.VisibilityPrivate
	}

	mode := msg.String("mod")
	if mode == "" {
		mode = "custom"
	}
	title := msg.String("title")
	if title == "" {
		title = p.Login + "'s game"
	}

	g := s.deps.Games.CreateGame(game.CreateParams{
		Mode:       mode,
		Name:       title,
		MapName:    msg.String("mapname"),
		HostID:     p.ID,
		HostLogin:  p.Login,
		Visibility: visibility,
		Password:   msg.String("password"),
	})

	p.State = player.StateHosting
	p.CurrentGameID = g.ID

	s.logger.Info().Int("game", g.ID).Str("title", title).Msg("game hosted")
	s.emit(events.EventGameHosted, events.GamePayload{
		GameID: g.ID, GameUUID: g.UUID, Mode: g.Mode,
		MapName: g.MapName, HostLogin: g.HostLogin,
	})

	s.Send(protocol.Message{
		"command": protocol.CommandGameLaunch,
		"uid":     g.ID,
		"mod":     g.Mode,
		"mapname": g.MapName,
	})
	return nil
}

func (s *Session) handleGameJoin(msg protocol.Message) error {
	p := s.Player()
	if p == nil {
		return errSessionQuit
	}
	if p.CurrentGameID != 0 {
		s.Send(protocol.ErrorNotice("You are already in a game."))
		return nil
	}

	team := msg.Int("team")
	if team == 0 {
		team = 2
	}

	// The registry validates and joins under its lock so the checks
	// cannot race a concurrent state change.
	g, err := s.deps.Games.JoinGame(msg.Int("uid"), p.ID, team, msg.String("password"))
	if err != nil {
		switch {
		case errors.Is(err, game.ErrGameNotFound):
			s.Send(protocol.ErrorNotice("Game not found."))
		case errors.Is(err, game.ErrGameNotOpen):
			s.Send(protocol.ErrorNotice("Game is no longer open."))
		case errors.Is(err, game.ErrWrongPassword):
			s.Send(protocol.ErrorNotice("Incorrect game password."))
		default:
			s.Send(protocol.ErrorNotice("Could not join game."))
		}
		return nil
	}

	p.State = player.StateJoining
	p.CurrentGameID = g.ID

	s.logger.Info().Int("game", g.ID).Msg("joined game")
	s.Send(protocol.Message{
		"command": protocol.CommandGameLaunch,
		"uid":     g.ID,
		"mod":     g.Mode,
		"mapname": g.MapName,
	})
	return nil
}

func (s *Session) handleMatchmaking(msg protocol.Message) error {
	p := s.Player()
	if p == nil {
		return errSessionQuit
	}

	switch msg.String("state") {
	case "start":
		if p.CurrentGameID != 0 {
			s.Send(protocol.ErrorNotice("You are already in a game."))
			return nil
		}
		g, err := s.deps.Matchmaker.Enqueue(p)
		if err != nil {
			s.logger.Warn().Err(err).Msg("matchmaking failed")
			s.Send(protocol.ErrorNotice("Matchmaking is unavailable right now."))
			return nil
		}
		if g != nil {
			s.emit(events.EventMatchMade, events.MatchPayload{
				GameID: g.ID, Player1: g.HostLogin, Player2: p.Login,
			})
		}
	case "stop":
		s.deps.Matchmaker.Remove(p)
	default:
		s.Send(protocol.ErrorNotice("Unknown matchmaking state."))
	}
	return nil
}

// handleGameInfo treats an inbound game_info as a list refresh request.
func (s *Session) handleGameInfo(msg protocol.Message) error {
	s.sendGameList()
	return nil
}

func (s *Session) handleQuit(msg protocol.Message) error {
	return errSessionQuit
}

func (s *Session) sendGameList() {
	games := s.deps.Games.ListOpenListable()
	s.Send(protocol.Message{
		"command": protocol.CommandGameInfo,
		"games":   games,
	})
}
