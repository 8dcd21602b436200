package lobby

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cheyans/server/internal/config"
	"github.com/Cheyans/server/internal/dependencies/mocks"
	"github.com/Cheyans/server/internal/events"
	"github.com/Cheyans/server/internal/game"
	"github.com/Cheyans/server/internal/matchmaker"
	"github.com/Cheyans/server/internal/player"
	"github.com/Cheyans/server/internal/protocol"
	"github.com/Cheyans/server/internal/store"
)

type fakeStore struct {
	accounts map[string]struct {
		id       int
		password string
	}
	popular []string
}

func (f *fakeStore) Authenticate(login, password string) (*store.PlayerRecord, error) {
	acct, ok := f.accounts[login]
	if !ok || acct.password != password {
		return nil, store.ErrAuthFailure
	}
	return &store.PlayerRecord{ID: acct.id, Login: login}, nil
}

func (f *fakeStore) LoadRatings(playerID int) (*store.Ratings, error) {
	return &store.Ratings{
		Global:    store.Rating{Mean: 1500, Deviation: 500},
		Ladder1v1: store.Rating{Mean: 1500, Deviation: 500},
	}, nil
}

func (f *fakeStore) PersistGameResult(result *store.GameResult) error  { return nil }
func (f *fakeStore) PopularLadderMaps(count int) ([]string, error)     { return f.popular, nil }
func (f *fakeStore) SelectedLadderMaps(playerID int) ([]string, error) { return nil, nil }
func (f *fakeStore) Close() error                                      { return nil }

type fixture struct {
	deps Deps
	rnd  *mocks.MockRandom
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := mocks.NewMockClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	games := game.NewRegistry(clk)
	db := &fakeStore{
		accounts: map[string]struct {
			id       int
			password string
		}{
			"Rhiza": {id: 1, password: "secret"},
			"QAI":   {id: 2, password: "hunter2"},
		},
		popular: []string{"loki", "theta_passage"},
	}
	rnd := mocks.NewMockRandom()

	return &fixture{
		deps: Deps{
			Players:    player.NewRegistry(),
			Games:      games,
			Matchmaker: matchmaker.New(games, db, rnd),
			DB:         db,
			Bus:        events.NewBus(),
			Config: config.LobbyConfig{
				Port:              0,
				GamePort:          0,
				IdleTimeoutSec:    5,
				WriteTimeoutSec:   5,
				OutboundQueueSize: 16,
			},
		},
		rnd: rnd,
	}
}

type testClient struct {
	t    *testing.T
	conn net.Conn
}

// startSession wires a session to one end of a pipe and returns a
// client on the other end.
func startSession(t *testing.T, f *fixture) (*testClient, *Session) {
	t.Helper()

	serverEnd, clientEnd := net.Pipe()
	session := NewSession(serverEnd, f.deps)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go session.Run(ctx)
	t.Cleanup(session.Close)

	return &testClient{t: t, conn: clientEnd}, session
}

func (c *testClient) send(msg protocol.Message) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	require.NoError(c.t, protocol.WriteMessage(c.conn, msg))
}

func (c *testClient) read() protocol.Message {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := protocol.ReadMessage(c.conn)
	require.NoError(c.t, err)
	return msg
}

// readUntil discards messages until one with the wanted command arrives.
func (c *testClient) readUntil(command string) protocol.Message {
	c.t.Helper()
	for i := 0; i < 10; i++ {
		msg := c.read()
		if msg.Command() == command {
			return msg
		}
	}
	c.t.Fatalf("no %s message received", command)
	return nil
}

func (c *testClient) login(login, password string) protocol.Message {
	c.t.Helper()
	c.send(protocol.Message{"command": "hello", "login": login, "password": password})
	return c.readUntil(protocol.CommandWelcome)
}

func TestAuthFailureExactNoticeAndConnectionStaysOpen(t *testing.T) {
	f := newFixture(t)
	client, session := startSession(t, f)

	client.send(protocol.Message{"command": "hello", "login": "nobody", "password": "x"})

	notice := client.read()
	assert.Equal(t, protocol.CommandNotice, notice.Command())
	assert.Equal(t, "error", notice.String("style"))
	assert.Equal(t, "Login not found or password incorrect. They are case sensitive.",
		notice.String("text"))
	assert.Equal(t, SessionConnected, session.State())

	// The connection survives a failed login.
	welcome := client.login("Rhiza", "secret")
	assert.Equal(t, 1, welcome.Int("id"))
	assert.Equal(t, SessionAuthenticated, session.State())
}

func TestSuccessfulLoginRegistersPlayer(t *testing.T) {
	f := newFixture(t)
	client, session := startSession(t, f)

	welcome := client.login("Rhiza", "secret")
	assert.Equal(t, "Rhiza", welcome.String("login"))

	// Login is followed by the current game list.
	gameList := client.readUntil(protocol.CommandGameInfo)
	assert.Contains(t, gameList, "games")

	p := f.deps.Players.Find("Rhiza")
	require.NotNil(t, p)
	assert.Equal(t, 1, p.ID)
	assert.Equal(t, session.Player(), p)
}

func TestUnauthenticatedCommandsRejected(t *testing.T) {
	f := newFixture(t)
	client, _ := startSession(t, f)

	client.send(protocol.Message{"command": "game_host", "title": "sneaky"})

	notice := client.read()
	assert.Equal(t, protocol.CommandNotice, notice.Command())
	assert.Equal(t, "error", notice.String("style"))
	assert.Equal(t, 0, f.deps.Games.Count())
}

func TestDuplicateLoginClosesFirstSession(t *testing.T) {
	f := newFixture(t)
	client1, session1 := startSession(t, f)
	client2, _ := startSession(t, f)

	client1.login("Rhiza", "secret")
	first := f.deps.Players.Find("Rhiza")

	client2.login("Rhiza", "secret")

	assert.Eventually(t, func() bool {
		return session1.State() == SessionClosed
	}, 2*time.Second, 10*time.Millisecond)

	second := f.deps.Players.Find("Rhiza")
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.Equal(t, 1, f.deps.Players.Count())
}

func TestGameHostAndJoin(t *testing.T) {
	f := newFixture(t)
	hostClient, hostSession := startSession(t, f)
	guestClient, _ := startSession(t, f)

	hostClient.login("Rhiza", "secret")
	guestClient.login("QAI", "hunter2")

	hostClient.send(protocol.Message{
		"command": "game_host",
		"title":   "open lobby",
		"mapname": "Canis_River",
		"mod":     "custom",
	})
	launch := hostClient.readUntil(protocol.CommandGameLaunch)
	gameID := launch.Int("uid")
	require.NotZero(t, gameID)

	host := hostSession.Player()
	assert.Equal(t, player.StateHosting, host.State)
	assert.Equal(t, gameID, host.CurrentGameID)
	assert.Equal(t, SessionInGame, hostSession.State())

	guestClient.send(protocol.Message{"command": "game_join", "uid": gameID})
	guestLaunch := guestClient.readUntil(protocol.CommandGameLaunch)
	assert.Equal(t, gameID, guestLaunch.Int("uid"))

	g := f.deps.Games.FindByID(gameID)
	require.NotNil(t, g)
	assert.Equal(t, 2, g.PlayerCount())
}

func TestJoinPrivateGameRequiresPassword(t *testing.T) {
	f := newFixture(t)
	hostClient, _ := startSession(t, f)
	guestClient, _ := startSession(t, f)

	hostClient.login("Rhiza", "secret")
	guestClient.login("QAI", "hunter2")

	hostClient.send(protocol.Message{
		"command":    "game_host",
		"title":      "locked",
		"mapname":    "loki",
		"visibility": "private",
		"password":   "sesame",
	})
	launch := hostClient.readUntil(protocol.CommandGameLaunch)
	gameID := launch.Int("uid")

	guestClient.send(protocol.Message{"command": "game_join", "uid": gameID, "password": "wrong"})
	notice := guestClient.readUntil(protocol.CommandNotice)
	assert.Equal(t, "Incorrect game password.", notice.String("text"))

	guestClient.send(protocol.Message{"command": "game_join", "uid": gameID, "password": "sesame"})
	joined := guestClient.readUntil(protocol.CommandGameLaunch)
	assert.Equal(t, gameID, joined.Int("uid"))
}

func TestHostDisconnectEndsGame(t *testing.T) {
	f := newFixture(t)
	client, _ := startSession(t, f)

	client.login("Rhiza", "secret")
	client.send(protocol.Message{
		"command": "game_host",
		"title":   "short lived",
		"mapname": "loki",
	})
	launch := client.readUntil(protocol.CommandGameLaunch)
	gameID := launch.Int("uid")

	client.conn.Close()

	assert.Eventually(t, func() bool {
		g := f.deps.Games.FindByID(gameID)
		return g != nil && g.State() == game.StateEnded
	}, 2*time.Second, 10*time.Millisecond)

	assert.Nil(t, f.deps.Players.Find("Rhiza"))
	assert.Empty(t, f.deps.Games.ListOpenListable())
}

func TestMatchmakingPairsTwoPlayers(t *testing.T) {
	f := newFixture(t)
	client1, session1 := startSession(t, f)
	client2, session2 := startSession(t, f)

	client1.login("Rhiza", "secret")
	client2.login("QAI", "hunter2")

	// Pool branch 1, then map index 0.
	f.rnd.QueueIntn(1, 0)

	client1.send(protocol.Message{"command": "game_matchmaking", "state": "start"})
	client2.send(protocol.Message{"command": "game_matchmaking", "state": "start"})

	launch1 := client1.readUntil(protocol.CommandGameLaunch)
	launch2 := client2.readUntil(protocol.CommandGameLaunch)
	assert.Equal(t, launch1.Int("uid"), launch2.Int("uid"))
	assert.Equal(t, "ladder1v1", launch1.String("mod"))

	assert.Equal(t, launch1.Int("uid"), session1.Player().CurrentGameID)
	assert.Equal(t, launch1.Int("uid"), session2.Player().CurrentGameID)
}

func TestSecondHelloWhileInGameIsRejected(t *testing.T) {
	f := newFixture(t)
	client, session := startSession(t, f)

	client.login("Rhiza", "secret")
	client.send(protocol.Message{"command": "game_host", "title": "busy", "mapname": "loki"})
	client.readUntil(protocol.CommandGameLaunch)
	require.Equal(t, SessionInGame, session.State())

	// A re-login from an in-game client must not replace the player.
	client.send(protocol.Message{"command": "hello", "login": "QAI", "password": "hunter2"})
	notice := client.readUntil(protocol.CommandNotice)
	assert.Equal(t, "Already logged in.", notice.String("text"))

	assert.Equal(t, 1, f.deps.Players.Count())
	assert.Nil(t, f.deps.Players.Find("QAI"))
	assert.Equal(t, "Rhiza", session.Player().Login)
}

func TestMatchmakingRejectedWhileInGame(t *testing.T) {
	f := newFixture(t)
	client, _ := startSession(t, f)

	client.login("Rhiza", "secret")
	client.send(protocol.Message{"command": "game_host", "title": "busy", "mapname": "loki"})
	launch := client.readUntil(protocol.CommandGameLaunch)
	gameID := launch.Int("uid")

	client.send(protocol.Message{"command": "game_matchmaking", "state": "start"})
	notice := client.readUntil(protocol.CommandNotice)
	assert.Equal(t, "You are already in a game.", notice.String("text"))

	// Still only the hosted game, and the host is not queued.
	assert.Equal(t, 0, f.deps.Matchmaker.QueueLen())
	assert.Equal(t, 1, f.deps.Games.Count())
	assert.True(t, f.deps.Games.FindByID(gameID).HasPlayer(1))
}

func TestDispatchAfterCloseDoesNotPanic(t *testing.T) {
	f := newFixture(t)
	client, session := startSession(t, f)

	client.login("Rhiza", "secret")
	session.Close()

	// Close can land between the read loop and the handler; the
	// command must be dropped, not dereference a detached player.
	err := session.dispatch(protocol.Message{"command": "game_host", "title": "late"})
	assert.ErrorIs(t, err, errSessionQuit)
	assert.Equal(t, 0, f.deps.Games.Count())
}

func TestSlowClientIsDisconnected(t *testing.T) {
	f := newFixture(t)
	f.deps.Config.OutboundQueueSize = 1
	client, session := startSession(t, f)

	// Log in but never read. The login replies fill the outbound queue
	// and the overflow forces a disconnect.
	client.send(protocol.Message{"command": "hello", "login": "Rhiza", "password": "secret"})

	assert.Eventually(t, func() bool {
		return session.State() == SessionClosed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.deps.Players.Count())
}

func TestGameInfoRefreshReturnsOpenGames(t *testing.T) {
	f := newFixture(t)
	hostClient, _ := startSession(t, f)
	watcherClient, _ := startSession(t, f)

	hostClient.login("Rhiza", "secret")
	watcherClient.login("QAI", "hunter2")

	hostClient.send(protocol.Message{
		"command": "game_host",
		"title":   "visible",
		"mapname": "Canis_River",
	})
	hostClient.readUntil(protocol.CommandGameLaunch)

	// Drain the list sent on login, then request a refresh.
	watcherClient.readUntil(protocol.CommandGameInfo)
	watcherClient.send(protocol.Message{"command": "game_info"})
	list := watcherClient.readUntil(protocol.CommandGameInfo)

	listed, ok := list["games"].([]any)
	require.True(t, ok)
	require.Len(t, listed, 1)

	info, ok := listed[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "visible", info["title"])
	assert.Equal(t, "canis_river", info["mapname"])
	assert.Equal(t, "open", info["state"])
}

func TestQuitClosesSession(t *testing.T) {
	f := newFixture(t)
	client, session := startSession(t, f)

	client.login("Rhiza", "secret")
	client.send(protocol.Message{"command": "quit"})

	assert.Eventually(t, func() bool {
		return session.State() == SessionClosed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.deps.Players.Count())
}

func TestAskSessionBeforeLogin(t *testing.T) {
	f := newFixture(t)
	client, _ := startSession(t, f)

	client.send(protocol.Message{"command": "ask_session"})
	reply := client.read()
	assert.Equal(t, protocol.CommandSession, reply.Command())
	assert.NotEmpty(t, reply.String("session"))

	// The token is stable for the life of the connection.
	client.send(protocol.Message{"command": "ask_session"})
	again := client.read()
	assert.Equal(t, reply.String("session"), again.String("session"))
}

func TestUnknownCommandGetsNoticeNotDisconnect(t *testing.T) {
	f := newFixture(t)
	client, session := startSession(t, f)

	client.login("Rhiza", "secret")
	client.send(protocol.Message{"command": "do_the_thing"})

	notice := client.readUntil(protocol.CommandNotice)
	assert.Equal(t, "error", notice.String("style"))
	assert.Equal(t, SessionAuthenticated, session.State())
}
