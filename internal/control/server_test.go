package control

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cheyans/server/internal/config"
	"github.com/Cheyans/server/internal/dependencies/mocks"
	"github.com/Cheyans/server/internal/game"
	"github.com/Cheyans/server/internal/matchmaker"
	"github.com/Cheyans/server/internal/player"
	"github.com/Cheyans/server/internal/protocol"
	"github.com/Cheyans/server/internal/store"
)

type nopSession struct{}

func (nopSession) Send(msg protocol.Message) bool { return true }
func (nopSession) Close()                         {}
func (nopSession) RemoteAddr() string             { return "10.0.0.1:5000" }

func newTestServer() (*Server, *player.Registry, *game.Registry) {
	clk := mocks.NewMockClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	players := player.NewRegistry()
	games := game.NewRegistry(clk)
	mm := matchmaker.New(games, nil, mocks.NewMockRandom())
	cfg := config.DefaultConfig()
	return NewServer(cfg, players, games, mm), players, games
}

func TestReportCounts(t *testing.T) {
	s, players, games := newTestServer()

	players.Register(player.New(&store.PlayerRecord{ID: 1, Login: "Rhiza"}, nil, nopSession{}))
	games.CreateGame(game.CreateParams{
		Mode: "custom", Name: "g", MapName: "loki",
		HostID: 1, HostLogin: "Rhiza",
	})

	router := s.buildRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Users (1)\nGames (1)\n", w.Body.String())
}

func TestStatsEndpoint(t *testing.T) {
	s, _, _ := newTestServer()

	router := s.buildRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"players":0`)
	assert.Contains(t, w.Body.String(), `"games":0`)
}
