// Package matchmaker pairs queued players for ranked 1v1 play: it
// computes a candidate map pool for each pairing and starts the matched
// game.
package matchmaker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Cheyans/server/internal/dependencies/random"
	"github.com/Cheyans/server/internal/game"
	"github.com/Cheyans/server/internal/player"
	"github.com/Cheyans/server/internal/protocol"
	"github.com/Cheyans/server/internal/store"
	"github.com/Cheyans/server/internal/util"
)

const (
	// LadderMode is the game mode ranked pairings are created under.
	LadderMode = "ladder1v1"

	popularPoolSize = 10
)

// Matchmaker holds the ranked queue and starts games for pairings.
type Matchmaker struct {
	mu    sync.Mutex
	queue []*player.Player

	games  *game.Registry
	db     store.Store
	rnd    random.Random
	logger zerolog.Logger
}

// New creates a matchmaker backed by the given registries.
func New(games *game.Registry, db store.Store, rnd random.Random) *Matchmaker {
	return &Matchmaker{
		games:  games,
		db:     db,
		rnd:    rnd,
		logger: util.ComponentLogger("matchmaker"),
	}
}

// Enqueue adds a player to the ranked queue. If an opponent is already
// waiting, the pair is matched immediately and the started game is
// returned. Queueing twice is a no-op.
func (m *Matchmaker) Enqueue(p *player.Player) (*game.Game, error) {
	m.mu.Lock()
	for _, queued := range m.queue {
		if queued.ID == p.ID {
			m.mu.Unlock()
			return nil, nil
		}
	}

	if len(m.queue) == 0 {
		m.queue = append(m.queue, p)
		m.mu.Unlock()
		m.logger.Debug().Str("login", p.Login).Msg("player queued for ladder")
		return nil, nil
	}

	opponent := m.queue[0]
	m.queue = m.queue[1:]
	m.mu.Unlock()

	return m.StartGame(opponent, p)
}

// Remove takes a player out of the queue, if present.
func (m *Matchmaker) Remove(p *player.Player) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, queued := range m.queue {
		if queued.ID == p.ID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// QueueLen returns the number of players waiting.
func (m *Matchmaker) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// ChooseMapPool computes the candidate maps for a pairing. One of three
// compositions is drawn uniformly:
//
//	0: popular maps plus the intersection of both players' selections
//	1: player1's selections plus popular maps
//	2: player2's selections plus popular maps
//
// Every pool therefore contains the popular maps, so a pool exists even
// when neither player has selected anything.
func (m *Matchmaker) ChooseMapPool(p1, p2 *player.Player) ([]string, error) {
	popular, err := m.db.PopularLadderMaps(popularPoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load popular maps: %w", err)
	}
	maps1, err := m.db.SelectedLadderMaps(p1.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load maps for %s: %w", p1.Login, err)
	}
	maps2, err := m.db.SelectedLadderMaps(p2.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load maps for %s: %w", p2.Login, err)
	}

	pool := make(map[string]struct{})
	switch m.rnd.Intn(3) {
	case 0:
		addAll(pool, popular)
		addAll(pool, intersect(maps1, maps2))
	case 1:
		addAll(pool, maps1)
		addAll(pool, popular)
	case 2:
		addAll(pool, maps2)
		addAll(pool, popular)
	}

	out := make([]string, 0, len(pool))
	for name := range pool {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// StartGame creates a ranked game for the pairing: picks one map
// uniformly from the computed pool, creates the game with p1 hosting,
// places the players on opposing teams, and notifies both sessions.
func (m *Matchmaker) StartGame(p1, p2 *player.Player) (*game.Game, error) {
	// Either player may have entered a game while waiting in the
	// queue; a player belongs to at most one game at a time.
	if p1.CurrentGameID != 0 || p2.CurrentGameID != 0 {
		return nil, fmt.Errorf("pairing %s vs %s: player already in a game", p1.Login, p2.Login)
	}

	pool, err := m.ChooseMapPool(p1, p2)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("no candidate maps for pairing %s vs %s", p1.Login, p2.Login)
	}

	// Pool is sorted, so a uniform index is deterministic under a
	// seeded source.
	mapName := pool[m.rnd.Intn(len(pool))]

	g := m.games.CreateGame(game.CreateParams{
		Mode:      LadderMode,
		Name:      fmt.Sprintf("%s vs %s", p1.Login, p2.Login),
		MapName:   mapName,
		HostID:    p1.ID,
		HostLogin: p1.Login,
		Unlisted:  true,
	})
	m.games.AddPlayer(g, p2.ID, 2)

	p1.State = player.StateHosting
	p1.CurrentGameID = g.ID
	p2.State = player.StateJoining
	p2.CurrentGameID = g.ID

	launch := protocol.Message{
		"command": protocol.CommandGameLaunch,
		"uid":     g.ID,
		"mod":     LadderMode,
		"mapname": mapName,
	}
	p1.Session.Send(launch)
	p2.Session.Send(launch)

	m.logger.Info().Str("p1", p1.Login).Str("p2", p2.Login).
		Str("map", mapName).Int("game", g.ID).Msg("ladder game started")
	return g, nil
}

func addAll(set map[string]struct{}, names []string) {
	for _, n := range names {
		set[n] = struct{}{}
	}
}

func intersect(a, b []string) []string {
	inA := make(map[string]struct{}, len(a))
	for _, n := range a {
		inA[n] = struct{}{}
	}
	var out []string
	for _, n := range b {
		if _, ok := inA[n]; ok {
			out = append(out, n)
		}
	}
	return out
}
