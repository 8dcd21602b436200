package game

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cheyans/server/internal/dependencies/clock"
	"github.com/Cheyans/server/internal/util"
)

var (
	ErrGameNotFound  = errors.New("game not found")
	ErrGameNotOpen   = errors.New("game is no longer open")
	ErrWrongPassword = errors.New("incorrect game password")
)

// CreateParams carries the host-supplied settings for a new game.
type CreateParams struct {
	Mode       string
	Name       string
	MapName    string
	HostID     int
	HostLogin  string
	Visibility Visibility
	Password   string

	// Unlisted keeps the game out of lobby listings. Must be decided
	// here: once CreateGame returns, the game is visible to concurrent
	// listings and broadcasts.
	Unlisted bool
}

// Registry owns all game containers and the dirty set consumed by the
// broadcast cycle. All access goes through its lock.
type Registry struct {
	mu         sync.RWMutex
	containers map[string]*Container
	dirty      map[int]struct{}
	nextID     int
	clk        clock.Clock
	logger     zerolog.Logger
}

// NewRegistry creates an empty game registry.
func NewRegistry(clk clock.Clock) *Registry {
	return &Registry{
		containers: make(map[string]*Container),
		dirty:      make(map[int]struct{}),
		nextID:     1,
		clk:        clk,
		logger:     util.ComponentLogger("games"),
	}
}

func (r *Registry) containerLocked(mode string) *Container {
	c, ok := r.containers[mode]
	if !ok {
		c = newContainer(mode)
		r.containers[mode] = c
	}
	return c
}

// CreateGame allocates a fresh id, creates the game in LOBBY_OPEN with
// the host on team 1, and marks it dirty.
func (r *Registry) CreateGame(params CreateParams) *Game {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++

	g := newGame(id, params.Mode, params.Name, params.MapName,
		params.HostID, params.HostLogin, r.clk.Now())
	if params.Visibility != "" {
		g.Visibility = params.Visibility
	}
	g.Password = params.Password
	if params.Unlisted {
		g.Listable = false
	}
	if g.Visibility == VisibilityPrivate && g.Password == "" {
		// A private lobby without a password is unjoinable by
		// accident; keep it private but unlisted.
		g.Listable = false
	}
	g.AddPlayer(params.HostID, 1)

	r.containerLocked(params.Mode).add(g)
	r.dirty[id] = struct{}{}

	r.logger.Info().Int("id", id).Str("mode", params.Mode).
		Str("host", params.HostLogin).Str("map", params.MapName).
		Msg("game created")
	return g
}

// FindByID searches all containers for a game id.
func (r *Registry) FindByID(id int) *Game {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findByIDLocked(id)
}

func (r *Registry) findByIDLocked(id int) *Game {
	for _, c := range r.containers {
		if g := c.findByID(id); g != nil {
			return g
		}
	}
	return nil
}

// FindByUUID searches all containers for a game uuid.
func (r *Registry) FindByUUID(u string) *Game {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.containers {
		if g := c.findByUUID(u); g != nil {
			return g
		}
	}
	return nil
}

// FindByHost returns the game hosted by the given player, if any.
func (r *Registry) FindByHost(hostID int) *Game {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.containers {
		if g := c.findByHost(hostID); g != nil {
			return g
		}
	}
	return nil
}

// RemoveGame deletes a game from its container.
func (r *Registry) RemoveGame(g *Game) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.containers[g.Mode]; ok {
		c.remove(g.ID)
	}
	delete(r.dirty, g.ID)
}

// AddPlayer puts a player on a team of an existing game and marks the
// game dirty.
func (r *Registry) AddPlayer(g *Game, playerID, team int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g.AddPlayer(playerID, team)
	g.Touch(r.clk.Now())
	r.dirty[g.ID] = struct{}{}
}

// JoinGame validates that a game is joinable and puts the player on a
// team, all under the registry lock so the checks cannot race a
// concurrent state change. Returns ErrGameNotFound, ErrGameNotOpen, or
// ErrWrongPassword when the join is rejected.
func (r *Registry) JoinGame(gameID, playerID, team int, password string) (*Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.findByIDLocked(gameID)
	if g == nil {
		return nil, ErrGameNotFound
	}
	if g.State() != StateLobbyOpen {
		return nil, ErrGameNotOpen
	}
	if g.Visibility == VisibilityPrivate && g.Password != password {
		return nil, ErrWrongPassword
	}

	g.AddPlayer(playerID, team)
	g.Touch(r.clk.Now())
	r.dirty[g.ID] = struct{}{}
	return g, nil
}

// RemovePlayer detaches a player from every game. If the player hosted
// a game, that game ends. Affected games are marked dirty. Returns the
// games the player was removed from.
func (r *Registry) RemovePlayer(playerID int) []*Game {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected []*Game
	for _, c := range r.containers {
		for _, g := range c.games {
			if !g.HasPlayer(playerID) {
				continue
			}
			g.RemovePlayer(playerID)
			if g.HostID == playerID && g.State() != StateEnded {
				if err := g.TransitionTo(StateEnded); err != nil {
					r.logger.Warn().Err(err).Int("game", g.ID).
						Msg("failed to end game on host leave")
				}
			}
			g.Touch(r.clk.Now())
			r.dirty[g.ID] = struct{}{}
			affected = append(affected, g)
		}
	}
	return affected
}

// MarkDirty flags a game for the next broadcast cycle.
func (r *Registry) MarkDirty(gameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty[gameID] = struct{}{}
}

// DrainDirty atomically swaps out the dirty set and returns its game
// ids. A mark arriving after the swap lands in the next drain.
func (r *Registry) DrainDirty() []int {
	r.mu.Lock()
	drained := r.dirty
	r.dirty = make(map[int]struct{})
	r.mu.Unlock()

	ids := make([]int, 0, len(drained))
	for id := range drained {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// RenderByIDs renders the given games under the registry lock. Ids
// with no live game are skipped.
func (r *Registry) RenderByIDs(ids []int) []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		if g := r.findByIDLocked(id); g != nil {
			out = append(out, g.RenderInfo())
		}
	}
	return out
}

// ListOpenListable returns the rendered info of every listable game
// still in LOBBY_OPEN, ordered by id.
func (r *Registry) ListOpenListable() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var games []*Game
	for _, c := range r.containers {
		for _, g := range c.games {
			if g.Listable && g.State() == StateLobbyOpen {
				games = append(games, g)
			}
		}
	}
	sort.Slice(games, func(i, j int) bool { return games[i].ID < games[j].ID })

	out := make([]map[string]any, 0, len(games))
	for _, g := range games {
		out = append(out, g.RenderInfo())
	}
	return out
}

// EvictStale removes ended, empty, and idle games from every container.
// Returns the removed games.
func (r *Registry) EvictStale(maxIdle time.Duration) []*Game {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	var removed []*Game
	for _, c := range r.containers {
		for _, id := range c.staleIDs(now, maxIdle) {
			g := c.findByID(id)
			c.remove(id)
			delete(r.dirty, id)
			removed = append(removed, g)
			r.logger.Debug().Int("id", id).Str("state", g.State().String()).
				Msg("evicted stale game")
		}
	}
	return removed
}

// Count returns the total number of games across all containers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.containers {
		n += c.size()
	}
	return n
}

// Modes returns the known game modes, sorted.
func (r *Registry) Modes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modes := make([]string, 0, len(r.containers))
	for mode := range r.containers {
		modes = append(modes, mode)
	}
	sort.Strings(modes)
	return modes
}
