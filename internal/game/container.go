package game

import "time"

// Container holds the games of a single mode. Not safe for concurrent
// use on its own; the registry's lock covers it.
type Container struct {
	Mode  string
	games map[int]*Game
}

func newContainer(mode string) *Container {
	return &Container{
		Mode:  mode,
		games: make(map[int]*Game),
	}
}

func (c *Container) add(g *Game) {
	c.games[g.ID] = g
}

func (c *Container) remove(id int) {
	delete(c.games, id)
}

func (c *Container) findByID(id int) *Game {
	return c.games[id]
}

func (c *Container) findByUUID(u string) *Game {
	for _, g := range c.games {
		if g.UUID == u {
			return g
		}
	}
	return nil
}

func (c *Container) findByHost(hostID int) *Game {
	for _, g := range c.games {
		if g.HostID == hostID {
			return g
		}
	}
	return nil
}

func (c *Container) size() int {
	return len(c.games)
}

// staleIDs returns the ids of games that should be reaped: ended games,
// games with no players, and lobbies idle past maxIdle.
func (c *Container) staleIDs(now time.Time, maxIdle time.Duration) []int {
	var out []int
	for id, g := range c.games {
		switch {
		case g.State() == StateEnded:
			out = append(out, id)
		case g.PlayerCount() == 0:
			out = append(out, id)
		case g.State() != StateLive && now.Sub(g.LastActivity) > maxIdle:
			out = append(out, id)
		}
	}
	return out
}
