package player

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Cheyans/server/internal/protocol"
	"github.com/Cheyans/server/internal/util"
)

// Registry tracks all currently logged-in players, keyed by login.
type Registry struct {
	mu      sync.RWMutex
	byLogin map[string]*Player
	logger  zerolog.Logger
}

// NewRegistry creates an empty player registry.
func NewRegistry() *Registry {
	return &Registry{
		byLogin: make(map[string]*Player),
		logger:  util.ComponentLogger("players"),
	}
}

// Register adds a player to the registry. If another player with the
// same login is already registered, the newer registration wins: the
// prior entry is replaced and its session is closed after the lock is
// released.
func (r *Registry) Register(p *Player) {
	r.mu.Lock()
	prior := r.byLogin[p.Login]
	r.byLogin[p.Login] = p
	r.mu.Unlock()

	if prior != nil && prior != p {
		r.logger.Info().Str("login", p.Login).
			Str("old_addr", prior.Session.RemoteAddr()).
			Str("new_addr", p.Session.RemoteAddr()).
			Msg("duplicate login, closing previous session")
		prior.Session.Close()
	}
}

// Unregister removes a player, but only if the registered entry is this
// exact player. A stale unregister from an evicted session must not
// remove the replacement.
func (r *Registry) Unregister(p *Player) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.byLogin[p.Login]; ok && current == p {
		delete(r.byLogin, p.Login)
	}
}

// Find returns the player registered under login, or nil.
func (r *Registry) Find(login string) *Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byLogin[login]
}

// FindByID returns the player with the given account id, or nil.
func (r *Registry) FindByID(id int) *Player {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.byLogin {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// FindByAddressAndSession correlates a peer address and session token
// with a registered player. Used by the UDP relay path to tie traversal
// packets back to an authenticated session.
func (r *Registry) FindByAddressAndSession(ip, sessionToken string) *Player {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.byLogin {
		if p.IP == ip && p.SessionToken == sessionToken {
			return p
		}
	}
	return nil
}

// Count returns the number of logged-in players.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byLogin)
}

// Snapshot returns the current players in no particular order.
func (r *Registry) Snapshot() []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Player, 0, len(r.byLogin))
	for _, p := range r.byLogin {
		out = append(out, p)
	}
	return out
}

// Broadcast sends a message to every player matching the predicate.
// A nil predicate matches everyone. Sends are non-blocking; players
// whose queues are full miss the message and their sessions handle
// the overflow.
func (r *Registry) Broadcast(msg protocol.Message, match func(*Player) bool) int {
	players := r.Snapshot()

	sent := 0
	for _, p := range players {
		if match != nil && !match(p) {
			continue
		}
		if p.Session.Send(msg) {
			sent++
		}
	}
	return sent
}
