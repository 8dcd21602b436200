package player

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cheyans/server/internal/protocol"
	"github.com/Cheyans/server/internal/store"
)

type fakeSession struct {
	mu     sync.Mutex
	sent   []protocol.Message
	closed bool
	full   bool
	addr   string
}

func (s *fakeSession) Send(msg protocol.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full || s.closed {
		return false
	}
	s.sent = append(s.sent, msg)
	return true
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSession) RemoteAddr() string { return s.addr }

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newTestPlayer(id int, login string) (*Player, *fakeSession) {
	sess := &fakeSession{addr: "10.0.0.1:5000"}
	p := New(&store.PlayerRecord{ID: id, Login: login}, nil, sess)
	return p, sess
}

func TestRegisterAndFind(t *testing.T) {
	r := NewRegistry()
	p, _ := newTestPlayer(1, "Rhiza")

	r.Register(p)

	assert.Equal(t, p, r.Find("Rhiza"))
	assert.Equal(t, p, r.FindByID(1))
	assert.Nil(t, r.Find("nobody"))
	assert.Equal(t, 1, r.Count())
}

func TestDuplicateLoginNewestWins(t *testing.T) {
	r := NewRegistry()
	first, firstSess := newTestPlayer(1, "Rhiza")
	second, secondSess := newTestPlayer(1, "Rhiza")

	r.Register(first)
	r.Register(second)

	assert.Equal(t, second, r.Find("Rhiza"))
	assert.True(t, firstSess.isClosed())
	assert.False(t, secondSess.isClosed())
	assert.Equal(t, 1, r.Count())
}

func TestStaleUnregisterKeepsReplacement(t *testing.T) {
	r := NewRegistry()
	first, _ := newTestPlayer(1, "Rhiza")
	second, _ := newTestPlayer(1, "Rhiza")

	r.Register(first)
	r.Register(second)

	// The evicted session unregisters on its way out. The replacement
	// must survive.
	r.Unregister(first)

	assert.Equal(t, second, r.Find("Rhiza"))
	assert.Equal(t, 1, r.Count())

	r.Unregister(second)
	assert.Nil(t, r.Find("Rhiza"))
	assert.Equal(t, 0, r.Count())
}

func TestBroadcastWithPredicate(t *testing.T) {
	r := NewRegistry()
	idle, idleSess := newTestPlayer(1, "idle")
	hosting, hostingSess := newTestPlayer(2, "hosting")
	hosting.State = StateHosting

	r.Register(idle)
	r.Register(hosting)

	msg := protocol.Message{"command": "game_info"}
	sent := r.Broadcast(msg, func(p *Player) bool { return p.State == StateIdle })

	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, idleSess.sentCount())
	assert.Equal(t, 0, hostingSess.sentCount())
}

func TestBroadcastSkipsFullQueues(t *testing.T) {
	r := NewRegistry()
	ok, okSess := newTestPlayer(1, "ok")
	stuck, stuckSess := newTestPlayer(2, "stuck")
	stuckSess.full = true

	r.Register(ok)
	r.Register(stuck)

	sent := r.Broadcast(protocol.Message{"command": "game_info"}, nil)

	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, okSess.sentCount())
	assert.Equal(t, 0, stuckSess.sentCount())
}

func TestFindByAddressAndSession(t *testing.T) {
	r := NewRegistry()
	p, _ := newTestPlayer(1, "Rhiza")
	p.IP = "10.0.0.1"
	p.SessionToken = "token-a"
	r.Register(p)

	assert.Equal(t, p, r.FindByAddressAndSession("10.0.0.1", "token-a"))
	assert.Nil(t, r.FindByAddressAndSession("10.0.0.1", "token-b"))
	assert.Nil(t, r.FindByAddressAndSession("10.0.0.2", "token-a"))
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	p, _ := newTestPlayer(1, "Rhiza")
	r.Register(p)

	snap := r.Snapshot()
	require.Len(t, snap, 1)

	r.Unregister(p)
	assert.Len(t, snap, 1)
	assert.Equal(t, 0, r.Count())
}
