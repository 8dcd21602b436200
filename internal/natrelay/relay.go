// Package natrelay implements the UDP hole-punch assist. Clients send
// traversal packets carrying a small routing key; the relay learns each
// sender's public address from its packets and forwards payloads to the
// requested peer's last-known address. Best effort only: no acks, no
// retries, no ordering.
package natrelay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Cheyans/server/internal/util"
)

// Packet layout: one byte of key length, the key bytes, then the
// payload forwarded verbatim. The key is "<gameID>:<fromID>:<toID>".
const maxPacketSize = 2048

// Relay is the UDP traversal forwarder.
type Relay struct {
	conn net.PacketConn

	mu    sync.RWMutex
	peers map[string]net.Addr

	logger zerolog.Logger
}

// New creates a relay listening on the given UDP port.
func New(port int) (*Relay, error) {
	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP port %d: %w", port, err)
	}
	return newWithConn(conn), nil
}

func newWithConn(conn net.PacketConn) *Relay {
	return &Relay{
		conn:   conn,
		peers:  make(map[string]net.Addr),
		logger: util.ComponentLogger("natrelay"),
	}
}

// Run reads packets until the context is cancelled. Blocking; run in
// its own goroutine.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info().Str("addr", r.conn.LocalAddr().String()).Msg("NAT relay listening")

	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	buf := make([]byte, maxPacketSize)
	for {
		n, sender, err := r.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				r.logger.Info().Msg("NAT relay stopped")
				return
			}
			r.logger.Warn().Err(err).Msg("UDP read failed")
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		r.handlePacket(sender, packet)
	}
}

// handlePacket parses a traversal packet, records the sender's address
// under its own key, and forwards the payload to the destination peer.
// Malformed packets and unknown destinations are dropped silently; UDP
// gives the sender no failure signal either way.
func (r *Relay) handlePacket(sender net.Addr, packet []byte) {
	key, payload, ok := parsePacket(packet)
	if !ok {
		return
	}

	gameID, fromID, toID, ok := splitKey(key)
	if !ok {
		return
	}

	r.mu.Lock()
	r.peers[peerKey(gameID, fromID)] = sender
	dest := r.peers[peerKey(gameID, toID)]
	r.mu.Unlock()

	if dest == nil {
		return
	}

	if _, err := r.conn.WriteTo(payload, dest); err != nil {
		r.logger.Debug().Err(err).Str("dest", dest.String()).Msg("UDP forward failed")
	}
}

// PeerAddr returns the last-known address registered for a game/player
// pair, or nil.
func (r *Relay) PeerAddr(gameID, playerID string) net.Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[peerKey(gameID, playerID)]
}

// ForgetGame drops all address entries for a game's peers.
func (r *Relay) ForgetGame(gameID string) {
	prefix := gameID + ":"

	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.peers {
		if strings.HasPrefix(key, prefix) {
			delete(r.peers, key)
		}
	}
}

// PeerCount returns the number of known peer addresses.
func (r *Relay) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func peerKey(gameID, playerID string) string {
	return gameID + ":" + playerID
}

func parsePacket(packet []byte) (key string, payload []byte, ok bool) {
	if len(packet) < 2 {
		return "", nil, false
	}
	keyLen := int(packet[0])
	if keyLen == 0 || len(packet) < 1+keyLen {
		return "", nil, false
	}
	return string(packet[1 : 1+keyLen]), packet[1+keyLen:], true
}

func splitKey(key string) (gameID, fromID, toID string, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
