// Package signaling implements the peer discovery and WebRTC negotiation
// controller: hello broadcast, offer/answer/ICE state machine, gift-wrapped
// directed frames, and a bounded-fanout get(hash) request/response path.
package signaling

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// FSM is the per-peer negotiation state.
type FSM int

const (
	StateNew FSM = iota
	StateOffered
	StateAnswered
	StateConnected
	StateClosed
)

// Role distinguishes who originated the offer.
type Role int

const (
	RoleInitiator Role = iota
	RoleAcceptor
)

// Pool identifies which admission pool a peer belongs to.
type Pool int

const (
	PoolFollows Pool = iota
	PoolOther
)

// PeerStats mirrors the teacher's bandwidth-and-request counters kept per
// connection, extended with the forwarded-request loop-prevention counters
// from SPEC_FULL.md §4.H.
type PeerStats struct {
	BytesSent            int64
	BytesReceived        int64
	RequestsSent         int64
	RequestsReceived     int64
	ResponsesSent        int64
	ResponsesReceived    int64
	ForwardedRequests    int64
	ForwardedResolved    int64
	ForwardedSuppressed  int64
}

// PeerState is the live state the controller keeps for one remote peer.
type PeerState struct {
	PeerID    peer.ID
	PubKey    ed25519PubKeyBytes
	BoxPub    [32]byte
	Pool      Pool
	Role      Role
	FSM       FSM
	Connected bool
	RTT       time.Duration
	LastSeen  time.Time

	mu        sync.Mutex
	pendingICE [][]byte

	Stats PeerStats
}

// ed25519PubKeyBytes avoids importing crypto/ed25519 here just for a
// type alias; signing/verification lives in events.go which does import it.
type ed25519PubKeyBytes = []byte

func newPeerState(id peer.ID, pub []byte, pool Pool, role Role) *PeerState {
	return &PeerState{
		PeerID:   id,
		PubKey:   pub,
		Pool:     pool,
		Role:     role,
		FSM:      StateNew,
		LastSeen: time.Now(),
	}
}

func (p *PeerState) bufferICE(candidate []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingICE = append(p.pendingICE, candidate)
}

func (p *PeerState) drainICE() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pendingICE
	p.pendingICE = nil
	return out
}

// poolCaps gives the admission thresholds for one pool, grounded on the
// spec's {max, satisfied} pair.
type poolCaps struct {
	max       int
	satisfied int
}

// PoolConfig configures both pools' admission behavior.
type PoolConfig struct {
	Follows poolCaps
	Other   poolCaps
}

// DefaultPoolConfig matches a small always-on node: a handful of
// preferred follows connections plus a looser pool of everyone else.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Follows: poolCaps{max: 24, satisfied: 8},
		Other:   poolCaps{max: 48, satisfied: 16},
	}
}

// NewPoolConfig builds a PoolConfig from configured capacities, taking a
// third of each pool's max (rounded down) for its satisfied threshold, the
// same ratio as DefaultPoolConfig's 24/8 and 48/16.
func NewPoolConfig(followsMax, otherMax int) PoolConfig {
	return PoolConfig{
		Follows: poolCaps{max: followsMax, satisfied: followsMax / 3},
		Other:   poolCaps{max: otherMax, satisfied: otherMax / 3},
	}
}

// peerTable tracks connected peers by libp2p peer.ID with per-pool counts,
// kept separate from Controller so admission logic can be unit tested
// without a real WebRTC/relay transport.
type peerTable struct {
	mu    sync.Mutex
	peers map[peer.ID]*PeerState
	cfg   PoolConfig
}

func newPeerTable(cfg PoolConfig) *peerTable {
	return &peerTable{peers: make(map[peer.ID]*PeerState), cfg: cfg}
}

func (t *peerTable) connectedCount(pool Pool) int {
	n := 0
	for _, p := range t.peers {
		if p.Pool == pool && p.Connected {
			n++
		}
	}
	return n
}

// admit reports whether a new candidate for pool may be admitted, and
// whether it is actively welcomed (below the satisfied threshold) versus
// merely tolerated (between satisfied and max).
func (t *peerTable) admit(pool Pool) (admitted, welcomed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	caps := t.cfg.Other
	if pool == PoolFollows {
		caps = t.cfg.Follows
	}
	n := t.connectedCount(pool)
	if n >= caps.max {
		return false, false
	}
	return true, n < caps.satisfied
}

func (t *peerTable) get(id peer.ID) (*PeerState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	return p, ok
}

func (t *peerTable) upsert(p *PeerState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[p.PeerID] = p
}

func (t *peerTable) remove(id peer.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, id)
}

func (t *peerTable) list() []*PeerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*PeerState, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}

// rankedConnected returns connected peers ordered by pool (follows
// first) then ascending RTT, adapting the teacher's node.go
// nearestPeer/pingLoop idea to rank an entire pool instead of finding a
// single nearest peer.
func (t *peerTable) rankedConnected() []*PeerState {
	t.mu.Lock()
	all := make([]*PeerState, 0, len(t.peers))
	for _, p := range t.peers {
		if p.Connected {
			all = append(all, p)
		}
	}
	t.mu.Unlock()

	sortPeersByPoolThenRTT(all)
	return all
}

func sortPeersByPoolThenRTT(peers []*PeerState) {
	for i := 1; i < len(peers); i++ {
		for j := i; j > 0; j-- {
			if peerLess(peers[j], peers[j-1]) {
				peers[j], peers[j-1] = peers[j-1], peers[j]
			} else {
				break
			}
		}
	}
}

func peerLess(a, b *PeerState) bool {
	if a.Pool != b.Pool {
		return a.Pool == PoolFollows
	}
	return a.RTT < b.RTT
}
