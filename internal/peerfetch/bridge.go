// Package peerfetch implements component D: a bridge the hash-tree engine
// calls when a block is missing locally and not available from the blob
// transport federation, forwarding to the signalling controller's get
// while guarding against the controller re-entering the engine and
// looping back into the same fetch.
package peerfetch

import (
	"context"
	"fmt"
	"sync"

	htcid "github.com/hoshizora/hashtree-node/internal/cid"
	"github.com/hoshizora/hashtree-node/internal/hterrors"
)

// PeerGet is the signalling controller's bounded-hop fetch primitive.
type PeerGet func(ctx context.Context, id htcid.ID) ([]byte, error)

// Bridge guards a single PeerGet against re-entrant calls on the same
// goroutine's logical read path: if resolving a peer fetch itself
// requires reading local state (e.g. the controller inspects a tree while
// deciding who to ask), localReadDepth prevents an infinite loop rather
// than trusting callers never to do that.
type Bridge struct {
	get PeerGet

	mu             sync.Mutex
	localReadDepth map[int64]int // per-goroutine-ish logical call chain, keyed by a caller-supplied chain id
}

// New wraps get with re-entrancy protection.
func New(get PeerGet) *Bridge {
	return &Bridge{get: get, localReadDepth: make(map[int64]int)}
}

// maxReadDepth bounds how many nested local reads a single fetch chain
// may trigger before the bridge assumes it is looping and bails out.
const maxReadDepth = 4

// Fetch resolves id via the signalling controller, tagged with chainID so
// nested fetches originating from the same top-level read are tracked
// together. Callers that don't need nesting protection pass chainID 0 for
// every independent fetch.
func (b *Bridge) Fetch(ctx context.Context, chainID int64, id htcid.ID) ([]byte, error) {
	b.mu.Lock()
	depth := b.localReadDepth[chainID]
	if depth >= maxReadDepth {
		b.mu.Unlock()
		return nil, fmt.Errorf("peerfetch: chain %d exceeded depth %d: %w", chainID, maxReadDepth, hterrors.ErrCapacity)
	}
	b.localReadDepth[chainID] = depth + 1
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.localReadDepth[chainID]--
		if b.localReadDepth[chainID] <= 0 {
			delete(b.localReadDepth, chainID)
		}
		b.mu.Unlock()
	}()

	data, err := b.get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("peerfetch: fetch %s: %w", id.HashHex(), err)
	}
	return data, nil
}
