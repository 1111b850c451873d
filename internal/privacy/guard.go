// Package privacy implements component F: the gate between a locally
// stored hash and a remote peer's ability to fetch it. It generalizes the
// teacher's localhost-only control-plane guard (server-control.go's
// 127.0.0.1 check) from an IP allowlist to a per-peer set membership
// check over encrypted CIDs.
package privacy

import (
	"fmt"
	"sync"

	htcid "github.com/hoshizora/hashtree-node/internal/cid"
	"github.com/hoshizora/hashtree-node/internal/hterrors"
)

// PeerID identifies a remote node for sharing decisions. It is a plain
// string alias so this package has no dependency on internal/signaling's
// concrete peer identity type.
type PeerID string

// Guard tracks which encrypted hashes each peer has proven access to (by
// having presented the corresponding key at some point) and refuses to
// serve an encrypted hash to a peer that hasn't.
type Guard struct {
	mu          sync.Mutex
	shareable   map[PeerID]map[[32]byte]struct{}
	uploadAllow map[[32]byte]struct{} // hashes this node will admit an encrypted upload for
}

// New creates an empty privacy guard.
func New() *Guard {
	return &Guard{
		shareable:   make(map[PeerID]map[[32]byte]struct{}),
		uploadAllow: make(map[[32]byte]struct{}),
	}
}

// GrantPeerShareableEncryptedHash records that peer has proven access to
// id (e.g. by presenting it in a signed directed frame) and may therefore
// be served that exact encrypted block in the future.
func (g *Guard) GrantPeerShareableEncryptedHash(peer PeerID, id htcid.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.shareable[peer]
	if !ok {
		set = make(map[[32]byte]struct{})
		g.shareable[peer] = set
	}
	set[id.Hash] = struct{}{}
}

// ShouldServeHashToPeer reports whether id may be handed to peer.
// Unencrypted content is never served to peers; encrypted content
// requires a prior grant for that exact hash.
func (g *Guard) ShouldServeHashToPeer(peer PeerID, id htcid.ID) bool {
	if !id.IsEncrypted() {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.shareable[peer]
	if !ok {
		return false
	}
	_, ok = set[id.Hash]
	return ok
}

// AllowEncryptedUpload whitelists a hash this node will accept an
// encrypted PUT for. The hash-tree engine calls it for every encrypted
// leaf it writes.
func (g *Guard) AllowEncryptedUpload(id htcid.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploadAllow[id.Hash] = struct{}{}
}

// AssertEncryptedUploadCid returns hterrors.ErrPrivacy if id was not
// pre-authorized via AllowEncryptedUpload.
func (g *Guard) AssertEncryptedUploadCid(id htcid.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.uploadAllow[id.Hash]; !ok {
		return fmt.Errorf("privacy: upload of %s not authorized: %w", id.HashHex(), hterrors.ErrPrivacy)
	}
	return nil
}

// Revoke removes a peer's entire grant set, e.g. when a follow is undone.
func (g *Guard) Revoke(peer PeerID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.shareable, peer)
}
