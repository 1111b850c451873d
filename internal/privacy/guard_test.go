package privacy

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	htcid "github.com/hoshizora/hashtree-node/internal/cid"
	"github.com/hoshizora/hashtree-node/internal/hterrors"
)

func TestPlaintextNeverServedToPeers(t *testing.T) {
	g := New()
	id := htcid.New(sha256.Sum256([]byte("public")))
	require.False(t, g.ShouldServeHashToPeer("anyone", id))
}

func TestEncryptedRequiresGrant(t *testing.T) {
	g := New()
	hash := sha256.Sum256([]byte("secret"))
	var key [32]byte
	id := htcid.NewEncrypted(hash, key)

	require.False(t, g.ShouldServeHashToPeer("peer-a", id))

	g.GrantPeerShareableEncryptedHash("peer-a", id)
	require.True(t, g.ShouldServeHashToPeer("peer-a", id))
	require.False(t, g.ShouldServeHashToPeer("peer-b", id))
}

func TestRevokeRemovesGrants(t *testing.T) {
	g := New()
	hash := sha256.Sum256([]byte("secret"))
	var key [32]byte
	id := htcid.NewEncrypted(hash, key)

	g.GrantPeerShareableEncryptedHash("peer-a", id)
	require.True(t, g.ShouldServeHashToPeer("peer-a", id))

	g.Revoke("peer-a")
	require.False(t, g.ShouldServeHashToPeer("peer-a", id))
}

func TestAssertEncryptedUploadCid(t *testing.T) {
	g := New()
	hash := sha256.Sum256([]byte("upload"))
	id := htcid.New(hash)

	err := g.AssertEncryptedUploadCid(id)
	require.ErrorIs(t, err, hterrors.ErrPrivacy)

	g.AllowEncryptedUpload(id)
	require.NoError(t, g.AssertEncryptedUploadCid(id))
}
