package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/hoshizora/hashtree-node/internal/sealedfile"
)

type wireIdentity struct {
	SignSeedB64 string `json:"sign_seed_b64"`
	BoxPrivB64  string `json:"box_priv_b64"`
}

// Save seals the identity's private seed material to path, encrypted
// with passphrase via internal/sealedfile. Only the seeds are stored;
// public keys and NodeID are re-derived on Load.
func Save(path string, passphrase []byte, id Identity) error {
	w := wireIdentity{
		SignSeedB64: base64.StdEncoding.EncodeToString(id.SignPriv.Seed()),
		BoxPrivB64:  base64.StdEncoding.EncodeToString(id.BoxPriv[:]),
	}
	plain, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}
	return sealedfile.Seal(path, passphrase, plain)
}

// Load opens a previously saved identity file and rebuilds the full
// Identity (including derived public keys and NodeID) from its seeds.
func Load(path string, passphrase []byte) (Identity, error) {
	plain, err := sealedfile.Open(path, passphrase)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: open: %w", err)
	}
	var w wireIdentity
	if err := json.Unmarshal(plain, &w); err != nil {
		return Identity{}, fmt.Errorf("identity: unmarshal: %w", err)
	}
	signSeed, err := base64.StdEncoding.DecodeString(w.SignSeedB64)
	if err != nil || len(signSeed) != ed25519.SeedSize {
		return Identity{}, fmt.Errorf("identity: malformed sign seed")
	}
	boxPrivRaw, err := base64.StdEncoding.DecodeString(w.BoxPrivB64)
	if err != nil || len(boxPrivRaw) != 32 {
		return Identity{}, fmt.Errorf("identity: malformed box key")
	}
	var boxPriv [32]byte
	copy(boxPriv[:], boxPrivRaw)
	return FromSeeds(signSeed, boxPriv), nil
}

// NewRandom generates an identity from fresh random seed material instead
// of a machine fingerprint, for tests and for nodes that want an identity
// unlinked from their hardware.
func NewRandom() (Identity, error) {
	signSeed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(signSeed); err != nil {
		return Identity{}, err
	}
	var boxPriv [32]byte
	if _, err := rand.Read(boxPriv[:]); err != nil {
		return Identity{}, err
	}
	return FromSeeds(signSeed, boxPriv), nil
}
