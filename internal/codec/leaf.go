package codec

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	htcid "github.com/hoshizora/hashtree-node/internal/cid"
	"github.com/hoshizora/hashtree-node/internal/hterrors"
)

// SealLeaf implements convergent encryption for a single leaf block: the
// key and nonce are both derived from the plaintext's own digest, so
// identical plaintext always produces identical ciphertext and the same
// CID, matching the CHK scheme in SPEC_FULL.md §4.A. It adapts the
// teacher's per-file AEAD helpers (keywrap.go) from a randomly generated
// key to a content-derived one.
func SealLeaf(plaintext []byte) (ciphertext []byte, id htcid.ID, err error) {
	digest := sha256.Sum256(plaintext)
	aead, err := chacha20poly1305.New(digest[:])
	if err != nil {
		return nil, htcid.ID{}, fmt.Errorf("codec: new aead: %w", err)
	}
	nonce := digest[:aead.NonceSize()]
	ct := aead.Seal(nil, nonce, plaintext, nil)

	ctHash := sha256.Sum256(ct)
	return ct, htcid.NewEncrypted(ctHash, digest), nil
}

// SealLeafPlain stores plaintext with no encryption; the CID carries no
// key and any peer may be served the block.
func SealLeafPlain(plaintext []byte) (stored []byte, id htcid.ID) {
	hash := sha256.Sum256(plaintext)
	return plaintext, htcid.New(hash)
}

// OpenLeaf reverses SealLeaf, verifying both the outer ciphertext hash and
// the inner AEAD tag.
func OpenLeaf(ciphertext []byte, id htcid.ID) ([]byte, error) {
	gotHash := sha256.Sum256(ciphertext)
	if gotHash != id.Hash {
		return nil, fmt.Errorf("codec: leaf hash mismatch: %w", hterrors.ErrIntegrity)
	}
	if id.Key == nil {
		return ciphertext, nil
	}

	aead, err := chacha20poly1305.New(id.Key[:])
	if err != nil {
		return nil, fmt.Errorf("codec: new aead: %w", err)
	}
	nonce := id.Key[:aead.NonceSize()]
	pt, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: leaf aead open: %w: %w", hterrors.ErrIntegrity, err)
	}
	return pt, nil
}
