// Package cid implements the content identifier used throughout the
// hashtree node: a 32-byte digest naming a block's ciphertext, plus an
// optional 32-byte symmetric key for content that was stored with
// convergent encryption.
package cid

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// ID identifies a block by the hash of its on-disk bytes, optionally
// carrying the symmetric key needed to decrypt it. A nil Key means the
// block is stored and served in plaintext.
type ID struct {
	Hash [32]byte
	Key  *[32]byte
}

// New builds an ID from a raw 32-byte digest with no decryption key.
func New(hash [32]byte) ID {
	return ID{Hash: hash}
}

// NewEncrypted builds an ID carrying the symmetric key needed to decrypt
// the referenced block.
func NewEncrypted(hash, key [32]byte) ID {
	k := key
	return ID{Hash: hash, Key: &k}
}

// IsEncrypted reports whether this ID carries a decryption key.
func (id ID) IsEncrypted() bool {
	return id.Key != nil
}

// Equal compares two IDs by hash and key value (not pointer identity).
func (id ID) Equal(other ID) bool {
	if id.Hash != other.Hash {
		return false
	}
	if (id.Key == nil) != (other.Key == nil) {
		return false
	}
	if id.Key == nil {
		return true
	}
	return bytes.Equal(id.Key[:], other.Key[:])
}

// HashHex returns the lowercase hex form of the hash, used as the blob
// store primary key and in the HTTP transport path.
func (id ID) HashHex() string {
	return hex.EncodeToString(id.Hash[:])
}

// String renders the ID in the human nhash form (see nhash.go). Keyed IDs
// are never rendered with their key embedded in String(); callers that
// need to share an encrypted link must transmit the key out of band
// (e.g. inside a parent tree node), matching the tree-node link layout in
// SPEC_FULL.md §4.A.
func (id ID) String() string {
	s, err := Encode(id.Hash)
	if err != nil {
		return "nhash1invalid"
	}
	return s
}

// Parse decodes an nhash string (without a key) back into an ID.
func Parse(s string) (ID, error) {
	hash, err := Decode(s)
	if err != nil {
		return ID{}, fmt.Errorf("cid: parse %q: %w", s, err)
	}
	return ID{Hash: hash}, nil
}
