package cid

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNhashRoundTrip(t *testing.T) {
	hash := sha256.Sum256([]byte("hello hashtree"))
	enc, err := Encode(hash)
	require.NoError(t, err)
	require.Contains(t, enc, nhashPrefix)

	dec, err := Decode(enc)
	require.NoError(t, err)
	require.Equal(t, hash, dec)
}

func TestNhashRejectsCorruption(t *testing.T) {
	hash := sha256.Sum256([]byte("another block"))
	enc, err := Encode(hash)
	require.NoError(t, err)

	corrupted := []byte(enc)
	// Flip the last character, which should break the embedded checksum.
	if corrupted[len(corrupted)-1] == '0' {
		corrupted[len(corrupted)-1] = '2'
	} else {
		corrupted[len(corrupted)-1] = '0'
	}
	_, err = Decode(string(corrupted))
	require.Error(t, err)
}

func TestIDEqualAndEncryptedFlag(t *testing.T) {
	h := sha256.Sum256([]byte("plain"))
	a := New(h)
	require.False(t, a.IsEncrypted())

	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	b := NewEncrypted(h, key)
	require.True(t, b.IsEncrypted())
	require.False(t, a.Equal(b))

	c := NewEncrypted(h, key)
	require.True(t, b.Equal(c))
}
