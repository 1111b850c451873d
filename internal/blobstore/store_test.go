package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoshizora/hashtree-node/internal/hterrors"
)

func openTestStore(t *testing.T, maxBytes int64) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "blobs.sqlite")
	s, err := Open(dbPath, maxBytes)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)

	require.NoError(t, s.Put(ctx, "abc", []byte("hello"), true))

	rec, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), rec.Bytes)
	require.True(t, rec.Trusted)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, hterrors.ErrNotFound)
}

func TestHasAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)

	require.NoError(t, s.Put(ctx, "abc", []byte("data"), true))
	ok, err := s.Has(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Delete(ctx, "abc"))
	ok, err = s.Has(ctx, "abc")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvictionUnderBudgetPrefersUntrusted(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 10)

	// An untrusted put is re-hashed, so its key must be the real digest.
	untrustedData := []byte("12345")
	digest := sha256.Sum256(untrustedData)
	untrustedHash := hex.EncodeToString(digest[:])

	require.NoError(t, s.Put(ctx, "trusted", []byte("12345"), true))
	require.NoError(t, s.Put(ctx, untrustedHash, untrustedData, false))
	require.NoError(t, s.Put(ctx, "third", []byte("12345"), true))

	// Budget is 10 bytes; three 5-byte blobs forces one eviction. The
	// untrusted blob should go first even though it isn't the oldest.
	_, err := s.Get(ctx, untrustedHash)
	require.ErrorIs(t, err, hterrors.ErrNotFound)

	_, err = s.Get(ctx, "trusted")
	require.NoError(t, err)
	require.LessOrEqual(t, s.UsedBytes(), int64(10))
}

func TestSetMaxBytesTriggersEviction(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)

	require.NoError(t, s.Put(ctx, "a", []byte("123456"), true))
	require.NoError(t, s.Put(ctx, "b", []byte("123456"), true))

	require.NoError(t, s.SetMaxBytes(ctx, 6))
	require.LessOrEqual(t, s.UsedBytes(), int64(6))
}
