package peerfetch

import (
	"context"
	"crypto/sha256"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	htcid "github.com/hoshizora/hashtree-node/internal/cid"
	"github.com/hoshizora/hashtree-node/internal/hterrors"
)

func TestFetchDelegates(t *testing.T) {
	var calls int32
	b := New(func(ctx context.Context, id htcid.ID) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("block"), nil
	})

	id := htcid.New(sha256.Sum256([]byte("x")))
	data, err := b.Fetch(context.Background(), 1, id)
	require.NoError(t, err)
	require.Equal(t, []byte("block"), data)
	require.Equal(t, int32(1), calls)
}

func TestFetchRejectsRunawayRecursion(t *testing.T) {
	var b *Bridge
	var depth int32
	b = New(func(ctx context.Context, id htcid.ID) ([]byte, error) {
		atomic.AddInt32(&depth, 1)
		// Simulate the controller needing another local read to resolve
		// this fetch, which re-enters the bridge on the same chain.
		return b.Fetch(ctx, 42, id)
	})

	id := htcid.New(sha256.Sum256([]byte("loop")))
	_, err := b.Fetch(context.Background(), 42, id)
	require.ErrorIs(t, err, hterrors.ErrCapacity)
}

func TestIndependentChainsDoNotInterfere(t *testing.T) {
	b := New(func(ctx context.Context, id htcid.ID) ([]byte, error) {
		return []byte("ok"), nil
	})

	id := htcid.New(sha256.Sum256([]byte("y")))
	_, err1 := b.Fetch(context.Background(), 1, id)
	_, err2 := b.Fetch(context.Background(), 2, id)
	require.NoError(t, err1)
	require.NoError(t, err2)
}
