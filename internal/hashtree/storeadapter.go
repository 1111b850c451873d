package hashtree

import (
	"context"

	"github.com/hoshizora/hashtree-node/internal/blobstore"
)

// blobStoreAdapter adapts *blobstore.Store to the narrower LocalStore
// interface this package depends on, keeping the engine's test surface
// free of a concrete sqlite dependency.
type blobStoreAdapter struct {
	store *blobstore.Store
}

// NewLocalStore wraps a blobstore.Store for use as an Engine's LocalStore.
func NewLocalStore(store *blobstore.Store) LocalStore {
	return blobStoreAdapter{store: store}
}

func (a blobStoreAdapter) Get(ctx context.Context, hash string) (BlobRecord, error) {
	rec, err := a.store.Get(ctx, hash)
	if err != nil {
		return BlobRecord{}, err
	}
	return BlobRecord{Bytes: rec.Bytes, Trusted: rec.Trusted}, nil
}

func (a blobStoreAdapter) Has(ctx context.Context, hash string) (bool, error) {
	return a.store.Has(ctx, hash)
}

func (a blobStoreAdapter) Put(ctx context.Context, hash string, data []byte, trusted bool) error {
	return a.store.Put(ctx, hash, data, trusted)
}
