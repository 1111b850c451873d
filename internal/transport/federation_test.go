package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoshizora/hashtree-node/internal/hterrors"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string][]byte)}
}

func (m *memBackend) Get(ctx context.Context, hash string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[hash]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", hash, hterrors.ErrNotFound)
	}
	return d, nil
}

func (m *memBackend) Has(ctx context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[hash]
	return ok, nil
}

func (m *memBackend) Put(ctx context.Context, hash string, data []byte, trusted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[hash] = data
	return nil
}

func TestUploadCapabilitySignAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	capa := SignUploadCapability(priv, "deadbeef", time.Now().Add(time.Hour))
	require.NoError(t, capa.Verify(pub, time.Now()))

	_, otherPriv, err := ed25519.GenerateKey(nil)
	_ = otherPriv
	require.NoError(t, err)
	require.Error(t, capa.Verify(pub, time.Now().Add(2*time.Hour)))
}

func TestFetchAndPushAgainstRealServer(t *testing.T) {
	backend := newMemBackend()
	backend.data["known"] = []byte("hello federation")

	srv := NewServer(backend, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	fed := New(ts.Client(), nil, nil)
	fed.AddEndpoint(Endpoint{BaseURL: ts.URL})

	data, err := fed.Fetch(context.Background(), "known")
	require.NoError(t, err)
	require.Equal(t, "hello federation", string(data))

	_, err = fed.Fetch(context.Background(), "missing")
	require.ErrorIs(t, err, hterrors.ErrNotFound)

	pushed := []byte("pushed")
	pushedDigest := sha256.Sum256(pushed)
	newHash := hex.EncodeToString(pushedDigest[:])
	store := fed.CreateUploadStore(map[string]UploadCapability{
		newHash: {Hash: newHash},
	})
	err = store.Push(context.Background(), map[string][]byte{newHash: pushed}, 2)
	require.NoError(t, err)
	require.Equal(t, 1, store.Progress(newHash))

	got, err := fed.Fetch(context.Background(), newHash)
	require.NoError(t, err)
	require.Equal(t, "pushed", string(got))
}

func TestServerEnforcesCapabilityWhenTrustedKeySet(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	backend := newMemBackend()
	srv := NewServer(backend, pub, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	fed := New(ts.Client(), nil, nil)
	fed.AddEndpoint(Endpoint{BaseURL: ts.URL})

	body := []byte("secret")
	bodyDigest := sha256.Sum256(body)
	protected := hex.EncodeToString(bodyDigest[:])
	store := fed.CreateUploadStore(map[string]UploadCapability{
		protected: SignUploadCapability(priv, protected, time.Now().Add(time.Hour)),
	})
	err = store.Push(context.Background(), map[string][]byte{protected: body}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, store.Progress(protected))
}
