package hashtree

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	htcid "github.com/hoshizora/hashtree-node/internal/cid"
	"github.com/hoshizora/hashtree-node/internal/codec"
	"github.com/hoshizora/hashtree-node/internal/privacy"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]BlobRecord
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]BlobRecord)}
}

func (m *memStore) Get(ctx context.Context, hash string) (BlobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[hash]
	if !ok {
		return BlobRecord{}, errNotFoundStub{hash}
	}
	return rec, nil
}

func (m *memStore) Has(ctx context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[hash]
	return ok, nil
}

func (m *memStore) Put(ctx context.Context, hash string, data []byte, trusted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[hash] = BlobRecord{Bytes: data, Trusted: trusted}
	return nil
}

type errNotFoundStub struct{ hash string }

func (e errNotFoundStub) Error() string { return "not found: " + e.hash }

func newTestEngine() *Engine {
	return New(newMemStore(), nil, nil, privacy.New())
}

func TestPutBlobAndReadFileLeaf(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	id, err := e.PutBlob(ctx, []byte("hello world"))
	require.NoError(t, err)
	require.False(t, id.IsEncrypted(), "putBlob must never produce an encrypted CID")

	got, err := e.ReadFile(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)
}

func TestPutFileMultiChunkReassembly(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	data := bytes.Repeat([]byte("abcdefgh"), codec.MaxChunkBytes) // forces multiple chunks
	id, err := e.PutFile(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	require.True(t, id.IsEncrypted(), "putFile must always produce an encrypted CID with a key")

	got, err := e.ReadFile(ctx, id)
	require.NoError(t, err)
	require.Equal(t, data, got)

	size, err := e.GetSize(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), size)
}

func TestReadFileRange(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	data := bytes.Repeat([]byte("0123456789"), codec.MaxChunkBytes/5)
	id, err := e.PutFile(ctx, bytes.NewReader(data))
	require.NoError(t, err)

	start := int64(len(data)/2 - 50)
	got, err := e.ReadFileRange(ctx, id, start, 100)
	require.NoError(t, err)
	require.Equal(t, data[start:start+100], got)
}

func TestDirectoryOperations(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	fileID, err := e.PutBlob(ctx, []byte("file contents"))
	require.NoError(t, err)

	dirID, err := e.SetEntry(ctx, htcid.ID{}, "readme.txt", codec.Link{CID: fileID, Size: 13, Kind: codec.KindBlob})
	require.NoError(t, err)

	entries, err := e.ListDirectory(ctx, dirID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "readme.txt", entries[0].Name)

	link, err := e.ResolvePath(ctx, dirID, "readme.txt")
	require.NoError(t, err)
	require.True(t, link.CID.Equal(fileID))

	got, err := e.ReadFile(ctx, link.CID)
	require.NoError(t, err)
	require.Equal(t, []byte("file contents"), got)
}

func TestSetEntryReplacesExisting(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	fileA, err := e.PutBlob(ctx, []byte("version A"))
	require.NoError(t, err)
	fileB, err := e.PutBlob(ctx, []byte("version B"))
	require.NoError(t, err)

	dirID, err := e.SetEntry(ctx, htcid.ID{}, "doc.txt", codec.Link{CID: fileA, Size: 9, Kind: codec.KindBlob})
	require.NoError(t, err)
	dirID, err = e.SetEntry(ctx, dirID, "doc.txt", codec.Link{CID: fileB, Size: 9, Kind: codec.KindBlob})
	require.NoError(t, err)

	entries, err := e.ListDirectory(ctx, dirID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].CID.Equal(fileB))
}

func TestWalkBlocksVisitsChildrenBeforeParent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	data := bytes.Repeat([]byte("z"), 2*codec.MaxChunkBytes)
	id, err := e.PutFile(ctx, bytes.NewReader(data))
	require.NoError(t, err)

	var order []string
	err = e.WalkBlocks(ctx, id, func(blockID htcid.ID, raw []byte) error {
		order = append(order, blockID.HashHex())
		return nil
	})
	require.NoError(t, err)
	require.Greater(t, len(order), 1)
	require.Equal(t, id.HashHex(), order[len(order)-1])
}
