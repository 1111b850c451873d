package search

import (
	"context"
	"crypto/sha256"
	"fmt"
	"testing"

	htcid "github.com/hoshizora/hashtree-node/internal/cid"
)

type memStore struct {
	blocks map[string][]byte
}

func newMemStore() *memStore { return &memStore{blocks: make(map[string][]byte)} }

func (m *memStore) PutBlob(ctx context.Context, plaintext []byte) (htcid.ID, error) {
	id := htcid.New(sha256.Sum256(plaintext))
	m.blocks[id.HashHex()] = append([]byte{}, plaintext...)
	return id, nil
}

func (m *memStore) ReadFile(ctx context.Context, id htcid.ID) ([]byte, error) {
	data, ok := m.blocks[id.HashHex()]
	if !ok {
		return nil, fmt.Errorf("memStore: block %s not found", id.HashHex())
	}
	return data, nil
}

func TestInsertFindRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	root, err := Insert(ctx, store, nil, "kw:hello", Posting{ID: "doc1", Payload: "p1"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	postings, err := Find(ctx, store, root, "kw:hello")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(postings) != 1 || postings[0].ID != "doc1" {
		t.Fatalf("postings = %+v, want one doc1", postings)
	}
}

func TestInsertSplitsLeafAcrossManyKeys(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	var root *htcid.ID
	for i := 0; i < order*3; i++ {
		key := fmt.Sprintf("kw:term%04d", i)
		id, err := Insert(ctx, store, root, key, Posting{ID: fmt.Sprintf("doc%d", i), Payload: "p"})
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		root = &id
	}

	for i := 0; i < order*3; i++ {
		key := fmt.Sprintf("kw:term%04d", i)
		postings, err := Find(ctx, store, *root, key)
		if err != nil {
			t.Fatalf("Find %d: %v", i, err)
		}
		if len(postings) != 1 || postings[0].ID != fmt.Sprintf("doc%d", i) {
			t.Fatalf("Find(%s) = %+v, want one doc%d", key, postings, i)
		}
	}
}

func TestRemoveEmptiesTreeWhenLastPostingDropped(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	root, err := Insert(ctx, store, nil, "kw:solo", Posting{ID: "doc1", Payload: "p"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	newRoot, err := Remove(ctx, store, root, "kw:solo", "doc1")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if newRoot != nil {
		t.Fatal("removing the only posting should empty the tree")
	}
}

func TestRemoveKeepsOtherPostingsOnSameKey(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	root, err := Insert(ctx, store, nil, "kw:shared", Posting{ID: "doc1", Payload: "p1"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	root, err = Insert(ctx, store, &root, "kw:shared", Posting{ID: "doc2", Payload: "p2"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	newRoot, err := Remove(ctx, store, root, "kw:shared", "doc1")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if newRoot == nil {
		t.Fatal("tree should survive with doc2's posting remaining")
	}
	postings, err := Find(ctx, store, *newRoot, "kw:shared")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(postings) != 1 || postings[0].ID != "doc2" {
		t.Fatalf("postings = %+v, want only doc2", postings)
	}
}

func TestInsertOverwritesPayloadForSameID(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	root, err := Insert(ctx, store, nil, "kw:x", Posting{ID: "doc1", Payload: "old"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	root, err = Insert(ctx, store, &root, "kw:x", Posting{ID: "doc1", Payload: "new"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	postings, err := Find(ctx, store, root, "kw:x")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(postings) != 1 || postings[0].Payload != "new" {
		t.Fatalf("postings = %+v, want one doc1 with payload new", postings)
	}
}
