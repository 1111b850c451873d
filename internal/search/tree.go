package search

import (
	"context"
	"fmt"
	"sort"

	htcid "github.com/hoshizora/hashtree-node/internal/cid"
)

// BlockStore is the narrow slice of internal/hashtree.Engine the B-tree
// needs: write a node's bytes as an opaque, unencrypted block and read
// one back by its content address. Kept as an interface so tests do not
// need a full engine wired with blob storage, transport and privacy.
type BlockStore interface {
	PutBlob(ctx context.Context, plaintext []byte) (htcid.ID, error)
	ReadFile(ctx context.Context, id htcid.ID) ([]byte, error)
}

func save(ctx context.Context, store BlockStore, n *node) (htcid.ID, error) {
	id, err := store.PutBlob(ctx, n.encode())
	if err != nil {
		return htcid.ID{}, fmt.Errorf("search: save node: %w", err)
	}
	return id, nil
}

func load(ctx context.Context, store BlockStore, id htcid.ID) (*node, error) {
	raw, err := store.ReadFile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("search: load node %s: %w", id.HashHex(), err)
	}
	n, err := decodeNode(raw)
	if err != nil {
		return nil, fmt.Errorf("search: decode node %s: %w", id.HashHex(), err)
	}
	return n, nil
}

// mergePosting folds p into ps, replacing an existing posting with the
// same ID (last write wins on payload) or appending a new one.
func mergePosting(ps []Posting, p Posting) []Posting {
	for i, existing := range ps {
		if existing.ID == p.ID {
			ps[i] = p
			return ps
		}
	}
	return append(ps, p)
}

// removePosting drops the posting with the given id, if present.
func removePosting(ps []Posting, id string) []Posting {
	for i, existing := range ps {
		if existing.ID == id {
			return append(ps[:i], ps[i+1:]...)
		}
	}
	return ps
}

type splitResult struct {
	did       bool
	middleKey string
	rightID   htcid.ID
}

// Insert adds one posting under key, returning the new root. A nil root
// (empty tree) creates a single leaf.
func Insert(ctx context.Context, store BlockStore, root *htcid.ID, key string, posting Posting) (htcid.ID, error) {
	if root == nil {
		leaf := &node{leaf: true, keys: []string{key}, postings: [][]Posting{{posting}}}
		return save(ctx, store, leaf)
	}

	newID, split, err := insertInto(ctx, store, *root, key, posting)
	if err != nil {
		return htcid.ID{}, err
	}
	if !split.did {
		return newID, nil
	}
	newRoot := &node{
		leaf:       false,
		children:   []htcid.ID{newID, split.rightID},
		separators: []string{split.middleKey},
	}
	return save(ctx, store, newRoot)
}

func insertInto(ctx context.Context, store BlockStore, id htcid.ID, key string, posting Posting) (htcid.ID, splitResult, error) {
	n, err := load(ctx, store, id)
	if err != nil {
		return htcid.ID{}, splitResult{}, err
	}

	if n.leaf {
		idx := sort.SearchStrings(n.keys, key)
		if idx < len(n.keys) && n.keys[idx] == key {
			n.postings[idx] = mergePosting(n.postings[idx], posting)
		} else {
			n.keys = insertStringAt(n.keys, idx, key)
			n.postings = insertPostingsAt(n.postings, idx, []Posting{posting})
		}

		if len(n.keys) <= order {
			savedID, err := save(ctx, store, n)
			return savedID, splitResult{}, err
		}

		mid := len(n.keys) / 2
		left := &node{leaf: true, keys: append([]string{}, n.keys[:mid]...), postings: append([][]Posting{}, n.postings[:mid]...)}
		right := &node{leaf: true, keys: append([]string{}, n.keys[mid:]...), postings: append([][]Posting{}, n.postings[mid:]...)}
		leftID, err := save(ctx, store, left)
		if err != nil {
			return htcid.ID{}, splitResult{}, err
		}
		rightID, err := save(ctx, store, right)
		if err != nil {
			return htcid.ID{}, splitResult{}, err
		}
		return leftID, splitResult{did: true, middleKey: right.keys[0], rightID: rightID}, nil
	}

	childIdx := n.childIndex(key)
	newChildID, childSplit, err := insertInto(ctx, store, n.children[childIdx], key, posting)
	if err != nil {
		return htcid.ID{}, splitResult{}, err
	}
	n.children[childIdx] = newChildID

	if childSplit.did {
		n.children = insertCIDAt(n.children, childIdx+1, childSplit.rightID)
		n.separators = insertStringAt(n.separators, childIdx, childSplit.middleKey)
	}

	if len(n.children) <= order+1 {
		savedID, err := save(ctx, store, n)
		return savedID, splitResult{}, err
	}

	midChild := len(n.children) / 2
	promoted := n.separators[midChild-1]
	left := &node{leaf: false, children: append([]htcid.ID{}, n.children[:midChild]...), separators: append([]string{}, n.separators[:midChild-1]...)}
	right := &node{leaf: false, children: append([]htcid.ID{}, n.children[midChild:]...), separators: append([]string{}, n.separators[midChild:]...)}
	leftID, err := save(ctx, store, left)
	if err != nil {
		return htcid.ID{}, splitResult{}, err
	}
	rightID, err := save(ctx, store, right)
	if err != nil {
		return htcid.ID{}, splitResult{}, err
	}
	return leftID, splitResult{did: true, middleKey: promoted, rightID: rightID}, nil
}

// Remove drops id's posting from key, pruning the key when its posting
// set becomes empty and propagating an emptied leaf or internal node
// upward. A nil return means the tree is now empty.
func Remove(ctx context.Context, store BlockStore, root htcid.ID, key, id string) (*htcid.ID, error) {
	return removeFrom(ctx, store, root, key, id)
}

func removeFrom(ctx context.Context, store BlockStore, id htcid.ID, key, postingID string) (*htcid.ID, error) {
	n, err := load(ctx, store, id)
	if err != nil {
		return nil, err
	}

	if n.leaf {
		idx := sort.SearchStrings(n.keys, key)
		if idx >= len(n.keys) || n.keys[idx] != key {
			savedID, err := save(ctx, store, n)
			return &savedID, err
		}
		n.postings[idx] = removePosting(n.postings[idx], postingID)
		if len(n.postings[idx]) == 0 {
			n.keys = append(n.keys[:idx], n.keys[idx+1:]...)
			n.postings = append(n.postings[:idx], n.postings[idx+1:]...)
		}
		if len(n.keys) == 0 {
			return nil, nil
		}
		savedID, err := save(ctx, store, n)
		return &savedID, err
	}

	childIdx := n.childIndex(key)
	newChild, err := removeFrom(ctx, store, n.children[childIdx], key, postingID)
	if err != nil {
		return nil, err
	}
	if newChild == nil {
		n.children = append(n.children[:childIdx], n.children[childIdx+1:]...)
		if childIdx > 0 {
			n.separators = append(n.separators[:childIdx-1], n.separators[childIdx:]...)
		} else if len(n.separators) > 0 {
			n.separators = n.separators[1:]
		}
	} else {
		n.children[childIdx] = *newChild
	}
	if len(n.children) == 0 {
		return nil, nil
	}
	savedID, err := save(ctx, store, n)
	return &savedID, err
}

// Find descends to the leaf holding key and returns its posting set.
func Find(ctx context.Context, store BlockStore, root htcid.ID, key string) ([]Posting, error) {
	n, err := load(ctx, store, root)
	if err != nil {
		return nil, err
	}
	if n.leaf {
		idx := sort.SearchStrings(n.keys, key)
		if idx < len(n.keys) && n.keys[idx] == key {
			return n.postings[idx], nil
		}
		return nil, nil
	}
	return Find(ctx, store, n.children[n.childIndex(key)], key)
}

func insertStringAt(s []string, idx int, v string) []string {
	s = append(s, "")
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

func insertPostingsAt(s [][]Posting, idx int, v []Posting) [][]Posting {
	s = append(s, nil)
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

func insertCIDAt(s []htcid.ID, idx int, v htcid.ID) []htcid.ID {
	s = append(s, htcid.ID{})
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}
