// Package search implements component J: a persistent B-tree of keyword
// postings whose nodes are stored as hash-tree blocks, so every insert or
// remove is copy-on-write and returns a new root rather than mutating
// blocks in place.
package search

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	htcid "github.com/hoshizora/hashtree-node/internal/cid"
)

// order bounds how many keys a leaf (or separators an internal node) may
// hold before it splits. Kept small so tests exercise splitting without
// needing thousands of postings.
const order = 16

// Posting is one (id, payload) tuple attached to a keyword.
type Posting struct {
	ID      string
	Payload string
}

// node is the in-memory form of one B-tree node. Leaves carry sorted
// keys with their posting sets; internal nodes carry child block CIDs
// separated by the smallest key of each child after the first.
type node struct {
	leaf bool

	keys     []string
	postings [][]Posting // parallel to keys

	children   []htcid.ID
	separators []string // len(children)-1
}

const btreeNodeMagic uint32 = 0x42544e31 // "BTN1"

func (n *node) encode() []byte {
	var buf bytes.Buffer
	var scratch [binary.MaxVarintLen64]byte
	writeVarint := func(v uint64) {
		l := binary.PutUvarint(scratch[:], v)
		buf.Write(scratch[:l])
	}
	writeString := func(s string) {
		writeVarint(uint64(len(s)))
		buf.WriteString(s)
	}

	var magicBuf [4]byte
	binary.BigEndian.PutUint32(magicBuf[:], btreeNodeMagic)
	buf.Write(magicBuf[:])

	if n.leaf {
		buf.WriteByte(1)
		writeVarint(uint64(len(n.keys)))
		for i, k := range n.keys {
			writeString(k)
			ps := n.postings[i]
			writeVarint(uint64(len(ps)))
			for _, p := range ps {
				writeString(p.ID)
				writeString(p.Payload)
			}
		}
		return buf.Bytes()
	}

	buf.WriteByte(0)
	writeVarint(uint64(len(n.children)))
	for _, c := range n.children {
		buf.Write(c.Hash[:])
	}
	writeVarint(uint64(len(n.separators)))
	for _, s := range n.separators {
		writeString(s)
	}
	return buf.Bytes()
}

func decodeNode(data []byte) (*node, error) {
	r := bytes.NewReader(data)

	var magicBuf [4]byte
	if _, err := io.ReadFull(r, magicBuf[:]); err != nil {
		return nil, fmt.Errorf("search: read magic: %w", err)
	}
	if binary.BigEndian.Uint32(magicBuf[:]) != btreeNodeMagic {
		return nil, fmt.Errorf("search: bad node magic")
	}

	leafByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("search: read leaf flag: %w", err)
	}

	readVarint := func() (uint64, error) { return binary.ReadUvarint(r) }
	readString := func() (string, error) {
		l, err := readVarint()
		if err != nil {
			return "", err
		}
		buf := make([]byte, l)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		return string(buf), nil
	}

	n := &node{leaf: leafByte == 1}
	if n.leaf {
		keyCount, err := readVarint()
		if err != nil {
			return nil, fmt.Errorf("search: read key count: %w", err)
		}
		n.keys = make([]string, 0, keyCount)
		n.postings = make([][]Posting, 0, keyCount)
		for i := uint64(0); i < keyCount; i++ {
			key, err := readString()
			if err != nil {
				return nil, fmt.Errorf("search: read key %d: %w", i, err)
			}
			postingCount, err := readVarint()
			if err != nil {
				return nil, fmt.Errorf("search: read posting count %d: %w", i, err)
			}
			ps := make([]Posting, 0, postingCount)
			for j := uint64(0); j < postingCount; j++ {
				id, err := readString()
				if err != nil {
					return nil, fmt.Errorf("search: read posting %d/%d id: %w", i, j, err)
				}
				payload, err := readString()
				if err != nil {
					return nil, fmt.Errorf("search: read posting %d/%d payload: %w", i, j, err)
				}
				ps = append(ps, Posting{ID: id, Payload: payload})
			}
			n.keys = append(n.keys, key)
			n.postings = append(n.postings, ps)
		}
		return n, nil
	}

	childCount, err := readVarint()
	if err != nil {
		return nil, fmt.Errorf("search: read child count: %w", err)
	}
	n.children = make([]htcid.ID, 0, childCount)
	for i := uint64(0); i < childCount; i++ {
		var hash [32]byte
		if _, err := io.ReadFull(r, hash[:]); err != nil {
			return nil, fmt.Errorf("search: read child %d hash: %w", i, err)
		}
		n.children = append(n.children, htcid.New(hash))
	}
	sepCount, err := readVarint()
	if err != nil {
		return nil, fmt.Errorf("search: read separator count: %w", err)
	}
	n.separators = make([]string, 0, sepCount)
	for i := uint64(0); i < sepCount; i++ {
		s, err := readString()
		if err != nil {
			return nil, fmt.Errorf("search: read separator %d: %w", i, err)
		}
		n.separators = append(n.separators, s)
	}
	return n, nil
}

// childIndex returns which child subtree key belongs to. separators[i] is
// the smallest key present anywhere in children[i+1], so a key equal to a
// separator routes to the child on its right.
func (n *node) childIndex(key string) int {
	return sort.Search(len(n.separators), func(i int) bool { return n.separators[i] > key })
}
