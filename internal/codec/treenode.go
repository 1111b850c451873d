package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	htcid "github.com/hoshizora/hashtree-node/internal/cid"
)

// LinkKind distinguishes the three node shapes a tree entry can point to.
type LinkKind byte

const (
	KindBlob LinkKind = iota
	KindDir
	KindInline
)

// treeNodeMagic tags the start of every encoded tree node frame ("HND1").
const treeNodeMagic uint32 = 0x484e4431

// Link is one entry of a directory/tree node's link list.
type Link struct {
	Name string
	CID  htcid.ID
	Size int64
	Kind LinkKind
}

// EncodeTreeNode frames a link list as: magic, varint link count, then per
// link: varint name length + name bytes (empty for an unnamed root entry),
// 32-byte hash, a key-present byte followed by the 32-byte key when set,
// varint size, and a single kind byte.
func EncodeTreeNode(links []Link) []byte {
	var buf bytes.Buffer
	var scratch [binary.MaxVarintLen64]byte

	writeVarint := func(v uint64) {
		n := binary.PutUvarint(scratch[:], v)
		buf.Write(scratch[:n])
	}

	var magicBuf [4]byte
	binary.BigEndian.PutUint32(magicBuf[:], treeNodeMagic)
	buf.Write(magicBuf[:])

	writeVarint(uint64(len(links)))
	for _, l := range links {
		writeVarint(uint64(len(l.Name)))
		buf.WriteString(l.Name)
		buf.Write(l.CID.Hash[:])
		if l.CID.Key != nil {
			buf.WriteByte(1)
			buf.Write(l.CID.Key[:])
		} else {
			buf.WriteByte(0)
		}
		writeVarint(uint64(l.Size))
		buf.WriteByte(byte(l.Kind))
	}
	return buf.Bytes()
}

// DecodeTreeNode is the inverse of EncodeTreeNode. It returns an error
// wrapping io.ErrUnexpectedEOF-style context for any truncated or
// malformed frame rather than panicking on attacker-controlled input.
func DecodeTreeNode(data []byte) ([]Link, error) {
	r := bytes.NewReader(data)

	var magicBuf [4]byte
	if _, err := io.ReadFull(r, magicBuf[:]); err != nil {
		return nil, fmt.Errorf("codec: tree node: read magic: %w", err)
	}
	if binary.BigEndian.Uint32(magicBuf[:]) != treeNodeMagic {
		return nil, fmt.Errorf("codec: tree node: bad magic")
	}

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("codec: tree node: read link count: %w", err)
	}
	if count > 1<<20 {
		return nil, fmt.Errorf("codec: tree node: implausible link count %d", count)
	}

	links := make([]Link, 0, count)
	for i := uint64(0); i < count; i++ {
		nameLen, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("codec: tree node: link %d name length: %w", i, err)
		}
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return nil, fmt.Errorf("codec: tree node: link %d name: %w", i, err)
		}

		var l Link
		l.Name = string(nameBuf)

		if _, err := io.ReadFull(r, l.CID.Hash[:]); err != nil {
			return nil, fmt.Errorf("codec: tree node: link %d hash: %w", i, err)
		}

		keyPresent, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("codec: tree node: link %d key flag: %w", i, err)
		}
		if keyPresent == 1 {
			var key [32]byte
			if _, err := io.ReadFull(r, key[:]); err != nil {
				return nil, fmt.Errorf("codec: tree node: link %d key: %w", i, err)
			}
			l.CID.Key = &key
		} else if keyPresent != 0 {
			return nil, fmt.Errorf("codec: tree node: link %d invalid key flag %d", i, keyPresent)
		}

		size, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("codec: tree node: link %d size: %w", i, err)
		}
		l.Size = int64(size)

		kind, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("codec: tree node: link %d kind: %w", i, err)
		}
		l.Kind = LinkKind(kind)

		links = append(links, l)
	}
	return links, nil
}

// IsTreeNode reports whether data begins with the tree node magic, used
// by the engine to decide whether a fetched block is a directory/tree
// node or an opaque leaf when walking without prior type knowledge.
func IsTreeNode(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	return binary.BigEndian.Uint32(data[:4]) == treeNodeMagic
}
