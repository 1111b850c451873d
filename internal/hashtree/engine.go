// Package hashtree implements component E: the tree-shaped content store
// built on top of the content codec (A), local blob storage (B), blob
// transport federation (C), and peer fetcher bridge (D). It is the only
// component that knows how to turn a byte stream into a tree and back.
package hashtree

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"

	htcid "github.com/hoshizora/hashtree-node/internal/cid"
	"github.com/hoshizora/hashtree-node/internal/codec"
	"github.com/hoshizora/hashtree-node/internal/hterrors"
	"github.com/hoshizora/hashtree-node/internal/peerfetch"
	"github.com/hoshizora/hashtree-node/internal/privacy"
	"github.com/hoshizora/hashtree-node/internal/transport"
)

// BlobRecord mirrors internal/blobstore.Record's fields this package
// needs, avoiding a direct dependency on the blobstore package's concrete
// type so tests can provide a trivial in-memory LocalStore.
type BlobRecord struct {
	Bytes   []byte
	Trusted bool
}

// LocalStore is the subset of internal/blobstore.Store the engine needs.
type LocalStore interface {
	Get(ctx context.Context, hash string) (BlobRecord, error)
	Has(ctx context.Context, hash string) (bool, error)
	Put(ctx context.Context, hash string, data []byte, trusted bool) error
}

func sha256Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Engine is the hash-tree engine. All blocking methods take a context and
// follow the single unified read path noted in SPEC_FULL.md's REDESIGN
// FLAGS section: there is one putBlob/getBlock code path regardless of
// whether content ends up encrypted or plain, and the privacy guard is
// always consulted before a CID is admitted to the shareable set.
type Engine struct {
	local      LocalStore
	federation *transport.Federation
	peers      *peerfetch.Bridge
	guard      *privacy.Guard
}

// New builds an Engine over its four dependency components.
func New(local LocalStore, federation *transport.Federation, peers *peerfetch.Bridge, guard *privacy.Guard) *Engine {
	return &Engine{local: local, federation: federation, peers: peers, guard: guard}
}

// PutBlob seals plaintext as a single unencrypted leaf block and admits
// it to local storage as trusted, since this node produced the block
// itself. PutBlob never encrypts: a blob CID must never carry a key, so
// encryption is only ever applied on PutFile's internal leaf path.
func (e *Engine) PutBlob(ctx context.Context, plaintext []byte) (htcid.ID, error) {
	stored, id := codec.SealLeafPlain(plaintext)
	if err := e.local.Put(ctx, id.HashHex(), stored, true); err != nil {
		return htcid.ID{}, fmt.Errorf("hashtree: put blob store: %w", err)
	}
	return id, nil
}

// putEncryptedLeaf seals plaintext as an encrypted leaf block, the
// internal counterpart to PutBlob used exclusively by the file-chunking
// path so that putFile always yields an encrypted CID with a key.
func (e *Engine) putEncryptedLeaf(ctx context.Context, plaintext []byte) (htcid.ID, error) {
	stored, id, err := codec.SealLeaf(plaintext)
	if err != nil {
		return htcid.ID{}, fmt.Errorf("hashtree: put blob: %w", err)
	}
	if err := e.local.Put(ctx, id.HashHex(), stored, true); err != nil {
		return htcid.ID{}, fmt.Errorf("hashtree: put blob store: %w", err)
	}
	e.guard.AllowEncryptedUpload(id)
	return id, nil
}

// PutFile chunks r with the rolling content-defined chunker, stores each
// chunk as an encrypted blob, and wraps the resulting chunk list in a
// tree node. A single-chunk file is stored as a bare leaf with no
// wrapping node. putFile always produces an encrypted CID with a key.
func (e *Engine) PutFile(ctx context.Context, r io.Reader) (htcid.ID, error) {
	return e.putFileWithChunker(ctx, r, codec.Chunk)
}

// PutVideoFile is the same as PutFile but uses the fixed power-of-two
// video chunking profile instead of the content-defined rolling chunker.
func (e *Engine) PutVideoFile(ctx context.Context, r io.Reader) (htcid.ID, error) {
	return e.putFileWithChunker(ctx, r, codec.VideoChunk)
}

func (e *Engine) putFileWithChunker(ctx context.Context, r io.Reader, chunker func(io.Reader, func([]byte) error) error) (htcid.ID, error) {
	var links []codec.Link
	chunkErr := chunker(r, func(chunk []byte) error {
		id, err := e.putEncryptedLeaf(ctx, chunk)
		if err != nil {
			return err
		}
		links = append(links, codec.Link{CID: id, Size: int64(len(chunk)), Kind: codec.KindBlob})
		return nil
	})
	if chunkErr != nil {
		return htcid.ID{}, fmt.Errorf("hashtree: put file chunk: %w", chunkErr)
	}

	if len(links) == 0 {
		return e.putEncryptedLeaf(ctx, nil)
	}
	if len(links) == 1 {
		return links[0].CID, nil
	}

	frame := codec.EncodeTreeNode(links)
	return e.putEncryptedLeaf(ctx, frame)
}

// fetchBlock resolves raw stored bytes for id: local store first, then
// the blob transport federation, then the peer fetcher bridge as a last
// resort. Anything arriving from federation or peers is re-verified
// against id before being admitted to local storage (untrusted put).
func (e *Engine) fetchBlock(ctx context.Context, id htcid.ID) ([]byte, error) {
	rec, err := e.local.Get(ctx, id.HashHex())
	if err == nil {
		return rec.Bytes, nil
	}

	if e.federation != nil {
		data, ferr := e.federation.Fetch(ctx, id.HashHex())
		if ferr == nil {
			if verr := e.verifyAndStore(ctx, id, data); verr != nil {
				return nil, verr
			}
			return data, nil
		}
	}

	if e.peers != nil {
		data, perr := e.peers.Fetch(ctx, 0, id)
		if perr == nil {
			if verr := e.verifyAndStore(ctx, id, data); verr != nil {
				return nil, verr
			}
			return data, nil
		}
	}

	return nil, fmt.Errorf("hashtree: fetch block %s: %w", id.HashHex(), hterrors.ErrNotFound)
}

func (e *Engine) verifyAndStore(ctx context.Context, id htcid.ID, data []byte) error {
	gotHash := sha256Sum(data)
	if gotHash != id.Hash {
		return fmt.Errorf("hashtree: verify %s: %w", id.HashHex(), hterrors.ErrIntegrity)
	}
	return e.local.Put(ctx, id.HashHex(), data, false)
}

// getLinks fetches id and, if it decodes as a tree node, returns its
// links; otherwise it reports a single implicit leaf link for id itself.
func (e *Engine) getLinks(ctx context.Context, id htcid.ID) ([]codec.Link, bool, error) {
	raw, err := e.fetchBlock(ctx, id)
	if err != nil {
		return nil, false, err
	}
	plain, err := codec.OpenLeaf(raw, id)
	if err != nil {
		return nil, false, fmt.Errorf("hashtree: open %s: %w", id.HashHex(), err)
	}
	if codec.IsTreeNode(plain) {
		links, err := codec.DecodeTreeNode(plain)
		if err != nil {
			return nil, false, fmt.Errorf("hashtree: decode tree node %s: %w", id.HashHex(), err)
		}
		return links, true, nil
	}
	return nil, false, nil
}

// ReadFile reconstructs the full plaintext referenced by id, whether it
// is a bare leaf or a multi-chunk tree node.
func (e *Engine) ReadFile(ctx context.Context, id htcid.ID) ([]byte, error) {
	links, isTree, err := e.getLinks(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isTree {
		raw, err := e.fetchBlock(ctx, id)
		if err != nil {
			return nil, err
		}
		return codec.OpenLeaf(raw, id)
	}

	var buf bytes.Buffer
	for _, l := range links {
		part, err := e.ReadFile(ctx, l.CID)
		if err != nil {
			return nil, fmt.Errorf("hashtree: read file chunk %s: %w", l.CID.HashHex(), err)
		}
		buf.Write(part)
	}
	return buf.Bytes(), nil
}

// ReadFileRange returns length bytes starting at offset without
// materializing chunks outside the requested window.
func (e *Engine) ReadFileRange(ctx context.Context, id htcid.ID, offset, length int64) ([]byte, error) {
	var out bytes.Buffer
	err := e.StreamFileRangeChunks(ctx, id, offset, length, func(chunk []byte) error {
		out.Write(chunk)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// StreamFileRangeChunks calls emit with successive slices covering
// [offset, offset+length) of id's plaintext, skipping whole chunks that
// fall entirely outside the window.
func (e *Engine) StreamFileRangeChunks(ctx context.Context, id htcid.ID, offset, length int64, emit func([]byte) error) error {
	if length <= 0 {
		return nil
	}
	links, isTree, err := e.getLinks(ctx, id)
	if err != nil {
		return err
	}
	if !isTree {
		raw, err := e.fetchBlock(ctx, id)
		if err != nil {
			return err
		}
		plain, err := codec.OpenLeaf(raw, id)
		if err != nil {
			return err
		}
		return emitSlice(plain, offset, length, emit)
	}

	remainingOffset := offset
	remainingLength := length
	for _, l := range links {
		if remainingLength <= 0 {
			break
		}
		chunkSize := l.Size

		if remainingOffset >= chunkSize {
			remainingOffset -= chunkSize
			continue
		}

		localOffset := remainingOffset
		localLength := chunkSize - localOffset
		if localLength > remainingLength {
			localLength = remainingLength
		}

		err := e.StreamFileRangeChunks(ctx, l.CID, localOffset, localLength, emit)
		if err != nil {
			return fmt.Errorf("hashtree: range chunk %s: %w", l.CID.HashHex(), err)
		}

		remainingOffset = 0
		remainingLength -= localLength
	}
	return nil
}

func emitSlice(plain []byte, offset, length int64, emit func([]byte) error) error {
	if offset < 0 || offset > int64(len(plain)) {
		return fmt.Errorf("hashtree: range offset out of bounds: %w", hterrors.ErrInvalidArgument)
	}
	end := offset + length
	if end > int64(len(plain)) {
		end = int64(len(plain))
	}
	if offset >= end {
		return nil
	}
	return emit(plain[offset:end])
}

// GetSize returns the total plaintext size referenced by id.
func (e *Engine) GetSize(ctx context.Context, id htcid.ID) (int64, error) {
	links, isTree, err := e.getLinks(ctx, id)
	if err != nil {
		return 0, err
	}
	if !isTree {
		raw, err := e.fetchBlock(ctx, id)
		if err != nil {
			return 0, err
		}
		plain, err := codec.OpenLeaf(raw, id)
		if err != nil {
			return 0, err
		}
		return int64(len(plain)), nil
	}
	var total int64
	for _, l := range links {
		total += l.Size
	}
	return total, nil
}

// ResolvePath walks a '/'-separated path starting at a directory root,
// returning the link for the final path component.
func (e *Engine) ResolvePath(ctx context.Context, root htcid.ID, path string) (codec.Link, error) {
	segments := splitPath(path)
	cur := root
	var found codec.Link
	for i, seg := range segments {
		links, isTree, err := e.getLinks(ctx, cur)
		if err != nil {
			return codec.Link{}, err
		}
		if !isTree {
			return codec.Link{}, fmt.Errorf("hashtree: resolve %q: not a directory: %w", path, hterrors.ErrInvalidArgument)
		}
		var next *codec.Link
		for j := range links {
			if links[j].Name == seg {
				next = &links[j]
				break
			}
		}
		if next == nil {
			return codec.Link{}, fmt.Errorf("hashtree: resolve %q: segment %q: %w", path, seg, hterrors.ErrNotFound)
		}
		found = *next
		if i < len(segments)-1 {
			cur = next.CID
		}
	}
	return found, nil
}

// ListDirectory returns the named entries of a directory tree node.
func (e *Engine) ListDirectory(ctx context.Context, dir htcid.ID) ([]codec.Link, error) {
	links, isTree, err := e.getLinks(ctx, dir)
	if err != nil {
		return nil, err
	}
	if !isTree {
		return nil, fmt.Errorf("hashtree: list directory %s: not a directory: %w", dir.HashHex(), hterrors.ErrInvalidArgument)
	}
	out := make([]codec.Link, len(links))
	copy(out, links)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetEntry returns a new directory CID with name bound to link, added or
// replaced among dir's existing entries, leaving the original directory
// block untouched (the tree is immutable; every edit is a new version).
func (e *Engine) SetEntry(ctx context.Context, dir htcid.ID, name string, link codec.Link) (htcid.ID, error) {
	var links []codec.Link
	if !dir.Equal(htcid.ID{}) {
		existing, isTree, err := e.getLinks(ctx, dir)
		if err != nil && !errors.Is(err, hterrors.ErrNotFound) {
			return htcid.ID{}, err
		}
		if isTree {
			links = existing
		}
	}

	link.Name = name
	replaced := false
	for i := range links {
		if links[i].Name == name {
			links[i] = link
			replaced = true
			break
		}
	}
	if !replaced {
		links = append(links, link)
	}

	frame := codec.EncodeTreeNode(links)
	if dir.IsEncrypted() {
		return e.putEncryptedLeaf(ctx, frame)
	}
	return e.PutBlob(ctx, frame)
}

// WalkBlocks visits every block CID reachable from root, depth first,
// parents after their children (post-order).
func (e *Engine) WalkBlocks(ctx context.Context, root htcid.ID, visit func(htcid.ID, []byte) error) error {
	links, isTree, err := e.getLinks(ctx, root)
	if err != nil {
		return err
	}
	if isTree {
		for _, l := range links {
			if err := e.WalkBlocks(ctx, l.CID, visit); err != nil {
				return err
			}
		}
	}
	raw, err := e.fetchBlock(ctx, root)
	if err != nil {
		return err
	}
	return visit(root, raw)
}

// Push uploads every block reachable from root to the blob transport
// federation. WalkBlocks collects the blocks children first, but they are
// handed to UploadStore.Push as a map keyed by hash and uploaded
// concurrently, so the upload order is not defined: a parent block can
// reach a server before its children do.
func (e *Engine) Push(ctx context.Context, root htcid.ID, caps map[string]transport.UploadCapability, maxConcurrent int) error {
	blocks := make(map[string][]byte)
	err := e.WalkBlocks(ctx, root, func(id htcid.ID, raw []byte) error {
		blocks[id.HashHex()] = raw
		return nil
	})
	if err != nil {
		return fmt.Errorf("hashtree: push walk: %w", err)
	}

	store := e.federation.CreateUploadStore(caps)
	if err := store.Push(ctx, blocks, maxConcurrent); err != nil {
		return fmt.Errorf("hashtree: push: %w", err)
	}
	return nil
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				segs = append(segs, path[start:i])
			}
			start = i + 1
		}
	}
	return segs
}
