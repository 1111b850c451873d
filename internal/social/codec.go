package social

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/multiformats/go-varint"
)

const codecVersion = 2

// BoundedOptions caps a serialized snapshot's size. Zero means unbounded
// for that dimension.
type BoundedOptions struct {
	MaxNodes        int
	MaxEdges        int
	MaxDistance     int
	MaxEdgesPerNode int
}

type plannedEdge struct {
	owner, target UID
}

// Encode serializes g to the LEB128 binary layout from SPEC_FULL.md §6,
// honoring opts' caps simultaneously. A zero-value BoundedOptions encodes
// the whole graph.
func (g *Graph) Encode(opts BoundedOptions) ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	owners := make([]UID, 0, len(g.follows))
	for o := range g.follows {
		owners = append(owners, o)
	}
	sort.Slice(owners, func(i, j int) bool {
		di, dj := g.distance[owners[i]], g.distance[owners[j]]
		if di != dj {
			return di < dj
		}
		return owners[i] < owners[j]
	})

	usedIds := make(map[UID]struct{})
	var followEdges, muteEdges []plannedEdge
	edgesEmitted := 0

	planList := func(src map[UID]edgeSet, dst *[]plannedEdge) {
		for _, owner := range owners {
			if opts.MaxDistance > 0 && g.distance[owner] > opts.MaxDistance {
				continue
			}
			targets := make([]UID, 0, len(src[owner]))
			for t := range src[owner] {
				targets = append(targets, t)
			}
			sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

			perNode := 0
			for _, target := range targets {
				if opts.MaxEdges > 0 && edgesEmitted >= opts.MaxEdges {
					return
				}
				if opts.MaxEdgesPerNode > 0 && perNode >= opts.MaxEdgesPerNode {
					break
				}
				_, ownerUsed := usedIds[owner]
				_, targetUsed := usedIds[target]
				grow := 0
				if !ownerUsed {
					grow++
				}
				if !targetUsed {
					grow++
				}
				if opts.MaxNodes > 0 && len(usedIds)+grow > opts.MaxNodes {
					continue
				}
				usedIds[owner] = struct{}{}
				usedIds[target] = struct{}{}
				*dst = append(*dst, plannedEdge{owner, target})
				edgesEmitted++
				perNode++
			}
		}
	}
	planList(g.follows, &followEdges)
	if opts.MaxEdges == 0 || edgesEmitted < opts.MaxEdges {
		planList(g.mutes, &muteEdges)
	}

	var buf bytes.Buffer
	writeUvarint(&buf, codecVersion)
	writeUvarint(&buf, uint64(len(usedIds)))

	ids := make([]UID, 0, len(usedIds))
	for uid := range usedIds {
		ids = append(ids, uid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, uid := range ids {
		raw, err := hex.DecodeString(g.pubkeyOf[uid])
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("social: pubkey for uid %d is not 32 raw bytes: %w", uid, err)
		}
		buf.Write(raw)
		writeUvarint(&buf, uint64(uid))
	}

	writeEdgeList(&buf, followEdges, g.followListCreatedAt)
	writeEdgeList(&buf, muteEdges, g.muteListCreatedAt)

	return buf.Bytes(), nil
}

func writeEdgeList(buf *bytes.Buffer, edges []plannedEdge, createdAt map[UID]int64) {
	byOwner := make(map[UID][]UID)
	var owners []UID
	for _, e := range edges {
		if _, ok := byOwner[e.owner]; !ok {
			owners = append(owners, e.owner)
		}
		byOwner[e.owner] = append(byOwner[e.owner], e.target)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })

	writeUvarint(buf, uint64(len(owners)))
	for _, owner := range owners {
		writeUvarint(buf, uint64(owner))
		writeUvarint(buf, uint64(createdAt[owner]))
		targets := byOwner[owner]
		writeUvarint(buf, uint64(len(targets)))
		for _, t := range targets {
			writeUvarint(buf, uint64(t))
		}
	}
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	buf.Write(varint.ToUvarint(v))
}

// Decode parses the LEB128 binary layout into a fresh graph rooted at
// root. Any subset that respects the layout decodes; uid references to
// ids absent from the header are simply interned on first use so a
// bounded, partial snapshot is always loadable.
func Decode(root string, data []byte) (*Graph, error) {
	g := New(root)
	r := bufio.NewReader(bytes.NewReader(data))

	version, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("social: read version: %w", err)
	}
	if version != codecVersion {
		return nil, fmt.Errorf("social: unsupported codec version %d", version)
	}

	idCount, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("social: read idCount: %w", err)
	}
	pubkeyByUID := make(map[UID]string, idCount)
	for i := uint64(0); i < idCount; i++ {
		raw := make([]byte, 32)
		if _, err := readFull(r, raw); err != nil {
			return nil, fmt.Errorf("social: read pubkey %d: %w", i, err)
		}
		uid, err := varint.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("social: read uid %d: %w", i, err)
		}
		pubkeyByUID[UID(uid)] = hex.EncodeToString(raw)
	}

	resolve := func(uid UID) string {
		if pk, ok := pubkeyByUID[uid]; ok {
			return pk
		}
		return fmt.Sprintf("unknown-uid-%d", uid)
	}

	g.mu.Lock()
	followErr := readEdgeList(r, g.setFollowListLocked, resolve, g.internLocked)
	var muteErr error
	if followErr == nil {
		muteErr = readEdgeList(r, g.setMuteListLocked, resolve, g.internLocked)
	}
	g.mu.Unlock()
	if followErr != nil {
		return nil, fmt.Errorf("social: read follow lists: %w", followErr)
	}
	if muteErr != nil {
		return nil, fmt.Errorf("social: read mute lists: %w", muteErr)
	}
	return g, nil
}

func readEdgeList(r *bufio.Reader, set func(owner UID, targets []string, createdAt int64), resolve func(UID) string, intern func(string) UID) error {
	count, err := varint.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		ownerUID, err := varint.ReadUvarint(r)
		if err != nil {
			return err
		}
		createdAt, err := varint.ReadUvarint(r)
		if err != nil {
			return err
		}
		targetCount, err := varint.ReadUvarint(r)
		if err != nil {
			return err
		}
		targets := make([]string, 0, targetCount)
		for j := uint64(0); j < targetCount; j++ {
			targetUID, err := varint.ReadUvarint(r)
			if err != nil {
				return err
			}
			targets = append(targets, resolve(UID(targetUID)))
		}
		// ownerUID is in the wire graph's numbering, not this graph's own
		// UID namespace; it must be resolved to a pubkey and re-interned
		// here the same way each target already is, or it collides with
		// whatever pubkey this graph's own sequential interning assigned
		// that number to.
		owner := intern(resolve(UID(ownerUID)))
		set(owner, targets, int64(createdAt))
	}
	return nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
