package social

import (
	"encoding/hex"
	"testing"
)

func fakePubkey(b byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = b
	}
	return hex.EncodeToString(raw)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	root := fakePubkey(0x01)
	a := fakePubkey(0x02)
	bb := fakePubkey(0x03)

	g := New(root)
	g.HandleEvent(followEvent(root, 100, a, bb), true, 2)
	g.HandleEvent(muteEvent(root, 100, bb), true, 2)
	<-g.RecalculateFollowDistances(64, 0, nil)

	data, err := g.Encode(BoundedOptions{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	g2, err := Decode(root, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(g2.follows[g2.uidOf[root]]) != 2 {
		t.Fatalf("decoded follow targets = %d, want 2", len(g2.follows[g2.uidOf[root]]))
	}
	if len(g2.mutes[g2.uidOf[root]]) != 1 {
		t.Fatalf("decoded mute targets = %d, want 1", len(g2.mutes[g2.uidOf[root]]))
	}
}

func TestEncodeBoundedRespectsMaxNodes(t *testing.T) {
	root := fakePubkey(0x01)
	g := New(root)
	targets := make([]string, 0, 10)
	for i := byte(2); i < 12; i++ {
		targets = append(targets, fakePubkey(i))
	}
	g.HandleEvent(followEvent(root, 1, targets...), true, 2)
	<-g.RecalculateFollowDistances(64, 0, nil)

	data, err := g.Encode(BoundedOptions{MaxNodes: 3})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	g2, err := Decode(root, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	total := len(g2.uidOf)
	if total > 3 {
		t.Fatalf("decoded graph has %d ids, want <= 3", total)
	}
}

func TestEncodeBoundedRespectsMaxEdges(t *testing.T) {
	root := fakePubkey(0x01)
	g := New(root)
	targets := make([]string, 0, 5)
	for i := byte(2); i < 7; i++ {
		targets = append(targets, fakePubkey(i))
	}
	g.HandleEvent(followEvent(root, 1, targets...), true, 2)
	<-g.RecalculateFollowDistances(64, 0, nil)

	data, err := g.Encode(BoundedOptions{MaxEdges: 2})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	g2, err := Decode(root, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n := len(g2.follows[g2.uidOf[root]]); n != 2 {
		t.Fatalf("decoded follow edges = %d, want 2", n)
	}
}
