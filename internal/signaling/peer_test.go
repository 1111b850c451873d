package signaling

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

func TestAdmissionRespectsPoolCap(t *testing.T) {
	cfg := PoolConfig{Follows: poolCaps{max: 2, satisfied: 1}, Other: poolCaps{max: 1, satisfied: 0}}
	table := newPeerTable(cfg)

	admitted, welcomed := table.admit(PoolFollows)
	require.True(t, admitted)
	require.True(t, welcomed)

	table.upsert(&PeerState{PeerID: peer.ID("a"), Pool: PoolFollows, Connected: true})
	admitted, welcomed = table.admit(PoolFollows)
	require.True(t, admitted)
	require.False(t, welcomed, "at satisfied threshold, no longer actively welcomed")

	table.upsert(&PeerState{PeerID: peer.ID("b"), Pool: PoolFollows, Connected: true})
	admitted, _ = table.admit(PoolFollows)
	require.False(t, admitted, "at cap, must reject")
}

func TestRankedConnectedOrdersFollowsBeforeOtherThenByRTT(t *testing.T) {
	cfg := DefaultPoolConfig()
	table := newPeerTable(cfg)
	table.upsert(&PeerState{PeerID: peer.ID("slow-follow"), Pool: PoolFollows, Connected: true, RTT: 200 * time.Millisecond})
	table.upsert(&PeerState{PeerID: peer.ID("fast-other"), Pool: PoolOther, Connected: true, RTT: 5 * time.Millisecond})
	table.upsert(&PeerState{PeerID: peer.ID("fast-follow"), Pool: PoolFollows, Connected: true, RTT: 10 * time.Millisecond})
	table.upsert(&PeerState{PeerID: peer.ID("disconnected"), Pool: PoolFollows, Connected: false})

	ranked := table.rankedConnected()
	require.Len(t, ranked, 3)
	require.Equal(t, peer.ID("fast-follow"), ranked[0].PeerID)
	require.Equal(t, peer.ID("slow-follow"), ranked[1].PeerID)
	require.Equal(t, peer.ID("fast-other"), ranked[2].PeerID)
}
