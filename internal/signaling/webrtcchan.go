package signaling

import (
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pion/webrtc/v3"
)

// WebRTCProxy owns one ordered reliable data channel per connected peer,
// built on pion/webrtc/v3. It implements the SendCommand half of
// Transport: "open" creates the peer connection and data channel,
// "send" writes a message on an already-open channel, "close" tears
// the connection down.
type WebRTCProxy struct {
	api *webrtc.API

	mu    sync.Mutex
	conns map[peer.ID]*webrtcConn

	onEvent func(remote peer.ID, eventType string, payload []byte)
}

type webrtcConn struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel
}

// NewWebRTCProxy constructs a proxy using pion's default media engine and
// settings, matching the teacher's reliance on libp2p's own WebRTC
// transport defaults in node.go's buildListenAddrs/libp2p.New call.
func NewWebRTCProxy(onEvent func(remote peer.ID, eventType string, payload []byte)) (*WebRTCProxy, error) {
	api := webrtc.NewAPI()
	return &WebRTCProxy{
		api:     api,
		conns:   make(map[peer.ID]*webrtcConn),
		onEvent: onEvent,
	}, nil
}

var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// SendCommand implements Transport's proxy half.
func (w *WebRTCProxy) SendCommand(remote peer.ID, cmd ProxyCommand) error {
	switch cmd.Type {
	case "open":
		return w.open(remote)
	case "send":
		return w.send(remote, cmd.Payload)
	case "close":
		return w.close(remote)
	default:
		return fmt.Errorf("signaling: unknown proxy command %q", cmd.Type)
	}
}

func (w *WebRTCProxy) open(remote peer.ID) error {
	w.mu.Lock()
	if _, exists := w.conns[remote]; exists {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	pc, err := w.api.NewPeerConnection(webrtc.Configuration{ICEServers: defaultICEServers})
	if err != nil {
		return fmt.Errorf("signaling: new peer connection: %w", err)
	}
	dc, err := pc.CreateDataChannel("hashtree", nil)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("signaling: create data channel: %w", err)
	}

	conn := &webrtcConn{pc: pc, dc: dc}
	w.mu.Lock()
	w.conns[remote] = conn
	w.mu.Unlock()

	dc.OnOpen(func() {
		if w.onEvent != nil {
			w.onEvent(remote, "open", nil)
		}
	})
	dc.OnClose(func() {
		if w.onEvent != nil {
			w.onEvent(remote, "close", nil)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if w.onEvent != nil {
			w.onEvent(remote, "message", msg.Data)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			w.close(remote)
		}
	})

	return nil
}

func (w *WebRTCProxy) send(remote peer.ID, payload []byte) error {
	w.mu.Lock()
	conn, ok := w.conns[remote]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("signaling: no data channel for %s", remote)
	}
	return conn.dc.Send(payload)
}

func (w *WebRTCProxy) close(remote peer.ID) error {
	w.mu.Lock()
	conn, ok := w.conns[remote]
	delete(w.conns, remote)
	w.mu.Unlock()
	if !ok {
		return nil
	}
	_ = conn.dc.Close()
	return conn.pc.Close()
}
