package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/libp2p/go-libp2p/core/peer"
)

// RelayClient speaks the hello/directed-frame event schema as JSON frames
// over a websocket connection to a signalling relay, implementing the
// publish half of Transport. The companion WebRTC proxy (webrtcchan.go)
// implements SendCommand.
type RelayClient struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn

	onMessage func(raw json.RawMessage, from peer.ID)

	dialer *websocket.Dialer
}

// NewRelayClient constructs a client bound to a relay URL (ws:// or
// wss://). Dial must be called before publishing.
func NewRelayClient(url string, onMessage func(raw json.RawMessage, from peer.ID)) *RelayClient {
	return &RelayClient{
		url:       url,
		onMessage: onMessage,
		dialer:    websocket.DefaultDialer,
	}
}

// Dial connects to the relay and starts the inbound read loop. The read
// loop terminates when ctx is cancelled or the connection closes.
func (r *RelayClient) Dial(ctx context.Context) error {
	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("signaling: relay dial: %w", err)
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	go r.readLoop(ctx, conn)
	return nil
}

type relayEnvelope struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

func (r *RelayClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env relayEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if r.onMessage != nil {
			r.onMessage(env.Payload, peer.ID(env.From))
		}
	}
}

// BroadcastHello implements Transport.
func (r *RelayClient) BroadcastHello(hello HelloEvent) error {
	return r.publish("", hello)
}

// SendSignaling implements Transport, publishing a directed frame; the
// relay fans it out to the subscriber matching RecipientPubKey.
func (r *RelayClient) SendSignaling(frame DirectedFrame) error {
	return r.publish(frame.RecipientPubKey, frame)
}

func (r *RelayClient) publish(to string, payload any) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("signaling: relay not connected")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := relayEnvelope{From: to, Payload: body}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	return r.conn.WriteMessage(websocket.TextMessage, data)
}

// SendCommand is not implemented by the relay; a full Transport pairs a
// RelayClient (for SendSignaling/BroadcastHello) with a WebRTCProxy (for
// SendCommand) behind a small adapter - see CombinedTransport.
func (r *RelayClient) SendCommand(peer.ID, ProxyCommand) error {
	return fmt.Errorf("signaling: relay does not carry data-channel commands")
}

// CombinedTransport pairs a signalling publisher with a data-channel
// proxy so Controller sees a single Transport.
type CombinedTransport struct {
	Signaling interface {
		SendSignaling(DirectedFrame) error
		BroadcastHello(HelloEvent) error
	}
	Proxy interface {
		SendCommand(peer.ID, ProxyCommand) error
	}
}

func (c CombinedTransport) SendSignaling(frame DirectedFrame) error { return c.Signaling.SendSignaling(frame) }
func (c CombinedTransport) BroadcastHello(h HelloEvent) error        { return c.Signaling.BroadcastHello(h) }
func (c CombinedTransport) SendCommand(p peer.ID, cmd ProxyCommand) error {
	return c.Proxy.SendCommand(p, cmd)
}
