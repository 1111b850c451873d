package signaling

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	htcid "github.com/hoshizora/hashtree-node/internal/cid"
)

const (
	helloInterval  = 5 * time.Second
	requestTimeout = 1500 * time.Millisecond
	maxForwardTTL  = 1 // suppress forwarding once hop count reaches this
)

// LocalLookup consults the local store (via the hash-tree engine's
// fetcher bridge) without going back out to the network, so a peer
// answering a get(hash) never triggers another network round-trip.
type LocalLookup func(ctx context.Context, hash htcid.ID) ([]byte, bool)

// ShareabilityMarker records that bytes fetched from a peer are now
// locally cached and may be re-served, mirroring internal/privacy's
// GrantPeerShareableEncryptedHash without this package importing it
// directly.
type ShareabilityMarker func(peerID string, hash htcid.ID)

// LocalStorer writes newly fetched bytes into local storage.
type LocalStorer func(ctx context.Context, hash htcid.ID, data []byte) error

// ShareGuard reports whether hash may be handed to peerID, mirroring
// internal/privacy.Guard.ShouldServeHashToPeer without this package
// importing it directly. A nil ShareGuard is treated as deny-all so a
// misconfigured controller fails closed rather than leaking content.
type ShareGuard func(peerID string, hash htcid.ID) bool

// Transport is the seam the controller calls out through; the concrete
// relay (internal/signaling/relay.go, gorilla/websocket) and the WebRTC
// proxy (internal/signaling/webrtcchan.go, pion/webrtc) implement it. The
// controller never builds a wire frame itself beyond this interface.
type Transport interface {
	SendSignaling(frame DirectedFrame) error
	BroadcastHello(hello HelloEvent) error
	SendCommand(remote peer.ID, cmd ProxyCommand) error
}

// ProxyCommand is an outbound instruction to the WebRTC proxy: open a
// channel, send a message over an established channel, or close it.
type ProxyCommand struct {
	Type    string `json:"type"` // "open" | "send" | "close"
	Payload []byte `json:"payload,omitempty"`
}

// Config bundles the dependencies a Controller needs at construction.
type Config struct {
	Identity   peer.ID
	SignPriv   ed25519.PrivateKey
	SignPub    ed25519.PublicKey
	BoxPriv    [32]byte // X25519 private scalar used for gift-wrap
	BoxPub     [32]byte
	Pools      PoolConfig
	Transport  Transport
	Lookup     LocalLookup
	Store      LocalStorer
	MarkShared ShareabilityMarker
	Guard      ShareGuard
}

// Controller implements component H: peer discovery, WebRTC negotiation
// FSM, and the bounded-fanout get(hash) request/response path.
type Controller struct {
	cfg   Config
	table *peerTable

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	seenMu sync.Mutex
	seen   map[string]struct{}

	pendingMu sync.Mutex
	pending   map[string]chan RequestFrame // msgid -> waiter
}

// New constructs a Controller. cfg.Transport/Lookup/Store/MarkShared may
// be nil only in tests that never call Start/Get.
func New(cfg Config) *Controller {
	return &Controller{
		cfg:     cfg,
		table:   newPeerTable(cfg.Pools),
		seen:    make(map[string]struct{}),
		pending: make(map[string]chan RequestFrame),
	}
}

// Start publishes a hello immediately, then every 5s until the context is
// cancelled or Stop is called.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	c.publishHello()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(helloInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				c.publishHello()
			}
		}
	}()
}

// Stop cancels timers, closes every peer, and fires a close notification
// by transitioning each peer into StateClosed.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	for _, p := range c.table.list() {
		p.mu.Lock()
		p.FSM = StateClosed
		p.Connected = false
		p.mu.Unlock()
		c.table.remove(p.PeerID)
	}
}

func (c *Controller) publishHello() {
	if c.cfg.Transport == nil {
		return
	}
	hello := signHello(c.cfg.SignPriv, c.cfg.SignPub, c.cfg.BoxPub, c.cfg.Identity.String())
	_ = c.cfg.Transport.BroadcastHello(hello)
}

// HandleSignalingMessage dispatches an inbound hello or directed frame.
// It is idempotent: replaying the same offer/answer does not re-drive a
// completed transition.
func (c *Controller) HandleSignalingMessage(raw json.RawMessage, senderPeerID peer.ID) error {
	var probe struct {
		PeerID string    `json:"peerId"`
		Kind   EventKind `json:"kind"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("signaling: malformed message: %w", err)
	}

	if probe.PeerID != "" && probe.Kind == "" {
		var hello HelloEvent
		if err := json.Unmarshal(raw, &hello); err != nil || !verifyHello(hello) {
			return nil // silently drop unverifiable hellos
		}
		return c.handleHello(hello, senderPeerID)
	}

	var frame DirectedFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return fmt.Errorf("signaling: malformed directed frame: %w", err)
	}
	payload, ok := openDirected(c.cfg.BoxPriv, frame)
	if !ok {
		return nil // failed decryption is silently dropped, per spec
	}

	switch payload.Kind {
	case KindOffer:
		return c.handleOffer(senderPeerID, payload)
	case KindAnswer:
		return c.handleAnswer(senderPeerID, payload)
	case KindICE:
		return c.handleICE(senderPeerID, payload)
	default:
		return nil
	}
}

func (c *Controller) handleHello(hello HelloEvent, senderPeerID peer.ID) error {
	if _, exists := c.table.get(senderPeerID); exists {
		return nil
	}
	pool := PoolOther // follows-pool membership is decided by the social graph, out of this package's scope
	admitted, _ := c.table.admit(pool)
	if !admitted {
		return nil
	}
	pubRaw, err := base64.StdEncoding.DecodeString(hello.PubKeyB64)
	if err != nil {
		return nil
	}
	p := newPeerState(senderPeerID, pubRaw, pool, RoleAcceptor)
	if boxRaw, err := base64.StdEncoding.DecodeString(hello.BoxPubKeyB64); err == nil && len(boxRaw) == 32 {
		copy(p.BoxPub[:], boxRaw)
	}
	c.table.upsert(p)
	return nil
}

// SendOffer gift-wraps and publishes an SDP offer to an admitted peer,
// transitioning it New->Offered. The peer must already be known (learned
// via a prior hello) so its box key is available to seal against.
func (c *Controller) SendOffer(remote peer.ID, sdp string) error {
	p, ok := c.table.get(remote)
	if !ok {
		return fmt.Errorf("signaling: unknown peer %s", remote)
	}
	p.mu.Lock()
	if p.FSM != StateNew {
		p.mu.Unlock()
		return nil
	}
	p.FSM = StateOffered
	p.Role = RoleInitiator
	p.mu.Unlock()

	frame, err := sealDirected(KindOffer, c.cfg.Identity.String(), p.BoxPub, directedPayload{SDP: sdp})
	if err != nil {
		return err
	}
	if c.cfg.Transport == nil {
		return nil
	}
	return c.cfg.Transport.SendSignaling(frame)
}

// SendAnswer gift-wraps and publishes an SDP answer, transitioning the
// peer Offered->Answered from the acceptor's side.
func (c *Controller) SendAnswer(remote peer.ID, sdp string) error {
	p, ok := c.table.get(remote)
	if !ok {
		return fmt.Errorf("signaling: unknown peer %s", remote)
	}
	p.mu.Lock()
	if p.FSM != StateOffered {
		p.mu.Unlock()
		return nil
	}
	p.FSM = StateAnswered
	p.mu.Unlock()

	frame, err := sealDirected(KindAnswer, c.cfg.Identity.String(), p.BoxPub, directedPayload{SDP: sdp})
	if err != nil {
		return err
	}
	if c.cfg.Transport == nil {
		return nil
	}
	return c.cfg.Transport.SendSignaling(frame)
}

// SendICECandidate gift-wraps and publishes an ICE candidate to a known
// peer right away, whatever its FSM state. Buffering until Answered
// applies to inbound candidates only (see handleICE).
func (c *Controller) SendICECandidate(remote peer.ID, candidate json.RawMessage) error {
	p, ok := c.table.get(remote)
	if !ok {
		return fmt.Errorf("signaling: unknown peer %s", remote)
	}
	frame, err := sealDirected(KindICE, c.cfg.Identity.String(), p.BoxPub, directedPayload{Candidate: candidate})
	if err != nil {
		return err
	}
	if c.cfg.Transport == nil {
		return nil
	}
	return c.cfg.Transport.SendSignaling(frame)
}

func (c *Controller) handleOffer(senderPeerID peer.ID, payload directedPayload) error {
	p, ok := c.table.get(senderPeerID)
	if !ok {
		p = newPeerState(senderPeerID, nil, PoolOther, RoleAcceptor)
		c.table.upsert(p)
	}
	p.mu.Lock()
	if p.FSM != StateNew {
		p.mu.Unlock()
		return nil // idempotent: ignore a replayed offer
	}
	p.FSM = StateOffered
	p.mu.Unlock()

	if c.cfg.Transport != nil {
		_ = c.cfg.Transport.SendCommand(senderPeerID, ProxyCommand{Type: "open", Payload: []byte(payload.SDP)})
	}
	return nil
}

func (c *Controller) handleAnswer(senderPeerID peer.ID, payload directedPayload) error {
	p, ok := c.table.get(senderPeerID)
	if !ok {
		return nil
	}
	p.mu.Lock()
	if p.FSM != StateOffered {
		p.mu.Unlock()
		return nil
	}
	p.FSM = StateAnswered
	p.mu.Unlock()

	for _, ice := range p.drainICE() {
		if c.cfg.Transport != nil {
			_ = c.cfg.Transport.SendCommand(senderPeerID, ProxyCommand{Type: "send", Payload: ice})
		}
	}
	return nil
}

func (c *Controller) handleICE(senderPeerID peer.ID, payload directedPayload) error {
	p, ok := c.table.get(senderPeerID)
	if !ok {
		return nil
	}
	p.mu.Lock()
	state := p.FSM
	p.mu.Unlock()
	if state != StateAnswered && state != StateConnected {
		p.bufferICE(payload.Candidate)
		return nil
	}
	if c.cfg.Transport != nil {
		return c.cfg.Transport.SendCommand(senderPeerID, ProxyCommand{Type: "send", Payload: payload.Candidate})
	}
	return nil
}

// HandleProxyEvent bubbles a data-channel event from the WebRTC proxy
// into peer state: open -> Connected, close -> Closed (stats removed),
// message -> interpreted as a request/response frame.
func (c *Controller) HandleProxyEvent(remote peer.ID, eventType string, payload []byte) error {
	p, ok := c.table.get(remote)
	if !ok {
		return nil
	}
	switch eventType {
	case "open":
		p.mu.Lock()
		p.FSM = StateConnected
		p.Connected = true
		p.mu.Unlock()
	case "close":
		c.table.remove(remote)
	case "message":
		var req RequestFrame
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil
		}
		return c.routeIncoming(remote, req)
	}
	return nil
}

// routeIncoming implements §4.H "request routing": consult local store
// first; if absent, optionally forward to follows, suppressing loops via
// a seen-msgid set, directly adapting command_sync.go's
// seenCommands de-duplication.
func (c *Controller) routeIncoming(remote peer.ID, req RequestFrame) error {
	switch req.Type {
	case "response", "not-found":
		c.resolvePending(req)
		return nil
	case "request":
		return c.handleRequest(remote, req)
	default:
		return nil
	}
}

func (c *Controller) handleRequest(remote peer.ID, req RequestFrame) error {
	c.seenMu.Lock()
	if _, dup := c.seen[req.MsgID]; dup {
		c.seenMu.Unlock()
		return nil
	}
	c.seen[req.MsgID] = struct{}{}
	c.seenMu.Unlock()

	if p, ok := c.table.get(remote); ok {
		p.mu.Lock()
		p.Stats.RequestsReceived++
		p.mu.Unlock()
	}

	hash, err := htcid.Parse(req.Hash)
	if err != nil {
		return c.reply(remote, RequestFrame{Type: "not-found", Hash: req.Hash, MsgID: req.MsgID})
	}

	if c.cfg.Lookup != nil && c.cfg.Guard != nil && c.cfg.Guard(remote.String(), hash) {
		if data, ok := c.cfg.Lookup(context.Background(), hash); ok {
			return c.reply(remote, RequestFrame{Type: "response", Hash: req.Hash, Bytes: data, MsgID: req.MsgID})
		}
	}

	if req.HopTTL <= maxForwardTTL {
		if p, ok := c.table.get(remote); ok {
			p.mu.Lock()
			p.Stats.ForwardedSuppressed++
			p.mu.Unlock()
		}
		return c.reply(remote, RequestFrame{Type: "not-found", Hash: req.Hash, MsgID: req.MsgID})
	}

	forward := req
	forward.HopTTL--
	resolved := false
	for _, fp := range c.table.rankedConnected() {
		if fp.PeerID == remote || fp.Pool != PoolFollows {
			continue
		}
		if p, ok := c.table.get(remote); ok {
			p.mu.Lock()
			p.Stats.ForwardedRequests++
			p.mu.Unlock()
		}
		if c.cfg.Transport != nil {
			body, _ := json.Marshal(forward)
			if err := c.cfg.Transport.SendCommand(fp.PeerID, ProxyCommand{Type: "send", Payload: body}); err == nil {
				resolved = true
				break
			}
		}
	}
	if resolved {
		if p, ok := c.table.get(remote); ok {
			p.mu.Lock()
			p.Stats.ForwardedResolved++
			p.mu.Unlock()
		}
		return nil
	}
	return c.reply(remote, RequestFrame{Type: "not-found", Hash: req.Hash, MsgID: req.MsgID})
}

func (c *Controller) reply(remote peer.ID, resp RequestFrame) error {
	if p, ok := c.table.get(remote); ok {
		p.mu.Lock()
		p.Stats.ResponsesSent++
		p.mu.Unlock()
	}
	if c.cfg.Transport == nil {
		return nil
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.cfg.Transport.SendCommand(remote, ProxyCommand{Type: "send", Payload: body})
}

func (c *Controller) resolvePending(resp RequestFrame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.MsgID]
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// Get emits a get(hash) request to a ranked, bounded fanout of connected
// peers (follows pool first) and waits up to requestTimeout for the
// first verified response. On success the bytes are written to local
// storage and MarkShared is called with this node's own identity; the
// responding peer is not recorded.
func (c *Controller) Get(ctx context.Context, hash htcid.ID) ([]byte, bool) {
	candidates := c.table.rankedConnected()
	if len(candidates) == 0 {
		return nil, false
	}
	fanout := candidates
	const maxFanout = 6
	if len(fanout) > maxFanout {
		fanout = fanout[:maxFanout]
	}

	msgID := randomMsgID()
	ch := make(chan RequestFrame, len(fanout))
	c.pendingMu.Lock()
	c.pending[msgID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msgID)
		c.pendingMu.Unlock()
	}()

	req := RequestFrame{Type: "request", Hash: hash.String(), MsgID: msgID, HopTTL: 2}
	body, _ := json.Marshal(req)
	for _, p := range fanout {
		p.mu.Lock()
		p.Stats.RequestsSent++
		p.mu.Unlock()
		if c.cfg.Transport != nil {
			_ = c.cfg.Transport.SendCommand(p.PeerID, ProxyCommand{Type: "send", Payload: body})
		}
	}

	deadline := time.NewTimer(requestTimeout)
	defer deadline.Stop()

	for {
		select {
		case resp := <-ch:
			if resp.Type != "response" {
				continue
			}
			if !verifyResponseHash(hash, resp.Bytes) {
				continue
			}
			if c.cfg.Store != nil {
				_ = c.cfg.Store(ctx, hash, resp.Bytes)
			}
			if c.cfg.MarkShared != nil {
				c.cfg.MarkShared(c.cfg.Identity.String(), hash)
			}
			return resp.Bytes, true
		case <-deadline.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

func verifyResponseHash(want htcid.ID, data []byte) bool {
	got := sha256.Sum256(data)
	return got == want.Hash
}

func randomMsgID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
