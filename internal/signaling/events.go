package signaling

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventKind tags an inbound signalling frame the same way chat.go tags a
// ChatMsg: a broadcast hello versus a directed offer/answer/ICE frame.
type EventKind string

const (
	KindHello  EventKind = "hello"
	KindOffer  EventKind = "offer"
	KindAnswer EventKind = "answer"
	KindICE    EventKind = "ice"
)

// HelloEvent is broadcast in cleartext every 5s while the controller
// runs. BoxPubKeyB64 is the X25519 key peers need to gift-wrap a directed
// frame back to this node; it rides alongside the ed25519 signing key
// the way the teacher's ChatMsg carries PubB64 in chat.go.
type HelloEvent struct {
	PeerID       string `json:"peerId"`
	PubKeyB64    string `json:"pubkey"`
	BoxPubKeyB64 string `json:"boxpubkey"`
	Timestamp    int64  `json:"timestamp"`
	SigB64       string `json:"sig"`
}

func (h HelloEvent) body() []byte {
	b, _ := json.Marshal(struct {
		PeerID       string `json:"peerId"`
		PubKeyB64    string `json:"pubkey"`
		BoxPubKeyB64 string `json:"boxpubkey"`
		Timestamp    int64  `json:"timestamp"`
	}{h.PeerID, h.PubKeyB64, h.BoxPubKeyB64, h.Timestamp})
	return b
}

// signHello signs a hello frame the way the teacher's chat.go signs a
// ChatMsg: ed25519 over a canonical JSON body excluding the signature
// field itself.
func signHello(priv ed25519.PrivateKey, pub ed25519.PublicKey, boxPub [32]byte, peerID string) HelloEvent {
	h := HelloEvent{
		PeerID:       peerID,
		PubKeyB64:    base64.StdEncoding.EncodeToString(pub),
		BoxPubKeyB64: base64.StdEncoding.EncodeToString(boxPub[:]),
		Timestamp:    time.Now().Unix(),
	}
	h.SigB64 = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, h.body()))
	return h
}

func verifyHello(h HelloEvent) bool {
	pubRaw, err := base64.StdEncoding.DecodeString(h.PubKeyB64)
	if err != nil || len(pubRaw) != ed25519.PublicKeySize {
		return false
	}
	sigRaw, err := base64.StdEncoding.DecodeString(h.SigB64)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubRaw), h.body(), sigRaw) &&
		strings.TrimSpace(h.PeerID) != ""
}

// DirectedFrame is a gift-wrapped offer/answer/ICE message. Plaintext
// never appears on the wire; SealB64 carries the gift-wrap envelope
// produced by giftwrap.go.
type DirectedFrame struct {
	Kind             EventKind `json:"kind"`
	RecipientPubKey  string    `json:"to"`
	EphemeralPubKey  string    `json:"epk"`
	SealB64          string    `json:"seal"`
}

// directedPayload is the plaintext carried inside the seal.
type directedPayload struct {
	Kind      EventKind       `json:"kind"`
	SenderID  string          `json:"senderId"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// RequestFrame is carried over an already-established data channel, not
// the signalling relay; it is the `get(hash)`/response protocol from
// SPEC_FULL.md §4.H request routing.
type RequestFrame struct {
	Type      string `json:"type"` // "request" | "response" | "not-found"
	Hash      string `json:"hash"`
	Bytes     []byte `json:"bytes,omitempty"`
	MsgID     string `json:"msgid"`
	HopTTL    int    `json:"hopTtl"`
}

func (r RequestFrame) String() string {
	return fmt.Sprintf("%s hash=%s msgid=%s ttl=%d", r.Type, r.Hash, r.MsgID, r.HopTTL)
}
