package signaling

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// giftWrap seals plaintext for recipientPub (an X25519 public key) using
// an ephemeral keypair, adapting the teacher's mixnet.go onion-layer
// ECDH+AEAD primitives (X25519 key agreement, chacha20poly1305.NewX,
// sha256-derived symmetric key) to a single envelope instead of a
// multi-hop onion. Returns the ephemeral public key and the sealed bytes.
func giftWrap(recipientPub [32]byte, plaintext []byte) (ephemeralPub [32]byte, sealed []byte, err error) {
	var ephemeralPriv [32]byte
	if _, err = rand.Read(ephemeralPriv[:]); err != nil {
		return ephemeralPub, nil, fmt.Errorf("signaling: ephemeral key: %w", err)
	}
	pubSlice, err := curve25519.X25519(ephemeralPriv[:], curve25519.Basepoint)
	if err != nil {
		return ephemeralPub, nil, fmt.Errorf("signaling: derive ephemeral pub: %w", err)
	}
	copy(ephemeralPub[:], pubSlice)

	shared, err := curve25519.X25519(ephemeralPriv[:], recipientPub[:])
	if err != nil {
		return ephemeralPub, nil, fmt.Errorf("signaling: ecdh: %w", err)
	}
	key := conversationKey(shared)

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return ephemeralPub, nil, fmt.Errorf("signaling: aead init: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err = rand.Read(nonce); err != nil {
		return ephemeralPub, nil, fmt.Errorf("signaling: nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)
	return ephemeralPub, append(nonce, ct...), nil
}

// giftUnwrap reverses giftWrap using the recipient's X25519 private key.
// Failed decryption is reported as an error; callers must drop the frame
// silently rather than propagate it, per SPEC_FULL.md §4.H.
func giftUnwrap(recipientPriv [32]byte, ephemeralPub [32]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("signaling: sealed frame too short")
	}
	shared, err := curve25519.X25519(recipientPriv[:], ephemeralPub[:])
	if err != nil {
		return nil, fmt.Errorf("signaling: ecdh: %w", err)
	}
	key := conversationKey(shared)

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("signaling: aead init: %w", err)
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling: unwrap failed: %w", err)
	}
	return plain, nil
}

func conversationKey(shared []byte) [32]byte {
	return sha256.Sum256(shared)
}

// sealDirected builds a DirectedFrame ready to publish to the relay.
func sealDirected(kind EventKind, senderID string, recipientPub [32]byte, payload directedPayload) (DirectedFrame, error) {
	payload.Kind = kind
	payload.SenderID = senderID
	plain, err := json.Marshal(payload)
	if err != nil {
		return DirectedFrame{}, err
	}
	epk, sealed, err := giftWrap(recipientPub, plain)
	if err != nil {
		return DirectedFrame{}, err
	}
	return DirectedFrame{
		Kind:            kind,
		RecipientPubKey: base64.StdEncoding.EncodeToString(recipientPub[:]),
		EphemeralPubKey: base64.StdEncoding.EncodeToString(epk[:]),
		SealB64:         base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

// openDirected reverses sealDirected. A decode or unwrap failure returns
// ok=false so the caller drops the frame silently.
func openDirected(recipientPriv [32]byte, frame DirectedFrame) (directedPayload, bool) {
	var out directedPayload
	epkRaw, err := base64.StdEncoding.DecodeString(frame.EphemeralPubKey)
	if err != nil || len(epkRaw) != 32 {
		return out, false
	}
	var epk [32]byte
	copy(epk[:], epkRaw)

	sealed, err := base64.StdEncoding.DecodeString(frame.SealB64)
	if err != nil {
		return out, false
	}
	plain, err := giftUnwrap(recipientPriv, epk, sealed)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(plain, &out); err != nil {
		return out, false
	}
	return out, true
}
