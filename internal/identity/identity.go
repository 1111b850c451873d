// Package identity derives and persists a node's signing and box
// keypairs, the way the teacher's fingerprint.go/identity.go derive a
// deterministic node identity from machine attributes, sealed at rest
// the way env_encrypt.go seals env.enc (now shared as internal/sealedfile).
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Identity bundles the two keypairs a node needs: ed25519 for signing
// hellos/capabilities/events, and X25519 for signalling gift-wrap.
type Identity struct {
	NodeID   string
	SignPriv ed25519.PrivateKey
	SignPub  ed25519.PublicKey
	BoxPriv  [32]byte
	BoxPub   [32]byte
}

type fingerprintInput struct {
	MACs []string `json:"macs,omitempty"`
	Host string   `json:"host"`
	OS   string   `json:"os"`
	Arch string   `json:"arch"`
}

func localMACs() []string {
	ifs, _ := net.Interfaces()
	var macs []string
	for _, i := range ifs {
		if i.Flags&net.FlagLoopback != 0 {
			continue
		}
		m := i.HardwareAddr.String()
		if m == "" {
			continue
		}
		macs = append(macs, strings.ToLower(m))
	}
	sort.Strings(macs)
	return macs
}

// Fingerprint collects a best-effort set of machine attributes and
// returns their SHA-256 digest, the seed material Derive feeds into HKDF.
func Fingerprint() [32]byte {
	host, _ := os.Hostname()
	fp := fingerprintInput{
		MACs: localMACs(),
		Host: host,
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}
	j, _ := json.Marshal(fp)
	return sha256.Sum256(j)
}

// Derive deterministically derives a node identity from a machine
// fingerprint and an organization-wide salt, via two independent HKDF
// reads (one per key) so compromising one key's derivation never exposes
// the other's seed.
func Derive(orgSalt []byte) Identity {
	fp := Fingerprint()

	signSeed := make([]byte, ed25519.SeedSize)
	signHKDF := hkdf.New(sha256.New, fp[:], orgSalt, []byte("hashtree-node-sign-seed"))
	io.ReadFull(signHKDF, signSeed)

	var boxSeed [32]byte
	boxHKDF := hkdf.New(sha256.New, fp[:], orgSalt, []byte("hashtree-node-box-seed"))
	io.ReadFull(boxHKDF, boxSeed[:])

	return FromSeeds(signSeed, boxSeed)
}

// FromSeeds builds an Identity from raw seed material, used both by
// Derive and when loading a previously sealed identity back from disk.
func FromSeeds(signSeed []byte, boxScalar [32]byte) Identity {
	signPriv := ed25519.NewKeyFromSeed(signSeed)
	signPub := signPriv.Public().(ed25519.PublicKey)

	boxPubRaw, err := curve25519.X25519(boxScalar[:], curve25519.Basepoint)
	var boxPub [32]byte
	if err == nil {
		copy(boxPub[:], boxPubRaw)
	}

	nodeHash := sha256.Sum256(append(append([]byte{}, signPub...), boxPub[:]...))
	return Identity{
		NodeID:   hex.EncodeToString(nodeHash[:]),
		SignPriv: signPriv,
		SignPub:  signPub,
		BoxPriv:  boxScalar,
		BoxPub:   boxPub,
	}
}
