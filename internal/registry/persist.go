package registry

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"time"

	htcid "github.com/hoshizora/hashtree-node/internal/cid"
	"github.com/hoshizora/hashtree-node/internal/sealedfile"
)

// Persistence seals the registry's snapshot to disk with the node's
// local passphrase, adapting the teacher's env_encrypt.go envelope.
type Persistence struct {
	path       string
	passphrase []byte
}

// NewPersistence binds a Persistence to an on-disk path and the
// Argon2id passphrase used to seal it.
func NewPersistence(path string, passphrase []byte) *Persistence {
	return &Persistence{path: path, passphrase: passphrase}
}

type wireRecord struct {
	Identity             string `json:"identity"`
	TreeName             string `json:"treeName"`
	Hash                 string `json:"hash"`
	Key                  string `json:"key,omitempty"`
	Visibility           int    `json:"visibility"`
	UpdatedAt            int64  `json:"updatedAt"`
	Source               int    `json:"source"`
	Dirty                bool   `json:"dirty"`
	EncryptedKey         string `json:"encryptedKey,omitempty"`
	KeyID                string `json:"keyId,omitempty"`
	SelfEncryptedKey     string `json:"selfEncryptedKey,omitempty"`
	SelfEncryptedLinkKey string `json:"selfEncryptedLinkKey,omitempty"`
}

// Save seals snap to p.path with p.passphrase; an empty passphrase is
// used as is. A registry that should not persist at all is built with a
// nil Persistence, and then Save is never called.
func (p *Persistence) Save(snap map[key]Record) error {
	wire := make([]wireRecord, 0, len(snap))
	for k, rec := range snap {
		w := wireRecord{
			Identity:   k.identity,
			TreeName:   k.treeName,
			Hash:       rec.Hash.HashHex(),
			Visibility: int(rec.Visibility),
			UpdatedAt:  rec.UpdatedAt.UnixMilli(),
			Source:     int(rec.Source),
			Dirty:      rec.Dirty,
			KeyID:      rec.KeyID,
		}
		if rec.Key != nil {
			w.Key = base64.StdEncoding.EncodeToString(rec.Key[:])
		}
		if rec.EncryptedKey != nil {
			w.EncryptedKey = base64.StdEncoding.EncodeToString(rec.EncryptedKey)
		}
		if rec.SelfEncryptedKey != nil {
			w.SelfEncryptedKey = base64.StdEncoding.EncodeToString(rec.SelfEncryptedKey)
		}
		if rec.SelfEncryptedLinkKey != nil {
			w.SelfEncryptedLinkKey = base64.StdEncoding.EncodeToString(rec.SelfEncryptedLinkKey)
		}
		wire = append(wire, w)
	}

	plain, err := json.Marshal(wire)
	if err != nil {
		return err
	}
	return sealedfile.Seal(p.path, p.passphrase, plain)
}

// Load opens and decodes the sealed snapshot. A missing file is not an
// error: it means no registry has been persisted yet.
func (p *Persistence) Load() (map[key]Record, error) {
	if _, err := os.Stat(p.path); errors.Is(err, os.ErrNotExist) {
		return map[key]Record{}, nil
	}
	plain, err := sealedfile.Open(p.path, p.passphrase)
	if err != nil {
		return nil, err
	}
	var wire []wireRecord
	if err := json.Unmarshal(plain, &wire); err != nil {
		return nil, err
	}

	out := make(map[key]Record, len(wire))
	for _, w := range wire {
		raw, err := hex.DecodeString(w.Hash)
		if err != nil || len(raw) != 32 {
			continue
		}
		var hashBytes [32]byte
		copy(hashBytes[:], raw)
		rec := Record{
			Hash:       htcid.New(hashBytes),
			Visibility: Visibility(w.Visibility),
			UpdatedAt:  time.UnixMilli(w.UpdatedAt),
			Source:     Source(w.Source),
			Dirty:      w.Dirty,
			KeyID:      w.KeyID,
		}
		if w.Key != "" {
			if raw, err := base64.StdEncoding.DecodeString(w.Key); err == nil && len(raw) == 32 {
				var k [32]byte
				copy(k[:], raw)
				rec.Key = &k
			}
		}
		if w.EncryptedKey != "" {
			if raw, err := base64.StdEncoding.DecodeString(w.EncryptedKey); err == nil {
				rec.EncryptedKey = raw
			}
		}
		if w.SelfEncryptedKey != "" {
			if raw, err := base64.StdEncoding.DecodeString(w.SelfEncryptedKey); err == nil {
				rec.SelfEncryptedKey = raw
			}
		}
		if w.SelfEncryptedLinkKey != "" {
			if raw, err := base64.StdEncoding.DecodeString(w.SelfEncryptedLinkKey); err == nil {
				rec.SelfEncryptedLinkKey = raw
			}
		}
		out[keyOf(w.Identity, w.TreeName)] = rec
	}
	return out, nil
}
