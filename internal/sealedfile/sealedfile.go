// Package sealedfile implements the at-rest envelope the teacher's
// env_encrypt.go uses for env.enc: MAGIC|salt|nonce|len|ciphertext, with
// an Argon2id-derived key. internal/identity and internal/registry both
// reuse it instead of each hand-rolling their own seal format.
package sealedfile

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var magic = []byte("HTSF1")

const saltLen = 16

func kdf(pass, salt []byte) []byte {
	return argon2.IDKey(pass, salt, 2, 64*1024, 1, 32)
}

// Seal encrypts plaintext with a key derived from passphrase and writes
// it to path as MAGIC|salt|nonce|len|ciphertext.
func Seal(path string, passphrase, plaintext []byte) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("sealedfile: salt: %w", err)
	}
	key := kdf(passphrase, salt)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("sealedfile: new aead: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("sealedfile: nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, len(magic)+saltLen+len(nonce)+4+len(ct))
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	var lbuf [4]byte
	binary.BigEndian.PutUint32(lbuf[:], uint32(len(plaintext)))
	out = append(out, lbuf[:]...)
	out = append(out, ct...)

	return os.WriteFile(path, out, 0o600)
}

// Open reverses Seal.
func Open(path string, passphrase []byte) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sealedfile: read: %w", err)
	}
	min := len(magic) + saltLen + chacha20poly1305.NonceSizeX + 4
	if len(b) < min {
		return nil, fmt.Errorf("sealedfile: %s too short", path)
	}
	if string(b[:len(magic)]) != string(magic) {
		return nil, fmt.Errorf("sealedfile: %s bad magic", path)
	}
	offset := len(magic)
	salt := b[offset : offset+saltLen]
	offset += saltLen
	nonce := b[offset : offset+chacha20poly1305.NonceSizeX]
	offset += chacha20poly1305.NonceSizeX
	offset += 4 // plaintext length prefix, unused on decode
	ct := b[offset:]

	key := kdf(passphrase, salt)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("sealedfile: new aead: %w", err)
	}
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("sealedfile: %s decrypt failed (wrong passphrase?): %w", path, err)
	}
	return plain, nil
}
