// Package blobstore implements component B: a capped local blob cache
// backed by an in-memory LRU index fronting a durable sqlite table, the
// same combination the teacher's sibling keysaver-server process uses for
// its encrypted key index (database/sql over modernc.org/sqlite), paired
// here with a real LRU library for the hot path instead of a map scan.
package blobstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/hoshizora/hashtree-node/internal/hterrors"
)

// Record is one stored blob: its content, trust state, and recency.
type Record struct {
	Hash       string
	Bytes      []byte
	LastAccess time.Time
	Trusted    bool
}

// Store is a capped local blob cache. Trusted puts (content this node
// itself produced, e.g. from putBlob) are admitted without re-hashing;
// untrusted puts (content arriving from a peer or transport fetch) are
// re-hashed with SHA-256 by Put and rejected when the digest does not
// match the claimed hash.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	index    *lru.Cache[string, int64]
	maxBytes int64
	curBytes int64
}

// Open creates or reopens a blob store at dbPath and loads every stored
// row into its index, most recently accessed first. The maxBytes budget
// is not applied during the load; it is enforced by the next Put or
// SetMaxBytes.
func Open(dbPath string, maxBytes int64) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			hash TEXT PRIMARY KEY,
			bytes BLOB NOT NULL,
			byte_len INTEGER NOT NULL,
			last_access INTEGER NOT NULL,
			trusted INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_blobs_last_access ON blobs(last_access);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("blobstore: init schema: %w", err)
	}

	// The LRU's capacity bounds entry count, not bytes; size budget is
	// tracked separately in curBytes/maxBytes and enforced by evict().
	index, err := lru.New[string, int64](1 << 20)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("blobstore: new lru: %w", err)
	}

	s := &Store{db: db, index: index, maxBytes: maxBytes}
	if err := s.loadIndex(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadIndex() error {
	rows, err := s.db.Query(`SELECT hash, byte_len FROM blobs ORDER BY last_access DESC`)
	if err != nil {
		return fmt.Errorf("blobstore: load index: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		var byteLen int64
		if err := rows.Scan(&hash, &byteLen); err != nil {
			return fmt.Errorf("blobstore: scan index row: %w", err)
		}
		s.index.Add(hash, byteLen)
		s.curBytes += byteLen
	}
	return rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores bytes under hash. If trusted is false, Put independently
// re-hashes data and rejects with hterrors.ErrIntegrity on mismatch
// instead of trusting the caller's claim; only a trusted put (content
// this node produced itself) skips that check.
func (s *Store) Put(ctx context.Context, hash string, data []byte, trusted bool) error {
	if !trusted {
		digest := sha256.Sum256(data)
		if hex.EncodeToString(digest[:]) != hash {
			return fmt.Errorf("blobstore: put %s: %w", hash, hterrors.ErrIntegrity)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (hash, bytes, byte_len, last_access, trusted)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			bytes=excluded.bytes, byte_len=excluded.byte_len,
			last_access=excluded.last_access, trusted=excluded.trusted
	`, hash, data, int64(len(data)), now, boolToInt(trusted))
	if err != nil {
		return fmt.Errorf("blobstore: put %s: %w", hash, err)
	}

	if prevLen, ok := s.index.Get(hash); ok {
		s.curBytes -= prevLen
	}
	s.index.Add(hash, int64(len(data)))
	s.curBytes += int64(len(data))

	return s.evictLocked(ctx)
}

// Get retrieves a blob by hash, refreshing its recency.
func (s *Store) Get(ctx context.Context, hash string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec Record
	var trustedInt int
	var lastAccess int64
	row := s.db.QueryRowContext(ctx, `SELECT hash, bytes, last_access, trusted FROM blobs WHERE hash = ?`, hash)
	if err := row.Scan(&rec.Hash, &rec.Bytes, &lastAccess, &trustedInt); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, fmt.Errorf("blobstore: get %s: %w", hash, hterrors.ErrNotFound)
		}
		return Record{}, fmt.Errorf("blobstore: get %s: %w", hash, err)
	}
	rec.LastAccess = time.Unix(lastAccess, 0)
	rec.Trusted = trustedInt != 0

	now := time.Now().Unix()
	if _, err := s.db.ExecContext(ctx, `UPDATE blobs SET last_access = ? WHERE hash = ?`, now, hash); err != nil {
		return Record{}, fmt.Errorf("blobstore: touch %s: %w", hash, err)
	}
	s.index.Add(hash, int64(len(rec.Bytes)))

	return rec, nil
}

// Has reports whether a blob is present without reading its bytes.
func (s *Store) Has(ctx context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index.Get(hash); ok {
		return true, nil
	}
	var exists int
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM blobs WHERE hash = ?`, hash)
	err := row.Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blobstore: has %s: %w", hash, err)
	}
	return true, nil
}

// Delete removes a blob.
func (s *Store) Delete(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prevLen, ok := s.index.Get(hash); ok {
		s.curBytes -= prevLen
		s.index.Remove(hash)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE hash = ?`, hash); err != nil {
		return fmt.Errorf("blobstore: delete %s: %w", hash, err)
	}
	return nil
}

// SetMaxBytes updates the size budget, triggering an immediate eviction
// sweep if the store is now over budget.
func (s *Store) SetMaxBytes(ctx context.Context, maxBytes int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxBytes = maxBytes
	return s.evictLocked(ctx)
}

// UsedBytes reports the current total stored size.
func (s *Store) UsedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curBytes
}

// evictLocked drops least-recently-used, untrusted-first blobs until the
// store is back under budget. Caller must hold s.mu.
func (s *Store) evictLocked(ctx context.Context) error {
	if s.maxBytes <= 0 || s.curBytes <= s.maxBytes {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, byte_len FROM blobs
		ORDER BY trusted ASC, last_access ASC
	`)
	if err != nil {
		return fmt.Errorf("blobstore: evict scan: %w", err)
	}

	type victim struct {
		hash string
		size int64
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.hash, &v.size); err != nil {
			rows.Close()
			return fmt.Errorf("blobstore: evict scan row: %w", err)
		}
		victims = append(victims, v)
	}
	rows.Close()

	for _, v := range victims {
		if s.curBytes <= s.maxBytes {
			break
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE hash = ?`, v.hash); err != nil {
			return fmt.Errorf("blobstore: evict delete %s: %w", v.hash, err)
		}
		s.index.Remove(v.hash)
		s.curBytes -= v.size
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
