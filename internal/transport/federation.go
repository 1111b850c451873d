// Package transport implements component C: a federation of HTTP blob
// servers a node can fetch from and push to, plus a server-side handler
// speaking the same HEAD/GET/PUT contract.
package transport

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hoshizora/hashtree-node/internal/hterrors"
)

// UploadCapability authorizes a single PUT to a federated server, signed
// by the identity that is allowed to write there, mirroring the teacher's
// ed25519-signed-canonical-JSON manifest idiom (file_transfer.go).
type UploadCapability struct {
	Hash      string `json:"hash"`
	Issuer    string `json:"issuer"` // hex ed25519 public key
	ExpiresAt int64  `json:"expires_at"`
	Signature string `json:"signature"` // hex ed25519 signature over the body below
}

func (c UploadCapability) signingBody() []byte {
	body, _ := json.Marshal(struct {
		Hash      string `json:"hash"`
		Issuer    string `json:"issuer"`
		ExpiresAt int64  `json:"expires_at"`
	}{c.Hash, c.Issuer, c.ExpiresAt})
	return body
}

// SignUploadCapability produces a capability for hash, usable until expiresAt.
func SignUploadCapability(priv ed25519.PrivateKey, hash string, expiresAt time.Time) UploadCapability {
	pub := priv.Public().(ed25519.PublicKey)
	capa := UploadCapability{
		Hash:      hash,
		Issuer:    fmt.Sprintf("%x", []byte(pub)),
		ExpiresAt: expiresAt.Unix(),
	}
	sig := ed25519.Sign(priv, capa.signingBody())
	capa.Signature = fmt.Sprintf("%x", sig)
	return capa
}

// Verify checks the capability's signature and expiry against now.
func (c UploadCapability) Verify(pub ed25519.PublicKey, now time.Time) error {
	if now.Unix() > c.ExpiresAt {
		return fmt.Errorf("transport: capability expired: %w", hterrors.ErrUnauthorized)
	}
	var sig []byte
	if _, err := fmt.Sscanf(c.Signature, "%x", &sig); err != nil {
		return fmt.Errorf("transport: decode signature: %w", hterrors.ErrInvalidArgument)
	}
	if !ed25519.Verify(pub, c.signingBody(), sig) {
		return fmt.Errorf("transport: signature mismatch: %w", hterrors.ErrUnauthorized)
	}
	return nil
}

// EndpointStats tracks per-server bandwidth, adapted from the teacher's
// simple mutex-guarded counters pattern (node.go's rtts map).
type EndpointStats struct {
	BytesUp   int64
	BytesDown int64
}

// Endpoint is one federated blob server this node can reach.
type Endpoint struct {
	BaseURL string
}

// Federation fetches blobs from, and pushes blobs to, a bounded set of
// HTTP blob-transport endpoints.
type Federation struct {
	httpClient *http.Client

	mu        sync.Mutex
	endpoints []Endpoint
	stats     map[string]*EndpointStats

	bandwidthUp   Counter
	bandwidthDown Counter
}

// Counter is the minimal interface internal/metrics' prometheus counters
// satisfy, kept narrow here so this package does not have to import
// prometheus types directly.
type Counter interface {
	Add(server, direction string, n float64)
}

// New creates a Federation with no registered endpoints.
func New(client *http.Client, bandwidthUp, bandwidthDown Counter) *Federation {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Federation{
		httpClient:    client,
		stats:         make(map[string]*EndpointStats),
		bandwidthUp:   bandwidthUp,
		bandwidthDown: bandwidthDown,
	}
}

// AddEndpoint registers a federated server.
func (f *Federation) AddEndpoint(ep Endpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoints = append(f.endpoints, ep)
	f.stats[ep.BaseURL] = &EndpointStats{}
}

// Stats returns a snapshot of per-endpoint bandwidth counters.
func (f *Federation) Stats() map[string]EndpointStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]EndpointStats, len(f.stats))
	for k, v := range f.stats {
		out[k] = *v
	}
	return out
}

func (f *Federation) recordDown(base string, n int64) {
	f.mu.Lock()
	f.stats[base].BytesDown += n
	f.mu.Unlock()
	if f.bandwidthDown != nil {
		f.bandwidthDown.Add(base, "down", float64(n))
	}
}

func (f *Federation) recordUp(base string, n int64) {
	f.mu.Lock()
	f.stats[base].BytesUp += n
	f.mu.Unlock()
	if f.bandwidthUp != nil {
		f.bandwidthUp.Add(base, "up", float64(n))
	}
}

// Fetch tries each registered endpoint in order (HEAD then GET) until one
// returns the blob, returning hterrors.ErrNotFound if none do.
func (f *Federation) Fetch(ctx context.Context, hash string) ([]byte, error) {
	f.mu.Lock()
	endpoints := append([]Endpoint(nil), f.endpoints...)
	f.mu.Unlock()

	for _, ep := range endpoints {
		data, err := f.fetchFrom(ctx, ep, hash)
		if err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("transport: fetch %s: %w", hash, hterrors.ErrNotFound)
}

func (f *Federation) fetchFrom(ctx context.Context, ep Endpoint, hash string) ([]byte, error) {
	url := fmt.Sprintf("%s/blobs/%s", ep.BaseURL, hash)

	headReq, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	headResp, err := f.httpClient.Do(headReq)
	if err != nil {
		return nil, err
	}
	headResp.Body.Close()
	if headResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transport: head %s: status %d", url, headResp.StatusCode)
	}

	getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	getResp, err := f.httpClient.Do(getReq)
	if err != nil {
		return nil, err
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transport: get %s: status %d", url, getResp.StatusCode)
	}

	data, err := io.ReadAll(getResp.Body)
	if err != nil {
		return nil, err
	}
	f.recordDown(ep.BaseURL, int64(len(data)))
	return data, nil
}

// UploadStore drives a bounded-concurrency push of a set of blobs to every
// registered endpoint, tracking per-blob progress.
type UploadStore struct {
	f    *Federation
	caps map[string]UploadCapability

	mu       sync.Mutex
	progress map[string]int // endpoints that accepted each hash
}

// CreateUploadStore prepares a push of the given capabilities (one per
// blob hash) across every registered endpoint; Push bounds the number of
// concurrent PUTs in flight. Follows the teacher's RTT-sorted,
// best-effort fanout shape in file_transfer.go's broadcastFile.
func (f *Federation) CreateUploadStore(caps map[string]UploadCapability) *UploadStore {
	return &UploadStore{f: f, caps: caps, progress: make(map[string]int)}
}

// Push uploads every blob in blobs (hash -> bytes) that has a capability
// in the store's caps to every endpoint, bounded by maxConcurrent
// simultaneous PUTs via golang.org/x/sync/errgroup. Blobs with no
// capability are skipped.
func (u *UploadStore) Push(ctx context.Context, blobs map[string][]byte, maxConcurrent int) error {
	u.f.mu.Lock()
	endpoints := append([]Endpoint(nil), u.f.endpoints...)
	u.f.mu.Unlock()

	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for hash, data := range blobs {
		hash, data := hash, data
		capa, ok := u.caps[hash]
		if !ok {
			continue
		}
		for _, ep := range endpoints {
			ep := ep
			g.Go(func() error {
				if err := u.pushOne(ctx, ep, hash, data, capa); err != nil {
					return nil // best-effort: one failing endpoint must not abort the rest
				}
				u.mu.Lock()
				u.progress[hash]++
				u.mu.Unlock()
				return nil
			})
		}
	}
	return g.Wait()
}

func (u *UploadStore) pushOne(ctx context.Context, ep Endpoint, hash string, data []byte, capa UploadCapability) error {
	url := fmt.Sprintf("%s/blobs/%s", ep.BaseURL, hash)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("X-Upload-Capability", capa.Signature)
	req.Header.Set("X-Upload-Issuer", capa.Issuer)
	req.Header.Set("X-Upload-Expires", fmt.Sprintf("%d", capa.ExpiresAt))

	resp, err := u.f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("transport: put %s: status %d", url, resp.StatusCode)
	}
	u.f.recordUp(ep.BaseURL, int64(len(data)))
	return nil
}

// Progress reports how many endpoints have confirmed a given blob.
func (u *UploadStore) Progress(hash string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.progress[hash]
}
