package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hoshizora/hashtree-node/internal/hterrors"
)

// BlobBackend is the minimal local storage surface the HTTP server needs;
// internal/blobstore.Store is wired in through NewStoreAdapter.
type BlobBackend interface {
	Get(ctx context.Context, hash string) (data []byte, err error)
	Has(ctx context.Context, hash string) (bool, error)
	Put(ctx context.Context, hash string, data []byte, trusted bool) error
}

// storeAdapter narrows blobstore.Store.Get's Record return to raw bytes
// without this package importing blobstore directly (keeping the
// transport/blobstore dependency one-directional, as internal/hashtree
// wires both together).
type storeAdapter struct {
	get func(ctx context.Context, hash string) ([]byte, error)
	has func(ctx context.Context, hash string) (bool, error)
	put func(ctx context.Context, hash string, data []byte, trusted bool) error
}

func (s storeAdapter) Get(ctx context.Context, hash string) ([]byte, error) {
	return s.get(ctx, hash)
}
func (s storeAdapter) Has(ctx context.Context, hash string) (bool, error) {
	return s.has(ctx, hash)
}
func (s storeAdapter) Put(ctx context.Context, hash string, data []byte, trusted bool) error {
	return s.put(ctx, hash, data, trusted)
}

// NewStoreAdapter lets callers wire any get/has/put trio (typically
// closures over a *blobstore.Store) into BlobBackend.
func NewStoreAdapter(
	get func(ctx context.Context, hash string) ([]byte, error),
	has func(ctx context.Context, hash string) (bool, error),
	put func(ctx context.Context, hash string, data []byte, trusted bool) error,
) BlobBackend {
	return storeAdapter{get: get, has: has, put: put}
}

// Server exposes the §6 HEAD/GET/PUT blob transport contract over HTTP,
// grounded on the teacher's server-public.go mux-building shape
// (http.NewServeMux, JSON error bodies, a logging wrapper).
type Server struct {
	backend    BlobBackend
	trustedKey ed25519.PublicKey // nil disables capability checking (open server)
	logf       func(format string, args ...any)
}

// NewServer builds a transport server over backend. If trustedKey is
// non-nil, every PUT must carry a valid UploadCapability signed by it.
func NewServer(backend BlobBackend, trustedKey ed25519.PublicKey, logf func(string, ...any)) *Server {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Server{backend: backend, trustedKey: trustedKey, logf: logf}
}

// Handler returns the composed HTTP handler, wrapped with a request
// logging middleware in the same shape as the teacher's http_api.go logReq.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/blobs/", s.handleBlob)
	return s.logReq(mux)
}

func (s *Server) logReq(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logf("transport: %s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimPrefix(r.URL.Path, "/blobs/")
	if hash == "" {
		http.Error(w, "missing blob hash", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodHead:
		s.handleHead(w, r, hash)
	case http.MethodGet:
		s.handleGet(w, r, hash)
	case http.MethodPut:
		s.handlePut(w, r, hash)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request, hash string) {
	ok, err := s.backend.Has(r.Context(), hash)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, hash string) {
	data, err := s.backend.Get(r.Context(), hash)
	if err != nil {
		if errors.Is(err, hterrors.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, hash string) {
	if s.trustedKey != nil {
		sig := r.Header.Get("X-Upload-Capability")
		issuer := r.Header.Get("X-Upload-Issuer")
		expires := r.Header.Get("X-Upload-Expires")
		if sig == "" || issuer == "" || expires == "" {
			http.Error(w, "missing upload capability", http.StatusUnauthorized)
			return
		}
		var expUnix int64
		if _, err := fmt.Sscanf(expires, "%d", &expUnix); err != nil {
			http.Error(w, "bad expiry", http.StatusBadRequest)
			return
		}
		capa := UploadCapability{Hash: hash, Issuer: issuer, ExpiresAt: expUnix, Signature: sig}
		if err := capa.Verify(s.trustedKey, time.Now()); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	digest := sha256.Sum256(data)
	if hex.EncodeToString(digest[:]) != hash {
		http.Error(w, fmt.Errorf("transport: put %s: %w", hash, hterrors.ErrIntegrity).Error(), http.StatusUnprocessableEntity)
		return
	}

	if err := s.backend.Put(r.Context(), hash, data, false); err != nil {
		if errors.Is(err, hterrors.ErrIntegrity) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
