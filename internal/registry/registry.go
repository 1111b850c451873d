// Package registry implements the tree-root registry: a mutable
// (identity, treeName) -> root mapping with subscriptions and a
// throttled publish pipeline, grounded on the teacher's peers_autosave.go
// ticker/retry shape and persisted with internal/sealedfile.
package registry

import (
	"context"
	"sync"
	"time"

	htcid "github.com/hoshizora/hashtree-node/internal/cid"
)

// Visibility controls how widely a tree root may be shared.
type Visibility int

const (
	VisibilityPublic Visibility = iota
	VisibilityLinkVisible
	VisibilityPrivate
)

// tighter reports whether v is at least as restrictive as other.
func (v Visibility) tighter(other Visibility) bool {
	return v >= other
}

// Source identifies who produced a record update.
type Source int

const (
	SourceLocalWrite Source = iota
	SourceRemoteEvent
	SourceWorker
	SourcePrefetch
)

// Record is the tree-root persisted record from SPEC_FULL.md §6.
type Record struct {
	Hash                 htcid.ID
	Key                  *[32]byte
	Visibility           Visibility
	UpdatedAt            time.Time
	Source               Source
	Dirty                bool
	EncryptedKey         []byte
	KeyID                string
	SelfEncryptedKey     []byte
	SelfEncryptedLinkKey []byte
}

func (r Record) sameHash(other htcid.ID) bool { return r.Hash.Equal(other) }

// SetOpts carries the optional metadata fields a setter may supply.
type SetOpts struct {
	Key                  *[32]byte
	Visibility           *Visibility
	EncryptedKey         []byte
	KeyID                string
	SelfEncryptedKey     []byte
	SelfEncryptedLinkKey []byte
	UpdatedAt            *time.Time
}

// PublishFunc performs the actual network publish for a record.
type PublishFunc func(ctx context.Context, identity, treeName string, rec Record) error

type key struct{ identity, treeName string }

func keyOf(identity, treeName string) key { return key{identity, treeName} }

type listener struct {
	id int
	ch chan *Record
}

// Registry holds every tree-root record known to this node.
type Registry struct {
	mu             sync.Mutex
	records        map[key]Record
	listeners      map[key][]listener
	nextListenerID int

	publish      PublishFunc
	publishDelay time.Duration
	retryDelay   time.Duration
	timers       map[key]*time.Timer

	globalSubs []globalSub

	persist *Persistence // nil disables at-rest persistence
}

const (
	defaultPublishDelay = 1000 * time.Millisecond
	defaultRetryDelay   = 5000 * time.Millisecond
)

// New constructs a Registry. publish may be nil (publishing is then a
// no-op, useful for tests); persist may be nil to disable at-rest storage.
func New(publish PublishFunc, persist *Persistence) *Registry {
	r := &Registry{
		records:      make(map[key]Record),
		listeners:    make(map[key][]listener),
		publish:      publish,
		publishDelay: defaultPublishDelay,
		retryDelay:   defaultRetryDelay,
		timers:       make(map[key]*time.Timer),
		persist:      persist,
	}
	return r
}

// Hydrate loads a previously sealed snapshot and re-arms publish timers
// for any record left dirty at the last shutdown.
func (r *Registry) Hydrate() error {
	if r.persist == nil {
		return nil
	}
	snap, err := r.persist.Load()
	if err != nil {
		return err
	}
	r.mu.Lock()
	for k, rec := range snap {
		r.records[k] = rec
	}
	dirty := make([]key, 0)
	for k, rec := range r.records {
		if rec.Dirty {
			dirty = append(dirty, k)
		}
	}
	r.mu.Unlock()
	for _, k := range dirty {
		r.schedulePublish(k, r.publishDelay)
	}
	return nil
}

// Get returns the current record, if any.
func (r *Registry) Get(identity, treeName string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[keyOf(identity, treeName)]
	return rec, ok
}

// GetByKey looks up a record by its composite "identity/treeName" string.
func (r *Registry) GetByKey(compositeKey string) (Record, bool) {
	identity, treeName := splitCompositeKey(compositeKey)
	return r.Get(identity, treeName)
}

func splitCompositeKey(s string) (identity, treeName string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

// Has reports whether a record currently exists.
func (r *Registry) Has(identity, treeName string) bool {
	_, ok := r.Get(identity, treeName)
	return ok
}

// GetVisibility returns the current visibility, defaulting to public
// when no record exists.
func (r *Registry) GetVisibility(identity, treeName string) Visibility {
	rec, ok := r.Get(identity, treeName)
	if !ok {
		return VisibilityPublic
	}
	return rec.Visibility
}

// Resolve returns the cached record immediately if present; otherwise it
// subscribes and waits up to timeout for the first update.
func (r *Registry) Resolve(ctx context.Context, identity, treeName string, timeout time.Duration) (*Record, error) {
	if rec, ok := r.Get(identity, treeName); ok {
		cp := rec
		return &cp, nil
	}

	ch := make(chan *Record, 1)
	unsub := r.Subscribe(identity, treeName, func(rec *Record) {
		select {
		case ch <- rec:
		default:
		}
	})
	defer unsub()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case rec := <-ch:
		return rec, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe registers callback for updates to a single key. If a record
// is already present, callback fires once asynchronously with the
// current snapshot before any future update. The returned func
// unsubscribes.
func (r *Registry) Subscribe(identity, treeName string, callback func(*Record)) func() {
	r.mu.Lock()
	k := keyOf(identity, treeName)
	id := r.nextListenerID
	r.nextListenerID++
	ch := make(chan *Record, 16)
	r.listeners[k] = append(r.listeners[k], listener{id: id, ch: ch})
	current, hasCurrent := r.records[k]
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if hasCurrent {
			cp := current
			callback(&cp)
		}
		for {
			select {
			case rec, ok := <-ch:
				if !ok {
					return
				}
				callback(rec)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		r.mu.Lock()
		defer r.mu.Unlock()
		ls := r.listeners[k]
		for i, l := range ls {
			if l.id == id {
				r.listeners[k] = append(ls[:i], ls[i+1:]...)
				close(l.ch)
				break
			}
		}
	}
}

// globalSub pairs a stable id with the callback so SubscribeAll's
// returned unsubscribe func can find and remove exactly this entry.
type globalSub struct {
	id int
	fn func(identity, treeName string, rec *Record)
}

// SubscribeAll registers a listener invoked on every record mutation
// across all keys, used by external bridges (e.g. the signalling relay).
func (r *Registry) SubscribeAll(callback func(identity, treeName string, rec *Record)) func() {
	r.mu.Lock()
	id := r.nextListenerID
	r.nextListenerID++
	r.globalSubs = append(r.globalSubs, globalSub{id: id, fn: callback})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.globalSubs {
			if s.id == id {
				r.globalSubs = append(r.globalSubs[:i], r.globalSubs[i+1:]...)
				break
			}
		}
	}
}

func applyOpts(rec *Record, opts SetOpts) {
	if opts.Key != nil {
		rec.Key = opts.Key
	}
	if opts.Visibility != nil {
		rec.Visibility = *opts.Visibility
	}
	if opts.EncryptedKey != nil {
		rec.EncryptedKey = opts.EncryptedKey
	}
	if opts.KeyID != "" {
		rec.KeyID = opts.KeyID
	}
	if opts.SelfEncryptedKey != nil {
		rec.SelfEncryptedKey = opts.SelfEncryptedKey
	}
	if opts.SelfEncryptedLinkKey != nil {
		rec.SelfEncryptedLinkKey = opts.SelfEncryptedLinkKey
	}
}

// SetLocal records a local write: source=localWrite, dirty=true,
// updatedAt=now. Always wins over any existing record.
func (r *Registry) SetLocal(identity, treeName string, hash htcid.ID, opts SetOpts) Record {
	k := keyOf(identity, treeName)
	now := time.Now()
	rec := Record{
		Hash:       hash,
		Visibility: VisibilityPublic,
		UpdatedAt:  now,
		Source:     SourceLocalWrite,
		Dirty:      true,
	}
	applyOpts(&rec, opts)

	r.mu.Lock()
	r.records[k] = rec
	r.mu.Unlock()

	r.persistSnapshot()
	r.notify(identity, treeName, &rec)
	r.schedulePublish(k, r.publishDelay)
	return rec
}

// setAdmitted implements the admit-if-newer-or-fills-gaps rule shared by
// setFromResolver, setFromWorker and setFromExternal.
func (r *Registry) setAdmitted(identity, treeName string, hash htcid.ID, updatedAt time.Time, source Source, opts SetOpts) bool {
	k := keyOf(identity, treeName)

	r.mu.Lock()
	existing, ok := r.records[k]
	if ok && existing.Dirty {
		r.mu.Unlock()
		return false
	}

	var next Record
	admitted := false

	switch {
	case !ok:
		next = Record{Hash: hash, Visibility: VisibilityPublic, UpdatedAt: updatedAt, Source: source}
		applyOpts(&next, opts)
		admitted = true
	case updatedAt.After(existing.UpdatedAt):
		next = Record{Hash: hash, Visibility: VisibilityPublic, UpdatedAt: updatedAt, Source: source}
		applyOpts(&next, opts)
		admitted = true
	case updatedAt.Equal(existing.UpdatedAt) && !existing.sameHash(hash):
		next = Record{Hash: hash, Visibility: VisibilityPublic, UpdatedAt: updatedAt, Source: source}
		applyOpts(&next, opts)
		admitted = true
	case existing.sameHash(hash):
		// same-hash metadata fill: never loosen visibility, never move updatedAt backwards.
		next = existing
		if opts.Visibility != nil && opts.Visibility.tighter(existing.Visibility) {
			next.Visibility = *opts.Visibility
		}
		fillOpts := opts
		fillOpts.Visibility = nil
		applyOpts(&next, fillOpts)
		admitted = true
	default:
		r.mu.Unlock()
		return false
	}

	r.records[k] = next
	r.mu.Unlock()

	r.persistSnapshot()
	cp := next
	r.notify(identity, treeName, &cp)
	return admitted
}

// SetFromResolver admits a candidate record learned by directly querying
// a peer for the current root.
func (r *Registry) SetFromResolver(identity, treeName string, hash htcid.ID, updatedAt time.Time, opts SetOpts) bool {
	return r.setAdmitted(identity, treeName, hash, updatedAt, SourceRemoteEvent, opts)
}

// SetFromWorker admits a candidate record produced by a background worker.
func (r *Registry) SetFromWorker(identity, treeName string, hash htcid.ID, updatedAt time.Time, opts SetOpts) bool {
	return r.setAdmitted(identity, treeName, hash, updatedAt, SourceWorker, opts)
}

// SetFromExternal admits a candidate observed on the wire (a relay
// event); updatedAt defaults to now when the caller has none.
func (r *Registry) SetFromExternal(identity, treeName string, hash htcid.ID, source Source, opts SetOpts) bool {
	updatedAt := time.Now()
	if opts.UpdatedAt != nil {
		updatedAt = *opts.UpdatedAt
	}
	return r.setAdmitted(identity, treeName, hash, updatedAt, source, opts)
}

// MergeKey fills in a missing symmetric key without disturbing
// updatedAt or source.
func (r *Registry) MergeKey(identity, treeName string, k32 [32]byte) bool {
	k := keyOf(identity, treeName)

	r.mu.Lock()
	rec, ok := r.records[k]
	if !ok || rec.Key != nil {
		r.mu.Unlock()
		return false
	}
	rec.Key = &k32
	r.records[k] = rec
	r.mu.Unlock()

	r.persistSnapshot()
	cp := rec
	r.notify(identity, treeName, &cp)
	return true
}

// Delete cancels any pending publish, drops the record and notifies
// subscribers with nil.
func (r *Registry) Delete(identity, treeName string) {
	k := keyOf(identity, treeName)

	r.mu.Lock()
	delete(r.records, k)
	if t, ok := r.timers[k]; ok {
		t.Stop()
		delete(r.timers, k)
	}
	r.mu.Unlock()

	r.persistSnapshot()
	r.notify(identity, treeName, nil)
}

// CancelPendingPublish cancels a scheduled publish without deleting the
// record itself.
func (r *Registry) CancelPendingPublish(identity, treeName string) {
	k := keyOf(identity, treeName)
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[k]; ok {
		t.Stop()
		delete(r.timers, k)
	}
}

func (r *Registry) notify(identity, treeName string, rec *Record) {
	k := keyOf(identity, treeName)
	r.mu.Lock()
	ls := append([]listener(nil), r.listeners[k]...)
	globals := append([]globalSub(nil), r.globalSubs...)
	r.mu.Unlock()

	for _, l := range ls {
		var cp *Record
		if rec != nil {
			c := *rec
			cp = &c
		}
		select {
		case l.ch <- cp:
		default:
		}
	}
	for _, g := range globals {
		g.fn(identity, treeName, rec)
	}
}

func (r *Registry) persistSnapshot() {
	if r.persist == nil {
		return
	}
	r.mu.Lock()
	snap := make(map[key]Record, len(r.records))
	for k, v := range r.records {
		snap[k] = v
	}
	r.mu.Unlock()
	_ = r.persist.Save(snap)
}

// schedulePublish arms a one-shot timer that calls publishFn after delay
// and re-arms itself with retryDelay on failure, following the teacher's
// periodic-save-with-retry shape in peers_autosave.go.
func (r *Registry) schedulePublish(k key, delay time.Duration) {
	if r.publish == nil {
		return
	}
	r.mu.Lock()
	if t, ok := r.timers[k]; ok {
		t.Stop()
	}
	timer := time.AfterFunc(delay, func() { r.runPublish(k) })
	r.timers[k] = timer
	r.mu.Unlock()
}

func (r *Registry) runPublish(k key) {
	r.mu.Lock()
	rec, ok := r.records[k]
	delete(r.timers, k)
	r.mu.Unlock()
	if !ok || !rec.Dirty {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := r.publish(ctx, k.identity, k.treeName, rec)

	r.mu.Lock()
	defer r.mu.Unlock()
	cur, stillPresent := r.records[k]
	if !stillPresent {
		return
	}
	if err != nil {
		timer := time.AfterFunc(r.retryDelay, func() { r.runPublish(k) })
		r.timers[k] = timer
		return
	}
	if cur.sameHash(rec.Hash) {
		cur.Dirty = false
		r.records[k] = cur
	}
}

// FlushPendingPublishes drains and awaits every pending timer
// immediately, used on graceful shutdown.
func (r *Registry) FlushPendingPublishes() {
	r.mu.Lock()
	keys := make([]key, 0, len(r.timers))
	for k, t := range r.timers {
		t.Stop()
		keys = append(keys, k)
	}
	r.timers = make(map[key]*time.Timer)
	r.mu.Unlock()

	for _, k := range keys {
		r.runPublish(k)
	}
}

// Close flushes pending publishes and releases timers.
func (r *Registry) Close() {
	r.FlushPendingPublishes()
}
