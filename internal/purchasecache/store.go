// Package purchasecache keeps a read-through, write-through cache of
// attraction purchases in a persistent key-value region so dashboard views
// render from local state while converging on the purchase API.
//
// Reads return the cached collection immediately and revalidate it in the
// background once it is older than the configured age.  Local mutations
// (Upsert, Remove) are persisted before subscribers are notified.
//
// Known consistency gap: a background refresh started before a local
// mutation replaces the whole collection when it completes, so it can drop
// that mutation (last writer wins at collection granularity).  Subscribers
// that apply optimistic updates should re-apply them when a sync event
// arrives shortly after.
package purchasecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/venue-dashboard/internal/model"
	"github.com/iliyamo/venue-dashboard/internal/storage"
)

const (
	// DefaultName is the cache instance name.  Bump the version suffix when
	// the persisted layout changes so old blobs are orphaned, not misread.
	DefaultName = "attraction-purchases-v1"
	// DefaultMaxAge is the staleness threshold used when none is given.
	DefaultMaxAge = 5 * time.Minute

	purchasesKey = "purchases"
	metadataKey  = "metadata"
	syncKey      = "sync"
)

// ErrInvalidID is returned by Upsert for a record without an identifier.
var ErrInvalidID = errors.New("purchase id is required")

// FetchResult is one full pull of the purchase collection.
type FetchResult struct {
	Items      []model.Purchase
	Pagination model.Pagination
}

// RemoteSource is the authoritative purchase API, seen from the cache.
type RemoteSource interface {
	FetchAll(ctx context.Context, filters model.SyncFilters) (FetchResult, error)
}

// RemoteSourceFunc adapts a function to RemoteSource.
type RemoteSourceFunc func(ctx context.Context, filters model.SyncFilters) (FetchResult, error)

// FetchAll calls f.
func (f RemoteSourceFunc) FetchAll(ctx context.Context, filters model.SyncFilters) (FetchResult, error) {
	return f(ctx, filters)
}

// UpdateKind tells subscribers what changed.
type UpdateKind string

const (
	UpdateUpsert UpdateKind = "upsert"
	UpdateRemove UpdateKind = "remove"
	UpdateSync   UpdateKind = "sync"
)

// UpdateEvent is delivered to OnUpdate subscribers.  Record is set for
// upserts, ID for removals and Records/Metadata for full syncs.
type UpdateEvent struct {
	Kind     UpdateKind           `json:"kind"`
	Record   *model.Purchase      `json:"record,omitempty"`
	ID       uint64               `json:"id,omitempty"`
	Records  []model.Purchase     `json:"records,omitempty"`
	Metadata *model.CacheMetadata `json:"metadata,omitempty"`
}

// ClearEvent is delivered to OnClear subscribers.
type ClearEvent struct {
	At time.Time `json:"at"`
}

// Options tune a Store.  Zero values select the defaults.
type Options struct {
	Name   string
	MaxAge time.Duration
	Logger *zap.Logger
	Now    func() time.Time

	// quietStorage suppresses the storage-unavailable warning when a
	// Registry has already logged it.
	quietStorage bool
	// scope pins the store to one filter context.  Records outside it
	// are not admitted by a Registry.
	scope *model.SyncFilters
}

// Store is the purchase cache of one filter context.  Use a Registry when
// callers have different scopes; a Store is safe for concurrent use.
type Store struct {
	remote RemoteSource
	kv     storage.KV
	name   string
	maxAge time.Duration
	logger *zap.Logger
	now    func() time.Time
	scope  *model.SyncFilters

	group singleflight.Group
	bg    sync.WaitGroup

	updates Broadcaster[UpdateEvent]
	clears  Broadcaster[ClearEvent]

	// mu guards the fields below and every read-modify-write of the
	// persisted blobs.  It is never held across a RemoteSource call.
	mu         sync.Mutex
	snapshot   []model.Purchase
	loaded     bool
	meta       *model.CacheMetadata
	pagination model.Pagination
	filters    model.SyncFilters
	warmedUp   bool
	generation uint64
	// dirty is set when the last sync could not be persisted.  The
	// snapshot is then newer than storage and is the base for reads and
	// mutations until a write succeeds.
	dirty bool
}

// New builds a Store reading through to remote.  A nil kv puts the store in
// storage-unavailable mode: every read goes to the network and nothing is
// persisted.
func New(remote RemoteSource, kv storage.KV, opts Options) *Store {
	if remote == nil {
		panic("nil remote source passed to purchasecache.New")
	}
	s := &Store{
		remote: remote,
		kv:     kv,
		name:   opts.Name,
		maxAge: opts.MaxAge,
		logger: opts.Logger,
		now:    opts.Now,
		scope:  opts.scope,
	}
	quiet := opts.quietStorage
	if s.name == "" {
		s.name = DefaultName
	}
	if s.maxAge <= 0 {
		s.maxAge = DefaultMaxAge
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.logger = s.logger.With(zap.String("cache", s.name))
	if kv == nil && !quiet {
		s.logger.Warn("cache storage unavailable, purchases will always be fetched from the API")
	}
	return s
}

// GetAll returns the cached collection when one exists, scheduling a
// background refresh if it is stale.  On a miss it fetches synchronously.
// An error is returned only when nothing could be served; the slice is
// never nil.
func (s *Store) GetAll(ctx context.Context, filters model.SyncFilters) ([]model.Purchase, error) {
	if items, meta, ok := s.readCache(ctx); ok {
		if s.staleFor(meta, filters, s.maxAge) {
			s.refreshInBackground(ctx, filters)
		}
		return items, nil
	}

	items, err := s.sync(ctx, filters)
	if err == nil {
		return items, nil
	}
	s.logger.Error("purchase fetch failed", zap.Error(err))
	if fallback, ok := s.memorySnapshot(); ok {
		return fallback, nil
	}
	return []model.Purchase{}, err
}

// ForceRefresh skips the cache and the staleness check and fetches the
// collection synchronously.  When the fetch fails it returns the last good
// snapshot (possibly empty) together with the error.
func (s *Store) ForceRefresh(ctx context.Context, filters model.SyncFilters) ([]model.Purchase, error) {
	items, err := s.sync(ctx, filters)
	if err == nil {
		return items, nil
	}
	s.logger.Warn("forced purchase refresh failed, serving cached data", zap.Error(err))
	if cached, _, ok := s.readCache(ctx); ok {
		return cached, err
	}
	if fallback, ok := s.memorySnapshot(); ok {
		return fallback, err
	}
	return []model.Purchase{}, err
}

// Upsert replaces the record with the same ID in place, or prepends it when
// absent, persists the collection and then notifies subscribers.
func (s *Store) Upsert(ctx context.Context, p model.Purchase) error {
	if p.ID == 0 {
		return ErrInvalidID
	}
	rec := p.Clone()

	s.mu.Lock()
	items, persisted := s.baseLocked(ctx)
	replaced := false
	for i := range items {
		if items[i].ID == rec.ID {
			items[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		items = append([]model.Purchase{rec}, items...)
	}
	err := s.commitLocked(ctx, items, persisted)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	out := rec.Clone()
	s.updates.Publish(UpdateEvent{Kind: UpdateUpsert, Record: &out})
	return nil
}

// Remove drops the record with the given ID.  Removing an unknown ID is a
// no-op and emits nothing.
func (s *Store) Remove(ctx context.Context, id uint64) error {
	s.mu.Lock()
	items, persisted := s.baseLocked(ctx)
	idx := -1
	for i := range items {
		if items[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	items = append(items[:idx], items[idx+1:]...)
	err := s.commitLocked(ctx, items, persisted)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.updates.Publish(UpdateEvent{Kind: UpdateRemove, ID: id})
	return nil
}

// Admits reports whether p belongs to the store's scope.
func (s *Store) Admits(p model.Purchase) bool {
	if s.scope == nil || s.scope.LocationID == nil {
		return true
	}
	loc, ok := p.EffectiveLocationID()
	return ok && loc == *s.scope.LocationID
}

// GetByID looks the record up in the in-memory snapshot only.  It never
// touches storage or the network.
func (s *Store) GetByID(id uint64) (model.Purchase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.snapshot {
		if p.ID == id {
			return p.Clone(), true
		}
	}
	return model.Purchase{}, false
}

// Query applies f to the in-memory snapshot.  It returns an empty slice
// when no snapshot has been loaded; call GetAll first for freshness.
func (s *Store) Query(f model.QueryFilters) []model.Purchase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Filter(s.snapshot, f)
}

// IsStale reports whether the cache has no metadata or was last synced
// more than maxAge ago.  maxAge <= 0 selects the store default.
func (s *Store) IsStale(ctx context.Context, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = s.maxAge
	}
	meta, ok := s.Metadata(ctx)
	if !ok {
		return true
	}
	return s.now().Sub(meta.LastUpdated) > maxAge
}

// Metadata returns the freshness record of the last successful sync.
func (s *Store) Metadata(ctx context.Context) (model.CacheMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kv != nil && !s.dirty {
		if meta := s.loadMetadataLocked(ctx); meta != nil {
			s.meta = meta
		}
	}
	if s.meta == nil {
		return model.CacheMetadata{}, false
	}
	return *s.meta, true
}

// Warmup makes sure the cache holds data, syncing once when it does not.
// After the first successful warmup further calls return immediately until
// Clear is called.
func (s *Store) Warmup(ctx context.Context, filters model.SyncFilters) error {
	s.mu.Lock()
	done := s.warmedUp
	s.mu.Unlock()
	if done {
		return nil
	}

	if _, _, ok := s.readCache(ctx); !ok {
		if _, err := s.sync(ctx, filters); err != nil {
			s.logger.Warn("purchase cache warmup failed", zap.Error(err))
			return err
		}
	}

	s.mu.Lock()
	s.warmedUp = true
	s.mu.Unlock()
	s.logger.Info("purchase cache warmed up")
	return nil
}

// WarmedUp reports whether Warmup has completed since the last Clear.
func (s *Store) WarmedUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warmedUp
}

// Clear deletes the persisted region, forgets the in-memory snapshot and
// resets the warmup flag.  A sync that was in flight when Clear ran does
// not repopulate the cache.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.generation++
	s.snapshot = nil
	s.loaded = false
	s.meta = nil
	s.pagination = model.Pagination{}
	s.filters = model.SyncFilters{}
	s.warmedUp = false
	s.dirty = false
	var errs []error
	if s.kv != nil {
		for _, k := range []string{purchasesKey, metadataKey} {
			if _, err := s.kv.Delete(ctx, s.key(k)); err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
			}
		}
	}
	s.mu.Unlock()
	s.group.Forget(syncKey)

	// the in-memory state is gone either way, so subscribers hear about it
	s.clears.Publish(ClearEvent{At: s.now()})
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("purchase cache clear incomplete", zap.Error(err))
		return err
	}
	s.logger.Info("purchase cache cleared")
	return nil
}

// OnUpdate subscribes fn to upsert, remove and sync notifications.
func (s *Store) OnUpdate(fn func(UpdateEvent)) (unsubscribe func()) {
	return s.updates.Subscribe(fn)
}

// OnClear subscribes fn to cache-cleared notifications.
func (s *Store) OnClear(fn func(ClearEvent)) (unsubscribe func()) {
	return s.clears.Subscribe(fn)
}

// Wait blocks until every background refresh started so far has finished.
func (s *Store) Wait() {
	s.bg.Wait()
}

func (s *Store) key(k string) string {
	return s.name + ":" + k
}

// sync runs one de-duplicated fetch.  Concurrent callers share the same
// outcome; a caller whose context ends stops waiting but does not cancel
// the shared fetch.
func (s *Store) sync(ctx context.Context, filters model.SyncFilters) ([]model.Purchase, error) {
	fctx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(syncKey, func() (any, error) {
		return s.fetchAndStore(fctx, filters)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clonePurchases(res.Val.([]model.Purchase)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) fetchAndStore(ctx context.Context, filters model.SyncFilters) ([]model.Purchase, error) {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	res, err := s.remote.FetchAll(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("fetch purchases: %w", err)
	}
	items := dedupe(res.Items)
	meta := model.CacheMetadata{
		LastUpdated:  s.now(),
		TotalRecords: len(items),
		LocationID:   filters.LocationID,
		UserID:       filters.UserID,
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Info("discarding purchase sync that finished after clear")
		return items, nil
	}
	if s.kv != nil {
		if err := s.persistLocked(ctx, items, res.Pagination, filters, &meta); err != nil {
			s.logger.Error("persist purchase cache failed, serving from memory", zap.Error(err))
			s.dirty = true
		} else {
			s.dirty = false
		}
	}
	s.snapshot = clonePurchases(items)
	s.loaded = true
	s.meta = &meta
	s.pagination = res.Pagination
	s.filters = filters
	s.mu.Unlock()

	s.logger.Info("purchase cache synced", zap.Int("total_records", len(items)))
	m := meta
	s.updates.Publish(UpdateEvent{Kind: UpdateSync, Records: clonePurchases(items), Metadata: &m})
	return items, nil
}

func (s *Store) refreshInBackground(ctx context.Context, filters model.SyncFilters) {
	bctx := context.WithoutCancel(ctx)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if _, err := s.sync(bctx, filters); err != nil {
			s.logger.Warn("background purchase refresh failed, keeping cached data", zap.Error(err))
		}
	}()
}

func (s *Store) staleFor(meta *model.CacheMetadata, filters model.SyncFilters, maxAge time.Duration) bool {
	if meta == nil {
		return true
	}
	if !meta.Filters().Equal(filters) {
		return true
	}
	return s.now().Sub(meta.LastUpdated) > maxAge
}

// readCache loads the persisted collection and metadata and refreshes the
// in-memory snapshot from them.
func (s *Store) readCache(ctx context.Context) ([]model.Purchase, *model.CacheMetadata, bool) {
	if s.kv == nil {
		return nil, nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty {
		return clonePurchases(s.snapshot), s.metaCopyLocked(), true
	}
	coll, ok := s.loadCollectionLocked(ctx)
	if !ok {
		return nil, nil, false
	}
	meta := s.loadMetadataLocked(ctx)
	s.snapshot = coll.Items
	s.loaded = true
	s.meta = meta
	s.pagination = coll.Pagination
	s.filters = coll.Filters
	return clonePurchases(coll.Items), meta, true
}

func (s *Store) memorySnapshot() ([]model.Purchase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded || len(s.snapshot) == 0 {
		return nil, false
	}
	return clonePurchases(s.snapshot), true
}

// baseLocked returns a private copy of the collection a mutation applies
// to and whether it exists in storage.
func (s *Store) baseLocked(ctx context.Context) ([]model.Purchase, bool) {
	if s.dirty {
		return clonePurchases(s.snapshot), true
	}
	if s.kv != nil {
		if coll, ok := s.loadCollectionLocked(ctx); ok {
			s.pagination = coll.Pagination
			s.filters = coll.Filters
			return coll.Items, true
		}
	}
	return clonePurchases(s.snapshot), false
}

// commitLocked writes a mutated collection.  A collection that was never
// synced is kept in memory only, so a partial list is never persisted as
// if it were a full sync.
func (s *Store) commitLocked(ctx context.Context, items []model.Purchase, persisted bool) error {
	var meta *model.CacheMetadata
	if persisted {
		m := s.metaCopyLocked()
		if !s.dirty {
			m = s.loadMetadataLocked(ctx)
		}
		if m != nil {
			m.TotalRecords = len(items)
			meta = m
		}
		if err := s.persistLocked(ctx, items, s.pagination, s.filters, meta); err != nil {
			return err
		}
		s.dirty = false
	} else if s.meta != nil {
		m := *s.meta
		m.TotalRecords = len(items)
		meta = &m
	}
	s.snapshot = items
	s.loaded = true
	if meta != nil {
		s.meta = meta
	}
	return nil
}

func (s *Store) metaCopyLocked() *model.CacheMetadata {
	if s.meta == nil {
		return nil
	}
	m := *s.meta
	return &m
}

type collectionBlob struct {
	Items      []model.Purchase  `json:"items"`
	Pagination model.Pagination  `json:"pagination"`
	Filters    model.SyncFilters `json:"filters"`
	CachedAt   time.Time         `json:"cachedAt"`
}

type rawCollectionBlob struct {
	Items      []json.RawMessage `json:"items"`
	Pagination model.Pagination  `json:"pagination"`
	Filters    model.SyncFilters `json:"filters"`
}

type cachedCollection struct {
	Items      []model.Purchase
	Pagination model.Pagination
	Filters    model.SyncFilters
}

func (s *Store) persistLocked(ctx context.Context, items []model.Purchase, pg model.Pagination, filters model.SyncFilters, meta *model.CacheMetadata) error {
	coll, err := json.Marshal(collectionBlob{Items: items, Pagination: pg, Filters: filters, CachedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode purchase collection: %w", err)
	}
	entries := map[string][]byte{s.key(purchasesKey): coll}
	if meta != nil {
		mb, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode cache metadata: %w", err)
		}
		entries[s.key(metadataKey)] = mb
	}
	if err := storage.PutAll(ctx, s.kv, entries); err != nil {
		return fmt.Errorf("write purchase cache: %w", err)
	}
	return nil
}

// loadCollectionLocked decodes the persisted collection.  Storage errors
// and a malformed top-level blob are treated as a miss; a malformed record
// is skipped.
func (s *Store) loadCollectionLocked(ctx context.Context) (cachedCollection, bool) {
	key := s.key(purchasesKey)
	blob, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn("read purchase cache failed", zap.String("cache_key", key), zap.Error(err))
		return cachedCollection{}, false
	}
	if !ok {
		return cachedCollection{}, false
	}
	var raw rawCollectionBlob
	if err := json.Unmarshal(blob, &raw); err != nil {
		s.logger.Warn("corrupt purchase cache, treating as miss", zap.String("cache_key", key), zap.Error(err))
		_, _ = s.kv.Delete(ctx, key)
		return cachedCollection{}, false
	}
	items := make([]model.Purchase, 0, len(raw.Items))
	seen := make(map[uint64]struct{}, len(raw.Items))
	for i, r := range raw.Items {
		var p model.Purchase
		if err := json.Unmarshal(r, &p); err != nil || p.ID == 0 {
			s.logger.Warn("skipping malformed cached purchase", zap.Int("index", i), zap.Error(err))
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		items = append(items, p)
	}
	return cachedCollection{Items: items, Pagination: raw.Pagination, Filters: raw.Filters}, true
}

func (s *Store) loadMetadataLocked(ctx context.Context) *model.CacheMetadata {
	key := s.key(metadataKey)
	blob, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn("read cache metadata failed", zap.String("cache_key", key), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var meta model.CacheMetadata
	if err := json.Unmarshal(blob, &meta); err != nil {
		s.logger.Warn("corrupt cache metadata, treating as missing", zap.String("cache_key", key), zap.Error(err))
		_, _ = s.kv.Delete(ctx, key)
		return nil
	}
	return &meta
}

// dedupe keeps the first occurrence of each ID.
func dedupe(items []model.Purchase) []model.Purchase {
	out := make([]model.Purchase, 0, len(items))
	seen := make(map[uint64]struct{}, len(items))
	for _, p := range items {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p.Clone())
	}
	return out
}

func clonePurchases(items []model.Purchase) []model.Purchase {
	out := make([]model.Purchase, len(items))
	for i, p := range items {
		out[i] = p.Clone()
	}
	return out
}
