package purchasecache

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/iliyamo/venue-dashboard/internal/model"
	"github.com/iliyamo/venue-dashboard/internal/storage"
)

// Registry hands out one Store per sync scope.  Callers with different
// filter contexts never share a collection, persisted region or
// subscription, so one scope's purchases are not served to another.
type Registry struct {
	remote RemoteSource
	kv     storage.KV
	opts   Options

	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry builds an empty registry.  opts.Name is the base name; each
// scope's Store is named "<base>:<scope>".
func NewRegistry(remote RemoteSource, kv storage.KV, opts Options) *Registry {
	if remote == nil {
		panic("nil remote source passed to purchasecache.NewRegistry")
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if kv == nil {
		opts.Logger.Warn("cache storage unavailable, purchases will always be fetched from the API")
	}
	opts.quietStorage = true
	return &Registry{remote: remote, kv: kv, opts: opts, stores: map[string]*Store{}}
}

// ScopeKey is the stable name of a filter context.
func ScopeKey(f model.SyncFilters) string {
	key := "all"
	if f.LocationID != nil {
		key = "loc-" + strconv.FormatUint(*f.LocationID, 10)
	}
	if f.UserID != nil {
		key += ":user-" + strconv.FormatUint(*f.UserID, 10)
	}
	return key
}

// For returns the Store of scope f, creating it on first use.
func (r *Registry) For(f model.SyncFilters) *Store {
	key := ScopeKey(f)
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[key]; ok {
		return s
	}
	opts := r.opts
	opts.Name = r.opts.Name + ":" + key
	scope := model.SyncFilters{}
	if f.LocationID != nil {
		scope.LocationID = model.Uint64Ptr(*f.LocationID)
	}
	if f.UserID != nil {
		scope.UserID = model.Uint64Ptr(*f.UserID)
	}
	opts.scope = &scope
	s := New(r.remote, r.kv, opts)
	r.stores[key] = s
	return s
}

func (r *Registry) all() []*Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		out = append(out, s)
	}
	return out
}

// Upsert applies p to every open scope whose location it belongs to.
// Scopes without a location take every record.
func (r *Registry) Upsert(ctx context.Context, p model.Purchase) error {
	if p.ID == 0 {
		return ErrInvalidID
	}
	var errs []error
	for _, s := range r.all() {
		if !s.Admits(p) {
			continue
		}
		if err := s.Upsert(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Remove drops id from every open scope.
func (r *Registry) Remove(ctx context.Context, id uint64) error {
	var errs []error
	for _, s := range r.all() {
		if err := s.Remove(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until every scope's background refreshes have finished.
func (r *Registry) Wait() {
	for _, s := range r.all() {
		s.Wait()
	}
}
