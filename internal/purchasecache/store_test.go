package purchasecache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/venue-dashboard/internal/model"
	"github.com/iliyamo/venue-dashboard/internal/storage"
)

// fakeRemote stands in for the purchase API.  When gate is set, FetchAll
// blocks until it is closed.
type fakeRemote struct {
	mu      sync.Mutex
	calls   int
	items   []model.Purchase
	err     error
	gate    chan struct{}
	started chan struct{}
	filters []model.SyncFilters
}

func (f *fakeRemote) FetchAll(_ context.Context, filters model.SyncFilters) (FetchResult, error) {
	f.mu.Lock()
	f.calls++
	f.filters = append(f.filters, filters)
	items := clonePurchases(f.items)
	err, gate, started := f.err, f.gate, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return FetchResult{}, err
	}
	return FetchResult{Items: items, Pagination: model.Pagination{CurrentPage: 1, LastPage: 1, PerPage: 100, Total: len(items)}}, nil
}

func (f *fakeRemote) set(items []model.Purchase, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
	f.err = err
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func purchase(id uint64, status model.PurchaseStatus, location uint64) model.Purchase {
	return model.Purchase{
		ID:            id,
		AttractionID:  7,
		LocationID:    model.Uint64Ptr(location),
		Quantity:      2,
		TotalAmount:   40,
		PaymentMethod: model.PaymentCard,
		Status:        status,
		PurchaseDate:  "2026-10-01",
		CreatedAt:     time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}
}

func newTestStore(t *testing.T, remote *fakeRemote, kv storage.KV) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)}
	s := New(remote, kv, Options{Logger: zaptest.NewLogger(t), Now: clock.Now})
	t.Cleanup(s.Wait)
	return s, clock
}

func ids(items []model.Purchase) []uint64 {
	out := make([]uint64, len(items))
	for i, p := range items {
		out[i] = p.ID
	}
	return out
}

func TestGetAll_ColdCacheFetchesAndPersists(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{items: []model.Purchase{purchase(1, model.StatusPending, 5), purchase(2, model.StatusCompleted, 5)}}
	kv := storage.NewMemoryKV()
	s, _ := newTestStore(t, remote, kv)

	got, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids(got))
	assert.Equal(t, 1, remote.callCount())

	meta, ok := s.Metadata(ctx)
	require.True(t, ok)
	assert.Equal(t, 2, meta.TotalRecords)
	assert.Equal(t, 2, kv.Len(), "collection and metadata entries")
}

func TestGetAll_EndToEnd(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{items: []model.Purchase{
		purchase(1, model.StatusPending, 5),
		purchase(2, model.StatusPending, 5),
		purchase(3, model.StatusPending, 5),
	}}
	s, _ := newTestStore(t, remote, storage.NewMemoryKV())

	first, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	require.Len(t, first, 3)

	meta, ok := s.Metadata(ctx)
	require.True(t, ok)
	assert.Equal(t, 3, meta.TotalRecords)

	fresh := purchase(99, model.StatusPending, 5)
	require.NoError(t, s.Upsert(ctx, fresh))

	second, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	require.Len(t, second, 4)
	assert.Equal(t, uint64(99), second[0].ID)
	assert.Equal(t, 1, remote.callCount(), "warm cache must not hit the network")

	meta, _ = s.Metadata(ctx)
	assert.Equal(t, 4, meta.TotalRecords)
}

func TestGetAll_ColdFailureReturnsEmptyAndError(t *testing.T) {
	remote := &fakeRemote{err: errors.New("connection refused")}
	s, _ := newTestStore(t, remote, storage.NewMemoryKV())

	got, err := s.GetAll(context.Background(), model.SyncFilters{})
	require.Error(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGetAll_StaleServesCacheAndRefreshesInBackground(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{items: []model.Purchase{purchase(1, model.StatusPending, 5)}}
	s, clock := newTestStore(t, remote, storage.NewMemoryKV())

	_, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)

	synced := make(chan UpdateEvent, 1)
	s.OnUpdate(func(ev UpdateEvent) {
		if ev.Kind == UpdateSync {
			synced <- ev
		}
	})

	remote.set([]model.Purchase{purchase(1, model.StatusCompleted, 5), purchase(2, model.StatusPending, 5)}, nil)
	clock.Advance(6 * time.Minute)

	got, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids(got), "stale data is returned immediately")

	select {
	case ev := <-synced:
		assert.Len(t, ev.Records, 2)
		require.NotNil(t, ev.Metadata)
		assert.Equal(t, 2, ev.Metadata.TotalRecords)
	case <-time.After(2 * time.Second):
		t.Fatal("background refresh did not publish a sync event")
	}
	s.Wait()

	assert.Equal(t, 2, remote.callCount())
	p, ok := s.GetByID(1)
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, p.Status)
}

func TestGetAll_FreshCacheDoesNotRefresh(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{items: []model.Purchase{purchase(1, model.StatusPending, 5)}}
	s, clock := newTestStore(t, remote, storage.NewMemoryKV())

	_, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	s.Wait()
	assert.Equal(t, 1, remote.callCount())
}

func TestGetAll_FilterContextChangeTriggersRefresh(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{items: []model.Purchase{purchase(1, model.StatusPending, 5)}}
	s, _ := newTestStore(t, remote, storage.NewMemoryKV())

	_, err := s.GetAll(ctx, model.SyncFilters{LocationID: model.Uint64Ptr(5)})
	require.NoError(t, err)
	_, err = s.GetAll(ctx, model.SyncFilters{LocationID: model.Uint64Ptr(9)})
	require.NoError(t, err)
	s.Wait()

	assert.Equal(t, 2, remote.callCount())
	meta, ok := s.Metadata(ctx)
	require.True(t, ok)
	require.NotNil(t, meta.LocationID)
	assert.Equal(t, uint64(9), *meta.LocationID)
}

func TestGetAll_BackgroundFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{items: []model.Purchase{purchase(1, model.StatusPending, 5)}}
	s, clock := newTestStore(t, remote, storage.NewMemoryKV())

	_, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)

	remote.set(nil, errors.New("502 bad gateway"))
	clock.Advance(10 * time.Minute)
	got, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	s.Wait()

	assert.Equal(t, []uint64{1}, ids(got))
	again, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	s.Wait()
	assert.Equal(t, []uint64{1}, ids(again))
}

func TestForceRefresh_FailureFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{items: []model.Purchase{purchase(1, model.StatusPending, 5), purchase(2, model.StatusPending, 5)}}
	s, _ := newTestStore(t, remote, storage.NewMemoryKV())

	before, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)

	remote.set(nil, errors.New("network down"))
	fallback, err := s.ForceRefresh(ctx, model.SyncFilters{})
	require.Error(t, err)
	assert.Equal(t, before, fallback)

	after, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestForceRefresh_SingleFlight(t *testing.T) {
	remote := &fakeRemote{
		items:   []model.Purchase{purchase(1, model.StatusPending, 5)},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 2),
	}
	s, _ := newTestStore(t, remote, storage.NewMemoryKV())

	var wg sync.WaitGroup
	results := make([][]model.Purchase, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.ForceRefresh(context.Background(), model.SyncFilters{})
		}(i)
		if i == 0 {
			<-remote.started
		}
	}
	// give the second caller time to join the in-flight fetch
	time.Sleep(50 * time.Millisecond)
	close(remote.gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, remote.callCount())
	assert.Equal(t, results[0], results[1])
}

func TestUpsert_Uniqueness(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{items: []model.Purchase{purchase(1, model.StatusPending, 5), purchase(2, model.StatusPending, 5)}}
	s, _ := newTestStore(t, remote, storage.NewMemoryKV())
	_, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)

	seq := []model.Purchase{
		purchase(3, model.StatusPending, 5),
		purchase(1, model.StatusCompleted, 5),
		purchase(3, model.StatusCancelled, 5),
		purchase(2, model.StatusCompleted, 5),
		purchase(3, model.StatusCompleted, 9),
	}
	for _, p := range seq {
		require.NoError(t, s.Upsert(ctx, p))
	}

	all, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	seen := map[uint64]int{}
	for _, p := range all {
		seen[p.ID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "id %d", id)
	}
	assert.Equal(t, []uint64{3, 1, 2}, ids(all), "new ids are prepended, known ids keep their position")

	p3, ok := s.GetByID(3)
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, p3.Status)
	assert.Equal(t, uint64(9), *p3.LocationID)
}

func TestUpsert_ReadAfterWrite(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, &fakeRemote{}, storage.NewMemoryKV())

	rec := purchase(10, model.StatusPending, 5)
	rec.GuestName = "Jane Doe"
	rec.Attraction = &model.AttractionSummary{ID: 7, Name: "Laser Tag"}
	require.NoError(t, s.Upsert(ctx, rec))

	got, ok := s.GetByID(10)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	// the cache holds a copy, not the caller's pointers
	rec.Attraction.Name = "changed"
	got, _ = s.GetByID(10)
	assert.Equal(t, "Laser Tag", got.Attraction.Name)
}

func TestUpsert_RejectsZeroID(t *testing.T) {
	s, _ := newTestStore(t, &fakeRemote{}, storage.NewMemoryKV())
	assert.ErrorIs(t, s.Upsert(context.Background(), model.Purchase{}), ErrInvalidID)
}

func TestUpsert_StateVisibleBeforeEvent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, &fakeRemote{}, storage.NewMemoryKV())

	var seen bool
	unsubscribe := s.OnUpdate(func(ev UpdateEvent) {
		require.Equal(t, UpdateUpsert, ev.Kind)
		require.NotNil(t, ev.Record)
		_, seen = s.GetByID(ev.Record.ID)
	})
	defer unsubscribe()

	require.NoError(t, s.Upsert(ctx, purchase(4, model.StatusPending, 5)))
	assert.True(t, seen)
}

func TestRemove_Idempotent(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{items: []model.Purchase{purchase(1, model.StatusPending, 5), purchase(2, model.StatusPending, 5)}}
	s, _ := newTestStore(t, remote, storage.NewMemoryKV())
	_, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)

	var removed []uint64
	s.OnUpdate(func(ev UpdateEvent) {
		if ev.Kind == UpdateRemove {
			removed = append(removed, ev.ID)
		}
	})

	require.NoError(t, s.Remove(ctx, 1))
	once, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, 1))
	twice, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, []uint64{2}, ids(twice))
	assert.Equal(t, []uint64{1}, removed)

	meta, _ := s.Metadata(ctx)
	assert.Equal(t, 1, meta.TotalRecords)
}

func TestIsStale_Threshold(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{items: []model.Purchase{purchase(1, model.StatusPending, 5)}}
	s, clock := newTestStore(t, remote, storage.NewMemoryKV())

	assert.True(t, s.IsStale(ctx, 5*time.Minute), "no metadata yet")

	_, err := s.ForceRefresh(ctx, model.SyncFilters{})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	assert.False(t, s.IsStale(ctx, 5*time.Minute))
	assert.False(t, s.IsStale(ctx, 0), "zero selects the five minute default")

	clock.Advance(5 * time.Minute)
	assert.True(t, s.IsStale(ctx, 5*time.Minute))
}

func TestClear_ResetsToColdStart(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{items: []model.Purchase{purchase(1, model.StatusPending, 5)}}
	kv := storage.NewMemoryKV()
	s, _ := newTestStore(t, remote, kv)

	require.NoError(t, s.Warmup(ctx, model.SyncFilters{}))
	require.True(t, s.WarmedUp())

	cleared := 0
	s.OnClear(func(ClearEvent) { cleared++ })
	require.NoError(t, s.Clear(ctx))

	assert.Equal(t, 1, cleared)
	assert.Equal(t, 0, kv.Len())
	assert.True(t, s.IsStale(ctx, time.Hour))
	assert.False(t, s.WarmedUp())
	_, ok := s.GetByID(1)
	assert.False(t, ok)
	assert.Empty(t, s.Query(model.QueryFilters{}))

	_, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	assert.Equal(t, 2, remote.callCount(), "cold start performs a blocking fetch")
}

func TestClear_DiscardsInFlightSync(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{
		items:   []model.Purchase{purchase(1, model.StatusPending, 5)},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	kv := storage.NewMemoryKV()
	s, _ := newTestStore(t, remote, kv)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.ForceRefresh(ctx, model.SyncFilters{})
	}()
	<-remote.started
	require.NoError(t, s.Clear(ctx))
	close(remote.gate)
	<-done

	assert.Equal(t, 0, kv.Len())
	_, ok := s.Metadata(ctx)
	assert.False(t, ok)
}

func TestWarmup_RunsOncePerSession(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{items: []model.Purchase{purchase(1, model.StatusPending, 5)}}
	s, _ := newTestStore(t, remote, storage.NewMemoryKV())

	require.NoError(t, s.Warmup(ctx, model.SyncFilters{}))
	require.NoError(t, s.Warmup(ctx, model.SyncFilters{}))
	require.NoError(t, s.Warmup(ctx, model.SyncFilters{}))
	assert.Equal(t, 1, remote.callCount())
}

func TestWarmup_SkipsWhenCacheHoldsData(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	remote := &fakeRemote{items: []model.Purchase{purchase(1, model.StatusPending, 5)}}

	first, _ := newTestStore(t, remote, kv)
	_, err := first.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)

	// a second instance sharing the region finds it populated
	second, _ := newTestStore(t, remote, kv)
	require.NoError(t, second.Warmup(ctx, model.SyncFilters{}))
	assert.Equal(t, 1, remote.callCount())
	_, ok := second.GetByID(1)
	assert.True(t, ok)
}

func TestWarmup_FailureAllowsRetry(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{err: errors.New("timeout")}
	s, _ := newTestStore(t, remote, storage.NewMemoryKV())

	require.Error(t, s.Warmup(ctx, model.SyncFilters{}))
	assert.False(t, s.WarmedUp())

	remote.set([]model.Purchase{purchase(1, model.StatusPending, 5)}, nil)
	require.NoError(t, s.Warmup(ctx, model.SyncFilters{}))
	assert.True(t, s.WarmedUp())
}

func TestQuery_Filters(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{items: []model.Purchase{
		purchase(1, model.StatusPending, 5),
		purchase(2, model.StatusCompleted, 5),
		purchase(3, model.StatusPending, 9),
	}}
	s, _ := newTestStore(t, remote, storage.NewMemoryKV())

	assert.Empty(t, s.Query(model.QueryFilters{Status: model.StatusPending}), "nothing loaded yet")

	_, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)

	got := s.Query(model.QueryFilters{Status: model.StatusPending, LocationID: model.Uint64Ptr(5)})
	assert.Equal(t, []uint64{1}, ids(got))
	assert.Equal(t, 1, remote.callCount())
}

func TestQuery_Search(t *testing.T) {
	ctx := context.Background()
	rec := purchase(10, model.StatusPending, 5)
	rec.GuestName = "Jane Doe"
	rec.GuestEmail = "jane@x.com"
	s, _ := newTestStore(t, &fakeRemote{items: []model.Purchase{rec, purchase(11, model.StatusPending, 5)}}, storage.NewMemoryKV())
	_, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)

	assert.Equal(t, []uint64{10}, ids(s.Query(model.QueryFilters{Search: "jane"})))
	assert.Equal(t, []uint64{10}, ids(s.Query(model.QueryFilters{Search: "X.COM"})))
	assert.Empty(t, s.Query(model.QueryFilters{Search: "zzz"}))
}

func TestCorruptCollectionIsAMiss(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Put(ctx, DefaultName+":purchases", []byte("{not json")))
	remote := &fakeRemote{items: []model.Purchase{purchase(1, model.StatusPending, 5)}}
	s, _ := newTestStore(t, remote, kv)

	got, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids(got))
	assert.Equal(t, 1, remote.callCount())
}

func TestMalformedRecordIsSkipped(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	blob := `{"items":[{"id":1,"attraction_id":7,"status":"pending"},{"id":"oops"},{"id":2,"attraction_id":7,"status":"completed"}]}`
	require.NoError(t, kv.Put(ctx, DefaultName+":purchases", []byte(blob)))
	remote := &fakeRemote{}
	s, _ := newTestStore(t, remote, kv)

	got, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids(got))
	s.Wait() // metadata is missing, so a background refresh runs
	assert.Equal(t, 1, remote.callCount())
}

func TestStorageUnavailable_AlwaysFetches(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{items: []model.Purchase{purchase(1, model.StatusPending, 5)}}
	s, _ := newTestStore(t, remote, nil)

	_, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	_, err = s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	assert.Equal(t, 2, remote.callCount())

	_, ok := s.GetByID(1)
	assert.True(t, ok, "the in-memory snapshot still serves lookups")

	remote.set(nil, errors.New("offline"))
	got, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err, "falls back to the last good snapshot")
	assert.Equal(t, []uint64{1}, ids(got))
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, &fakeRemote{}, storage.NewMemoryKV())

	var a, b int
	unsubA := s.OnUpdate(func(UpdateEvent) { a++ })
	s.OnUpdate(func(UpdateEvent) { b++ })

	require.NoError(t, s.Upsert(ctx, purchase(1, model.StatusPending, 5)))
	unsubA()
	unsubA()
	require.NoError(t, s.Upsert(ctx, purchase(2, model.StatusPending, 5)))

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

// flakyKV fails writes while failWrites is set.
type flakyKV struct {
	*storage.MemoryKV
	mu         sync.Mutex
	failWrites bool
}

func (k *flakyKV) setFailing(v bool) {
	k.mu.Lock()
	k.failWrites = v
	k.mu.Unlock()
}

func (k *flakyKV) failing() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.failWrites
}

func (k *flakyKV) Put(ctx context.Context, key string, blob []byte) error {
	if k.failing() {
		return errors.New("disk full")
	}
	return k.MemoryKV.Put(ctx, key, blob)
}

func (k *flakyKV) PutBatch(ctx context.Context, entries map[string][]byte) error {
	if k.failing() {
		return errors.New("disk full")
	}
	return k.MemoryKV.PutBatch(ctx, entries)
}

func TestSyncPersistFailure_MemoryStaysAuthoritative(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{items: []model.Purchase{purchase(1, model.StatusPending, 5)}}
	kv := &flakyKV{MemoryKV: storage.NewMemoryKV()}
	s, _ := newTestStore(t, remote, kv)

	_, err := s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)

	kv.setFailing(true)
	remote.set([]model.Purchase{purchase(1, model.StatusPending, 5), purchase(2, model.StatusPending, 5)}, nil)
	got, err := s.ForceRefresh(ctx, model.SyncFilters{})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids(got))

	// reads must not fall back to the older persisted blob
	got, err = s.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids(got))
	meta, ok := s.Metadata(ctx)
	require.True(t, ok)
	assert.Equal(t, 2, meta.TotalRecords)

	// a mutation that cannot be written leaves the synced records intact
	assert.Error(t, s.Upsert(ctx, purchase(3, model.StatusPending, 5)))
	_, found := s.GetByID(2)
	assert.True(t, found)

	kv.setFailing(false)
	require.NoError(t, s.Upsert(ctx, purchase(3, model.StatusPending, 5)))
	for _, id := range []uint64{1, 2, 3} {
		_, found := s.GetByID(id)
		assert.True(t, found, "purchase %d", id)
	}

	// storage caught up: a fresh store over the same kv sees the full list
	other, _ := newTestStore(t, &fakeRemote{}, kv)
	got, err = other.GetAll(ctx, model.SyncFilters{})
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 1, 2}, ids(got))
	meta, ok = other.Metadata(ctx)
	require.True(t, ok)
	assert.Equal(t, 3, meta.TotalRecords)
}
