package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/annel0/worldcache/internal/storage"
	"github.com/annel0/worldcache/internal/vec"
	"github.com/annel0/worldcache/internal/world"
	"github.com/annel0/worldcache/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(enabled bool) Options {
	opts := DefaultOptions("overworld")
	opts.MinY = testMinY
	opts.Height = testHeight
	opts.Enabled = enabled
	opts.PruneEnabled = false
	opts.AutosaveDelay = time.Hour
	opts.AutosaveInterval = time.Hour
	opts.PruneInterval = time.Hour
	opts.Watch = block.NewSet("diamond_ore", "chest")
	return opts
}

func newTestCache(t *testing.T, opts Options, store storage.RegionStore) *WorldCache {
	t.Helper()
	w, err := New(opts, store, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func stoneChunk(t *testing.T, cx, cz int) *world.Chunk {
	t.Helper()
	c, err := world.NewChunk(cx, cz, testMinY, testHeight)
	require.NoError(t, err)
	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			c.SetBlock(x, 0, z, block.Named("stone"))
		}
	}
	return c
}

// specialChunk строит снимок с одним особым блоком id в локальной позиции (1, 5, 1)
func specialChunk(t *testing.T, cx, cz int, id string, ts time.Time) *ClassifiedChunk {
	t.Helper()
	var overview [ColumnCount]string
	special := map[string][]LocalPos{}
	if id != "" {
		special[id] = []LocalPos{{X: 1, Z: 1, Y: 5}}
	}
	c, err := NewClassifiedChunk(cx, cz, testMinY, testHeight,
		make([]uint64, WordsForHeight(testHeight)), overview, special, ts)
	require.NoError(t, err)
	return c
}

func TestNewValidatesOptions(t *testing.T) {
	opts := testOptions(false)
	opts.Height = 30
	_, err := New(opts, nil, nil)
	assert.Error(t, err)

	_, err = New(testOptions(true), nil, nil)
	assert.Error(t, err, "включённый диск требует хранилища")
}

func TestRegionKeyPacking(t *testing.T) {
	assert.NotEqual(t, regionKey(1, -1), regionKey(-1, 1))
	assert.NotEqual(t, regionKey(0, -1), regionKey(-1, 0))
	assert.Equal(t, int64(-1)<<32|int64(uint32(5)), regionKey(-1, 5))
	assert.True(t, inBounds(MaxRegionCoord, -MaxRegionCoord))
	assert.False(t, inBounds(MaxRegionCoord+1, 0))
	assert.False(t, inBounds(0, -MaxRegionCoord-1))
}

func TestQueueForPackingInstallsChunk(t *testing.T) {
	w := newTestCache(t, testOptions(false), nil)
	w.Start(context.Background())

	w.QueueForPacking(stoneChunk(t, 2, -3))

	require.Eventually(t, func() bool { return w.IsCached(2*16+4, -3*16+4) }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, w.RegionLoaded(2*16, -3*16))

	pt, ok := w.Get(2*16+4, 0, -3*16+4)
	assert.True(t, ok)
	assert.Equal(t, PathingSolid, pt)

	pt, ok = w.Get(2*16+4, 1, -3*16+4)
	assert.True(t, ok)
	assert.Equal(t, PathingAir, pt)

	name, ok := w.BlockAt(2*16+4, 0, -3*16+4)
	assert.True(t, ok)
	assert.Equal(t, "stone", name)

	assert.False(t, w.IsCached(1000, 1000))
	_, ok = w.Get(1000, 0, 1000)
	assert.False(t, ok)
}

func TestQueueForPackingCoalesces(t *testing.T) {
	w := newTestCache(t, testOptions(false), nil)

	for i := 0; i < 5; i++ {
		w.QueueForPacking(stoneChunk(t, 0, 0))
	}
	w.QueueForPacking(stoneChunk(t, 1, 0))

	assert.Equal(t, 2, w.Stats().Pending)
	w.pendingMu.Lock()
	assert.Len(t, w.queue, 2)
	w.pendingMu.Unlock()
}

func TestBackpressureDropsOverCeiling(t *testing.T) {
	opts := testOptions(false)
	opts.PendingCeiling = 10
	w := newTestCache(t, opts, nil)

	// Очередь заполняется до запуска воркера
	for i := 0; i < 100; i++ {
		c, err := world.NewChunk(i, 0, testMinY, testHeight)
		require.NoError(t, err)
		w.QueueForPacking(c)
	}
	require.Equal(t, 100, w.Stats().Pending)

	w.Start(context.Background())
	require.Eventually(t, func() bool {
		s := w.Stats()
		return s.Pending == 0 && s.Packed+s.Dropped == 100
	}, 5*time.Second, 5*time.Millisecond)

	s := w.Stats()
	assert.EqualValues(t, 11, s.Packed)
	assert.EqualValues(t, 89, s.Dropped)

	// Установлены последние 11 чанков очереди
	assert.False(t, w.IsCached(0, 0))
	assert.True(t, w.IsCached(99*16, 0))
	assert.True(t, w.IsCached(89*16, 0))
	assert.False(t, w.IsCached(88*16, 0))
}

func TestQueueRejectsOutOfBoundsRegion(t *testing.T) {
	w := newTestCache(t, testOptions(false), nil)
	w.Start(context.Background())

	far := (MaxRegionCoord + 1) << 5
	w.QueueForPacking(stoneChunk(t, far, 0))
	w.QueueForPacking(stoneChunk(t, 0, 0))

	require.Eventually(t, func() bool { return w.IsCached(0, 0) }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, w.IsCached(far<<4, 0))
	assert.Equal(t, 1, w.Stats().LoadedRegions)
}

func TestSaveAndTryLoadFromDisk(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	first := newTestCache(t, testOptions(true), store)
	first.install(specialChunk(t, 3, 4, "chest", time.Now()))
	require.NoError(t, first.Save(ctx))
	assert.Equal(t, []storage.RegionKey{{Dimension: "overworld", X: 0, Z: 0}}, store.Keys())
	assert.Equal(t, 0, first.Stats().DirtyRegions)

	second := newTestCache(t, testOptions(true), store)
	assert.False(t, second.RegionLoaded(0, 0))
	assert.False(t, second.IsCached(3*16, 4*16), "IsCached не читает хранилище")

	assert.True(t, second.TryLoadFromDisk(ctx, 0, 0))
	assert.True(t, second.IsCached(3*16, 4*16))
	assert.True(t, second.TryLoadFromDisk(ctx, 0, 0), "уже загруженный регион")

	assert.False(t, second.TryLoadFromDisk(ctx, 7, 7), "регион никогда не сохранялся")
	assert.False(t, second.RegionLoaded(7*512, 7*512))
	assert.False(t, second.TryLoadFromDisk(ctx, MaxRegionCoord+1, 0))
}

func TestSaveEphemeralModeDoesNoIO(t *testing.T) {
	opts := testOptions(false)
	opts.PruneEnabled = true
	w := newTestCache(t, opts, nil)

	w.install(specialChunk(t, 0, 0, "", time.Now()))
	w.install(specialChunk(t, 200, 0, "", time.Now().Add(-time.Hour)))

	require.NoError(t, w.Save(context.Background()))
	assert.True(t, w.IsCached(0, 0))
	assert.False(t, w.RegionLoaded(200*16, 0), "дальний регион выгружен")
	assert.False(t, w.TryLoadFromDisk(context.Background(), 0, 6))
}

func TestPruneByMostRecentChunk(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	opts := testOptions(true)
	opts.PruneEnabled = true
	w := newTestCache(t, opts, store)

	now := time.Now()
	w.install(specialChunk(t, 0, 0, "", now))                          // регион (0,0), центр (256,256)
	w.install(specialChunk(t, 32, 0, "", now.Add(-time.Minute)))       // регион (1,0), центр (768,256)
	w.install(specialChunk(t, 3*32, 0, "", now.Add(-2*time.Minute)))   // регион (3,0), центр (1792,256)
	w.install(specialChunk(t, -10*32, 0, "", now.Add(-3*time.Minute))) // регион (-10,0)

	assert.Equal(t, vec.Vec2{X: 8, Z: 8}, w.ReferencePoint())
	w.Prune(ctx)

	assert.True(t, w.RegionLoaded(0, 0))
	assert.True(t, w.RegionLoaded(512, 0))
	assert.False(t, w.RegionLoaded(3*512, 0))
	assert.False(t, w.RegionLoaded(-10*512, 0))

	// Изменённый регион сохранён перед выгрузкой
	exists, err := store.Exists(ctx, storage.RegionKey{Dimension: "overworld", X: 3, Z: 0})
	require.NoError(t, err)
	assert.True(t, exists)

	// Выгруженный регион прозрачно перечитывается
	assert.True(t, w.TryLoadFromDisk(ctx, 3, 0))
	assert.True(t, w.IsCached(3*512, 0))
}

func TestPruneUsesViewerPosition(t *testing.T) {
	viewers := NewViewers()
	opts := testOptions(false)
	opts.PruneEnabled = true
	w, err := New(opts, nil, viewers)
	require.NoError(t, err)
	defer w.Close()

	w.install(specialChunk(t, 0, 0, "", time.Now()))
	w.install(specialChunk(t, 5*32, 0, "", time.Now().Add(-time.Hour)))

	other, err := New(opts, nil, viewers)
	require.NoError(t, err)
	defer other.Close()
	viewers.Add(vec.Vec3{X: 0, Y: 64, Z: 0}, other)

	id := viewers.Add(vec.Vec3{X: 5*512 + 100, Y: 64, Z: 50}, w)
	assert.Equal(t, vec.Vec2{X: 5*512 + 100, Z: 50}, w.ReferencePoint())

	w.Prune(context.Background())
	assert.False(t, w.RegionLoaded(0, 0), "ближний к наблюдателю регион остаётся, дальний выгружается")
	assert.True(t, w.RegionLoaded(5*512, 0))

	viewers.Remove(id)
	assert.Equal(t, vec.Vec2{X: 5*32*16 + 8, Z: 8}, w.ReferencePoint())
}

func TestReferencePointDefaultsToOrigin(t *testing.T) {
	w := newTestCache(t, testOptions(false), nil)
	assert.Equal(t, vec.Vec2{}, w.ReferencePoint())
}

func TestPruneDisabled(t *testing.T) {
	w := newTestCache(t, testOptions(false), nil)
	w.install(specialChunk(t, 0, 0, "", time.Now()))
	w.install(specialChunk(t, 100*32, 0, "", time.Now()))

	w.Prune(context.Background())
	assert.Equal(t, 2, w.Stats().LoadedRegions)
}

func TestGetLocationsOf(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	writer := newTestCache(t, testOptions(true), store)
	writer.install(specialChunk(t, 0, 0, "diamond_ore", time.Now()))         // регион (0,0)
	writer.install(specialChunk(t, 1, 1, "diamond_ore", time.Now()))         // регион (0,0)
	writer.install(specialChunk(t, 2*32, 0, "diamond_ore", time.Now()))      // регион (2,0)
	writer.install(specialChunk(t, -5*32, -5*32, "diamond_ore", time.Now())) // регион (-5,-5)
	require.NoError(t, writer.Save(ctx))

	w := newTestCache(t, testOptions(true), store)

	// Первое кольцо уже даёт достаточно результатов
	locs := w.GetLocationsOf(ctx, "diamond_ore", 1, 10, 10, 4)
	assert.Len(t, locs, 2)
	assert.Contains(t, locs, vec.Vec3{X: 1, Y: 5, Z: 1})
	assert.Contains(t, locs, vec.Vec3{X: 16 + 1, Y: 5, Z: 16 + 1})
	assert.False(t, w.RegionLoaded(2*512, 0), "дальние кольца не затронуты")

	locs = w.GetLocationsOf(ctx, "diamond_ore", 100, 10, 10, 4)
	assert.Len(t, locs, 3, "регион (-5,-5) за пределами радиуса")
	assert.Contains(t, locs, vec.Vec3{X: 2*512 + 1, Y: 5, Z: 1})
	assert.True(t, w.RegionLoaded(2*512, 0), "затронутые регионы загружены")

	locs = w.GetLocationsOf(ctx, "diamond_ore", 100, 10, 10, 8)
	assert.Len(t, locs, 4)

	assert.Empty(t, w.GetLocationsOf(ctx, "spawner", 10, 0, 0, 2))
	assert.Empty(t, w.GetLocationsOf(ctx, "diamond_ore", 0, 0, 0, 2))
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	w := newTestCache(t, testOptions(true), store)

	w.install(specialChunk(t, 0, 0, "", time.Now()))
	assert.False(t, w.Invalidate(0, 0), "изменённый регион не выгружается")

	require.NoError(t, w.Save(ctx))
	assert.True(t, w.Invalidate(0, 0))
	assert.False(t, w.RegionLoaded(0, 0))
	assert.False(t, w.Invalidate(0, 0))
}

type recordingInvalidator struct {
	keys chan string
}

func (r *recordingInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	r.keys <- key
	return nil
}

func (r *recordingInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	return nil
}

func (r *recordingInvalidator) Close() error { return nil }

func TestSavePublishesInvalidation(t *testing.T) {
	inv := &recordingInvalidator{keys: make(chan string, 4)}
	w := newTestCache(t, testOptions(true), storage.NewMemoryStore())
	w.SetInvalidator(inv)

	w.install(specialChunk(t, -1, 0, "", time.Now()))
	require.NoError(t, w.Save(context.Background()))
	assert.Equal(t, "overworld:-1:0", <-inv.keys)

	// Чистый регион не публикуется повторно
	require.NoError(t, w.Save(context.Background()))
	assert.Len(t, inv.keys, 0)
}

func TestAutosave(t *testing.T) {
	store := storage.NewMemoryStore()
	opts := testOptions(true)
	opts.AutosaveDelay = 10 * time.Millisecond
	opts.AutosaveInterval = 20 * time.Millisecond
	w := newTestCache(t, opts, store)
	w.Start(context.Background())

	w.QueueForPacking(stoneChunk(t, 0, 0))
	require.Eventually(t, func() bool { return len(store.Keys()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	w := newTestCache(t, testOptions(false), nil)
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	cancel()
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())

	w.QueueForPacking(stoneChunk(t, 0, 0))
	assert.Equal(t, 0, w.Stats().Pending, "после закрытия очередь не принимает задачи")
}

func TestPackRejectsForeignHeight(t *testing.T) {
	store := storage.NewMemoryStore()
	w := newTestCache(t, testOptions(true), store)
	w.Start(context.Background())

	tall, err := world.NewChunk(0, 0, testMinY, testHeight*2)
	require.NoError(t, err)
	tall.SetBlock(0, testMinY+testHeight+5, 0, block.Named("stone"))
	w.QueueForPacking(tall)
	w.QueueForPacking(stoneChunk(t, 1, 0))

	require.Eventually(t, func() bool { return w.IsCached(16, 0) }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, w.IsCached(0, 0))
	assert.EqualValues(t, 1, w.Stats().Packed)

	var overview [ColumnCount]string
	short, err := NewClassifiedChunk(2, 0, testMinY, testHeight/2,
		make([]uint64, WordsForHeight(testHeight/2)), overview, nil, time.Now())
	require.NoError(t, err)
	w.install(short)
	assert.False(t, w.IsCached(2*16, 0))

	require.NoError(t, w.Save(context.Background()))
	assert.Equal(t, []storage.RegionKey{{Dimension: "overworld", X: 0, Z: 0}}, store.Keys())
}

func TestInstallSurvivesConcurrentPrune(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	opts := testOptions(true)
	opts.PruneEnabled = true

	viewers := NewViewers()
	w, err := New(opts, store, viewers)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	// наблюдатель далеко: каждый регион кандидат на выгрузку
	viewers.Add(vec.Vec3{X: 1 << 20, Z: 1 << 20}, w)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				w.Prune(ctx)
			}
		}
	}()

	const chunks = 256
	for i := 0; i < chunks; i++ {
		w.install(specialChunk(t, i%64, i/64, "chest", time.Now()))
	}
	close(stop)
	wg.Wait()
	require.NoError(t, w.Save(ctx))

	check := newTestCache(t, testOptions(true), store)
	require.True(t, check.TryLoadFromDisk(ctx, 0, 0))
	require.True(t, check.TryLoadFromDisk(ctx, 1, 0))
	for i := 0; i < chunks; i++ {
		assert.True(t, check.IsCached((i%64)*16, (i/64)*16), "чанк (%d, %d) потерян", i%64, i/64)
	}
}

// gatedStore задерживает чтение региона до закрытия release
type gatedStore struct {
	storage.RegionStore
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Load(ctx context.Context, key storage.RegionKey) ([]byte, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.RegionStore.Load(ctx, key)
}

func TestRegionHiddenUntilLoaded(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	first := newTestCache(t, testOptions(true), store)
	first.install(specialChunk(t, 3, 4, "chest", time.Now()))
	require.NoError(t, first.Save(ctx))

	gated := &gatedStore{RegionStore: store, entered: make(chan struct{}, 1), release: make(chan struct{})}
	second := newTestCache(t, testOptions(true), gated)

	type result struct{ loaded, cached bool }
	results := make(chan result, 2)
	load := func() {
		loaded := second.TryLoadFromDisk(ctx, 0, 0)
		results <- result{loaded, second.IsCached(3*16, 4*16)}
	}
	go load()
	<-gated.entered
	go load()

	assert.False(t, second.RegionLoaded(0, 0), "регион ещё читается")
	assert.False(t, second.IsCached(3*16, 4*16))

	close(gated.release)
	for i := 0; i < 2; i++ {
		r := <-results
		assert.True(t, r.loaded)
		assert.True(t, r.cached, "после возврата TryLoadFromDisk регион прочитан")
	}
	assert.True(t, second.RegionLoaded(0, 0))
}
