package cache

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/worldcache/internal/logging"
	"github.com/annel0/worldcache/internal/storage"
	"github.com/annel0/worldcache/internal/vec"
	"github.com/annel0/worldcache/internal/world"
	"github.com/annel0/worldcache/internal/world/block"
	"golang.org/x/sync/errgroup"
)

// MaxRegionCoord: предельная координата региона (граница мира 30 000 000 блоков)
const MaxRegionCoord = 30_000_000 / 512

// Options настраивает WorldCache одного измерения
type Options struct {
	Dimension string
	MinY      int
	Height    int

	Enabled        bool          // писать регионы в хранилище
	PruneEnabled   bool          // выгружать дальние регионы из памяти
	Expiry         time.Duration // срок жизни чанка, отрицательное значение отключает
	PendingCeiling int           // предел очереди упаковки

	Avoid block.Set
	Watch block.Set

	AutosaveDelay    time.Duration
	AutosaveInterval time.Duration
	PruneInterval    time.Duration
}

// DefaultOptions возвращает настройки по умолчанию
func DefaultOptions(dimension string) Options {
	return Options{
		Dimension:        dimension,
		MinY:             -64,
		Height:           384,
		Enabled:          true,
		PruneEnabled:     true,
		Expiry:           -1,
		PendingCeiling:   1000,
		Avoid:            block.NewSet(block.DefaultAvoid...),
		Watch:            block.NewSet(block.DefaultWatchList...),
		AutosaveDelay:    30 * time.Second,
		AutosaveInterval: 10 * time.Minute,
		PruneInterval:    45 * time.Second,
	}
}

// Stats: сводка состояния кеша
type Stats struct {
	Dimension     string `json:"dimension"`
	LoadedRegions int    `json:"loaded_regions"`
	DirtyRegions  int    `json:"dirty_regions"`
	CachedChunks  int    `json:"cached_chunks"`
	Pending       int    `json:"pending"`
	Packed        int64  `json:"packed"`
	Dropped       int64  `json:"dropped"`
}

// WorldCache управляет регионами одного измерения: очередь упаковки,
// автосохранение, выгрузка дальних регионов и пространственные запросы.
type WorldCache struct {
	opts       Options
	store      storage.RegionStore
	classifier *Classifier
	viewers    *Viewers

	mu      sync.RWMutex
	regions map[int64]*Region

	pendingMu sync.Mutex
	pending   map[vec.Vec2]*world.Chunk
	queue     []vec.Vec2
	notify    chan struct{}

	pruneCh     chan struct{}
	invalidator atomic.Pointer[Invalidator]

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool

	packed  atomic.Int64
	dropped atomic.Int64
}

// New создаёт кеш. Фоновые воркеры запускаются методом Start.
// viewers может быть nil.
func New(opts Options, store storage.RegionStore, viewers *Viewers) (*WorldCache, error) {
	if opts.Height <= 0 || opts.Height%16 != 0 || opts.MinY%16 != 0 {
		return nil, fmt.Errorf("недопустимые границы мира: minY=%d height=%d", opts.MinY, opts.Height)
	}
	if opts.Enabled && store == nil {
		return nil, fmt.Errorf("кеш %s включён, но хранилище не задано", opts.Dimension)
	}
	defaults := DefaultOptions(opts.Dimension)
	if opts.PendingCeiling <= 0 {
		opts.PendingCeiling = defaults.PendingCeiling
	}
	if opts.AutosaveDelay < 0 {
		opts.AutosaveDelay = 0
	}
	if opts.AutosaveInterval <= 0 {
		opts.AutosaveInterval = defaults.AutosaveInterval
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = defaults.PruneInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorldCache{
		opts:       opts,
		store:      store,
		classifier: NewClassifier(opts.Avoid, opts.Watch),
		viewers:    viewers,
		regions:    make(map[int64]*Region),
		pending:    make(map[vec.Vec2]*world.Chunk),
		notify:     make(chan struct{}, 1),
		pruneCh:    make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start запускает воркеры упаковки, автосохранения и выгрузки.
// Воркеры останавливаются при отмене ctx или вызове Close.
func (w *WorldCache) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go func() {
			select {
			case <-ctx.Done():
				w.cancel()
			case <-w.ctx.Done():
			}
		}()

		w.wg.Add(3)
		go w.packLoop()
		go w.autosaveLoop()
		go w.pruneLoop()

		logging.GetCacheLogger().Info("Кеш мира %s запущен (диск: %v, выгрузка: %v)",
			w.opts.Dimension, w.opts.Enabled, w.opts.PruneEnabled)
	})
}

// Close останавливает фоновые воркеры. Повторный вызов безопасен.
// Начатые операции доводятся до конца.
func (w *WorldCache) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.cancel()
		w.wg.Wait()
		logging.GetCacheLogger().Info("Кеш мира %s остановлен", w.opts.Dimension)
	})
	return nil
}

// Dimension возвращает имя измерения
func (w *WorldCache) Dimension() string { return w.opts.Dimension }

// Options возвращает настройки кеша
func (w *WorldCache) Options() Options { return w.opts }

// regionKey упаковывает знаковые 32-битные координаты региона в один ключ
func regionKey(regionX, regionZ int) int64 {
	return int64(regionX)<<32 | int64(uint32(int32(regionZ)))
}

func inBounds(regionX, regionZ int) bool {
	return regionX >= -MaxRegionCoord && regionX <= MaxRegionCoord &&
		regionZ >= -MaxRegionCoord && regionZ <= MaxRegionCoord
}

// region возвращает загруженный регион или nil, не обращаясь к хранилищу
func (w *WorldCache) region(regionX, regionZ int) *Region {
	w.mu.RLock()
	r := w.regions[regionKey(regionX, regionZ)]
	w.mu.RUnlock()
	if r == nil || !r.ready.Load() {
		return nil
	}
	return r
}

// getOrCreateRegion возвращает регион, при необходимости создавая его и читая из хранилища.
// Для координат за границей мира возвращает nil.
func (w *WorldCache) getOrCreateRegion(ctx context.Context, regionX, regionZ int) *Region {
	if !inBounds(regionX, regionZ) {
		return nil
	}
	key := regionKey(regionX, regionZ)

	w.mu.RLock()
	r := w.regions[key]
	w.mu.RUnlock()
	if r != nil {
		r.awaitReady()
		return r
	}

	w.mu.Lock()
	if r = w.regions[key]; r != nil {
		w.mu.Unlock()
		r.awaitReady()
		return r
	}
	r = NewRegion(w.opts.Dimension, regionX, regionZ, w.opts.MinY, w.opts.Height, w.opts.Expiry)
	// ioMu захватывается до публикации региона: Save не запишет
	// пустой регион поверх файла, пока идёт чтение
	r.ioMu.Lock()
	w.regions[key] = r
	regionsResident.WithLabelValues(w.opts.Dimension).Set(float64(len(w.regions)))
	w.mu.Unlock()

	defer func() {
		r.ready.Store(true)
		r.ioMu.Unlock()
	}()
	if w.opts.Enabled {
		if err := r.loadLocked(ctx, w.store); err != nil {
			logging.GetCacheLogger().Debug("Регион %s (%d, %d) начат с пустого состояния", w.opts.Dimension, regionX, regionZ)
		}
	}
	return r
}

// QueueForPacking ставит чанк в очередь классификации. Не блокирует.
// Повторная постановка того же чанка обновляет данные, но не добавляет задачу.
func (w *WorldCache) QueueForPacking(c *world.Chunk) {
	if c == nil || w.closed.Load() {
		return
	}
	coords := c.Coords()

	w.pendingMu.Lock()
	_, exists := w.pending[coords]
	w.pending[coords] = c
	if !exists {
		w.queue = append(w.queue, coords)
	}
	size := len(w.pending)
	w.pendingMu.Unlock()

	pendingChunks.WithLabelValues(w.opts.Dimension).Set(float64(size))
	if !exists {
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

// nextTask снимает задачу с очереди. ok == false, если очередь пуста.
// drop == true, если после снятия очередь всё ещё превышает предел.
func (w *WorldCache) nextTask() (c *world.Chunk, drop, ok bool) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	for len(w.queue) > 0 {
		coords := w.queue[0]
		w.queue[0] = vec.Vec2{}
		w.queue = w.queue[1:]

		c, found := w.pending[coords]
		if !found {
			continue
		}
		delete(w.pending, coords)
		pendingChunks.WithLabelValues(w.opts.Dimension).Set(float64(len(w.pending)))
		return c, len(w.pending) > w.opts.PendingCeiling, true
	}
	w.queue = nil
	return nil, false, false
}

// packLoop: единственный потребитель очереди упаковки
func (w *WorldCache) packLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.notify:
		}

		for w.ctx.Err() == nil {
			c, drop, ok := w.nextTask()
			if !ok {
				break
			}
			if drop {
				w.dropped.Add(1)
				chunksDropped.WithLabelValues(w.opts.Dimension).Inc()
				logging.GetCacheLogger().Debug("Чанк (%d, %d) отброшен: очередь упаковки переполнена", c.X, c.Z)
				continue
			}
			w.pack(c)
		}
	}
}

// pack классифицирует чанк и устанавливает его в регион.
// Паника одного чанка логируется и не останавливает воркер.
func (w *WorldCache) pack(c *world.Chunk) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.GetCacheLogger().Error("Чанк (%d, %d): сбой классификации: %v", c.X, c.Z, rec)
		}
	}()

	if !w.fits(c.X, c.Z, c.MinY, c.Height) {
		return
	}
	cc := w.classifier.Classify(c)
	if cc == nil {
		return
	}
	w.install(cc)
}

// fits проверяет, что границы высот чанка совпадают с границами измерения кеша
func (w *WorldCache) fits(chunkX, chunkZ, minY, height int) bool {
	if minY == w.opts.MinY && height == w.opts.Height {
		return true
	}
	logging.GetCacheLogger().Error("Чанк (%d, %d) отклонён: высоты [%d, %d) вместо [%d, %d) измерения %s",
		chunkX, chunkZ, minY, minY+height, w.opts.MinY, w.opts.MinY+w.opts.Height, w.opts.Dimension)
	return false
}

// install помещает снимок в его регион. Обновление делается под w.mu,
// поэтому Prune и Invalidate не могут выгрузить регион между поиском и записью.
func (w *WorldCache) install(cc *ClassifiedChunk) {
	if !w.fits(cc.x, cc.z, cc.minY, cc.height) {
		return
	}
	rx, rz := cc.x>>5, cc.z>>5
	for {
		r := w.getOrCreateRegion(w.ctx, rx, rz)
		if r == nil {
			return
		}
		w.mu.RLock()
		resident := w.regions[regionKey(rx, rz)] == r
		if resident {
			r.Update(cc.x&31, cc.z&31, cc)
		}
		w.mu.RUnlock()
		if resident {
			break
		}
	}
	w.packed.Add(1)
	chunksPacked.WithLabelValues(w.opts.Dimension).Inc()
}

// Get возвращает тип вокселя по абсолютной позиции. Не читает хранилище.
func (w *WorldCache) Get(x, y, z int) (PathingType, bool) {
	r := w.region(x>>9, z>>9)
	if r == nil {
		return PathingAir, false
	}
	return r.Get(x, y, z)
}

// BlockAt приближённо восстанавливает блок по абсолютной позиции. Не читает хранилище.
func (w *WorldCache) BlockAt(x, y, z int) (string, bool) {
	r := w.region(x>>9, z>>9)
	if r == nil {
		return "", false
	}
	return r.BlockAt(x, y, z)
}

// IsCached проверяет, кеширован ли чанк, содержащий блок (x, z). Не читает хранилище.
func (w *WorldCache) IsCached(x, z int) bool {
	r := w.region(x>>9, z>>9)
	return r != nil && r.IsCached(x, z)
}

// RegionLoaded проверяет, загружен ли регион, содержащий блок (x, z)
func (w *WorldCache) RegionLoaded(x, z int) bool {
	return w.region(x>>9, z>>9) != nil
}

// TryLoadFromDisk загружает регион из хранилища.
// true, если регион уже в памяти или был прочитан; false, если он никогда не сохранялся.
func (w *WorldCache) TryLoadFromDisk(ctx context.Context, regionX, regionZ int) bool {
	if w.region(regionX, regionZ) != nil {
		return true
	}
	if !w.opts.Enabled || !inBounds(regionX, regionZ) {
		return false
	}

	exists, err := w.store.Exists(ctx, storage.RegionKey{Dimension: w.opts.Dimension, X: regionX, Z: regionZ})
	if err != nil {
		logging.GetCacheLogger().Warn("Регион %s (%d, %d): ошибка проверки наличия: %v", w.opts.Dimension, regionX, regionZ, err)
		return false
	}
	if !exists {
		return false
	}
	return w.getOrCreateRegion(ctx, regionX, regionZ) != nil
}

// Invalidate выгружает регион без изменений, чтобы он перечитался из общего хранилища.
// Изменённый регион не трогается.
func (w *WorldCache) Invalidate(regionX, regionZ int) bool {
	key := regionKey(regionX, regionZ)

	w.mu.Lock()
	defer w.mu.Unlock()

	r := w.regions[key]
	if r == nil || r.Dirty() {
		return false
	}
	delete(w.regions, key)
	regionsEvicted.WithLabelValues(w.opts.Dimension).Inc()
	regionsResident.WithLabelValues(w.opts.Dimension).Set(float64(len(w.regions)))
	return true
}

// loadedRegions возвращает снимок списка загруженных регионов
func (w *WorldCache) loadedRegions() []*Region {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]*Region, 0, len(w.regions))
	for _, r := range w.regions {
		out = append(out, r)
	}
	return out
}

// Save сохраняет все загруженные регионы параллельно, затем выгружает дальние.
// С выключенным диском только удаляет устаревшие чанки и выгружает регионы.
func (w *WorldCache) Save(ctx context.Context) error {
	regions := w.loadedRegions()

	if !w.opts.Enabled {
		for _, r := range regions {
			r.RemoveExpired()
		}
		w.Prune(ctx)
		return nil
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, r := range regions {
		r := r
		g.Go(func() error {
			return w.saveRegion(ctx, r)
		})
	}
	err := g.Wait()

	w.Prune(ctx)
	select {
	case w.pruneCh <- struct{}{}:
	default:
	}

	if err != nil {
		return fmt.Errorf("сохранение кеша %s: %w", w.opts.Dimension, err)
	}
	return nil
}

// SetInvalidator задаёт рассылку уведомлений о сохранённых регионах (nil отключает)
func (w *WorldCache) SetInvalidator(inv Invalidator) {
	if inv == nil {
		w.invalidator.Store(nil)
		return
	}
	w.invalidator.Store(&inv)
}

// saveRegion сохраняет регион и уведомляет другие узлы, если данные были записаны
func (w *WorldCache) saveRegion(ctx context.Context, r *Region) error {
	written, err := r.save(ctx, w.store)
	if err != nil || !written {
		return err
	}

	if inv := w.invalidator.Load(); inv != nil {
		if err := (*inv).PublishInvalidation(ctx, r.Key().String()); err != nil {
			logging.GetCacheLogger().Warn("Регион %s (%d, %d): уведомление не отправлено: %v", w.opts.Dimension, r.X, r.Z, err)
		}
	}
	return nil
}

// Stats возвращает сводку состояния
func (w *WorldCache) Stats() Stats {
	regions := w.loadedRegions()

	w.pendingMu.Lock()
	pending := len(w.pending)
	w.pendingMu.Unlock()

	s := Stats{
		Dimension:     w.opts.Dimension,
		LoadedRegions: len(regions),
		Pending:       pending,
		Packed:        w.packed.Load(),
		Dropped:       w.dropped.Load(),
	}
	for _, r := range regions {
		s.CachedChunks += r.ChunkCount()
		if r.Dirty() {
			s.DirtyRegions++
		}
	}
	return s
}

// autosaveLoop сохраняет кеш после начальной задержки и далее с фиксированным интервалом
func (w *WorldCache) autosaveLoop() {
	defer w.wg.Done()

	delay := time.NewTimer(w.opts.AutosaveDelay)
	defer delay.Stop()

	select {
	case <-w.ctx.Done():
		return
	case <-delay.C:
	}

	ticker := time.NewTicker(w.opts.AutosaveInterval)
	defer ticker.Stop()

	for {
		if err := w.Save(w.ctx); err != nil {
			logging.GetCacheLogger().Warn("Автосохранение %s: %v", w.opts.Dimension, err)
		}

		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
