package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/worldcache/internal/logging"
	"github.com/annel0/worldcache/internal/storage"
	"github.com/annel0/worldcache/internal/vec"
)

// Region: сетка 32x32 слотов классифицированных чанков, единица хранения.
// dirty == false означает, что данные в хранилище совпадают со слотами
// (с точностью до удаления устаревших чанков).
type Region struct {
	X, Z      int
	dimension string
	minY      int
	height    int
	expiry    time.Duration // отрицательное значение отключает устаревание

	mu     sync.RWMutex
	chunks regionSlots

	// ioMu сериализует Save и Load одного региона
	ioMu  sync.Mutex
	dirty atomic.Bool
	ready atomic.Bool // первичное чтение из хранилища завершено

	now func() time.Time
}

// NewRegion создаёт пустой регион
func NewRegion(dimension string, x, z, minY, height int, expiry time.Duration) *Region {
	return &Region{
		X:         x,
		Z:         z,
		dimension: dimension,
		minY:      minY,
		height:    height,
		expiry:    expiry,
		now:       time.Now,
	}
}

// Key возвращает ключ региона в хранилище
func (r *Region) Key() storage.RegionKey {
	return storage.RegionKey{Dimension: r.dimension, X: r.X, Z: r.Z}
}

// Center возвращает центр региона в блочных координатах
func (r *Region) Center() vec.Vec2 {
	return vec.Vec2{X: r.X<<9 + 256, Z: r.Z<<9 + 256}
}

// awaitReady ждёт окончания первичного чтения региона из хранилища
func (r *Region) awaitReady() {
	if r.ready.Load() {
		return
	}
	r.ioMu.Lock()
	r.ioMu.Unlock()
}

// Dirty возвращает true, если есть несохранённые изменения
func (r *Region) Dirty() bool {
	return r.dirty.Load()
}

func (r *Region) chunkAt(x, z int) *ClassifiedChunk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chunks[(x>>4)&31][(z>>4)&31]
}

// Get возвращает тип вокселя по абсолютной позиции; false если чанк не кеширован
func (r *Region) Get(x, y, z int) (PathingType, bool) {
	c := r.chunkAt(x, z)
	if c == nil {
		return PathingAir, false
	}
	return c.Get(x, y, z), true
}

// BlockAt приближённо восстанавливает блок по абсолютной позиции
func (r *Region) BlockAt(x, y, z int) (string, bool) {
	c := r.chunkAt(x, z)
	if c == nil {
		return "", false
	}
	return c.BlockAt(x, y, z), true
}

// IsCached проверяет наличие чанка, содержащего блок (x, z)
func (r *Region) IsCached(x, z int) bool {
	return r.chunkAt(x, z) != nil
}

// Chunk возвращает снимок по локальным координатам чанка в регионе
func (r *Region) Chunk(localX, localZ int) *ClassifiedChunk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chunks[localX&31][localZ&31]
}

// Update заменяет слот и помечает регион изменённым
func (r *Region) Update(localX, localZ int, c *ClassifiedChunk) {
	r.mu.Lock()
	r.chunks[localX&31][localZ&31] = c
	r.mu.Unlock()
	r.dirty.Store(true)
}

// ChunkCount возвращает количество заполненных слотов
func (r *Region) ChunkCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	eachPresent(&r.chunks, func(*ClassifiedChunk) { n++ })
	return n
}

// LocationsOf возвращает абсолютные позиции блока id во всех чанках региона
func (r *Region) LocationsOf(id string) []vec.Vec3 {
	r.mu.RLock()
	slots := r.chunks
	r.mu.RUnlock()

	var out []vec.Vec3
	eachPresent(&slots, func(c *ClassifiedChunk) {
		out = append(out, c.LocationsOf(id)...)
	})
	return out
}

// MostRecentlyModified возвращает чанк с наибольшей меткой времени
func (r *Region) MostRecentlyModified() *ClassifiedChunk {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *ClassifiedChunk
	eachPresent(&r.chunks, func(c *ClassifiedChunk) {
		if best == nil || c.timestamp > best.timestamp {
			best = c
		}
	})
	return best
}

// RemoveExpired очищает слоты старше срока устаревания. Возвращает число удалённых.
func (r *Region) RemoveExpired() int {
	if r.expiry < 0 {
		return 0
	}
	cutoff := r.now().Add(-r.expiry).UnixMilli()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	eachSlot(func(x, z int) {
		if c := r.chunks[x][z]; c != nil && c.timestamp < cutoff {
			r.chunks[x][z] = nil
			removed++
		}
	})
	return removed
}

// Save записывает регион в хранилище, если он изменён.
// Ошибка логируется с координатами региона; флаг dirty восстанавливается.
func (r *Region) Save(ctx context.Context, store storage.RegionStore) error {
	_, err := r.save(ctx, store)
	return err
}

// save возвращает true, если данные были записаны
func (r *Region) save(ctx context.Context, store storage.RegionStore) (bool, error) {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.RemoveExpired()
	if !r.dirty.Swap(false) {
		return false, nil
	}

	r.mu.RLock()
	slots := r.chunks
	r.mu.RUnlock()

	data, err := encodeRegion(&slots, r.height)
	if err == nil {
		err = store.Save(ctx, r.Key(), data)
	}
	if err != nil {
		r.dirty.Store(true)
		regionErrors.WithLabelValues(r.dimension, "save").Inc()
		logging.GetCacheLogger().Error("Регион %s (%d, %d): ошибка сохранения: %v", r.dimension, r.X, r.Z, err)
		return false, err
	}

	regionsSaved.WithLabelValues(r.dimension).Inc()
	logging.GetCacheLogger().Debug("Регион %s (%d, %d) сохранён, %d байт", r.dimension, r.X, r.Z, len(data))
	return true, nil
}

// Load читает регион из хранилища. Отсутствие данных не является ошибкой.
// Повреждённые данные логируются и не меняют содержимое региона.
// Из двух версий чанка остаётся более новая.
func (r *Region) Load(ctx context.Context, store storage.RegionStore) error {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	return r.loadLocked(ctx, store)
}

func (r *Region) loadLocked(ctx context.Context, store storage.RegionStore) error {
	data, err := store.Load(ctx, r.Key())
	if storage.IsNotFound(err) {
		return nil
	}
	if err != nil {
		regionErrors.WithLabelValues(r.dimension, "load").Inc()
		logging.GetCacheLogger().Error("Регион %s (%d, %d): ошибка чтения: %v", r.dimension, r.X, r.Z, err)
		return err
	}

	loaded, err := decodeRegion(data, r.X, r.Z, r.minY, r.height)
	if err != nil {
		regionErrors.WithLabelValues(r.dimension, "decode").Inc()
		logging.GetCacheLogger().Warn("Регион %s (%d, %d): файл повреждён, регион считается пустым: %v",
			r.dimension, r.X, r.Z, err)
		return err
	}

	r.mu.Lock()
	eachSlot(func(x, z int) {
		c := loaded[x][z]
		if c == nil {
			return
		}
		if cur := r.chunks[x][z]; cur == nil || c.timestamp > cur.timestamp {
			r.chunks[x][z] = c
		}
	})
	r.mu.Unlock()

	r.RemoveExpired()
	regionsLoaded.WithLabelValues(r.dimension).Inc()
	return nil
}
