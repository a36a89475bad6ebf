package cache

import (
	"context"
	"time"

	"github.com/annel0/worldcache/internal/logging"
	"github.com/annel0/worldcache/internal/vec"
)

// PruneDistance: расстояние от опорной точки до центра региона, после которого регион выгружается
const PruneDistance = 1024

// ReferencePoint возвращает опорную точку выгрузки: ноги наблюдателя с этим
// активным кешем, иначе центр последнего изменённого чанка, иначе начало координат.
func (w *WorldCache) ReferencePoint() vec.Vec2 {
	if w.viewers != nil {
		if feet, ok := w.viewers.FeetFor(w); ok {
			return feet.Horizontal()
		}
	}

	var best *ClassifiedChunk
	for _, r := range w.loadedRegions() {
		if c := r.MostRecentlyModified(); c != nil && (best == nil || c.timestamp > best.timestamp) {
			best = c
		}
	}
	if best != nil {
		return vec.Vec2{X: best.x<<4 + 8, Z: best.z<<4 + 8}
	}
	return vec.Vec2{}
}

// Prune выгружает из памяти регионы дальше PruneDistance от опорной точки.
// Файлы в хранилище не удаляются; изменённый регион сначала сохраняется.
func (w *WorldCache) Prune(ctx context.Context) {
	if !w.opts.PruneEnabled {
		return
	}
	ref := w.ReferencePoint()

	for _, r := range w.loadedRegions() {
		if r.Center().DistanceSq(ref) <= PruneDistance*PruneDistance {
			continue
		}

		if w.opts.Enabled && r.Dirty() {
			if err := w.saveRegion(ctx, r); err != nil {
				// несохранённый регион остаётся в памяти до следующей попытки
				continue
			}
		}

		key := regionKey(r.X, r.Z)
		w.mu.Lock()
		if w.regions[key] == r && !(w.opts.Enabled && r.Dirty()) {
			delete(w.regions, key)
			regionsEvicted.WithLabelValues(w.opts.Dimension).Inc()
			regionsResident.WithLabelValues(w.opts.Dimension).Set(float64(len(w.regions)))
			logging.GetCacheLogger().Debug("Регион %s (%d, %d) выгружен из памяти", w.opts.Dimension, r.X, r.Z)
		}
		w.mu.Unlock()
	}
}

// pruneLoop выгружает регионы по таймеру и после каждого сохранения
func (w *WorldCache) pruneLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		case <-w.pruneCh:
		}
		w.Prune(w.ctx)
	}
}
