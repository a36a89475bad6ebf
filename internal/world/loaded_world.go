package world

import (
	"sync"

	"github.com/annel0/worldcache/internal/vec"
	"github.com/annel0/worldcache/internal/world/block"
)

// LoadedWorld: набор резидентных (загруженных) чанков одного измерения.
// Поиск никогда не загружает и не генерирует чанк.
type LoadedWorld struct {
	mu     sync.RWMutex
	chunks map[vec.Vec2]*Chunk
	minY   int
	height int
}

// NewLoadedWorld создаёт пустой набор резидентных чанков
func NewLoadedWorld(minY, height int) *LoadedWorld {
	return &LoadedWorld{
		chunks: make(map[vec.Vec2]*Chunk),
		minY:   minY,
		height: height,
	}
}

// MinY возвращает минимальную высоту мира
func (w *LoadedWorld) MinY() int { return w.minY }

// Height возвращает высоту мира
func (w *LoadedWorld) Height() int { return w.height }

// Put делает чанк резидентным. Сэмплер течения чанка указывает на этот мир.
func (w *LoadedWorld) Put(c *Chunk) {
	c.Mu.Lock()
	c.Flow = w
	c.Mu.Unlock()

	w.mu.Lock()
	w.chunks[c.Coords()] = c
	w.mu.Unlock()
}

// Unload выгружает чанк
func (w *LoadedWorld) Unload(coords vec.Vec2) {
	w.mu.Lock()
	delete(w.chunks, coords)
	w.mu.Unlock()
}

// LoadedChunk возвращает резидентный чанк или false
func (w *LoadedWorld) LoadedChunk(chunkX, chunkZ int) (*Chunk, bool) {
	w.mu.RLock()
	c, ok := w.chunks[vec.Vec2{X: chunkX, Z: chunkZ}]
	w.mu.RUnlock()
	return c, ok
}

// Len возвращает количество резидентных чанков
func (w *LoadedWorld) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.chunks)
}

// BlockAt возвращает состояние по абсолютной позиции (воздух для незагруженных чанков)
func (w *LoadedWorld) BlockAt(x, y, z int) (block.State, bool) {
	c, ok := w.LoadedChunk(x>>4, z>>4)
	if !ok {
		return block.Air, false
	}
	return c.Block(x&15, y, z&15), true
}

// Flow упрощённо считает течение: жидкость течёт к соседям с меньшим уровнем
// той же жидкости или к проходимым пустым клеткам. Незагруженные соседи пропускаются.
func (w *LoadedWorld) Flow(x, y, z int) (float64, float64) {
	self, ok := w.BlockAt(x, y, z)
	if !ok || self.Fluid == block.FluidNone {
		return 0, 0
	}

	var fx, fz float64
	for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
		n, ok := w.BlockAt(x+d[0], y, z+d[1])
		if !ok {
			continue
		}

		var diff float64
		switch {
		case n.Fluid == self.Fluid:
			diff = float64(int(self.FluidAmount) - int(n.FluidAmount))
		case n.IsAirLike():
			diff = float64(self.FluidAmount)
		default:
			continue
		}
		// полная ячейка рядом с полной не течёт
		if diff <= 0 || (self.FluidAmount == block.FullFluidAmount && n.FluidAmount == block.FullFluidAmount) {
			continue
		}
		fx += float64(d[0]) * diff
		fz += float64(d[1]) * diff
	}
	return fx, fz
}
