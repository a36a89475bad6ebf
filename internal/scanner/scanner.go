// Package scanner ищет блоки в резидентных чанках живого мира,
// не обращаясь к кешу и не загружая чанки.
package scanner

import (
	"sort"

	"github.com/annel0/worldcache/internal/logging"
	"github.com/annel0/worldcache/internal/vec"
	"github.com/annel0/worldcache/internal/world"
	"github.com/annel0/worldcache/internal/world/block"
)

// Filter решает, подходит ли состояние блока
type Filter func(block.State) bool

// ByName возвращает фильтр по набору идентификаторов блоков
func ByName(names ...string) Filter {
	set := block.NewSet(names...)
	return func(s block.State) bool {
		return set.Contains(s.Name)
	}
}

// ChunkSource отдаёт резидентные чанки. Поиск не должен вызывать загрузку.
type ChunkSource interface {
	LoadedChunk(chunkX, chunkZ int) (*world.Chunk, bool)
}

// Packer принимает чанки в очередь классификации кеша
type Packer interface {
	QueueForPacking(c *world.Chunk)
}

// Scanner: поиск по палитрам секций резидентных чанков
type Scanner struct {
	source ChunkSource
}

// New создаёт сканер поверх источника резидентных чанков
func New(source ChunkSource) *Scanner {
	return &Scanner{source: source}
}

// ChunkRange возвращает координаты чанков квадрата радиуса radius вокруг (chunkX, chunkZ):
// кольцами по расстоянию Чебышёва, внутри кольца по квадрату евклидова расстояния, затем по x и z.
// Длина результата (2r+1)².
func ChunkRange(chunkX, chunkZ, radius int) []vec.Vec2 {
	if radius < 0 {
		return nil
	}
	out := make([]vec.Vec2, 0, (2*radius+1)*(2*radius+1))
	out = append(out, vec.Vec2{X: chunkX, Z: chunkZ})

	for r := 1; r <= radius; r++ {
		ring := make([]vec.Vec2, 0, 8*r)
		for dx := -r; dx <= r; dx++ {
			for dz := -r; dz <= r; dz++ {
				if abs(dx) != r && abs(dz) != r {
					continue
				}
				ring = append(ring, vec.Vec2{X: dx, Z: dz})
			}
		}
		sort.Slice(ring, func(i, j int) bool {
			di := ring[i].X*ring[i].X + ring[i].Z*ring[i].Z
			dj := ring[j].X*ring[j].X + ring[j].Z*ring[j].Z
			if di != dj {
				return di < dj
			}
			if ring[i].X != ring[j].X {
				return ring[i].X < ring[j].X
			}
			return ring[i].Z < ring[j].Z
		})
		for _, off := range ring {
			out = append(out, vec.Vec2{X: chunkX + off.X, Z: chunkZ + off.Z})
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Scan ищет подходящие блоки в резидентных чанках вокруг origin, от ближних чанков к дальним.
// Незагруженные чанки пропускаются. Возвращает не больше maxResults позиций.
func (s *Scanner) Scan(filter Filter, origin vec.Vec3, radius, maxResults int) []vec.Vec3 {
	if maxResults <= 0 {
		return nil
	}
	center := origin.ChunkCoords()

	var res []vec.Vec3
	for _, pos := range ChunkRange(center.X, center.Z, radius) {
		c, ok := s.source.LoadedChunk(pos.X, pos.Z)
		if !ok {
			continue
		}
		res = scanChunk(c, filter, res, maxResults)
		if len(res) >= maxResults {
			break
		}
	}
	return res
}

// ScanChunk ищет подходящие блоки в одном резидентном чанке
func (s *Scanner) ScanChunk(filter Filter, chunkX, chunkZ, maxResults int) []vec.Vec3 {
	c, ok := s.source.LoadedChunk(chunkX, chunkZ)
	if !ok || maxResults <= 0 {
		return nil
	}
	return scanChunk(c, filter, nil, maxResults)
}

// scanChunk проверяет палитру каждой секции до распаковки индексов:
// секция без подходящих элементов пропускается целиком,
// однородная секция решается одной проверкой.
func scanChunk(c *world.Chunk, filter Filter, res []vec.Vec3, maxResults int) []vec.Vec3 {
	c.Mu.RLock()
	defer c.Mu.RUnlock()

	baseX, baseZ := c.X<<4, c.Z<<4
	var admit []bool
	var indices []uint32

	for i, sec := range c.Sections {
		if sec == nil || len(sec.Palette) == 0 {
			continue
		}
		baseY := c.MinY + i<<4

		if cap(admit) < len(sec.Palette) {
			admit = make([]bool, len(sec.Palette))
		}
		admit = admit[:len(sec.Palette)]
		admitted := false
		for j, st := range sec.Palette {
			admit[j] = filter(st)
			admitted = admitted || admit[j]
		}
		if !admitted {
			continue
		}

		if sec.Uniform() {
			for idx := 0; idx < world.SectionVolume; idx++ {
				res = append(res, position(baseX, baseY, baseZ, idx))
				if len(res) >= maxResults {
					return res
				}
			}
			continue
		}

		if indices == nil {
			indices = make([]uint32, world.SectionVolume)
		}
		if err := sec.Indices(indices); err != nil {
			logging.GetScannerLogger().Warn("Чанк (%d, %d), секция %d: %v", c.X, c.Z, i, err)
			continue
		}
		for idx, p := range indices {
			if !admit[p] {
				continue
			}
			res = append(res, position(baseX, baseY, baseZ, idx))
			if len(res) >= maxResults {
				return res
			}
		}
	}
	return res
}

// position переводит индекс секции (y<<8|z<<4|x) в абсолютную позицию
func position(baseX, baseY, baseZ, idx int) vec.Vec3 {
	return vec.Vec3{
		X: baseX + idx&15,
		Y: baseY + idx>>8,
		Z: baseZ + (idx>>4)&15,
	}
}

// Repack ставит в очередь кеша все резидентные непустые чанки в радиусе radius чанков.
// Возвращает количество поставленных чанков.
func (s *Scanner) Repack(packer Packer, center vec.Vec3, radius int) int {
	cc := center.ChunkCoords()
	queued := 0
	for _, pos := range ChunkRange(cc.X, cc.Z, radius) {
		c, ok := s.source.LoadedChunk(pos.X, pos.Z)
		if !ok || c.IsEmpty() {
			continue
		}
		packer.QueueForPacking(c)
		queued++
	}
	logging.GetScannerLogger().Debug("Перепаковка вокруг (%d, %d): %d чанков", cc.X, cc.Z, queued)
	return queued
}
