package cache

import (
	"fmt"
	"sort"
	"time"

	"github.com/annel0/worldcache/internal/vec"
)

// ColumnCount: количество столбцов (x,z) в чанке
const ColumnCount = 16 * 16

// LocalPos задаёт позицию внутри чанка (локальные x,z и абсолютная y)
type LocalPos struct {
	X, Z uint8
	Y    int
}

// ClassifiedChunk: неизменяемый снимок классифицированного чанка.
// Содержит 2-битный тип каждого вокселя, обзор столбцов, индекс особых блоков
// и время создания. После создания не изменяется; обновление заменяет чанк целиком.
type ClassifiedChunk struct {
	x, z      int
	minY      int
	height    int
	bits      []uint64
	overview  [ColumnCount]string
	special   map[string][]LocalPos
	timestamp int64 // Unix миллисекунды

	heightMap [ColumnCount]int // верхний не-AIR y столбца, minY-1 если столбец пуст
	specialAt map[int]string   // индекс вокселя -> идентификатор особого блока
}

// WordsForHeight возвращает количество uint64 в битсете чанка высоты height
func WordsForHeight(height int) int {
	return 2 * ColumnCount * height / 64
}

// voxelIndex возвращает номер вокселя (без множителя 2) по локальным x,z и относительной y
func voxelIndex(x, rel, z int) int {
	return rel<<8 | z<<4 | x
}

// NewClassifiedChunk собирает снимок. Срезы и карта принадлежат чанку после вызова.
func NewClassifiedChunk(x, z, minY, height int, bits []uint64, overview [ColumnCount]string,
	special map[string][]LocalPos, timestamp time.Time) (*ClassifiedChunk, error) {
	if height <= 0 || height%16 != 0 {
		return nil, fmt.Errorf("недопустимая высота %d", height)
	}
	if len(bits) != WordsForHeight(height) {
		return nil, fmt.Errorf("битсет из %d слов, ожидалось %d", len(bits), WordsForHeight(height))
	}
	if special == nil {
		special = make(map[string][]LocalPos)
	}

	c := &ClassifiedChunk{
		x:         x,
		z:         z,
		minY:      minY,
		height:    height,
		bits:      bits,
		overview:  overview,
		special:   special,
		timestamp: timestamp.UnixMilli(),
		specialAt: make(map[int]string),
	}

	// Списки приводятся к порядку y,z,x без повторов. Позиция, указанная
	// у нескольких блоков, достаётся первому по алфавиту.
	names := make([]string, 0, len(special))
	for name := range special {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		positions := special[name]
		voxels := make([]int, 0, len(positions))
		for _, p := range positions {
			rel := p.Y - minY
			if p.X > 15 || p.Z > 15 || rel < 0 || rel >= height {
				return nil, fmt.Errorf("позиция %v блока %s вне чанка", p, name)
			}
			v := voxelIndex(int(p.X), rel, int(p.Z))
			if _, taken := c.specialAt[v]; taken {
				continue
			}
			c.specialAt[v] = name
			voxels = append(voxels, v)
		}
		if len(voxels) == 0 {
			delete(special, name)
			continue
		}

		sort.Ints(voxels)
		positions = positions[:0]
		for _, v := range voxels {
			positions = append(positions, LocalPos{X: uint8(v & 15), Z: uint8(v >> 4 & 15), Y: minY + v>>8})
		}
		special[name] = positions
	}

	c.computeHeightMap()
	return c, nil
}

func (c *ClassifiedChunk) computeHeightMap() {
	for col := 0; col < ColumnCount; col++ {
		c.heightMap[col] = c.minY - 1
		x, z := col&15, col>>4
		for rel := c.height - 1; rel >= 0; rel-- {
			if c.typeAt(voxelIndex(x, rel, z)) != PathingAir {
				c.heightMap[col] = c.minY + rel
				break
			}
		}
	}
}

func (c *ClassifiedChunk) typeAt(voxel int) PathingType {
	bit := voxel << 1
	return PathingType((c.bits[bit>>6] >> uint(bit&63)) & 3)
}

// X возвращает координату чанка по X
func (c *ClassifiedChunk) X() int { return c.x }

// Z возвращает координату чанка по Z
func (c *ClassifiedChunk) Z() int { return c.z }

// Coords возвращает координаты чанка
func (c *ClassifiedChunk) Coords() vec.Vec2 { return vec.Vec2{X: c.x, Z: c.z} }

// MinY возвращает минимальную высоту
func (c *ClassifiedChunk) MinY() int { return c.minY }

// Height возвращает высоту
func (c *ClassifiedChunk) Height() int { return c.height }

// Timestamp возвращает время создания снимка
func (c *ClassifiedChunk) Timestamp() time.Time { return time.UnixMilli(c.timestamp) }

// Get возвращает тип вокселя по локальным x,z и абсолютной y.
// Вне диапазона высот возвращает AIR.
func (c *ClassifiedChunk) Get(x, y, z int) PathingType {
	rel := y - c.minY
	if rel < 0 || rel >= c.height {
		return PathingAir
	}
	return c.typeAt(voxelIndex(x&15, rel, z&15))
}

// Overview возвращает идентификатор верхнего непустого блока столбца
func (c *ClassifiedChunk) Overview(x, z int) string {
	return c.overview[(z&15)<<4|(x&15)]
}

// HeightAt возвращает верхнюю не-AIR высоту столбца (minY-1 для пустого столбца)
func (c *ClassifiedChunk) HeightAt(x, z int) int {
	return c.heightMap[(z&15)<<4|(x&15)]
}

// BlockAt приближённо восстанавливает идентификатор блока.
// Верх столбца берётся из обзора, особые блоки из индекса, остальное по типу.
func (c *ClassifiedChunk) BlockAt(x, y, z int) string {
	rel := y - c.minY
	if rel < 0 || rel >= c.height {
		return "air"
	}
	x, z = x&15, z&15
	voxel := voxelIndex(x, rel, z)
	t := c.typeAt(voxel)

	col := z<<4 | x
	if c.heightMap[col] == y && t != PathingAvoid {
		return c.overview[col]
	}
	if name, ok := c.specialAt[voxel]; ok {
		return name
	}
	return t.blockName()
}

// SpecialBlocks возвращает отсортированный список индексированных идентификаторов
func (c *ClassifiedChunk) SpecialBlocks() []string {
	names := make([]string, 0, len(c.special))
	for name := range c.special {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LocationsOf возвращает абсолютные позиции блоков id в этом чанке
func (c *ClassifiedChunk) LocationsOf(id string) []vec.Vec3 {
	positions := c.special[id]
	if len(positions) == 0 {
		return nil
	}
	out := make([]vec.Vec3, len(positions))
	for i, p := range positions {
		out[i] = vec.Vec3{X: c.x<<4 + int(p.X), Y: p.Y, Z: c.z<<4 + int(p.Z)}
	}
	return out
}

// Bits возвращает копию битсета
func (c *ClassifiedChunk) Bits() []uint64 {
	return append([]uint64(nil), c.bits...)
}

// Equal сравнивает содержимое двух снимков, включая время
func (c *ClassifiedChunk) Equal(o *ClassifiedChunk) bool {
	return c.EqualContent(o) && c.timestamp == o.timestamp
}

// EqualContent сравнивает содержимое без учёта времени
func (c *ClassifiedChunk) EqualContent(o *ClassifiedChunk) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.x != o.x || c.z != o.z || c.minY != o.minY || c.height != o.height {
		return false
	}
	if len(c.bits) != len(o.bits) || c.overview != o.overview || len(c.special) != len(o.special) {
		return false
	}
	for i := range c.bits {
		if c.bits[i] != o.bits[i] {
			return false
		}
	}
	for name, a := range c.special {
		b, ok := o.special[name]
		if !ok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}
