package world

import (
	"fmt"
	"sync"

	"github.com/annel0/worldcache/internal/vec"
	"github.com/annel0/worldcache/internal/world/block"
)

// FlowSampler возвращает горизонтальный вектор течения жидкости в абсолютной позиции
type FlowSampler interface {
	Flow(x, y, z int) (dx, dz float64)
}

// Chunk хранит загруженный чанк живого мира, вертикальный столбец секций 16x16xHeight.
// Принадлежит поставщику мира; кеш только читает его под Mu.RLock.
type Chunk struct {
	X, Z     int        // Координаты чанка
	MinY     int        // Минимальная высота мира
	Height   int        // Высота мира (кратна 16)
	Sections []*Section // Секции снизу вверх
	Flow     FlowSampler

	Mu sync.RWMutex // Мьютекс для безопасного доступа
}

// NewChunk создаёт чанк, заполненный воздухом
func NewChunk(x, z, minY, height int) (*Chunk, error) {
	if height <= 0 || height%16 != 0 {
		return nil, fmt.Errorf("высота мира %d должна быть положительной и кратной 16", height)
	}
	if minY%16 != 0 {
		return nil, fmt.Errorf("минимальная высота %d должна быть кратна 16", minY)
	}

	sections := make([]*Section, height/16)
	for i := range sections {
		sections[i] = NewSection()
	}

	return &Chunk{
		X:        x,
		Z:        z,
		MinY:     minY,
		Height:   height,
		Sections: sections,
	}, nil
}

// Coords возвращает координаты чанка
func (c *Chunk) Coords() vec.Vec2 {
	return vec.Vec2{X: c.X, Z: c.Z}
}

// MaxY возвращает верхнюю границу мира (не включительно)
func (c *Chunk) MaxY() int {
	return c.MinY + c.Height
}

// Block возвращает состояние по локальным x,z и абсолютной y
func (c *Chunk) Block(x, y, z int) block.State {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.blockLocked(x, y, z)
}

func (c *Chunk) blockLocked(x, y, z int) block.State {
	if y < c.MinY || y >= c.MaxY() {
		return block.Air
	}
	rel := y - c.MinY
	sec := c.Sections[rel>>4]
	if sec == nil {
		return block.Air
	}
	return sec.Get(x, rel&15, z)
}

// SetBlock устанавливает состояние по локальным x,z и абсолютной y
func (c *Chunk) SetBlock(x, y, z int, s block.State) {
	if y < c.MinY || y >= c.MaxY() {
		return
	}

	c.Mu.Lock()
	defer c.Mu.Unlock()

	rel := y - c.MinY
	sec := c.Sections[rel>>4]
	if sec == nil {
		sec = NewSection()
		c.Sections[rel>>4] = sec
	}
	sec.Set(x, rel&15, z, s)
}

// IsEmpty возвращает true, если все секции состоят только из воздуха
func (c *Chunk) IsEmpty() bool {
	c.Mu.RLock()
	defer c.Mu.RUnlock()

	for _, sec := range c.Sections {
		if sec != nil && !sec.IsEmpty() {
			return false
		}
	}
	return true
}
