package cache

import (
	"fmt"
	"time"

	"github.com/annel0/worldcache/internal/logging"
	"github.com/annel0/worldcache/internal/world"
	"github.com/annel0/worldcache/internal/world/block"
)

// Classifier сводит сырые данные чанка к 2-битным типам, обзору столбцов
// и индексу особых блоков. Не хранит состояния между вызовами.
type Classifier struct {
	avoid block.Set
	watch block.Set
	now   func() time.Time
}

// NewClassifier создаёт классификатор с набором опасных блоков и списком наблюдения
func NewClassifier(avoid, watch block.Set) *Classifier {
	if avoid == nil {
		avoid = block.NewSet(block.DefaultAvoid...)
	}
	if watch == nil {
		watch = block.NewSet()
	}
	return &Classifier{avoid: avoid, watch: watch, now: time.Now}
}

// sectionSnapshot: палитра и распакованные индексы секции, снятые под блокировкой чанка
type sectionSnapshot struct {
	palette []block.State
	indices []uint32 // nil для однородной секции
}

// chunkSnapshot: копия данных чанка, достаточная для классификации без блокировки
type chunkSnapshot struct {
	x, z     int
	minY     int
	height   int
	sections []sectionSnapshot
	flow     world.FlowSampler
}

func (s *chunkSnapshot) state(x, rel, z int) block.State {
	sec := &s.sections[rel>>4]
	switch {
	case len(sec.palette) == 0:
		return block.Air
	case sec.indices == nil:
		return sec.palette[0]
	}
	return sec.palette[sec.indices[world.SectionIndex(x, rel&15, z)]]
}

// sampleFlow запрашивает течение у мира вне блокировки чанка
func (s *chunkSnapshot) sampleFlow(x, y, z int) (float64, float64) {
	if s.flow == nil {
		return 0, 0
	}
	return s.flow.Flow(x, y, z)
}

// snapshot копирует палитры и индексы секций под RLock.
// Повреждённая секция обрывает снятие: она и все выше остаются воздухом.
func snapshot(c *world.Chunk) (*chunkSnapshot, error) {
	c.Mu.RLock()
	defer c.Mu.RUnlock()

	snap := &chunkSnapshot{
		x:        c.X,
		z:        c.Z,
		minY:     c.MinY,
		height:   c.Height,
		sections: make([]sectionSnapshot, c.Height>>4),
		flow:     c.Flow,
	}

	for i, sec := range c.Sections {
		if i >= len(snap.sections) {
			break
		}
		if sec == nil || sec.IsEmpty() {
			continue
		}
		palette := append([]block.State(nil), sec.Palette...)
		if sec.Uniform() {
			snap.sections[i] = sectionSnapshot{palette: palette}
			continue
		}

		indices := make([]uint32, world.SectionVolume)
		if err := sec.Indices(indices); err != nil {
			return snap, fmt.Errorf("секция %d: %w", i, err)
		}
		snap.sections[i] = sectionSnapshot{palette: palette, indices: indices}
	}
	return snap, nil
}

// Classify строит ClassifiedChunk из загруженного чанка.
// При повреждённых данных логирует ошибку с координатами чанка и возвращает
// частичный результат, накопленный до сбоя.
func (cl *Classifier) Classify(c *world.Chunk) *ClassifiedChunk {
	snap, err := snapshot(c)
	if err != nil {
		logging.GetCacheLogger().Error("Чанк (%d, %d): повреждённые данные, классификация частичная: %v",
			snap.x, snap.z, err)
	}

	bits := make([]uint64, WordsForHeight(snap.height))
	special := make(map[string][]LocalPos)
	var overview [ColumnCount]string

	baseX, baseZ := snap.x<<4, snap.z<<4
	for rel := 0; rel < snap.height; rel++ {
		sec := &snap.sections[rel>>4]
		if len(sec.palette) == 0 {
			continue
		}
		for z := 0; z < 16; z++ {
			for x := 0; x < 16; x++ {
				st := snap.state(x, rel, z)
				t := cl.pathingType(snap, st, x, rel, z, baseX, baseZ)
				if t != PathingAir {
					bit := voxelIndex(x, rel, z) << 1
					bits[bit>>6] |= uint64(t) << uint(bit&63)
				}
				if cl.watch.Contains(st.Name) {
					special[st.Name] = append(special[st.Name], LocalPos{X: uint8(x), Z: uint8(z), Y: snap.minY + rel})
				}
			}
		}
	}

	// Обзор: сверху вниз до первого не-AIR вокселя
	for z := 0; z < 16; z++ {
		for x := 0; x < 16; x++ {
			col := z<<4 | x
			overview[col] = block.AirName
			for rel := snap.height - 1; rel >= 0; rel-- {
				bit := voxelIndex(x, rel, z) << 1
				if (bits[bit>>6]>>uint(bit&63))&3 != uint64(PathingAir) {
					overview[col] = snap.state(x, rel, z).Name
					break
				}
			}
		}
	}

	cc, err := NewClassifiedChunk(snap.x, snap.z, snap.minY, snap.height, bits, overview, special, cl.now())
	if err != nil {
		// Не должно происходить: размеры берутся из того же снимка
		logging.GetCacheLogger().Error("Чанк (%d, %d): не удалось собрать снимок: %v", snap.x, snap.z, err)
		return nil
	}
	return cc
}

// pathingType классифицирует один воксель
func (cl *Classifier) pathingType(snap *chunkSnapshot, st block.State, x, rel, z, baseX, baseZ int) PathingType {
	if st.IsWater() {
		if st.PossiblyFlowing() {
			return PathingAvoid
		}
		if (x != 15 && snap.state(x+1, rel, z).PossiblyFlowing()) ||
			(x != 0 && snap.state(x-1, rel, z).PossiblyFlowing()) ||
			(z != 15 && snap.state(x, rel, z+1).PossiblyFlowing()) ||
			(z != 0 && snap.state(x, rel, z-1).PossiblyFlowing()) {
			return PathingAvoid
		}
		if x == 0 || x == 15 || z == 0 || z == 15 {
			dx, dz := snap.sampleFlow(baseX+x, snap.minY+rel, baseZ+z)
			if dx != 0 || dz != 0 {
				return PathingWater
			}
			return PathingAvoid
		}
		return PathingWater
	}

	if st.IsLava() || cl.avoid.Contains(st.Name) || st.IsBottomSlab() {
		return PathingAvoid
	}
	if st.IsAirLike() {
		return PathingAir
	}
	return PathingSolid
}
