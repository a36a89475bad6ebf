package cache

import (
	"testing"
	"time"

	"github.com/annel0/worldcache/internal/world"
	"github.com/annel0/worldcache/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constFlow struct{ dx, dz float64 }

func (f constFlow) Flow(x, y, z int) (float64, float64) { return f.dx, f.dz }

func newTestChunk(t *testing.T, cx, cz int) *world.Chunk {
	t.Helper()
	c, err := world.NewChunk(cx, cz, 0, 32)
	require.NoError(t, err)
	return c
}

func newTestClassifier() *Classifier {
	cl := NewClassifier(block.NewSet(block.DefaultAvoid...), block.NewSet("diamond_ore", "chest"))
	fixed := time.UnixMilli(1_700_000_000_000)
	cl.now = func() time.Time { return fixed }
	return cl
}

func TestClassifySolidAndAir(t *testing.T) {
	c := newTestChunk(t, 3, -2)
	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			c.SetBlock(x, 0, z, block.Named("stone"))
		}
	}
	c.SetBlock(4, 1, 4, block.Named("grass_block"))
	c.SetBlock(4, 2, 4, block.Named("short_grass"))

	cc := newTestClassifier().Classify(c)
	require.NotNil(t, cc)

	assert.Equal(t, PathingSolid, cc.Get(0, 0, 0))
	assert.Equal(t, PathingAir, cc.Get(0, 1, 0))
	assert.Equal(t, PathingSolid, cc.Get(4, 1, 4))
	assert.Equal(t, PathingAir, cc.Get(4, 2, 4), "высокая трава проходима")

	// Обзор пропускает проходимые блоки
	assert.Equal(t, "grass_block", cc.Overview(4, 4))
	assert.Equal(t, "stone", cc.Overview(0, 0))
	assert.Equal(t, 1, cc.HeightAt(4, 4))
	assert.Equal(t, 0, cc.HeightAt(0, 0))
	assert.Equal(t, 3, cc.X())
	assert.Equal(t, -2, cc.Z())
}

func TestClassifyEmptyColumnOverview(t *testing.T) {
	cc := newTestClassifier().Classify(newTestChunk(t, 0, 0))
	require.NotNil(t, cc)

	assert.Equal(t, "air", cc.Overview(7, 9))
	assert.Equal(t, -1, cc.HeightAt(7, 9))
	assert.Equal(t, "air", cc.BlockAt(7, 5, 9))
}

func TestClassifyAvoidBlocks(t *testing.T) {
	c := newTestChunk(t, 0, 0)
	c.SetBlock(1, 0, 1, block.Lava(block.FullFluidAmount))
	c.SetBlock(2, 0, 2, block.Named("cactus"))
	c.SetBlock(3, 0, 3, block.State{Name: "oak_slab", Slab: block.SlabBottom})
	c.SetBlock(4, 0, 4, block.State{Name: "oak_slab", Slab: block.SlabTop})
	c.SetBlock(5, 0, 5, block.Named("poppy"))
	c.SetBlock(6, 0, 6, block.Named("minecraft:Magma_Block"))

	cc := newTestClassifier().Classify(c)
	require.NotNil(t, cc)

	assert.Equal(t, PathingAvoid, cc.Get(1, 0, 1), "лава")
	assert.Equal(t, PathingAvoid, cc.Get(2, 0, 2), "кактус")
	assert.Equal(t, PathingAvoid, cc.Get(3, 0, 3), "нижняя плита")
	assert.Equal(t, PathingSolid, cc.Get(4, 0, 4), "верхняя плита")
	assert.Equal(t, PathingAir, cc.Get(5, 0, 5), "цветок")
	assert.Equal(t, PathingAvoid, cc.Get(6, 0, 6), "имя нормализуется")
}

func TestClassifyWater(t *testing.T) {
	c := newTestChunk(t, 0, 0)
	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			c.SetBlock(x, 5, z, block.Water(block.FullFluidAmount))
		}
	}
	// Течение в (8,5,8) делает соседей опасными
	c.SetBlock(8, 5, 8, block.Water(5))

	t.Run("без сэмплера", func(t *testing.T) {
		cc := newTestClassifier().Classify(c)
		require.NotNil(t, cc)

		assert.Equal(t, PathingWater, cc.Get(3, 5, 3), "стоячая вода внутри чанка")
		assert.Equal(t, PathingAvoid, cc.Get(8, 5, 8), "текущая вода")
		assert.Equal(t, PathingAvoid, cc.Get(9, 5, 8), "сосед текущей воды")
		assert.Equal(t, PathingAvoid, cc.Get(8, 5, 7), "сосед текущей воды")
		assert.Equal(t, PathingWater, cc.Get(9, 5, 9), "диагональ не учитывается")
		assert.Equal(t, PathingAvoid, cc.Get(0, 5, 3), "край чанка без течения")
		assert.Equal(t, PathingAvoid, cc.Get(15, 5, 15), "угол чанка без течения")
		assert.Equal(t, "water", cc.Overview(3, 3))
	})

	t.Run("течение на краю", func(t *testing.T) {
		c.Mu.Lock()
		c.Flow = constFlow{dx: 1}
		c.Mu.Unlock()

		cc := newTestClassifier().Classify(c)
		require.NotNil(t, cc)

		assert.Equal(t, PathingWater, cc.Get(0, 5, 3))
		assert.Equal(t, PathingWater, cc.Get(7, 5, 15))
		assert.Equal(t, PathingAvoid, cc.Get(8, 5, 8))
	})
}

func TestClassifySpecialBlocks(t *testing.T) {
	c := newTestChunk(t, 2, 1)
	c.SetBlock(1, 3, 2, block.Named("diamond_ore"))
	c.SetBlock(5, 20, 6, block.Named("diamond_ore"))
	c.SetBlock(0, 0, 0, block.Named("chest"))
	c.SetBlock(9, 9, 9, block.Named("iron_ore"))

	cc := newTestClassifier().Classify(c)
	require.NotNil(t, cc)

	assert.Equal(t, []string{"chest", "diamond_ore"}, cc.SpecialBlocks())
	locs := cc.LocationsOf("diamond_ore")
	require.Len(t, locs, 2)
	assert.Equal(t, 2*16+1, locs[0].X)
	assert.Equal(t, 3, locs[0].Y)
	assert.Equal(t, 1*16+2, locs[0].Z)
	assert.Equal(t, 20, locs[1].Y)
	assert.Empty(t, cc.LocationsOf("iron_ore"))

	// Особый блок внутри камня восстанавливается по индексу
	assert.Equal(t, "diamond_ore", cc.BlockAt(2*16+5, 20, 16+6))
}

func TestClassifyDeterministic(t *testing.T) {
	gen := world.NewWorldGenerator(1234, 0, 64)
	c, err := gen.GenerateChunk(5, -7)
	require.NoError(t, err)

	cl := NewClassifier(nil, block.NewSet(block.DefaultWatchList...))
	a := cl.Classify(c)
	time.Sleep(2 * time.Millisecond)
	b := cl.Classify(c)

	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.True(t, a.EqualContent(b))
}

func TestClassifyCorruptSectionReturnsPartial(t *testing.T) {
	c := newTestChunk(t, 0, 0)
	c.SetBlock(0, 0, 0, block.Named("stone"))

	data, err := world.NewBitStorage(4, world.SectionVolume, nil)
	require.NoError(t, err)
	data.Set(0, 9) // индекс за пределами палитры из двух элементов
	c.Sections[1] = &world.Section{
		Palette: []block.State{block.Air, block.Named("stone")},
		Data:    data,
	}

	cc := newTestClassifier().Classify(c)
	require.NotNil(t, cc)
	assert.Equal(t, PathingSolid, cc.Get(0, 0, 0), "нижняя секция классифицирована")
	assert.Equal(t, PathingAir, cc.Get(1, 16, 0), "повреждённая секция пропущена")
}
