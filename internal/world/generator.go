package world

import (
	"math/rand"

	"github.com/annel0/worldcache/internal/util"
	"github.com/annel0/worldcache/internal/world/block"
)

// BiomeType представляет тип биома
type BiomeType int

const (
	BiomePlains BiomeType = iota
	BiomeDesert
	BiomeForest
	BiomeMountains
	BiomeWater
)

// WorldGenerator генерирует синтетический ландшафт для демо и интеграционных тестов
type WorldGenerator struct {
	Seed       int64   // Сид для генерации шума
	NoiseScale float64 // Масштаб основного шума (высота)
	BiomeScale float64 // Масштаб шума биомов
	MinY       int     // Минимальная высота мира
	Height     int     // Высота мира
	SeaLevel   int     // Уровень моря
	Relief     int     // Амплитуда рельефа в блоках

	height *util.Noise
	biome  *util.Noise
}

// NewWorldGenerator создаёт новый генератор мира
func NewWorldGenerator(seed int64, minY, height int) *WorldGenerator {
	return &WorldGenerator{
		Seed:       seed,
		NoiseScale: 0.01, // Настройка сглаженности ландшафта
		BiomeScale: 0.004,
		MinY:       minY,
		Height:     height,
		SeaLevel:   minY + height/2,
		Relief:     40,
		height:     util.NewNoise(seed),
		biome:      util.NewNoise(seed + 42),
	}
}

// SurfaceY возвращает высоту поверхности столбца
func (wg *WorldGenerator) SurfaceY(x, z int) int {
	h := wg.height.Noise2D(float64(x)*wg.NoiseScale, float64(z)*wg.NoiseScale)
	y := wg.SeaLevel - wg.Relief/2 + int(h*float64(wg.Relief))
	if y < wg.MinY+8 {
		y = wg.MinY + 8
	}
	if top := wg.MinY + wg.Height - 2; y > top {
		y = top
	}
	return y
}

// GenerateChunk генерирует чанк по его координатам
func (wg *WorldGenerator) GenerateChunk(chunkX, chunkZ int) (*Chunk, error) {
	chunk, err := NewChunk(chunkX, chunkZ, wg.MinY, wg.Height)
	if err != nil {
		return nil, err
	}

	// Для каждого чанка свой сид на основе глобального сида и координат
	chunkSeed := wg.Seed + int64(chunkX)*341873128712 + int64(chunkZ)*132897987541
	rng := rand.New(rand.NewSource(chunkSeed))

	for z := 0; z < 16; z++ {
		for x := 0; x < 16; x++ {
			globalX := chunkX<<4 + x
			globalZ := chunkZ<<4 + z

			surface := wg.SurfaceY(globalX, globalZ)
			biome := wg.getBiomeType(surface, wg.biome.Noise2D(float64(globalX)*wg.BiomeScale, float64(globalZ)*wg.BiomeScale))

			wg.fillColumn(chunk, x, z, surface, biome, rng)
		}
	}

	return chunk, nil
}

// fillColumn заполняет один столбец: бедрок, камень с рудами, подповерхностный слой,
// поверхность, вода до уровня моря и растительность
func (wg *WorldGenerator) fillColumn(c *Chunk, x, z, surface int, biome BiomeType, rng *rand.Rand) {
	top, filler := wg.getBlocksForBiome(biome)

	c.SetBlock(x, wg.MinY, z, block.Named("bedrock"))
	for y := wg.MinY + 1; y <= surface; y++ {
		st := block.Named("stone")
		switch {
		case y == surface:
			st = top
		case y > surface-4:
			st = filler
		case y < wg.MinY+16 && rng.Float64() < 0.002:
			st = block.Named("diamond_ore")
		case y < wg.MinY+12 && rng.Float64() < 0.01:
			st = block.Lava(block.FullFluidAmount)
		}
		c.SetBlock(x, y, z, st)
	}

	if surface < wg.SeaLevel {
		for y := surface + 1; y <= wg.SeaLevel; y++ {
			c.SetBlock(x, y, z, block.Water(block.FullFluidAmount))
		}
		return
	}

	// Растительность на суше
	r := rng.Float64()
	switch {
	case biome == BiomeDesert && r < 0.01:
		c.SetBlock(x, surface+1, z, block.Named("cactus"))
	case biome == BiomePlains && r < 0.05:
		c.SetBlock(x, surface+1, z, block.Named("short_grass"))
	case biome == BiomeForest && r < 0.03:
		c.SetBlock(x, surface+1, z, block.Named("poppy"))
	case biome == BiomeForest && r < 0.035:
		c.SetBlock(x, surface+1, z, block.Named("chest"))
	}
}

// getBlocksForBiome возвращает поверхностный и подповерхностный блоки биома
func (wg *WorldGenerator) getBlocksForBiome(biome BiomeType) (top, filler block.State) {
	switch biome {
	case BiomeDesert:
		return block.Named("sand"), block.Named("sandstone")
	case BiomeMountains:
		return block.Named("stone"), block.Named("stone")
	case BiomeWater:
		return block.Named("gravel"), block.Named("dirt")
	default:
		return block.Named("grass_block"), block.Named("dirt")
	}
}

// getBiomeType определяет тип биома на основе высоты и значения шума биомов
func (wg *WorldGenerator) getBiomeType(surface int, biomeValue float64) BiomeType {
	// Водные биомы в низинах
	if surface < wg.SeaLevel {
		return BiomeWater
	}

	// Горные биомы на возвышенностях
	if surface > wg.SeaLevel+wg.Relief*3/8 {
		return BiomeMountains
	}

	// Для средних высот выбираем биом на основе biomeValue
	if biomeValue < 0.35 {
		return BiomeDesert
	} else if biomeValue > 0.65 {
		return BiomeForest
	}

	return BiomePlains
}
