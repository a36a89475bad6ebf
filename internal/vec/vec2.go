package vec

import "math"

// Vec2 представляет координаты на горизонтальной плоскости (X, Z)
type Vec2 struct {
	X, Z int
}

// ToChunkCoords преобразует блочные координаты в координаты чанка
func (v Vec2) ToChunkCoords() Vec2 {
	return Vec2{X: v.X >> 4, Z: v.Z >> 4} // Деление на 16
}

// ToRegionCoords преобразует блочные координаты в координаты региона
func (v Vec2) ToRegionCoords() Vec2 {
	return Vec2{X: v.X >> 9, Z: v.Z >> 9} // Деление на 512 (16*32)
}

// ChunkToRegion преобразует координаты чанка в координаты региона
func (v Vec2) ChunkToRegion() Vec2 {
	return Vec2{X: v.X >> 5, Z: v.Z >> 5}
}

// LocalInChunk возвращает локальные координаты внутри чанка
func (v Vec2) LocalInChunk() Vec2 {
	return Vec2{X: v.X & 0xF, Z: v.Z & 0xF} // Модуль 16
}

// LocalInRegion возвращает координаты чанка внутри региона (0..31)
func (v Vec2) LocalInRegion() Vec2 {
	return Vec2{X: v.X & 0x1F, Z: v.Z & 0x1F}
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dz := float64(v.Z - other.Z)
	return math.Sqrt(dx*dx + dz*dz)
}

// DistanceSq возвращает квадрат расстояния (без sqrt)
func (v Vec2) DistanceSq(other Vec2) int {
	dx := v.X - other.X
	dz := v.Z - other.Z
	return dx*dx + dz*dz
}
