package vec

// Vec3 представляет позицию блока в мире (Y: вертикаль)
type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Horizontal возвращает проекцию на плоскость XZ
func (v Vec3) Horizontal() Vec2 {
	return Vec2{X: v.X, Z: v.Z}
}

// ChunkCoords возвращает координаты чанка, содержащего позицию
func (v Vec3) ChunkCoords() Vec2 {
	return Vec2{X: v.X >> 4, Z: v.Z >> 4}
}

// RegionCoords возвращает координаты региона, содержащего позицию
func (v Vec3) RegionCoords() Vec2 {
	return Vec2{X: v.X >> 9, Z: v.Z >> 9}
}

// DistanceSq возвращает квадрат расстояния до другого вектора
func (v Vec3) DistanceSq(other Vec3) int {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return dx*dx + dy*dy + dz*dz
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}
