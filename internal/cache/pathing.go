package cache

import "fmt"

// PathingType: классификация вокселя для поиска пути, 2 бита на воксель
type PathingType uint8

const (
	PathingAir PathingType = iota
	PathingWater
	PathingAvoid
	PathingSolid
)

// String возвращает имя типа
func (p PathingType) String() string {
	switch p {
	case PathingAir:
		return "AIR"
	case PathingWater:
		return "WATER"
	case PathingAvoid:
		return "AVOID"
	case PathingSolid:
		return "SOLID"
	}
	return fmt.Sprintf("PathingType(%d)", uint8(p))
}

// MarshalText позволяет отдавать тип строкой в JSON
func (p PathingType) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// blockName возвращает приближённый идентификатор блока для типа
func (p PathingType) blockName() string {
	switch p {
	case PathingWater:
		return "water"
	case PathingAvoid:
		return "lava"
	case PathingSolid:
		return "stone"
	}
	return "air"
}
