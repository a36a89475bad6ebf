package block

import "strings"

// Fluid описывает жидкость, содержащуюся в блоке (в том числе waterlogged)
type Fluid uint8

const (
	FluidNone Fluid = iota
	FluidWater
	FluidLava
)

// FullFluidAmount: уровень полной (неподвижной) ячейки жидкости
const FullFluidAmount = 8

// SlabType: половина, занимаемая плитой
type SlabType uint8

const (
	SlabNone SlabType = iota
	SlabBottom
	SlabTop
	SlabDouble
)

// AirName: идентификатор пустого блока
const AirName = "air"

// State: состояние блока в палитре секции.
// Сравнимо по значению, поэтому может использоваться как ключ карты.
type State struct {
	Name        string   // Идентификатор блока без namespace ("stone", "water")
	Fluid       Fluid    // Жидкость в ячейке
	FluidAmount uint8    // 1..8, 8 = полная ячейка
	Slab        SlabType // Тип плиты
}

// Air: состояние пустого блока
var Air = State{Name: AirName}

// Named создаёт простое состояние без жидкости
func Named(name string) State {
	return State{Name: Normalize(name)}
}

// Water создаёт состояние воды с указанным уровнем
func Water(amount uint8) State {
	return State{Name: "water", Fluid: FluidWater, FluidAmount: amount}
}

// Lava создаёт состояние лавы с указанным уровнем
func Lava(amount uint8) State {
	return State{Name: "lava", Fluid: FluidLava, FluidAmount: amount}
}

// Normalize убирает namespace "minecraft:" и приводит имя к нижнему регистру
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimPrefix(name, "minecraft:")
}

// IsWater возвращает true для воды и блоков, заполненных водой
func (s State) IsWater() bool {
	return s.Fluid == FluidWater
}

// IsLava возвращает true для лавы
func (s State) IsLava() bool {
	return s.Fluid == FluidLava
}

// PossiblyFlowing возвращает true, если жидкость в ячейке может течь
func (s State) PossiblyFlowing() bool {
	return s.Fluid != FluidNone && s.FluidAmount != FullFluidAmount
}

// IsBottomSlab возвращает true для нижней плиты
func (s State) IsBottomSlab() bool {
	return s.Slab == SlabBottom
}

// IsAir возвращает true только для "настоящего" воздуха
func (s State) IsAir() bool {
	switch s.Name {
	case AirName, "cave_air", "void_air", "":
		return s.Fluid == FluidNone
	}
	return false
}

// IsAirLike возвращает true для блоков, через которые можно пройти как через воздух:
// воздух, высокая трава, двойные растения и цветы
func (s State) IsAirLike() bool {
	if s.Fluid != FluidNone {
		return false
	}
	if s.IsAir() {
		return true
	}
	_, ok := airLike[s.Name]
	return ok
}

var airLike = map[string]struct{}{
	// высокая трава
	"grass":       {},
	"short_grass": {},
	"fern":        {},
	"dead_bush":   {},
	// двойные растения
	"tall_grass": {},
	"large_fern": {},
	"sunflower":  {},
	"lilac":      {},
	"rose_bush":  {},
	"peony":      {},
	// цветы
	"dandelion":          {},
	"poppy":              {},
	"blue_orchid":        {},
	"allium":             {},
	"azure_bluet":        {},
	"red_tulip":          {},
	"orange_tulip":       {},
	"white_tulip":        {},
	"pink_tulip":         {},
	"oxeye_daisy":        {},
	"cornflower":         {},
	"lily_of_the_valley": {},
	"wither_rose":        {},
}
