package block

import "sort"

// Set: множество идентификаторов блоков
type Set map[string]struct{}

// NewSet создаёт множество из списка имён (имена нормализуются)
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, name := range names {
		if n := Normalize(name); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// Contains проверяет наличие имени в множестве
func (s Set) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Names возвращает отсортированный список имён
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultAvoid: блоки, в которые нельзя заходить
var DefaultAvoid = []string{
	"lava",
	"fire",
	"soul_fire",
	"cactus",
	"magma_block",
	"sweet_berry_bush",
	"cobweb",
	"powder_snow",
	"campfire",
	"soul_campfire",
	"bubble_column",
	"end_portal",
	"nether_portal",
	"wither_rose",
}

// DefaultWatchList: блоки, позиции которых индексируются в кеше
var DefaultWatchList = []string{
	"diamond_ore",
	"deepslate_diamond_ore",
	"chest",
	"ender_chest",
	"crafting_table",
	"furnace",
	"end_portal_frame",
	"spawner",
	"white_bed",
	"red_bed",
	"nether_portal",
}
