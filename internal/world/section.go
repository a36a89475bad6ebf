package world

import (
	"fmt"

	"github.com/annel0/worldcache/internal/world/block"
)

// SectionVolume: количество вокселей в секции 16x16x16
const SectionVolume = 16 * 16 * 16

// SectionIndex возвращает индекс вокселя внутри секции (y<<8 | z<<4 | x)
func SectionIndex(x, y, z int) int {
	return y<<8 | z<<4 | x
}

// Section описывает секцию чанка 16x16x16 (палитра состояний и упакованные индексы).
// Секция с палитрой из одного элемента не хранит массив индексов.
type Section struct {
	Palette []block.State
	Data    *BitStorage
}

// NewSection создаёт секцию, заполненную воздухом
func NewSection() *Section {
	return NewUniformSection(block.Air)
}

// NewUniformSection создаёт секцию, целиком состоящую из одного состояния
func NewUniformSection(s block.State) *Section {
	return &Section{Palette: []block.State{s}}
}

// Uniform возвращает true, если секция описана одним элементом палитры
func (s *Section) Uniform() bool {
	return len(s.Palette) == 1 && s.Data == nil
}

// IsEmpty возвращает true для секции из одного воздуха
func (s *Section) IsEmpty() bool {
	return s.Uniform() && s.Palette[0].IsAir()
}

// Get возвращает состояние по локальным координатам
func (s *Section) Get(x, y, z int) block.State {
	if s.Data == nil {
		return s.Palette[0]
	}
	idx := s.Data.Get(SectionIndex(x, y, z))
	if int(idx) >= len(s.Palette) {
		return block.Air
	}
	return s.Palette[idx]
}

// Set устанавливает состояние, расширяя палитру при необходимости
func (s *Section) Set(x, y, z int, st block.State) {
	paletteIdx := -1
	for i, p := range s.Palette {
		if p == st {
			paletteIdx = i
			break
		}
	}

	if paletteIdx < 0 {
		s.Palette = append(s.Palette, st)
		paletteIdx = len(s.Palette) - 1
		s.grow()
	}

	if s.Data == nil {
		// палитра из одного элемента и он совпал
		return
	}
	s.Data.Set(SectionIndex(x, y, z), uint32(paletteIdx))
}

// grow перепаковывает индексы, если палитре не хватает разрядности
func (s *Section) grow() {
	need := BitsFor(len(s.Palette))
	if s.Data != nil && s.Data.Bits() >= need {
		return
	}

	storage, _ := NewBitStorage(need, SectionVolume, nil)
	if s.Data != nil {
		for i := 0; i < SectionVolume; i++ {
			storage.Set(i, s.Data.Get(i))
		}
	}
	s.Data = storage
}

// Indices распаковывает индексы палитры всех 4096 вокселей в dst.
// Возвращает ошибку для повреждённой секции (нет данных, индекс вне палитры).
func (s *Section) Indices(dst []uint32) error {
	if len(s.Palette) == 0 {
		return fmt.Errorf("пустая палитра")
	}
	if s.Data == nil {
		if len(s.Palette) != 1 {
			return fmt.Errorf("палитра из %d элементов без данных", len(s.Palette))
		}
		for i := range dst[:SectionVolume] {
			dst[i] = 0
		}
		return nil
	}
	if s.Data.Len() != SectionVolume {
		return fmt.Errorf("размер данных %d вместо %d", s.Data.Len(), SectionVolume)
	}

	s.Data.Unpack(dst)
	for i := 0; i < SectionVolume; i++ {
		if int(dst[i]) >= len(s.Palette) {
			return fmt.Errorf("индекс палитры %d вне диапазона (%d) в позиции %d", dst[i], len(s.Palette), i)
		}
	}
	return nil
}
