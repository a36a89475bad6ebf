package world

import (
	"fmt"
	"math/bits"
)

// BitStorage хранит массив значений фиксированной разрядности, упакованных в uint64.
// Значение никогда не пересекает границу слова (раскладка anvil 1.16+).
type BitStorage struct {
	bits          int
	size          int
	mask          uint64
	valuesPerWord int
	data          []uint64
}

// WordsFor возвращает количество слов, нужное для size значений по bits бит
func WordsFor(bitsPerEntry, size int) int {
	vpw := 64 / bitsPerEntry
	return (size + vpw - 1) / vpw
}

// NewBitStorage создаёт хранилище. Если data == nil, выделяется новый массив.
func NewBitStorage(bitsPerEntry, size int, data []uint64) (*BitStorage, error) {
	if bitsPerEntry < 1 || bitsPerEntry > 32 {
		return nil, fmt.Errorf("недопустимая разрядность %d", bitsPerEntry)
	}
	words := WordsFor(bitsPerEntry, size)
	if data == nil {
		data = make([]uint64, words)
	} else if len(data) != words {
		return nil, fmt.Errorf("длина данных %d, ожидалось %d слов для %d×%d бит",
			len(data), words, size, bitsPerEntry)
	}

	return &BitStorage{
		bits:          bitsPerEntry,
		size:          size,
		mask:          (uint64(1) << uint(bitsPerEntry)) - 1,
		valuesPerWord: 64 / bitsPerEntry,
		data:          data,
	}, nil
}

// BitsFor возвращает разрядность индексов палитры из n элементов (минимум 4)
func BitsFor(n int) int {
	b := bits.Len(uint(n - 1))
	if b < 4 {
		b = 4
	}
	return b
}

// Get возвращает значение по индексу
func (s *BitStorage) Get(i int) uint32 {
	word := i / s.valuesPerWord
	offset := uint((i % s.valuesPerWord) * s.bits)
	return uint32((s.data[word] >> offset) & s.mask)
}

// Set записывает значение по индексу
func (s *BitStorage) Set(i int, v uint32) {
	word := i / s.valuesPerWord
	offset := uint((i % s.valuesPerWord) * s.bits)
	s.data[word] = s.data[word]&^(s.mask<<offset) | (uint64(v)&s.mask)<<offset
}

// Unpack распаковывает все значения в dst (len(dst) >= Len()).
// Проходит по словам, а не по индексам, чтобы не делить на каждом элементе.
func (s *BitStorage) Unpack(dst []uint32) {
	i := 0
	for _, w := range s.data {
		for j := 0; j < s.valuesPerWord && i < s.size; j++ {
			dst[i] = uint32(w & s.mask)
			w >>= uint(s.bits)
			i++
		}
	}
}

// Len возвращает количество значений
func (s *BitStorage) Len() int { return s.size }

// Bits возвращает разрядность значения
func (s *BitStorage) Bits() int { return s.bits }

// Raw возвращает упакованные слова (без копирования)
func (s *BitStorage) Raw() []uint64 { return s.data }
