package cache

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/klauspost/compress/gzip"
)

// regionMagic: сигнатура и версия формата файла региона ("WCR1")
const regionMagic uint32 = 0x57435231

// RegionSize: количество чанков по стороне региона
const RegionSize = 32

var (
	errBadMagic = errors.New("неверная сигнатура файла региона")
	errCorrupt  = errors.New("повреждённые данные региона")
)

type regionSlots [RegionSize][RegionSize]*ClassifiedChunk

// encodeRegion сериализует слоты региона в gzip-поток.
// Порядок: сигнатура, флаги присутствия с битсетами, обзоры, особые блоки, метки времени.
func encodeRegion(slots *regionSlots, height int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return nil, err
	}
	w := &regionWriter{w: bufio.NewWriter(zw)}

	w.u32(regionMagic)

	words := WordsForHeight(height)
	raw := make([]byte, 8*words)
	eachSlot(func(x, z int) {
		c := slots[x][z]
		if c == nil {
			w.u8(0)
			return
		}
		if len(c.bits) != words {
			if w.err == nil {
				w.err = fmt.Errorf("чанк (%d, %d): битсет из %d слов, регион высотой %d требует %d",
					c.x, c.z, len(c.bits), height, words)
			}
			return
		}
		w.u8(1)
		for i, word := range c.bits {
			binary.LittleEndian.PutUint64(raw[i*8:], word)
		}
		w.bytes(raw)
	})

	eachPresent(slots, func(c *ClassifiedChunk) {
		for _, name := range c.overview {
			w.str(name)
		}
	})

	all := ColumnCount * height
	eachPresent(slots, func(c *ClassifiedChunk) {
		names := c.SpecialBlocks()
		w.u16(uint16(len(names)))
		for _, name := range names {
			positions := c.special[name]
			w.str(name)
			if len(positions) == all {
				// 0 означает "все позиции чанка"; списки упорядочены и без повторов
				w.u32(0)
				continue
			}
			w.u32(uint32(len(positions)))
			for _, p := range positions {
				w.u8(p.Z<<4 | p.X)
				w.u16(uint16(p.Y - c.minY))
			}
		}
	})

	eachPresent(slots, func(c *ClassifiedChunk) {
		w.u64(uint64(c.timestamp))
	})

	if w.err != nil {
		return nil, w.err
	}
	if err := w.w.Flush(); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeRegion читает поток целиком в regionBuilder и только затем
// создаёт неизменяемые снимки. Обрезанный или испорченный поток не даёт результата.
func decodeRegion(data []byte, regionX, regionZ, minY, height int) (*regionSlots, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	defer zr.Close()

	r := &regionReader{r: bufio.NewReader(zr)}
	if magic := r.u32(); r.err == nil && magic != regionMagic {
		return nil, fmt.Errorf("%w: %#08x", errBadMagic, magic)
	}

	b := newRegionBuilder(regionX, regionZ, minY, height)
	words := WordsForHeight(height)
	raw := make([]byte, 8*words)

	eachSlot(func(x, z int) {
		present := r.u8()
		if r.err != nil {
			return
		}
		switch present {
		case 0:
			return
		case 1:
		default:
			r.fail("байт присутствия %d в слоте (%d, %d)", present, x, z)
			return
		}
		r.bytes(raw)
		bits := make([]uint64, words)
		for i := range bits {
			bits[i] = binary.LittleEndian.Uint64(raw[i*8:])
		}
		b.present(x, z, bits)
	})

	for _, p := range b.order {
		for col := 0; col < ColumnCount; col++ {
			p.overview[col] = r.str()
		}
	}

	all := ColumnCount * height
	for _, p := range b.order {
		count := int(r.u16())
		for i := 0; i < count && r.err == nil; i++ {
			name := r.str()
			n := int(r.u32())
			if n > all {
				r.fail("%d позиций блока %s в чанке", n, name)
				break
			}
			if n == 0 {
				p.special[name] = allPositions(minY, height)
				continue
			}
			positions := make([]LocalPos, 0, n)
			for j := 0; j < n && r.err == nil; j++ {
				xz := r.u8()
				rel := int(r.u16())
				if rel >= height {
					r.fail("высота %d блока %s вне мира", rel, name)
					break
				}
				positions = append(positions, LocalPos{X: xz & 15, Z: xz >> 4, Y: minY + rel})
			}
			p.special[name] = positions
		}
	}

	for _, p := range b.order {
		p.timestamp = int64(r.u64())
	}

	if r.err != nil {
		return nil, r.err
	}
	return b.build()
}

// allPositions перечисляет все позиции чанка в порядке y, z, x
func allPositions(minY, height int) []LocalPos {
	out := make([]LocalPos, 0, ColumnCount*height)
	for rel := 0; rel < height; rel++ {
		for z := 0; z < 16; z++ {
			for x := 0; x < 16; x++ {
				out = append(out, LocalPos{X: uint8(x), Z: uint8(z), Y: minY + rel})
			}
		}
	}
	return out
}

func eachSlot(fn func(x, z int)) {
	for x := 0; x < RegionSize; x++ {
		for z := 0; z < RegionSize; z++ {
			fn(x, z)
		}
	}
}

func eachPresent(slots *regionSlots, fn func(c *ClassifiedChunk)) {
	eachSlot(func(x, z int) {
		if c := slots[x][z]; c != nil {
			fn(c)
		}
	})
}

// pendingChunk: данные чанка, накопленные при чтении до проверки всего потока
type pendingChunk struct {
	x, z      int
	bits      []uint64
	overview  [ColumnCount]string
	special   map[string][]LocalPos
	timestamp int64
}

// regionBuilder собирает слоты во временные структуры
type regionBuilder struct {
	regionX, regionZ int
	minY, height     int
	order            []*pendingChunk
}

func newRegionBuilder(regionX, regionZ, minY, height int) *regionBuilder {
	return &regionBuilder{regionX: regionX, regionZ: regionZ, minY: minY, height: height}
}

func (b *regionBuilder) present(x, z int, bits []uint64) {
	b.order = append(b.order, &pendingChunk{
		x:       x,
		z:       z,
		bits:    bits,
		special: make(map[string][]LocalPos),
	})
}

// build создаёт неизменяемые снимки; вызывается только после чтения всего потока
func (b *regionBuilder) build() (*regionSlots, error) {
	slots := new(regionSlots)
	for _, p := range b.order {
		c, err := NewClassifiedChunk(
			b.regionX<<5+p.x, b.regionZ<<5+p.z, b.minY, b.height,
			p.bits, p.overview, p.special, time.UnixMilli(p.timestamp))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errCorrupt, err)
		}
		slots[p.x][p.z] = c
	}
	return slots, nil
}

// regionWriter пишет big-endian примитивы, запоминая первую ошибку
type regionWriter struct {
	w   *bufio.Writer
	err error
	tmp [8]byte
}

func (w *regionWriter) bytes(p []byte) {
	if w.err == nil {
		_, w.err = w.w.Write(p)
	}
}

func (w *regionWriter) u8(v uint8) {
	if w.err == nil {
		w.err = w.w.WriteByte(v)
	}
}

func (w *regionWriter) u16(v uint16) {
	binary.BigEndian.PutUint16(w.tmp[:2], v)
	w.bytes(w.tmp[:2])
}

func (w *regionWriter) u32(v uint32) {
	binary.BigEndian.PutUint32(w.tmp[:4], v)
	w.bytes(w.tmp[:4])
}

func (w *regionWriter) u64(v uint64) {
	binary.BigEndian.PutUint64(w.tmp[:8], v)
	w.bytes(w.tmp[:8])
}

func (w *regionWriter) str(s string) {
	if len(s) > math.MaxUint16 {
		if w.err == nil {
			w.err = fmt.Errorf("строка длиной %d не помещается в формат", len(s))
		}
		return
	}
	w.u16(uint16(len(s)))
	w.bytes([]byte(s))
}

// regionReader читает big-endian примитивы, запоминая первую ошибку
type regionReader struct {
	r   *bufio.Reader
	err error
	tmp [8]byte
}

func (r *regionReader) fail(format string, args ...interface{}) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s", errCorrupt, fmt.Sprintf(format, args...))
	}
}

func (r *regionReader) bytes(p []byte) {
	if r.err != nil {
		return
	}
	if _, err := io.ReadFull(r.r, p); err != nil {
		r.err = fmt.Errorf("%w: %v", errCorrupt, err)
	}
}

func (r *regionReader) u8() uint8 {
	r.bytes(r.tmp[:1])
	if r.err != nil {
		return 0
	}
	return r.tmp[0]
}

func (r *regionReader) u16() uint16 {
	r.bytes(r.tmp[:2])
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(r.tmp[:2])
}

func (r *regionReader) u32() uint32 {
	r.bytes(r.tmp[:4])
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(r.tmp[:4])
}

func (r *regionReader) u64() uint64 {
	r.bytes(r.tmp[:8])
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(r.tmp[:8])
}

func (r *regionReader) str() string {
	n := int(r.u16())
	if r.err != nil || n == 0 {
		return ""
	}
	buf := make([]byte, n)
	r.bytes(buf)
	if r.err != nil {
		return ""
	}
	return string(buf)
}
