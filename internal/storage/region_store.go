package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrRegionNotFound возвращается, когда для региона нет сохранённых данных
var ErrRegionNotFound = errors.New("region not found")

// RegionKey идентифицирует файл региона: измерение + координаты региона
type RegionKey struct {
	Dimension string
	X, Z      int
}

// String возвращает ключ в виде "<dimension>:<x>:<z>"
func (k RegionKey) String() string {
	return fmt.Sprintf("%s:%d:%d", k.Dimension, k.X, k.Z)
}

// ParseRegionKey разбирает строку вида "<dimension>:<x>:<z>"
func ParseRegionKey(s string) (RegionKey, error) {
	zi := strings.LastIndexByte(s, ':')
	if zi <= 0 {
		return RegionKey{}, fmt.Errorf("некорректный ключ региона %q", s)
	}
	xi := strings.LastIndexByte(s[:zi], ':')
	if xi <= 0 {
		return RegionKey{}, fmt.Errorf("некорректный ключ региона %q", s)
	}

	x, err := strconv.Atoi(s[xi+1 : zi])
	if err != nil {
		return RegionKey{}, fmt.Errorf("некорректный ключ региона %q: %w", s, err)
	}
	z, err := strconv.Atoi(s[zi+1:])
	if err != nil {
		return RegionKey{}, fmt.Errorf("некорректный ключ региона %q: %w", s, err)
	}
	return RegionKey{Dimension: s[:xi], X: x, Z: z}, nil
}

// RegionStore определяет интерфейс постоянного хранилища сериализованных регионов.
// Данные: уже сжатый поток формата региона; хранилище их не интерпретирует.
//
// Save должен быть атомарным: параллельный Load видит либо старую,
// либо новую версию целиком, но никогда не частично записанную.
type RegionStore interface {
	// Load возвращает данные региона или ErrRegionNotFound
	Load(ctx context.Context, key RegionKey) ([]byte, error)

	// Save атомарно заменяет данные региона
	Save(ctx context.Context, key RegionKey, data []byte) error

	// Exists проверяет наличие данных региона, не читая их
	Exists(ctx context.Context, key RegionKey) (bool, error)

	// Delete удаляет данные региона (отсутствие не является ошибкой)
	Delete(ctx context.Context, key RegionKey) error

	// Close закрывает хранилище
	Close() error
}

// IsNotFound проверяет, означает ли ошибка отсутствие региона
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRegionNotFound)
}
