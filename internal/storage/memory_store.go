package storage

import (
	"context"
	"sync"
)

// MemoryStore реализует RegionStore в памяти.
// Используется в тестах и для локальной разработки.
// ВНИМАНИЕ: Данные теряются при перезапуске!
type MemoryStore struct {
	mu   sync.RWMutex
	data map[RegionKey][]byte
}

// NewMemoryStore создаёт пустое хранилище в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[RegionKey][]byte),
	}
}

// Load возвращает копию данных региона
func (s *MemoryStore) Load(ctx context.Context, key RegionKey) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[key]
	if !ok {
		return nil, ErrRegionNotFound
	}
	return append([]byte(nil), data...), nil
}

// Save сохраняет копию данных региона
func (s *MemoryStore) Save(ctx context.Context, key RegionKey, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.data[key] = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

// Exists проверяет наличие данных региона
func (s *MemoryStore) Exists(ctx context.Context, key RegionKey) (bool, error) {
	s.mu.RLock()
	_, ok := s.data[key]
	s.mu.RUnlock()
	return ok, nil
}

// Delete удаляет данные региона
func (s *MemoryStore) Delete(ctx context.Context, key RegionKey) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Keys возвращает ключи всех сохранённых регионов
func (s *MemoryStore) Keys() []RegionKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]RegionKey, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// Close ничего не делает
func (s *MemoryStore) Close() error { return nil }
