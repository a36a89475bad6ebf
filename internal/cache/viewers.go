package cache

import (
	"sync"

	"github.com/annel0/worldcache/internal/vec"
	"github.com/google/uuid"
)

type viewer struct {
	feet   vec.Vec3
	active *WorldCache
	seq    uint64
}

// Viewers отслеживает наблюдателей (игроков, ботов) и их активный кеш.
// Позиция ног наблюдателя служит опорной точкой выгрузки регионов.
type Viewers struct {
	mu      sync.RWMutex
	viewers map[uuid.UUID]*viewer
	seq     uint64
}

// NewViewers создаёт пустой трекер
func NewViewers() *Viewers {
	return &Viewers{viewers: make(map[uuid.UUID]*viewer)}
}

// Add регистрирует наблюдателя и возвращает его идентификатор
func (v *Viewers) Add(feet vec.Vec3, active *WorldCache) uuid.UUID {
	id := uuid.New()

	v.mu.Lock()
	v.seq++
	v.viewers[id] = &viewer{feet: feet, active: active, seq: v.seq}
	v.mu.Unlock()
	return id
}

// Move обновляет позицию наблюдателя
func (v *Viewers) Move(id uuid.UUID, feet vec.Vec3) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	vw, ok := v.viewers[id]
	if !ok {
		return false
	}
	v.seq++
	vw.feet = feet
	vw.seq = v.seq
	return true
}

// SetActive переключает активный кеш наблюдателя (смена измерения)
func (v *Viewers) SetActive(id uuid.UUID, active *WorldCache) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	vw, ok := v.viewers[id]
	if !ok {
		return false
	}
	v.seq++
	vw.active = active
	vw.seq = v.seq
	return true
}

// Remove удаляет наблюдателя
func (v *Viewers) Remove(id uuid.UUID) {
	v.mu.Lock()
	delete(v.viewers, id)
	v.mu.Unlock()
}

// Len возвращает количество наблюдателей
func (v *Viewers) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.viewers)
}

// FeetFor возвращает позицию последнего обновлённого наблюдателя, у которого активен кеш c
func (v *Viewers) FeetFor(c *WorldCache) (vec.Vec3, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var best *viewer
	for _, vw := range v.viewers {
		if vw.active == c && (best == nil || vw.seq > best.seq) {
			best = vw
		}
	}
	if best == nil {
		return vec.Vec3{}, false
	}
	return best.feet, true
}
