package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/worldcache/internal/logging"
	"github.com/annel0/worldcache/internal/storage"
)

// StoreFactory открывает хранилище регионов для директории мира
type StoreFactory func(dir string) (storage.RegionStore, error)

type cacheKey struct {
	dir       string
	dimension string
}

// Dimension описывает границы высот измерения
type Dimension struct {
	MinY   int
	Height int
}

// Registry владеет кешами, созданными по (директория, измерение).
// Передаётся явно, поэтому в одном процессе может жить несколько независимых реестров.
type Registry struct {
	factory    StoreFactory
	base       Options
	viewers    *Viewers
	dimensions map[string]Dimension

	mu          sync.Mutex
	ctx         context.Context
	invalidator Invalidator
	stores      map[string]storage.RegionStore
	caches      map[cacheKey]*WorldCache
	closed      bool
}

// NewRegistry создаёт реестр. base задаёт настройки для всех измерений,
// кроме имени и границ высот.
func NewRegistry(ctx context.Context, factory StoreFactory, base Options, viewers *Viewers) *Registry {
	if viewers == nil {
		viewers = NewViewers()
	}
	return &Registry{
		factory:    factory,
		base:       base,
		viewers:    viewers,
		dimensions: make(map[string]Dimension),
		ctx:        ctx,
		stores:     make(map[string]storage.RegionStore),
		caches:     make(map[cacheKey]*WorldCache),
	}
}

// Viewers возвращает трекер наблюдателей реестра
func (reg *Registry) Viewers() *Viewers { return reg.viewers }

// SetDimension задаёт границы высот измерения. Вызывается до первого Cache.
func (reg *Registry) SetDimension(name string, d Dimension) {
	reg.mu.Lock()
	reg.dimensions[name] = d
	reg.mu.Unlock()
}

// Cache возвращает кеш измерения в директории, создавая и запуская его при первом обращении
func (reg *Registry) Cache(dir, dimension string) (*WorldCache, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.closed {
		return nil, errors.New("реестр кешей закрыт")
	}

	key := cacheKey{dir: dir, dimension: dimension}
	if c, ok := reg.caches[key]; ok {
		return c, nil
	}

	var store storage.RegionStore
	if reg.base.Enabled {
		store = reg.stores[dir]
		if store == nil {
			s, err := reg.factory(dir)
			if err != nil {
				return nil, fmt.Errorf("хранилище %s: %w", dir, err)
			}
			reg.stores[dir] = s
			store = s
		}
	}

	opts := reg.base
	opts.Dimension = dimension
	if d, ok := reg.dimensions[dimension]; ok {
		opts.MinY, opts.Height = d.MinY, d.Height
	}

	c, err := New(opts, store, reg.viewers)
	if err != nil {
		return nil, err
	}
	if reg.invalidator != nil {
		c.SetInvalidator(reg.invalidator)
	}
	c.Start(reg.ctx)
	reg.caches[key] = c

	logging.GetCacheLogger().Info("Создан кеш %s/%s", dir, dimension)
	return c, nil
}

// Lookup возвращает уже созданный кеш без создания нового
func (reg *Registry) Lookup(dir, dimension string) (*WorldCache, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	c, ok := reg.caches[cacheKey{dir: dir, dimension: dimension}]
	return c, ok
}

// Caches возвращает все созданные кеши, упорядоченные по директории и измерению
func (reg *Registry) Caches() []*WorldCache {
	reg.mu.Lock()
	keys := make([]cacheKey, 0, len(reg.caches))
	for k := range reg.caches {
		keys = append(keys, k)
	}
	caches := make([]*WorldCache, 0, len(keys))
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].dir != keys[j].dir {
			return keys[i].dir < keys[j].dir
		}
		return keys[i].dimension < keys[j].dimension
	})
	for _, k := range keys {
		caches = append(caches, reg.caches[k])
	}
	reg.mu.Unlock()
	return caches
}

// BindInvalidator подключает межузловую инвалидацию: сохранённые регионы
// публикуются, а полученные ключи выгружают чистые регионы всех кешей измерения.
func (reg *Registry) BindInvalidator(ctx context.Context, inv Invalidator) error {
	reg.mu.Lock()
	reg.invalidator = inv
	for _, c := range reg.caches {
		c.SetInvalidator(inv)
	}
	reg.mu.Unlock()

	return inv.SubscribeInvalidations(ctx, reg.HandleInvalidation)
}

// HandleInvalidation выгружает регион по ключу "<dimension>:<x>:<z>" во всех кешах измерения
func (reg *Registry) HandleInvalidation(key string) error {
	rk, err := storage.ParseRegionKey(key)
	if err != nil {
		return err
	}
	for _, c := range reg.Caches() {
		if c.Dimension() == rk.Dimension && c.Invalidate(rk.X, rk.Z) {
			logging.GetCacheLogger().Debug("Регион %s выгружен по уведомлению", key)
		}
	}
	return nil
}

// Close сохраняет и закрывает все кеши, затем закрывает хранилища
func (reg *Registry) Close(ctx context.Context) error {
	reg.mu.Lock()
	if reg.closed {
		reg.mu.Unlock()
		return nil
	}
	reg.closed = true
	caches := make([]*WorldCache, 0, len(reg.caches))
	for _, c := range reg.caches {
		caches = append(caches, c)
	}
	stores := reg.stores
	reg.mu.Unlock()

	var errs []error
	for _, c := range caches {
		c.Close()
		if err := c.Save(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for dir, s := range stores {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("закрытие хранилища %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}
