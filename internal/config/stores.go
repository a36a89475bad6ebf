package config

import (
	"fmt"
	"path/filepath"

	"github.com/annel0/worldcache/internal/cache"
	"github.com/annel0/worldcache/internal/storage"
)

// StoreFactory возвращает фабрику хранилищ регионов по секции storage.
// Каждая директория мира получает своё хранилище:
//   - file:   <dir>/<world>/<dimension>/r.<x>.<z>.wcr
//   - badger: <dir>/<world>.badger
//   - redis:  ключи <prefix>:<world>:region:...
//   - memory: отдельный MemoryStore
func (c *Config) StoreFactory() cache.StoreFactory {
	sc := c.Storage
	return func(world string) (storage.RegionStore, error) {
		switch sc.Backend {
		case "file":
			return storage.NewFileStore(filepath.Join(sc.Dir, world))
		case "badger":
			return storage.NewBadgerStore(filepath.Join(sc.Dir, world+".badger"))
		case "redis":
			return storage.NewRedisStore(storage.RedisConfig{
				URL:      sc.RedisURL,
				Password: sc.RedisPassword,
				DB:       sc.RedisDB,
				Prefix:   sc.RedisPrefix + ":" + world,
			})
		case "memory":
			return storage.NewMemoryStore(), nil
		}
		return nil, fmt.Errorf("неизвестный storage.backend %q", sc.Backend)
	}
}

// InvalidatorConfig переводит секцию invalidation в настройки NATS
func (c *Config) InvalidatorConfig() *cache.InvalidatorConfig {
	return &cache.InvalidatorConfig{
		NATSURL: c.Invalidation.NATSURL,
		Subject: c.Invalidation.Subject,
	}
}
