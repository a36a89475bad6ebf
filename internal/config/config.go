package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/annel0/worldcache/internal/cache"
	"github.com/annel0/worldcache/internal/world/block"
	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.
type Config struct {
	Cache        CacheConfig        `yaml:"cache"`
	Storage      StorageConfig      `yaml:"storage"`
	Invalidation InvalidationConfig `yaml:"invalidation"`
	World        WorldConfig        `yaml:"world"`
	Server       ServerConfig       `yaml:"server"`
	Tracing      TracingConfig      `yaml:"tracing"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type CacheConfig struct {
	Enabled          bool     `yaml:"enabled"`
	PruneEnabled     bool     `yaml:"prune_enabled"`
	ExpirySeconds    int      `yaml:"expiry_seconds"` // отрицательное значение отключает устаревание
	PendingCeiling   int      `yaml:"pending_ceiling"`
	WatchList        []string `yaml:"watch_list"`
	Avoid            []string `yaml:"avoid"`
	AutosaveDelay    int      `yaml:"autosave_delay_seconds"`
	AutosaveInterval int      `yaml:"autosave_interval_seconds"`
	PruneInterval    int      `yaml:"prune_interval_seconds"`
}

type StorageConfig struct {
	Backend       string `yaml:"backend"` // file | badger | redis | memory
	Dir           string `yaml:"dir"`
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

type InvalidationConfig struct {
	NATSURL string `yaml:"nats_url"` // пусто: инвалидация отключена
	Subject string `yaml:"subject"`
	NodeID  string `yaml:"node_id"`
}

type WorldConfig struct {
	Dimension   string `yaml:"dimension"`
	Seed        int64  `yaml:"seed"`
	MinY        int    `yaml:"min_y"`
	Height      int    `yaml:"height"`
	SpawnRadius int    `yaml:"spawn_radius_chunks"`
}

type ServerConfig struct {
	RESTPort       int  `yaml:"rest_port"`
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // OTLP HTTP host:port
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  bool   `yaml:"file"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Enabled:          true,
			PruneEnabled:     true,
			ExpirySeconds:    -1,
			PendingCeiling:   1000,
			WatchList:        append([]string(nil), block.DefaultWatchList...),
			Avoid:            append([]string(nil), block.DefaultAvoid...),
			AutosaveDelay:    30,
			AutosaveInterval: 600,
			PruneInterval:    45,
		},
		Storage: StorageConfig{
			Backend:     "file",
			Dir:         "data/regions",
			RedisPrefix: "worldcache",
		},
		Invalidation: InvalidationConfig{
			Subject: "worldcache.region.invalidate",
		},
		World: WorldConfig{
			Dimension:   "overworld",
			Seed:        1,
			MinY:        -64,
			Height:      384,
			SpawnRadius: 8,
		},
		Server: ServerConfig{
			MetricsEnabled: true,
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// Options переводит секцию кеша в настройки WorldCache измерения
func (c *Config) Options() cache.Options {
	opts := cache.DefaultOptions(c.World.Dimension)
	opts.MinY = c.World.MinY
	opts.Height = c.World.Height
	opts.Enabled = c.Cache.Enabled
	opts.PruneEnabled = c.Cache.PruneEnabled
	opts.Expiry = seconds(c.Cache.ExpirySeconds)
	opts.PendingCeiling = c.Cache.PendingCeiling
	opts.Watch = block.NewSet(c.Cache.WatchList...)
	opts.Avoid = block.NewSet(c.Cache.Avoid...)
	opts.AutosaveDelay = seconds(c.Cache.AutosaveDelay)
	opts.AutosaveInterval = seconds(c.Cache.AutosaveInterval)
	opts.PruneInterval = seconds(c.Cache.PruneInterval)
	return opts
}

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

// Validate проверяет согласованность значений
func (c *Config) Validate() error {
	if c.World.Height <= 0 || c.World.Height%16 != 0 {
		return fmt.Errorf("world.height должна быть положительной и кратной 16, получено %d", c.World.Height)
	}
	if c.World.MinY%16 != 0 {
		return fmt.Errorf("world.min_y должна быть кратна 16, получено %d", c.World.MinY)
	}
	switch c.Storage.Backend {
	case "file", "badger", "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url обязателен для backend redis")
		}
	default:
		return fmt.Errorf("неизвестный storage.backend %q", c.Storage.Backend)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio должен быть в диапазоне 0..1, получено %v", c.Tracing.SampleRatio)
	}
	if c.Cache.PendingCeiling <= 0 {
		return fmt.Errorf("cache.pending_ceiling должен быть положительным")
	}
	return nil
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "WORLDCACHE_REST_PORT", 8088)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	// Используем дефолтное значение
	return defaultPort
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV WORLDCACHE_CONFIG или возвращает дефолты.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("WORLDCACHE_CONFIG")
		if path == "" {
			return cfg, nil // конфиг не задан: использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
