package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/worldcache/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisConfig содержит конфигурацию Redis-хранилища регионов
type RedisConfig struct {
	URL            string        `yaml:"redis_url"`
	Password       string        `yaml:"redis_password"`
	DB             int           `yaml:"redis_db"`
	Prefix         string        `yaml:"redis_prefix"`
	MaxConnections int           `yaml:"max_connections"`
	PoolTimeout    time.Duration `yaml:"pool_timeout"`
}

// RedisStore хранит регионы в Redis. Используется как общее хранилище
// нескольких узлов; SET атомарен, поэтому регион не читается частично.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore подключается к Redis и проверяет соединение
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	// Настройки по умолчанию
	if config.Prefix == "" {
		config.Prefix = "worldcache"
	}
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}
	if config.PoolTimeout == 0 {
		config.PoolTimeout = 30 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.URL,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	// Проверяем соединение
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetStorageLogger().Info("Redis region store initialized: %s (prefix %s)", config.URL, config.Prefix)
	return &RedisStore{client: rdb, prefix: config.Prefix}, nil
}

func (r *RedisStore) key(key RegionKey) string {
	return r.prefix + ":region:" + key.String()
}

// Load читает данные региона
func (r *RedisStore) Load(ctx context.Context, key RegionKey) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrRegionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	return val, nil
}

// Save записывает данные региона без TTL
func (r *RedisStore) Save(ctx context.Context, key RegionKey, data []byte) error {
	if err := r.client.Set(ctx, r.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Exists проверяет наличие региона
func (r *RedisStore) Exists(ctx context.Context, key RegionKey) (bool, error) {
	count, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists error: %w", err)
	}
	return count > 0, nil
}

// Delete удаляет регион
func (r *RedisStore) Delete(ctx context.Context, key RegionKey) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// Close закрывает соединение
func (r *RedisStore) Close() error {
	return r.client.Close()
}
