package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore проверяет общий контракт RegionStore
func exerciseStore(t *testing.T, store RegionStore) {
	t.Helper()
	ctx := context.Background()
	key := RegionKey{Dimension: "overworld", X: -3, Z: 7}

	_, err := store.Load(ctx, key)
	assert.True(t, IsNotFound(err), "отсутствующий регион должен давать ErrRegionNotFound, got %v", err)

	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	payload := []byte{0x57, 0x43, 0x52, 0x31, 1, 2, 3}
	require.NoError(t, store.Save(ctx, key, payload))

	// Изменение исходного буфера не влияет на сохранённые данные
	payload[4] = 99

	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x57, 0x43, 0x52, 0x31, 1, 2, 3}, got)

	ok, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	// Другой регион того же измерения не затронут
	_, err = store.Load(ctx, RegionKey{Dimension: "overworld", X: -3, Z: 8})
	assert.True(t, IsNotFound(err))

	require.NoError(t, store.Save(ctx, key, []byte("v2")))
	got, err = store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Load(ctx, key)
	assert.True(t, IsNotFound(err))
	require.NoError(t, store.Delete(ctx, key), "повторное удаление не является ошибкой")
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	exerciseStore(t, store)
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Save(ctx, RegionKey{Dimension: "overworld"}, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	key := RegionKey{Dimension: "the_nether", X: 1, Z: -2}
	require.NoError(t, store.Save(context.Background(), key, []byte("data")))

	path := filepath.Join(dir, "the_nether", "r.1.-2.wcr")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)

	// Временные файлы не остаются после переименования
	entries, err := os.ReadDir(filepath.Join(dir, "the_nether"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStoreRejectsBadDimension(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, dim := range []string{"..", ".", "../escape", "a/b", ""} {
		_, err := store.Path(RegionKey{Dimension: dim})
		assert.Error(t, err, "измерение %q", dim)
	}
}

func TestBadgerStore(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestBadgerStoreClosed(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "повторное закрытие безопасно")

	err = store.Save(context.Background(), RegionKey{Dimension: "overworld"}, []byte("x"))
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL не задан, пропускаем тест Redis")
	}

	store, err := NewRedisStore(RedisConfig{URL: url, Prefix: "worldcache-test"})
	if err != nil {
		t.Skipf("Redis недоступен: %v", err)
	}
	defer store.Close()
	exerciseStore(t, store)
}

func TestRegionKeyString(t *testing.T) {
	assert.Equal(t, "overworld:-1:2", RegionKey{Dimension: "overworld", X: -1, Z: 2}.String())
}

func TestParseRegionKey(t *testing.T) {
	key, err := ParseRegionKey("the_end:-12:40")
	require.NoError(t, err)
	assert.Equal(t, RegionKey{Dimension: "the_end", X: -12, Z: 40}, key)

	// Двоеточие в имени измерения допустимо
	key, err = ParseRegionKey("minecraft:overworld:1:2")
	require.NoError(t, err)
	assert.Equal(t, "minecraft:overworld", key.Dimension)

	for _, bad := range []string{"", "overworld", ":1:2", "overworld:x:2", "overworld:1:"} {
		_, err := ParseRegionKey(bad)
		assert.Error(t, err, bad)
	}
}
