package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/annel0/worldcache/internal/storage"
	"github.com/annel0/worldcache/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryFactory(stores map[string]*storage.MemoryStore) StoreFactory {
	return func(dir string) (storage.RegionStore, error) {
		if dir == "broken" {
			return nil, errors.New("нет доступа")
		}
		s := storage.NewMemoryStore()
		stores[dir] = s
		return s, nil
	}
}

func TestRegistryCachePerDirAndDimension(t *testing.T) {
	stores := map[string]*storage.MemoryStore{}
	reg := NewRegistry(context.Background(), memoryFactory(stores), testOptions(true), nil)
	defer reg.Close(context.Background())

	reg.SetDimension("the_nether", Dimension{MinY: 0, Height: 128})

	a, err := reg.Cache("world", "overworld")
	require.NoError(t, err)
	b, err := reg.Cache("world", "overworld")
	require.NoError(t, err)
	assert.Same(t, a, b)

	nether, err := reg.Cache("world", "the_nether")
	require.NoError(t, err)
	assert.NotSame(t, a, nether)
	assert.Equal(t, 128, nether.Options().Height)
	assert.Equal(t, testHeight, a.Options().Height)

	other, err := reg.Cache("world2", "overworld")
	require.NoError(t, err)
	assert.NotSame(t, a, other)
	assert.Len(t, stores, 2, "одно хранилище на директорию")

	_, err = reg.Cache("broken", "overworld")
	assert.Error(t, err)

	found, ok := reg.Lookup("world", "the_nether")
	assert.True(t, ok)
	assert.Same(t, nether, found)
	assert.Len(t, reg.Caches(), 3)
}

func TestRegistryCloseSavesCaches(t *testing.T) {
	stores := map[string]*storage.MemoryStore{}
	reg := NewRegistry(context.Background(), memoryFactory(stores), testOptions(true), nil)

	c, err := reg.Cache("world", "overworld")
	require.NoError(t, err)
	c.install(specialChunk(t, 0, 0, "chest", time.Now()))

	require.NoError(t, reg.Close(context.Background()))
	assert.Len(t, stores["world"].Keys(), 1)

	_, err = reg.Cache("world", "overworld")
	assert.Error(t, err, "закрытый реестр не создаёт кеши")
	assert.NoError(t, reg.Close(context.Background()))
}

func TestRegistryHandleInvalidation(t *testing.T) {
	stores := map[string]*storage.MemoryStore{}
	reg := NewRegistry(context.Background(), memoryFactory(stores), testOptions(true), nil)
	defer reg.Close(context.Background())

	c, err := reg.Cache("world", "overworld")
	require.NoError(t, err)
	c.install(specialChunk(t, 40, 40, "", time.Now()))
	require.NoError(t, c.Save(context.Background()))
	require.True(t, c.RegionLoaded(40*16, 40*16))

	require.NoError(t, reg.HandleInvalidation("the_end:1:1"))
	assert.True(t, c.RegionLoaded(40*16, 40*16), "другое измерение не затронуто")

	require.NoError(t, reg.HandleInvalidation("overworld:1:1"))
	assert.False(t, c.RegionLoaded(40*16, 40*16))

	assert.Error(t, reg.HandleInvalidation("garbage"))
}

func TestRegistryBindInvalidator(t *testing.T) {
	stores := map[string]*storage.MemoryStore{}
	reg := NewRegistry(context.Background(), memoryFactory(stores), testOptions(true), nil)
	defer reg.Close(context.Background())

	before, err := reg.Cache("world", "overworld")
	require.NoError(t, err)

	inv := &recordingInvalidator{keys: make(chan string, 4)}
	require.NoError(t, reg.BindInvalidator(context.Background(), inv))

	after, err := reg.Cache("world", "the_end")
	require.NoError(t, err)

	before.install(specialChunk(t, 0, 0, "", time.Now()))
	require.NoError(t, before.Save(context.Background()))
	assert.Equal(t, "overworld:0:0", <-inv.keys)

	after.install(specialChunk(t, 0, 0, "", time.Now()))
	require.NoError(t, after.Save(context.Background()))
	assert.Equal(t, "the_end:0:0", <-inv.keys)
}

func TestViewers(t *testing.T) {
	v := NewViewers()
	w := newTestCache(t, testOptions(false), nil)

	_, ok := v.FeetFor(w)
	assert.False(t, ok)

	a := v.Add(vec.Vec3{X: 1, Y: 2, Z: 3}, w)
	b := v.Add(vec.Vec3{X: 10, Y: 20, Z: 30}, nil)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, v.Len())

	feet, ok := v.FeetFor(w)
	assert.True(t, ok)
	assert.Equal(t, vec.Vec3{X: 1, Y: 2, Z: 3}, feet)

	// Последний обновлённый наблюдатель имеет приоритет
	assert.True(t, v.SetActive(b, w))
	feet, _ = v.FeetFor(w)
	assert.Equal(t, vec.Vec3{X: 10, Y: 20, Z: 30}, feet)

	assert.True(t, v.Move(a, vec.Vec3{X: 5}))
	feet, _ = v.FeetFor(w)
	assert.Equal(t, vec.Vec3{X: 5}, feet)

	v.Remove(a)
	v.Remove(b)
	assert.False(t, v.Move(a, vec.Vec3{}))
	assert.False(t, v.SetActive(b, nil))
	_, ok = v.FeetFor(w)
	assert.False(t, ok)
}
