package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	a := Key("openai:gpt-4o-mini", "machiavellian illiterate hello")
	assert.True(t, strings.HasPrefix(a, keyPrefix))
	assert.Equal(t, a, Key("openai:gpt-4o-mini", "machiavellian illiterate hello"))
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
	assert.NotEqual(t, Key("x"), Key("x", ""))
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)

	value := []byte("0.1,0.9")
	require.NoError(t, c.Set("k", value, 0))
	value[0] = 'X'

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "0.1,0.9", string(got), "cache must keep its own copy")
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Delete("k"))
	_, ok = c.Get("k")
	assert.False(t, ok)

	require.NoError(t, c.Set("a", []byte("1"), 0))
	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Len())
}

func TestDiskCache(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir, time.Hour)
	key := Key("candidate", "probe")

	_, ok := c.Get(key)
	assert.False(t, ok)

	require.NoError(t, c.Set(key, []byte("payload"), 0))
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "payload", string(got))

	// A second instance sees the same entry
	got, ok = NewDiskCache(dir, time.Hour).Get(key)
	require.True(t, ok)
	assert.Equal(t, "payload", string(got))

	require.NoError(t, c.Delete(key))
	require.NoError(t, c.Delete(key), "deleting a missing entry is fine")
}

func TestDiskCacheExpiry(t *testing.T) {
	c := NewDiskCache(t.TempDir(), time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	key := Key("k")
	require.NoError(t, c.Set(key, []byte("v"), 0))

	now = now.Add(2 * time.Minute)
	_, ok := c.Get(key)
	assert.False(t, ok)
	_, err := os.Stat(c.path(key))
	assert.True(t, os.IsNotExist(err), "expired entry is removed")
}

func TestDiskCacheCorruptEntry(t *testing.T) {
	c := NewDiskCache(t.TempDir(), time.Minute)
	key := Key("k")
	require.NoError(t, os.MkdirAll(filepath.Dir(c.path(key)), 0755))
	require.NoError(t, os.WriteFile(c.path(key), []byte("{not json"), 0644))

	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestLayeredCachePromotes(t *testing.T) {
	mem := NewMemoryCache(time.Minute, time.Minute)
	disk := NewDiskCache(t.TempDir(), time.Hour)
	c := NewLayered(mem, disk)
	key := Key("k")

	require.NoError(t, disk.Set(key, []byte("from-disk"), 0))
	assert.Equal(t, 0, mem.Len())

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "from-disk", string(got))
	assert.Equal(t, 1, mem.Len())

	require.NoError(t, c.Delete(key))
	_, ok = c.Get(key)
	assert.False(t, ok)
}

func TestNoop(t *testing.T) {
	var c Cache = Noop{}
	require.NoError(t, c.Set("k", []byte("v"), 0))
	_, ok := c.Get("k")
	assert.False(t, ok)
}
