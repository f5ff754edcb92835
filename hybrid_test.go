package cachekit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coredao-org/cachekit/codec"
	"github.com/coredao-org/cachekit/hasher"
)

func newTestCache(t *testing.T) *HybridCache {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Root = t.TempDir()
	cfg.AppID = "test"
	cfg.Disk.AutoIntervalSecs = 0

	c, err := NewHybridCache(cfg, codec.GobCodec{}, hasher.Keccak256Hasher{}, NoopEventSource())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSetGetHitsMemoryWithoutDisk(t *testing.T) {
	c := newTestCache(t)
	c.Set("a", "hello", 5)

	v, ok := c.Get("a", func() any { var s string; return &s }, 5)
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestSetSyncPersistsToDiskImmediately(t *testing.T) {
	c := newTestCache(t)
	ok := c.SetSync("a", "hello", 5)
	require.True(t, ok)

	c.mem.Clear() // force a disk read

	v, ok := c.Get("a", func() any { var s string; return &s }, 5)
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestGetPromotesDiskHitIntoMemory(t *testing.T) {
	c := newTestCache(t)
	require.True(t, c.SetSync("k", "promoted", 8))
	c.mem.Clear()
	require.False(t, c.mem.Contains("k"))

	v, ok := c.Get("k", func() any { var s string; return &s }, 8)
	require.True(t, ok)
	assert.Equal(t, "promoted", v)
	assert.True(t, c.mem.Contains("k"), "disk hit should promote into memory tier")
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := newTestCache(t)
	_, ok := c.Get("missing", func() any { var s string; return &s }, 0)
	assert.False(t, ok)
}

func TestGetAsyncHitsMemorySynchronously(t *testing.T) {
	c := newTestCache(t)
	c.Set("a", "sync-hit", 1)

	called := false
	c.GetAsync("a", func() any { var s string; return &s }, 1, func(value any, ok bool) {
		called = true
		assert.True(t, ok)
		assert.Equal(t, "sync-hit", value)
	})
	assert.True(t, called, "memory hit must call done before returning")
}

func TestGetAsyncDiskHitPassesDecodedValueNotZeroValue(t *testing.T) {
	c := newTestCache(t)
	require.True(t, c.SetSync("k", "decoded", 3))
	c.mem.Clear()

	var wg sync.WaitGroup
	wg.Add(1)
	var got any
	var hit bool
	c.GetAsync("k", func() any { var s string; return &s }, 3, func(value any, ok bool) {
		got, hit = value, ok
		wg.Done()
	})
	wg.Wait()

	require.True(t, hit)
	assert.Equal(t, "decoded", got, "async disk hit must deliver the actual decoded value, not an unset zero value")
}

func TestRemoveEvictsFromBothTiers(t *testing.T) {
	c := newTestCache(t)
	require.True(t, c.SetSync("a", "v", 1))
	c.Remove("a")

	assert.False(t, c.Contains("a"))
}

func TestClearWipesBothTiers(t *testing.T) {
	c := newTestCache(t)
	require.True(t, c.SetSync("a", "v", 1))
	require.True(t, c.SetSync("b", "v", 1))

	require.NoError(t, c.Clear())
	assert.Equal(t, uint64(0), c.TotalCount())
}

func TestCloseTwiceReturnsErrClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Root = t.TempDir()
	cfg.AppID = "test"
	cfg.Disk.AutoIntervalSecs = 0

	c, err := NewHybridCache(cfg, codec.GobCodec{}, hasher.Keccak256Hasher{}, NoopEventSource())
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.Equal(t, ErrClosed, c.Close())
}

func TestStartMaintenanceIsNoopWithZeroInterval(t *testing.T) {
	c := newTestCache(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	c.StartMaintenance(ctx) // must not panic or block
}
