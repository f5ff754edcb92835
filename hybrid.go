package cachekit

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/coredao-org/cachekit/disktier"
	"github.com/coredao-org/cachekit/diskstore"
	"github.com/coredao-org/cachekit/memtier"
)

// HybridCache is the public cache facade: a synchronous memory tier in
// front of an async-capable disk tier. A Get that misses memory but hits
// disk promotes the value back into memory before returning, so repeat
// reads of the same key stay in the fast tier.
type HybridCache struct {
	mem   *memtier.Tier
	disk  *disktier.Tier
	store *diskstore.Store
	cfg   Config

	// promoteGroup deduplicates concurrent disk reads for the same key:
	// if two goroutines miss memory for "k" at once, only one of them
	// actually hits SQLite.
	promoteGroup singleflight.Group

	closed atomic.Bool
}

// NewHybridCache opens a HybridCache rooted at cfg.Root/diskcache.<cfg.AppID>,
// using codec to serialize values for the disk tier, hasher to derive the
// per-row key digest the disk store records, and events to drive the
// memory tier's auto-purge hooks. Pass NoopEventSource() for events if
// the host has no memory-pressure signal to offer.
func NewHybridCache(cfg Config, codec Codec, hasher Hasher, events EventSource) (*HybridCache, error) {
	if events == nil {
		events = NoopEventSource()
	}
	if cfg.AppID == "" {
		cfg.AppID = uuid.NewString()
	}

	store, err := diskstore.Open(cfg.Root, cfg.AppID, hasher)
	if err != nil {
		return nil, fmt.Errorf("cachekit: open disk store: %w", err)
	}

	disk, err := disktier.New(store, codec, disktier.Config{
		CostLimit:            cfg.Disk.CostLimit,
		CountLimit:           cfg.Disk.CountLimit,
		InlineThreshold:      cfg.Disk.InlineThreshold,
		MaxCachePeriodSecs:   cfg.Disk.MaxCachePeriodSecs,
		AutoIntervalSecs:     cfg.Disk.AutoIntervalSecs,
		ReadAcceleratorBytes: cfg.Disk.ReadAcceleratorBytes,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("cachekit: build disk tier: %w", err)
	}

	mem := memtier.New(memtier.Config{
		CostLimit:                cfg.Memory.CostLimit,
		CountLimit:               cfg.Memory.CountLimit,
		AutoPurgeOnMemoryWarning: cfg.Memory.AutoPurgeOnMemoryWarning,
		AutoPurgeOnBackground:    cfg.Memory.AutoPurgeOnBackground,
	}, events)

	return &HybridCache{mem: mem, disk: disk, store: store, cfg: cfg}, nil
}

// StartMaintenance launches the disk tier's periodic trim/expiry loop.
// It is a no-op if cfg.Disk.AutoIntervalSecs is 0.
func (c *HybridCache) StartMaintenance(ctx context.Context) {
	c.disk.StartMaintenance(ctx)
}

// Set stores value under key in the memory tier immediately, and queues
// an async write to the disk tier so the caller does not wait for the
// disk write itself. Queueing blocks while every pool worker is busy.
func (c *HybridCache) Set(key string, value any, cost uint64) {
	c.mem.Set(key, value, cost)
	c.disk.SetAsync(key, value, nil)
}

// SetSync stores value under key in both tiers, blocking until the disk
// write completes. Use this when the caller needs a durability guarantee
// before proceeding (e.g. before acknowledging a write to an upstream
// caller).
func (c *HybridCache) SetSync(key string, value any, cost uint64) bool {
	c.mem.Set(key, value, cost)
	return c.disk.Set(key, value)
}

// Get returns the value stored under key. A memory hit returns
// immediately without touching disk. A memory miss falls through to a
// synchronous disk read; a disk hit is decoded into a freshly allocated
// zero value of newOut's return type, promoted into the memory tier, and
// returned.
//
// Per MemoryTier's documented semantics, a memory hit does not change
// write-order recency. A promotion does: it inserts at the head because
// it is a fresh Set into the memory tier.
func (c *HybridCache) Get(key string, newOut func() any, cost uint64) (any, bool) {
	if value, ok := c.mem.Get(key); ok {
		return value, true
	}

	result, err, _ := c.promoteGroup.Do(key, func() (any, error) {
		out := newOut()
		if !c.disk.Get(key, out) {
			return nil, errNotFound
		}
		value := derefValue(out)
		c.mem.Set(key, value, cost)
		return value, nil
	})
	if err != nil {
		return nil, false
	}
	return result, true
}

// GetAsync resolves Get on the disk tier's goroutine pool when memory
// misses, so a caller on a latency-sensitive path can fire the read
// without blocking on SQLite itself. A memory hit still calls done
// synchronously, matching the common case's zero-latency path.
func (c *HybridCache) GetAsync(key string, newOut func() any, cost uint64, done func(value any, ok bool)) {
	if value, ok := c.mem.Get(key); ok {
		done(value, true)
		return
	}
	c.disk.GetAsync(key, newOut, func(value any, ok bool) {
		if !ok {
			done(nil, false)
			return
		}
		decoded := derefValue(value)
		c.mem.Set(key, decoded, cost)
		done(decoded, true)
	})
}

// Contains reports whether key is resident in either tier.
func (c *HybridCache) Contains(key string) bool {
	return c.mem.Contains(key) || c.disk.Contains(key)
}

// Remove evicts key from both tiers.
func (c *HybridCache) Remove(key string) {
	c.mem.Remove(key)
	c.disk.Remove(key)
}

// RemoveAsync evicts key from memory synchronously and from disk on the
// tier's goroutine pool.
func (c *HybridCache) RemoveAsync(key string, done func()) {
	c.mem.Remove(key)
	c.disk.RemoveAsync(key, done)
}

// Clear wipes both tiers.
func (c *HybridCache) Clear() error {
	c.mem.Clear()
	return c.disk.Clear()
}

// TotalCost returns the disk tier's total resident size (the sum of the
// stored encoded byte lengths). Entries that are only in the memory tier,
// such as those whose async disk write has not finished, are not counted.
func (c *HybridCache) TotalCost() uint64 {
	return c.disk.TotalCost()
}

// TotalCount returns the disk tier's total resident entry count.
func (c *HybridCache) TotalCount() uint64 {
	return c.disk.TotalCount()
}

// Close releases both tiers' resources. The cache must not be used after
// Close returns. Calling Close more than once returns ErrClosed instead
// of closing the underlying store twice.
func (c *HybridCache) Close() error {
	if c.closed.Swap(true) {
		return ErrClosed
	}
	c.disk.Close()
	return c.store.Close()
}

var errNotFound = errors.New("cachekit: key not found")

// derefValue returns the value pointed to by out, which must be a
// pointer (as produced by a newOut callback), so memory promotion stores
// the decoded value itself rather than a pointer to it.
func derefValue(out any) any {
	return reflect.ValueOf(out).Elem().Interface()
}
