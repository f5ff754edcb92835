// Package memtier implements the synchronous, in-memory tier of the
// cache: a mutex-guarded intrusive LRU enforcing a cost limit and a count
// limit, self-purging on host memory-pressure and background-transition
// events.
package memtier

import (
	"sync"

	"github.com/coredao-org/cachekit/internal/lru"
	"github.com/coredao-org/cachekit/log"
)

// EventSource is the subset of cachekit.EventSource a Tier needs; it is
// declared locally so this package does not import the root package
// (which in turn depends on memtier through HybridCache).
type EventSource interface {
	OnMemoryWarning(fn func())
	OnBackground(fn func())
}

// Config tunes eviction and auto-purge behavior. A zero limit disables
// that dimension of trimming.
type Config struct {
	CostLimit                uint64
	CountLimit               uint64
	AutoPurgeOnMemoryWarning bool
	AutoPurgeOnBackground    bool
}

// Tier is the in-memory cache tier. All exported methods are synchronous
// and safe for concurrent use.
type Tier struct {
	mu     sync.Mutex
	list   *lru.List
	cfg    Config
	logger log.Logger
}

// New constructs a Tier and registers it with events so memory-warning
// and background-entry signals trigger Clear per cfg's auto-purge flags.
func New(cfg Config, events EventSource) *Tier {
	t := &Tier{
		list:   lru.New(),
		cfg:    cfg,
		logger: log.New("component", "memtier"),
	}
	if events == nil {
		return t
	}
	events.OnMemoryWarning(func() {
		if t.cfg.AutoPurgeOnMemoryWarning {
			t.logger.Debug("clearing on memory warning")
			t.Clear()
		}
	})
	events.OnBackground(func() {
		if t.cfg.AutoPurgeOnBackground {
			t.logger.Debug("clearing on background transition")
			t.Clear()
		}
	})
	return t
}

// Set stores value under key with the given cost, overwriting any
// existing entry and moving it to the head, then trims to the configured
// limits.
func (t *Tier) Set(key string, value any, cost uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.list.SetValue(key, value, cost) {
		t.list.InsertAtHead(key, value, cost)
	}
	t.trimCountLocked()
	t.trimCostLocked()
}

// Get returns the value stored under key, if any. It does not affect
// recency: the memory tier orders by last write, not last read (see
// package docs for MemoryTier in the design notes).
func (t *Tier) Get(key string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.list.Lookup(key)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Contains reports whether key is resident.
func (t *Tier) Contains(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.list.Contains(key)
}

// Remove evicts key, if present. It is a no-op for a missing key.
func (t *Tier) Remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.list.Remove(key)
}

// Clear drops every resident entry.
func (t *Tier) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.list.Clear()
}

// TotalCost returns the sum of Cost across every resident entry.
func (t *Tier) TotalCost() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.list.TotalCost()
}

// TotalCount returns the number of resident entries.
func (t *Tier) TotalCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.list.Len()
}

// trimCountLocked evicts from the tail until total count is within
// cfg.CountLimit, or no further progress can be made. Unlike the
// source implementation (which compares total count against the cost
// limit and drops at most one entry per write), this loops to the
// invariant and compares against the correct limit — see DESIGN.md's
// Open Question resolutions.
func (t *Tier) trimCountLocked() {
	if t.cfg.CountLimit == 0 {
		return
	}
	for t.list.Len() > 0 && uint64(t.list.Len()) > t.cfg.CountLimit {
		key, ok := t.list.RemoveTail()
		if !ok {
			return
		}
		t.logger.Debug("trimmed by count", "key", key)
	}
}

// trimCostLocked evicts from the tail until total cost is within
// cfg.CostLimit, or no further progress can be made.
func (t *Tier) trimCostLocked() {
	if t.cfg.CostLimit == 0 {
		return
	}
	for t.list.TotalCost() > t.cfg.CostLimit {
		key, ok := t.list.RemoveTail()
		if !ok {
			return
		}
		t.logger.Debug("trimmed by cost", "key", key)
	}
}
