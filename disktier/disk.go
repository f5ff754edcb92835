// Package disktier wraps diskstore.Store with an async execution model
// (backed by an ants goroutine pool), a GC-friendly read accelerator
// (VictoriaMetrics/fastcache, grounded on the teacher's pathdb disk layer
// clean-cache), and the periodic trim/expiry maintenance loop.
package disktier

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/panjf2000/ants/v2"
	_ "go.uber.org/automaxprocs" // side-effect import: sizes runtime.GOMAXPROCS to the container CPU quota

	"github.com/coredao-org/cachekit/codec"
	"github.com/coredao-org/cachekit/diskstore"
	"github.com/coredao-org/cachekit/log"
)

// Codec is the subset of cachekit.Codec disktier needs.
type Codec interface {
	Encode(value any) ([]byte, error)
	Decode(data []byte, out any) error
}

// Config tunes the disk tier's limits and maintenance cadence. A zero
// limit disables that dimension of trimming; a zero AutoIntervalSecs
// disables the periodic maintenance loop entirely.
type Config struct {
	CostLimit          uint64
	CountLimit         uint64
	InlineThreshold    uint64
	MaxCachePeriodSecs uint64
	AutoIntervalSecs   uint64

	// ReadAcceleratorBytes sizes the fastcache read accelerator; 0
	// disables it.
	ReadAcceleratorBytes int
}

// Tier is the disk-backed cache tier. Synchronous methods block on the
// underlying SQLite store; Async variants run the same operation on a
// bounded goroutine pool and deliver the result via callback, so the
// caller does not wait for the disk work itself. Submitting blocks while
// every pool worker is busy.
type Tier struct {
	maintMu sync.Mutex
	store   *diskstore.Store
	codec   Codec
	cfg     Config
	clean   *fastcache.Cache
	pool    *ants.Pool
	logger  log.Logger

	stopMaintenance context.CancelFunc
}

// New wraps store with the given codec and config, sizing the async
// executor pool to four times runtime.GOMAXPROCS(0) (which automaxprocs has already
// adjusted to the container's CPU quota, if any).
func New(store *diskstore.Store, c Codec, cfg Config) (*Tier, error) {
	if c == nil {
		c = codec.GobCodec{}
	}
	poolSize := runtime.GOMAXPROCS(0) * 4
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}

	t := &Tier{
		store:  store,
		codec:  c,
		cfg:    cfg,
		pool:   pool,
		logger: log.New("component", "disktier"),
	}
	if cfg.ReadAcceleratorBytes > 0 {
		t.clean = fastcache.New(cfg.ReadAcceleratorBytes)
	}
	return t, nil
}

// StartMaintenance launches the periodic trim/expiry loop, running every
// cfg.AutoIntervalSecs seconds until ctx is canceled or Close is called.
// It is a no-op if AutoIntervalSecs is 0.
func (t *Tier) StartMaintenance(ctx context.Context) {
	if t.cfg.AutoIntervalSecs == 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.stopMaintenance = cancel
	interval := time.Duration(t.cfg.AutoIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.runMaintenance()
			}
		}
	}()
}

func (t *Tier) runMaintenance() {
	t.maintMu.Lock()
	defer t.maintMu.Unlock()

	t.logger.Debug("running disk tier maintenance")
	t.removeExpired()
	t.trimCount()
	t.trimCost()
	t.store.Checkpoint()
}

// Set stores value under key, encoding it with the tier's codec and
// choosing inline vs sidecar storage based on cfg.InlineThreshold.
func (t *Tier) Set(key string, value any) bool {
	data, err := t.codec.Encode(value)
	if err != nil {
		t.logger.Warn("encode failed", "key", key, "err", err)
		return false
	}

	filename := ""
	if t.cfg.InlineThreshold > 0 && uint64(len(data)) > t.cfg.InlineThreshold {
		filename = sidecarFilename(key)
	}
	ok := t.store.Write(key, data, filename)
	if ok && t.clean != nil {
		t.clean.Set([]byte(key), data)
	}
	return ok
}

// sidecarFilename derives a sidecar filename from key using URL-safe
// base64 (no padding), per SPEC_FULL.md's "url-safe-base64 encoding of
// the raw key" — never the literal key, which could contain "/" or ".."
// and escape the cache directory when joined into a path.
func sidecarFilename(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key)) + ".bin"
}

// SetAsync runs Set on the tier's goroutine pool and invokes done with
// the result once it completes. done may be nil.
func (t *Tier) SetAsync(key string, value any, done func(ok bool)) {
	_ = t.pool.Submit(func() {
		ok := t.Set(key, value)
		if done != nil {
			done(ok)
		}
	})
}

// Get decodes the value stored under key into out (a pointer), and
// reports whether key was present.
func (t *Tier) Get(key string, out any) bool {
	data, found := t.getBytes(key)
	if !found {
		return false
	}
	if err := t.codec.Decode(data, out); err != nil {
		t.logger.Warn("decode failed", "key", key, "err", err)
		return false
	}
	return true
}

func (t *Tier) getBytes(key string) ([]byte, bool) {
	if t.clean != nil {
		if data, found := t.clean.HasGet(nil, []byte(key)); found {
			return data, true
		}
	}
	data, found := t.store.Read(key)
	if found && t.clean != nil {
		t.clean.Set([]byte(key), data)
	}
	return data, found
}

// GetAsync runs Get on the tier's goroutine pool and invokes done with
// the decoded value and hit flag. Unlike the flagged bug in the source
// implementation, a disk hit always passes the value actually decoded
// from the row — never a caller-supplied zero value left unset on the
// hit path.
func (t *Tier) GetAsync(key string, newOut func() any, done func(value any, ok bool)) {
	_ = t.pool.Submit(func() {
		out := newOut()
		ok := t.Get(key, out)
		if done != nil {
			done(out, ok)
		}
	})
}

// Contains reports whether key is present, without decoding its value.
func (t *Tier) Contains(key string) bool {
	return t.store.Contains(key)
}

// Remove deletes key from the disk store and read accelerator.
func (t *Tier) Remove(key string) {
	t.store.Remove(key)
	if t.clean != nil {
		t.clean.Del([]byte(key))
	}
}

// RemoveAsync runs Remove on the tier's goroutine pool.
func (t *Tier) RemoveAsync(key string, done func()) {
	_ = t.pool.Submit(func() {
		t.Remove(key)
		if done != nil {
			done()
		}
	})
}

// Clear wipes the entire disk store and read accelerator.
func (t *Tier) Clear() error {
	if t.clean != nil {
		t.clean.Reset()
	}
	return t.store.RemoveAll()
}

// TotalCost returns the sum of stored sizes across every resident entry.
func (t *Tier) TotalCost() uint64 {
	return uint64(t.store.TotalSize())
}

// TotalCount returns the number of resident entries.
func (t *Tier) TotalCount() uint64 {
	return uint64(t.store.TotalCount())
}

func (t *Tier) removeExpired() {
	if t.cfg.MaxCachePeriodSecs == 0 {
		return
	}
	cutoff := time.Now().Unix() - int64(t.cfg.MaxCachePeriodSecs)
	names := t.store.ExpiredFilenames(cutoff)
	for _, name := range names {
		path := filepath.Join(t.store.Dir(), name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("failed to remove expired sidecar", "filename", name, "err", err)
			continue
		}
		t.logger.Debug("expired sidecar removed", "filename", name)
	}
	if t.store.DeleteExpired(cutoff) && t.clean != nil {
		t.clean.Reset()
	}
}

// trimCount and trimCost loop over the oldest rows, removing entries
// until the tier is within its configured limits — the same
// loop-until-satisfied correction applied to memtier, rather than the
// single-entry-per-maintenance-tick trim the source cache used.
func (t *Tier) trimCount() {
	if t.cfg.CountLimit == 0 {
		return
	}
	for uint64(t.store.TotalCount()) > t.cfg.CountLimit {
		items := t.store.OldestItems(16)
		if len(items) == 0 {
			return
		}
		for _, item := range items {
			if uint64(t.store.TotalCount()) <= t.cfg.CountLimit {
				return
			}
			t.Remove(item.Key)
		}
	}
}

func (t *Tier) trimCost() {
	if t.cfg.CostLimit == 0 {
		return
	}
	for uint64(t.store.TotalSize()) > t.cfg.CostLimit {
		items := t.store.OldestItems(16)
		if len(items) == 0 {
			return
		}
		for _, item := range items {
			if uint64(t.store.TotalSize()) <= t.cfg.CostLimit {
				return
			}
			t.Remove(item.Key)
		}
	}
}

// Close stops the maintenance loop and releases the goroutine pool. The
// underlying store is left open; the caller owns its lifecycle.
func (t *Tier) Close() {
	if t.stopMaintenance != nil {
		t.stopMaintenance()
	}
	t.pool.Release()
}
