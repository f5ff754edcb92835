package memtier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualEvents struct {
	warn, bg func()
}

func (m *manualEvents) OnMemoryWarning(fn func()) { m.warn = fn }
func (m *manualEvents) OnBackground(fn func())    { m.bg = fn }

func TestSetGetRoundTrip(t *testing.T) {
	tier := New(Config{}, nil)
	tier.Set("a", "hello", 5)

	v, ok := tier.Get("a")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestGetDoesNotPromoteRecency(t *testing.T) {
	tier := New(Config{CountLimit: 2}, nil)
	tier.Set("a", 1, 1)
	tier.Set("b", 2, 1)

	// Repeatedly reading "a" must not protect it from eviction: the
	// memory tier orders by last write, not last read.
	for i := 0; i < 5; i++ {
		tier.Get("a")
	}
	tier.Set("c", 3, 1)

	assert.False(t, tier.Contains("a"), "a should have been evicted despite reads")
	assert.True(t, tier.Contains("b"))
	assert.True(t, tier.Contains("c"))
}

func TestCountTrimLoopsUntilWithinLimit(t *testing.T) {
	tier := New(Config{CountLimit: 2}, nil)
	tier.Set("k1", 1, 1)
	tier.Set("k2", 2, 1)
	tier.Set("k3", 3, 1)

	assert.Equal(t, 2, tier.TotalCount())
	assert.True(t, tier.Contains("k3"))
	assert.False(t, tier.Contains("k1"), "oldest insertion should be evicted")
}

func TestCostTrimLoopsUntilWithinLimit(t *testing.T) {
	tier := New(Config{CostLimit: 10}, nil)
	tier.Set("a", 1, 3)
	tier.Set("b", 2, 3)
	tier.Set("c", 3, 9) // single write exceeding the limit must evict more than one tail entry if needed

	assert.LessOrEqual(t, tier.TotalCost(), uint64(10))
}

func TestZeroLimitsDisableTrimming(t *testing.T) {
	tier := New(Config{}, nil)
	for i := 0; i < 50; i++ {
		tier.Set(string(rune('a'+i%26)), i, 1)
	}
	assert.Greater(t, tier.TotalCount(), 0)
}

func TestRemoveAndClear(t *testing.T) {
	tier := New(Config{}, nil)
	tier.Set("a", 1, 1)
	tier.Remove("a")
	assert.False(t, tier.Contains("a"))

	tier.Set("b", 2, 1)
	tier.Set("c", 3, 1)
	tier.Clear()
	assert.Equal(t, 0, tier.TotalCount())
	assert.Equal(t, uint64(0), tier.TotalCost())
}

func TestMemoryWarningClearsWhenAutoPurgeEnabled(t *testing.T) {
	events := &manualEvents{}
	tier := New(Config{AutoPurgeOnMemoryWarning: true}, events)
	tier.Set("a", 1, 1)

	require.NotNil(t, events.warn)
	events.warn()

	assert.Equal(t, 0, tier.TotalCount())
}

func TestBackgroundDoesNotClearWhenAutoPurgeDisabled(t *testing.T) {
	events := &manualEvents{}
	tier := New(Config{AutoPurgeOnBackground: false}, events)
	tier.Set("a", 1, 1)

	require.NotNil(t, events.bg)
	events.bg()

	assert.Equal(t, 1, tier.TotalCount())
}

func TestInvariantTotalsAfterMixedOps(t *testing.T) {
	tier := New(Config{}, nil)
	tier.Set("a", 1, 3)
	tier.Set("b", 2, 4)
	tier.Set("a", 10, 7) // overwrite changes cost

	assert.Equal(t, 2, tier.TotalCount())
	assert.Equal(t, uint64(11), tier.TotalCost())
}
