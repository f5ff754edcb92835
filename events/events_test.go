package events

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualSourceFiresRegisteredCallbacks(t *testing.T) {
	m := NewManualSource()
	var warned, backgrounded bool
	m.OnMemoryWarning(func() { warned = true })
	m.OnBackground(func() { backgrounded = true })

	m.NotifyMemoryWarning()
	assert.True(t, warned)
	assert.False(t, backgrounded)

	m.NotifyBackground()
	assert.True(t, backgrounded)
}

func TestManualSourceSupportsMultipleListeners(t *testing.T) {
	m := NewManualSource()
	count := 0
	m.OnMemoryWarning(func() { count++ })
	m.OnMemoryWarning(func() { count++ })

	m.NotifyMemoryWarning()
	assert.Equal(t, 2, count)
}

func TestReadSomeAvg10ParsesPSIFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory")
	content := "some avg10=12.34 avg60=5.00 avg300=1.00 total=999\nfull avg10=1.00 avg60=0.50 avg300=0.10 total=1\n"
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err)

	v, ok := readSomeAvg10(path)
	assert.True(t, ok)
	assert.InDelta(t, 12.34, v, 0.001)
}

func TestCgroupPressureSourceDisablesWhenFileMissing(t *testing.T) {
	src := NewCgroupPressureSource(filepath.Join(t.TempDir(), "missing"), 50, time.Millisecond)
	// Start must not panic or block when the pressure file is absent.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.Start(ctx)
}
