// Package events supplies EventSource implementations that drive the
// cache's memory-warning and background-transition auto-purge hooks.
package events

import "sync"

// ManualSource is a test- and embedder-friendly EventSource: callers
// fire NotifyMemoryWarning/NotifyBackground explicitly instead of the
// source polling the host itself. Useful when the host process already
// has its own signal for "memory is tight" (a container OOM-score
// watcher, a UI lifecycle callback) and just needs to forward it.
type ManualSource struct {
	mu      sync.Mutex
	warnFns []func()
	bgFns   []func()
}

// NewManualSource returns a ready-to-use ManualSource.
func NewManualSource() *ManualSource { return &ManualSource{} }

// OnMemoryWarning registers fn to be called on NotifyMemoryWarning.
func (m *ManualSource) OnMemoryWarning(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnFns = append(m.warnFns, fn)
}

// OnBackground registers fn to be called on NotifyBackground.
func (m *ManualSource) OnBackground(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bgFns = append(m.bgFns, fn)
}

// NotifyMemoryWarning invokes every registered memory-warning callback.
func (m *ManualSource) NotifyMemoryWarning() {
	m.mu.Lock()
	fns := append([]func(){}, m.warnFns...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// NotifyBackground invokes every registered background callback.
func (m *ManualSource) NotifyBackground() {
	m.mu.Lock()
	fns := append([]func(){}, m.bgFns...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
