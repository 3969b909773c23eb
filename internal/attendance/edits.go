package attendance

import (
	"maps"
	"sync"
)

// PendingEdits buffers desired presence values that have not been sent to
// the server yet. It is only ever cleared as a whole.
type PendingEdits struct {
	mu    sync.RWMutex
	edits map[string]bool
}

// NewPendingEdits returns an empty buffer.
func NewPendingEdits() *PendingEdits {
	return &PendingEdits{edits: make(map[string]bool)}
}

// Set records the desired value for key, overwriting any earlier edit.
func (p *PendingEdits) Set(key string, desired bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edits[key] = desired
}

// Get returns the pending value for key, if any.
func (p *PendingEdits) Get(key string) (bool, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.edits[key]
	return v, ok
}

// Clear drops every pending edit.
func (p *PendingEdits) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.edits)
}

// EffectiveFor returns the pending value for key, or original when there is none.
func (p *PendingEdits) EffectiveFor(key string, original bool) bool {
	if v, ok := p.Get(key); ok {
		return v
	}
	return original
}

// Len is the number of pending edits.
func (p *PendingEdits) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.edits)
}

// Snapshot returns a copy of the buffer.
func (p *PendingEdits) Snapshot() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.edits)
}
