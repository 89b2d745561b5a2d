package core

import (
	"sync"
	"time"
)

// NodeHealth captures lifecycle timing for one node, mirroring the
// teacher's ModuleHealth (system/core/health.go) but keyed to node
// semantics (NodeState/LinkState) instead of generic service-module status.
type NodeHealth struct {
	Name         string
	State        NodeState
	Link         LinkState
	LastError    string
	StartedAt    *time.Time
	StateChanged time.Time
}

// HealthMonitor tracks the most recent NodeHealth observed for every node,
// used by diagnostics (GET_NODE_STATE) and by the manager to log state
// transitions.
type HealthMonitor struct {
	mu     sync.RWMutex
	health map[string]NodeHealth
}

// NewHealthMonitor builds an empty monitor.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{health: make(map[string]NodeHealth)}
}

// Record stores the latest state/link/error observed for a node.
func (h *HealthMonitor) Record(name string, state NodeState, link LinkState, lastErr string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UTC()
	existing := h.health[name]
	rec := NodeHealth{
		Name:         name,
		State:        state,
		Link:         link,
		LastError:    lastErr,
		StartedAt:    existing.StartedAt,
		StateChanged: now,
	}
	if state == StateRunning && existing.StartedAt == nil {
		rec.StartedAt = &now
	}
	h.health[name] = rec
}

// Get returns the last recorded health for a node.
func (h *HealthMonitor) Get(name string) (NodeHealth, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.health[name]
	return rec, ok
}

// Delete removes a node's recorded health, called when the node is deleted.
func (h *HealthMonitor) Delete(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.health, name)
}

// All returns every recorded node health entry.
func (h *HealthMonitor) All() []NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]NodeHealth, 0, len(h.health))
	for _, rec := range h.health {
		out = append(out, rec)
	}
	return out
}
