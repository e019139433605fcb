package signal

import (
	"context"
	"sync"
)

// SignalCancel is the conventional name for run cancellation signals.
const SignalCancel = "cancel"

// Hub tracks in-flight runs so signal handlers can reach them.
// Register a run's cancel function when it starts and unregister when it
// finishes; the cancel handler from BindCancel then works for any run.
type Hub struct {
	mu      sync.RWMutex
	cancels map[string]context.CancelFunc
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		cancels: make(map[string]context.CancelFunc),
	}
}

// Track registers a run's cancel function.
// Replaces any previous registration for the same run ID.
func (h *Hub) Track(runID string, cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancels[runID] = cancel
}

// Release removes a run from the hub.
// Safe to call for runs that were never tracked.
func (h *Hub) Release(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.cancels, runID)
}

// Cancel cancels a tracked run. Returns false if the run is not tracked.
func (h *Hub) Cancel(runID string) bool {
	h.mu.RLock()
	cancel, ok := h.cancels[runID]
	h.mu.RUnlock()

	if !ok {
		return false
	}
	cancel()
	return true
}

// Active returns the IDs of all tracked runs.
func (h *Hub) Active() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.cancels))
	for id := range h.cancels {
		ids = append(ids, id)
	}
	return ids
}

// IsActive reports whether a run is currently tracked.
func (h *Hub) IsActive(runID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.cancels[runID]
	return ok
}

// BindCancel registers the standard cancel handler on a registry.
// Cancel signals for untracked runs succeed silently; the run may have
// already finished.
func BindCancel(reg *Registry, hub *Hub) {
	reg.MustRegister(SignalCancel, func(_ context.Context, runID string, _ *Signal) error {
		hub.Cancel(runID)
		return nil
	})
}
