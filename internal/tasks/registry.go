// ABOUTME: Registry for fire-and-forget background operations
// ABOUTME: Tracks in-flight goroutines and prunes completed handles on each schedule

package tasks

import (
	"context"
	"log/slog"
	"sync"
)

// Registry launches fire-and-forget operations and keeps a handle for each
// until it finishes. Completed handles are pruned opportunistically on the
// next Schedule call, so memory stays bounded by the number of operations
// actually in flight rather than the cumulative scheduled count. The
// registry never sequences or cancels work: once scheduled, an operation
// runs to completion or failure on its own.
type Registry struct {
	mu       sync.Mutex
	inflight []chan struct{}
	logger   *slog.Logger
}

// NewRegistry creates a registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger.With("component", "tasks"),
	}
}

// Schedule launches fn concurrently with the caller and records a handle
// for it. Returns immediately; fn's outcome is never reported back.
func (r *Registry) Schedule(name string, fn func()) {
	done := make(chan struct{})

	r.mu.Lock()
	r.pruneLocked()
	r.inflight = append(r.inflight, done)
	pending := len(r.inflight)
	r.mu.Unlock()

	r.logger.Debug("task scheduled", "task", name, "in_flight", pending)

	go func() {
		defer close(done)
		fn()
	}()
}

// Len returns the number of in-flight operations after pruning completed
// handles. Used by health reporting and tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	return len(r.inflight)
}

// Wait blocks until every operation scheduled before the call has finished,
// or ctx expires. This is the drain hook: shutdown and tests use it to
// observe background writes deterministically instead of sleeping.
func (r *Registry) Wait(ctx context.Context) error {
	r.mu.Lock()
	pending := make([]chan struct{}, len(r.inflight))
	copy(pending, r.inflight)
	r.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// pruneLocked drops handles for completed operations. Must be called with
// mu held.
func (r *Registry) pruneLocked() {
	kept := r.inflight[:0]
	for _, done := range r.inflight {
		select {
		case <-done:
		default:
			kept = append(kept, done)
		}
	}
	// Zero the tail so finished channels are not retained by the backing array
	for i := len(kept); i < len(r.inflight); i++ {
		r.inflight[i] = nil
	}
	r.inflight = kept
}
