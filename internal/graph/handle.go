package graph

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// Handle is the explicit, shared reference to one Store. Readers call Store
// methods directly; every mutation that must not interleave with another
// goes through Exclusive. Construct one per store and pass it explicitly.
type Handle struct {
	Store Store

	writer *semaphore.Weighted
}

// NewHandle wraps s.
func NewHandle(s Store) *Handle {
	return &Handle{Store: s, writer: semaphore.NewWeighted(1)}
}

// Exclusive runs fn while holding the writer lock. Waiting for the lock
// honors ctx; a cancelled or expired ctx returns a StoreError without
// running fn.
func (h *Handle) Exclusive(ctx context.Context, fn func(Store) error) error {
	if err := h.writer.Acquire(ctx, 1); err != nil {
		return &entity.StoreError{Backend: "handle", Op: "acquire writer lock", Err: err}
	}
	defer h.writer.Release(1)
	return fn(h.Store)
}

// Close closes the underlying store.
func (h *Handle) Close() error {
	return h.Store.Close()
}
