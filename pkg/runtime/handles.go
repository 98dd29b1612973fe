package runtime

import (
	"sync"
	"sync/atomic"
)

// Handles implements the re-engineered pointer-integer marshalling of
// SPEC_FULL §9 (design note on pointer-to-int / int-to-pointer): a
// per-process table keyed by a u64, so two same-node tasks can exchange
// ownership of an in-memory H-block by swapping the key instead of a raw
// address. The DSGD+ fast path (§4.6) uses this for same-node peer
// hand-off; cross-node peers exchange the dense bytes instead (see
// pkg/runtime/transport).
type Handles struct {
	next  uint64
	mu    sync.RWMutex
	table map[uint64]interface{}
}

// Put installs value under a freshly allocated handle and returns it.
func (h *Handles) Put(value interface{}) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.table == nil {
		h.table = make(map[uint64]interface{})
	}
	id := atomic.AddUint64(&h.next, 1)
	h.table[id] = value
	return id
}

// Get retrieves the value for handle, and whether it was present.
func (h *Handles) Get(handle uint64) (interface{}, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.table[handle]
	return v, ok
}

// Take retrieves and removes the value for handle — the "re-point, don't
// copy" operation used when a task hands an H-block to a same-node peer:
// the sender's handle becomes invalid and the receiver mints (or reuses)
// its own handle for the same underlying value via Put.
func (h *Handles) Take(handle uint64) (interface{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.table[handle]
	if ok {
		delete(h.table, handle)
	}
	return v, ok
}

// Exchange atomically replaces the value at handle and returns the
// previous one, used when a task swaps its (H, Hprev) pair in place.
func (h *Handles) Exchange(handle uint64, value interface{}) (interface{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	old, ok := h.table[handle]
	h.table[handle] = value
	return old, ok
}
