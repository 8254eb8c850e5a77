package assetcache

import (
	"context"

	"github.com/unkn0wn-root/assetcache/backend"
)

// HandleID names one vintage of a pooled handle: the slot is fixed for the
// handle's lifetime, the generation moves every time the handle is reset.
// Holding a HandleID across a recycle is how stale use is detected.
type HandleID struct {
	Slot       int
	Generation uint64
}

// Handle is a session-scoped owner of cache references. It supports bulk
// release and is immune to stale asynchronous results: every load is tagged
// with the generation captured at call time, and a result arriving after
// the generation moved is discarded with its speculative reference
// compensated.
//
// Handles are pooled. After Recycle the handle must not be used; a fresh
// one comes from Engine.Allocate.
type Handle struct {
	eng  *Engine
	slot int

	// generation and owned are guarded by the engine mutex: handle resets
	// and reference bookkeeping must be atomic relative to settling loads.
	generation uint64
	active     bool
	owned      map[Key]struct{}
}

// Result is the outcome of an asynchronous load.
type Result struct {
	Asset backend.Asset
	Err   error
}

// Allocate draws a Handle from the pool (LIFO) or constructs a new one.
// The handle starts Active with a bumped generation and no owned keys.
func (e *Engine) Allocate() *Handle {
	e.mu.Lock()
	var h *Handle
	if n := len(e.free); n > 0 {
		h = e.free[n-1]
		e.free[n-1] = nil
		e.free = e.free[:n-1]
	} else {
		h = &Handle{eng: e, slot: e.nextSlot}
		e.nextSlot++
	}
	h.generation++
	h.active = true
	h.owned = make(map[Key]struct{})
	e.mu.Unlock()
	return h
}

// ID returns the handle's current (slot, generation) identity.
func (h *Handle) ID() HandleID {
	h.eng.mu.Lock()
	defer h.eng.mu.Unlock()
	return HandleID{Slot: h.slot, Generation: h.generation}
}

// Owned returns a snapshot of the keys this handle currently holds.
func (h *Handle) Owned() []Key {
	h.eng.mu.Lock()
	defer h.eng.mu.Unlock()
	out := make([]Key, 0, len(h.owned))
	for k := range h.owned {
		out = append(out, k)
	}
	return out
}

// Load obtains the resource at key, recording the reference in this
// handle's owned set. Prefers the backend's synchronous fetch when one is
// offered. A missing resource returns NotFoundError; callers branch on it
// without unwinding control flow.
func (h *Handle) Load(ctx context.Context, key Key) (backend.Asset, error) {
	gen, ok := h.snapshot()
	if !ok {
		return nil, ErrHandleRecycled
	}
	asset, err := h.eng.acquire(ctx, key, true)
	if err != nil {
		return nil, err
	}
	if !h.adopt(key, gen) {
		return nil, ErrHandleRecycled
	}
	return asset, nil
}

// LoadAsync starts the load in a separate goroutine and returns a channel
// that receives exactly one Result — unless the handle is reset before the
// fetch settles, in which case the reference is compensated and the channel
// is closed without a value (the stale result is never surfaced).
func (h *Handle) LoadAsync(ctx context.Context, key Key) <-chan Result {
	ch := make(chan Result, 1)
	gen, ok := h.snapshot()
	if !ok {
		ch <- Result{Err: ErrHandleRecycled}
		close(ch)
		return ch
	}
	go func() {
		asset, err := h.eng.acquire(ctx, key, false)
		if err != nil {
			ch <- Result{Err: err}
			close(ch)
			return
		}
		if !h.adopt(key, gen) {
			close(ch)
			return
		}
		ch <- Result{Asset: asset}
		close(ch)
	}()
	return ch
}

// Unload drops this handle's hold on key. Not owning the key is a no-op.
func (h *Handle) Unload(key Key) {
	h.eng.mu.Lock()
	if _, ok := h.owned[key]; !ok {
		h.eng.mu.Unlock()
		return
	}
	delete(h.owned, key)
	h.eng.mu.Unlock()
	h.eng.release(key)
}

// ReleaseAll drops every hold and bumps the generation, invalidating any
// still-outstanding async load issued under the prior generation.
func (h *Handle) ReleaseAll() {
	h.eng.mu.Lock()
	keys := make([]Key, 0, len(h.owned))
	for k := range h.owned {
		keys = append(keys, k)
	}
	h.owned = make(map[Key]struct{})
	h.generation++
	h.eng.mu.Unlock()

	for _, k := range keys {
		h.eng.release(k)
	}
}

// Recycle releases everything and returns the handle to the pool.
func (h *Handle) Recycle() {
	h.ReleaseAll()
	h.eng.mu.Lock()
	if h.active {
		h.active = false
		h.owned = nil
		h.eng.free = append(h.eng.free, h)
	}
	h.eng.mu.Unlock()
}

// snapshot captures the generation a load is issued under.
func (h *Handle) snapshot() (uint64, bool) {
	h.eng.mu.Lock()
	defer h.eng.mu.Unlock()
	return h.generation, h.active
}

// adopt records a settled load into the owned set iff the handle still is
// on the generation the load was issued under. A stale or duplicate result
// compensates the coordinator's increment exactly once so the cache
// refcount stays equal to the number of distinct (handle, key) holds.
func (h *Handle) adopt(key Key, gen uint64) bool {
	h.eng.mu.Lock()
	if !h.active || h.generation != gen {
		slot := h.slot
		h.eng.mu.Unlock()
		h.eng.release(key)
		h.eng.hooks.StaleResult(key, slot, gen)
		h.eng.log.Debug("stale load compensated", Fields{
			"key": key.String(), "slot": slot, "generation": gen,
		})
		return false
	}
	if _, already := h.owned[key]; already {
		h.eng.mu.Unlock()
		// second load of an owned key: keep a single hold per (handle, key)
		h.eng.release(key)
		return true
	}
	h.owned[key] = struct{}{}
	h.eng.mu.Unlock()
	return true
}
