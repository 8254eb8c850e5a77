package assetcache

import (
	"context"

	"github.com/unkn0wn-root/assetcache/backend"
)

// State describes where a key sits in its lifecycle.
type State uint8

const (
	// StateLoading: a fetch is outstanding for the key.
	StateLoading State = iota + 1
	// StateReady: the asset is cached and referenced (or pinned).
	StateReady
	// StateInvalid: the engine was closed while the entry was live; its
	// asset has been released out from under any remaining holders.
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateInvalid:
		return "invalid"
	default:
		return "unloaded"
	}
}

// entry is one cached resource. Created the first time a fetch settles
// successfully, destroyed when refCount reaches zero and the entry is not
// pinned. Guarded by Engine.mu.
type entry struct {
	key      Key
	asset    backend.Asset
	refCount int
	pinned   bool
	state    State
}

// EntryInfo is a read-only snapshot of one key's cache state.
type EntryInfo struct {
	Key      Key
	State    State
	RefCount int
	Pinned   bool
}

// Info reports the cache state of key without affecting its refcount.
// The second return is false when the key is neither cached nor in flight.
func (e *Engine) Info(key Key) (EntryInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.entries[key]; ok {
		return EntryInfo{Key: key, State: ent.state, RefCount: ent.refCount, Pinned: ent.pinned}, true
	}
	if _, ok := e.inflight[key]; ok {
		return EntryInfo{Key: key, State: StateLoading}, true
	}
	return EntryInfo{}, false
}

// Pin marks a ready entry as immune to refcount-driven release. Its
// refcount keeps being tracked and may fall to zero, but the asset is never
// handed back to the backend. Returns false for unknown keys.
func (e *Engine) Pin(key Key) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[key]
	if !ok || ent.state != StateReady {
		return false
	}
	ent.pinned = true
	return true
}

// addRef increments a live entry. Callers hold e.mu.
func (e *Engine) addRefLocked(ent *entry) {
	ent.refCount++
}

// release decrements the refcount of key; at zero (and not pinned) the
// entry is removed and the asset handed back to its backend. Unknown keys
// and entries already at zero are no-ops so cleanup stays idempotent.
func (e *Engine) release(key Key) {
	e.mu.Lock()
	ent, ok := e.entries[key]
	if !ok || ent.state != StateReady {
		e.mu.Unlock()
		return
	}
	if ent.refCount > 0 {
		ent.refCount--
	}
	if ent.refCount > 0 || ent.pinned {
		e.mu.Unlock()
		return
	}
	delete(e.entries, key)
	b := e.backends[key.Kind]
	asset := ent.asset
	e.mu.Unlock()

	if b != nil {
		b.Release(asset)
	}
	e.hooks.EntryReleased(key)
	e.log.Debug("entry released", Fields{"key": key.String()})
}

// Close tears the engine down: new loads fail with ErrClosed, every cached
// asset is released, and entries transition to StateInvalid (still
// queryable via Info, so holders can detect the rug-pull). Entries with
// live references are reported through Hooks.CloseLeak. Backends
// implementing backend.Closer are closed last.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	var live []*entry
	for _, ent := range e.entries {
		if ent.state != StateReady {
			continue
		}
		ent.state = StateInvalid
		live = append(live, ent)
	}
	e.mu.Unlock()

	for _, ent := range live {
		if ent.refCount > 0 {
			e.hooks.CloseLeak(ent.key, ent.refCount)
			e.log.Warn("entry still referenced at close", Fields{
				"key": ent.key.String(), "refs": ent.refCount,
			})
		}
		if b := e.backends[ent.key.Kind]; b != nil {
			b.Release(ent.asset)
		}
	}

	var first error
	for _, b := range e.backends {
		if c, ok := b.(backend.Closer); ok {
			if err := c.Close(ctx); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
