package assetcache

import (
	"fmt"
	"sync"

	"github.com/unkn0wn-root/assetcache/backend"
)

const defaultPreloadBatch = 5

// Options tune the engine. Only Backends is required; others have sensible
// defaults.
type Options struct {
	// Backends supplies one backend per Kind. At least one is required;
	// a duplicated kind is a construction error.
	Backends []backend.Backend

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	// PreloadBatch is the number of keys fetched per preload batch before
	// progress is reported. 0 => 5.
	PreloadBatch int
}

// Engine is the process-scoped loading context: the entry cache, the
// in-flight request table and the handle pool. Construct one per isolated
// domain (multiple independent instances are fine, e.g. for tests).
//
// All bookkeeping is guarded by one mutex; the mutex is never held across a
// backend fetch, so the check-then-insert of the in-flight marker is the
// single atomic step that preserves the dedup guarantee.
type Engine struct {
	mu       sync.Mutex
	backends map[Kind]backend.Backend
	entries  map[Key]*entry
	inflight map[Key]*inflightFetch

	free     []*Handle // LIFO pool of recycled handles
	nextSlot int

	log          Logger
	hooks        Hooks
	preloadBatch int
	closed       bool
}

// New validates opts and constructs an Engine.
func New(opts Options) (*Engine, error) {
	if len(opts.Backends) == 0 {
		return nil, fmt.Errorf("assetcache: at least one backend is required")
	}

	e := &Engine{
		backends: make(map[Kind]backend.Backend, len(opts.Backends)),
		entries:  make(map[Key]*entry),
		inflight: make(map[Key]*inflightFetch),
	}
	for _, b := range opts.Backends {
		if b == nil {
			return nil, fmt.Errorf("assetcache: nil backend")
		}
		if _, dup := e.backends[b.Kind()]; dup {
			return nil, fmt.Errorf("assetcache: duplicate backend kind %q", b.Kind())
		}
		e.backends[b.Kind()] = b
	}

	e.log = coalesce[Logger](opts.Logger, NopLogger{})
	e.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	e.preloadBatch = coalesce[int](opts.PreloadBatch, defaultPreloadBatch)
	return e, nil
}
