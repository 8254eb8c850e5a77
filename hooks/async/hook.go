// Package asynchook decouples hook sinks from the engine's hot paths: raw
// hook calls are queued onto a bounded channel and replayed by worker
// goroutines, dropping events when the queue is full rather than blocking
// a load.
//
//	raw := myMetricsHooks{}
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	eng, _ := assetcache.New(assetcache.Options{
//	    Backends: backends,
//	    Hooks:    hooks, // or `raw` if the sink is already cheap
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/assetcache"
)

type Hooks struct {
	inner assetcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ assetcache.Hooks = (*Hooks)(nil)

func New(inner assetcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Safe to call twice.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) DedupJoin(key assetcache.Key, waiters int) {
	h.try(func() { h.inner.DedupJoin(key, waiters) })
}

func (h *Hooks) StaleResult(key assetcache.Key, slot int, generation uint64) {
	h.try(func() { h.inner.StaleResult(key, slot, generation) })
}

func (h *Hooks) DuplicateAsset(key assetcache.Key) {
	h.try(func() { h.inner.DuplicateAsset(key) })
}

func (h *Hooks) EntryReleased(key assetcache.Key) {
	h.try(func() { h.inner.EntryReleased(key) })
}

func (h *Hooks) BundleConflict(name string) {
	h.try(func() { h.inner.BundleConflict(name) })
}

func (h *Hooks) CloseLeak(key assetcache.Key, refs int) {
	h.try(func() { h.inner.CloseLeak(key, refs) })
}
