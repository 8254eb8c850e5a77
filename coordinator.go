package assetcache

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/assetcache/backend"
)

// inflightFetch exists only while a fetch is outstanding for its key. The
// settling goroutine grants every registered waiter exactly one reference
// increment in the same critical section that publishes the cache entry, so
// no waiter can observe the entry gone between settle and its own wake-up.
type inflightFetch struct {
	done    chan struct{} // closed on settle, win or lose
	waiters int           // callers owed a reference grant (originator included)
	settled bool
	asset   backend.Asset
	err     error
}

// acquire obtains the asset for key with exactly one reference for the
// caller. It is the single entry point above the cache and the backends:
// a ready entry returns immediately, an in-flight fetch is joined, and
// otherwise the in-flight marker is check-then-inserted under the engine
// mutex (one atomic step) before the backend is invoked.
//
// preferSync selects FetchSync when the backend offers it; backends without
// sync support always fetch with ctx.
func (e *Engine) acquire(ctx context.Context, key Key, preferSync bool) (backend.Asset, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if ent, ok := e.entries[key]; ok && ent.state == StateReady {
		e.addRefLocked(ent)
		asset := ent.asset
		e.mu.Unlock()
		return asset, nil
	}
	if fl, ok := e.inflight[key]; ok {
		fl.waiters++
		joined := fl.waiters
		e.mu.Unlock()
		e.hooks.DedupJoin(key, joined)
		return e.await(ctx, key, fl)
	}
	b, ok := e.backends[key.Kind]
	if !ok {
		e.mu.Unlock()
		return nil, NotFoundError{Key: key}
	}
	fl := &inflightFetch{done: make(chan struct{}), waiters: 1}
	e.inflight[key] = fl
	e.mu.Unlock()

	asset, err := e.fetch(ctx, b, key.Path, preferSync)
	return e.settle(key, fl, b, asset, err)
}

func (e *Engine) fetch(ctx context.Context, b backend.Backend, path string, preferSync bool) (backend.Asset, error) {
	if preferSync {
		if sf, ok := b.(backend.SyncFetcher); ok {
			return sf.FetchSync(path)
		}
	}
	return b.Fetch(ctx, path)
}

// await blocks until the joined fetch settles. Abandoning on ctx
// cancellation either deregisters the waiter (fetch not settled yet) or
// compensates the reference the settle already granted.
func (e *Engine) await(ctx context.Context, key Key, fl *inflightFetch) (backend.Asset, error) {
	select {
	case <-fl.done:
		if fl.err != nil {
			return nil, fl.err
		}
		return fl.asset, nil
	case <-ctx.Done():
		e.mu.Lock()
		if !fl.settled {
			fl.waiters--
			e.mu.Unlock()
			return nil, ctx.Err()
		}
		e.mu.Unlock()
		if fl.err == nil {
			e.release(key)
		}
		return nil, ctx.Err()
	}
}

// settle resolves every waiter of fl with the identical result. On success
// the cache entry is inserted with refCount equal to the registered waiter
// count; on failure the cache is left untouched. Either way the in-flight
// marker is removed before done is closed.
func (e *Engine) settle(key Key, fl *inflightFetch, b backend.Backend, asset backend.Asset, err error) (backend.Asset, error) {
	var duplicate backend.Asset

	e.mu.Lock()
	delete(e.inflight, key)
	fl.settled = true
	switch {
	case err != nil:
		if errors.Is(err, backend.ErrNotFound) {
			fl.err = NotFoundError{Key: key}
		} else {
			fl.err = BackendError{Key: key, Err: err}
		}
	case e.closed:
		fl.err = ErrClosed
		duplicate = asset
	default:
		if ent, ok := e.entries[key]; ok {
			// Two successful fetch paths completed together. The existing
			// entry absorbs the waiters' references; the losing asset is
			// disposed of explicitly rather than silently dropped.
			ent.refCount += fl.waiters
			fl.asset = ent.asset
			duplicate = asset
		} else {
			e.entries[key] = &entry{
				key:      key,
				asset:    asset,
				refCount: fl.waiters,
				state:    StateReady,
			}
			fl.asset = asset
		}
	}
	close(fl.done)
	e.mu.Unlock()

	if duplicate != nil {
		b.Release(duplicate)
		if fl.err == nil {
			e.hooks.DuplicateAsset(key)
			e.log.Warn("duplicate fetch result released", Fields{"key": key.String()})
		}
	}
	if fl.err != nil {
		return nil, fl.err
	}
	return fl.asset, nil
}
