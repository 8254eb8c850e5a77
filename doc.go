// Package assetcache implements a shared, refcounted loading engine for
// opaque binary resources served by pluggable backends. Concurrent requests
// for the same resource collapse into a single backend fetch; every settled
// request receives exactly one reference, and a resource is released back to
// its backend when the last reference is dropped.
//
// Components:
//   - Engine: process-scoped cache plus in-flight table; sole owner of
//     reference-count transitions.
//   - Handle: a pooled, generational consumer session. Bulk release bumps the
//     handle generation, which invalidates (and compensates) any async load
//     still in flight under the old generation.
//   - backend.Backend: per storage kind (file, archive, remote) fetch/release
//     capability, supplied at construction.
//   - bundle.Graph: transitive load/unload refcounting across archive
//     bundles, including a pinned never-released node.
//
// Load pattern:
//
//	eng, _ := assetcache.New(assetcache.Options{Backends: []backend.Backend{fb}})
//	h := eng.Allocate()
//	defer h.Recycle()
//	asset, err := h.Load(ctx, assetcache.K(backend.KindFile, "hero.model"))
//
// A missing or failed resource is a typed failure value, never a panic; a
// second Unload of the same key is a no-op so cleanup paths stay idempotent.
package assetcache
