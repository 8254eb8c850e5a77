// Package bundle tracks load ordering and refcounted unload across the
// transitive dependency closure of archive bundles. Loading a bundle first
// brings every transitive dependency to Ready (depth-first for a sync
// caller, parallel fan-out for an async caller) and increments each
// dependency once; unloading mirrors that, decrementing each dependency
// once whether or not the bundle itself was released. One node may be
// pinned: its refcount is tracked like any other but its content is never
// handed back to the backend.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/assetcache"
	"github.com/unkn0wn-root/assetcache/backend"
)

// State is the per-node lifecycle: Unloaded -> Loading -> Ready ->
// (Unloading) -> Unloaded. Pinned nodes never enter Unloading.
type State uint8

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateUnloading
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateUnloading:
		return "unloading"
	default:
		return "unloaded"
	}
}

// Backend is the archive capability set the graph needs: both fetch
// flavors plus manifest-derived dependency lists.
type Backend interface {
	backend.Backend
	backend.SyncFetcher
	backend.DependencyResolver
}

type node struct {
	name      string
	deps      []string // cached one-time manifest lookup
	depsKnown bool

	refCount int
	pinned   bool
	state    State
	loading  chan struct{} // non-nil while a fetch is in flight
	asset    backend.Asset
}

// Graph is the bundle dependency table. All bookkeeping is guarded by one
// mutex, never held across a backend call.
type Graph struct {
	mu    sync.Mutex
	be    Backend
	nodes map[string]*node

	log   assetcache.Logger
	hooks assetcache.Hooks
}

type Config struct {
	// Backend serves bundle content and dependency lists. Required.
	Backend Backend

	// Pinned, when non-empty, names the bundle to eagerly preload at
	// construction and exempt from refcount-driven release.
	Pinned string

	Logger assetcache.Logger
	Hooks  assetcache.Hooks
}

// New builds the graph and preloads the pinned bundle (content only: the
// pinned node starts Ready at refcount zero, so consumer Load/Unload pairs
// stay balanced around it).
func New(ctx context.Context, cfg Config) (*Graph, error) {
	if cfg.Backend == nil {
		return nil, errors.New("bundle: backend is required")
	}
	g := &Graph{
		be:    cfg.Backend,
		nodes: make(map[string]*node),
	}
	if cfg.Logger != nil {
		g.log = cfg.Logger
	} else {
		g.log = assetcache.NopLogger{}
	}
	if cfg.Hooks != nil {
		g.hooks = cfg.Hooks
	} else {
		g.hooks = assetcache.NopHooks{}
	}

	if cfg.Pinned != "" {
		g.mu.Lock()
		g.ensure(cfg.Pinned).pinned = true
		g.mu.Unlock()
		if err := g.loadSync(cfg.Pinned, 0, nil); err != nil {
			return nil, fmt.Errorf("bundle: preload pinned %q: %w", cfg.Pinned, err)
		}
		g.log.Info("pinned bundle preloaded", assetcache.Fields{"bundle": cfg.Pinned})
	}
	return g, nil
}

// Load brings name and its transitive dependencies to Ready and takes one
// reference on each, depth-first. If an async load for name (or any of its
// dependencies) is in flight, the call fails with ConflictError rather
// than blocking on the async result.
func (g *Graph) Load(name string) error {
	return g.loadSync(name, 1, nil)
}

// LoadAsync is the asynchronous flavor: dependencies are loaded in a
// parallel fan-out and joined before the bundle's own content. Concurrent
// async loads for the same name collapse onto one fetch.
func (g *Graph) LoadAsync(ctx context.Context, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return g.loadAsync(ctx, name, 1, nil)
}

// Unload drops one reference from name and, mirroring Load, one from every
// transitive dependency. A node hitting zero that is not pinned has its
// content released and returns to Unloaded. Unloading an unknown or
// not-loaded bundle is a no-op.
func (g *Graph) Unload(name string) {
	g.mu.Lock()
	n, ok := g.nodes[name]
	if !ok || n.state != StateReady {
		g.mu.Unlock()
		return
	}
	deps := append([]string(nil), n.deps...)
	if n.refCount > 0 {
		n.refCount--
	}
	if n.refCount == 0 && !n.pinned {
		n.state = StateUnloading
		ch := make(chan struct{})
		n.loading = ch // async loaders wait on this until the release settles
		asset := n.asset
		n.asset = nil
		g.mu.Unlock()

		g.be.Release(asset)

		g.mu.Lock()
		n.state = StateUnloaded
		n.loading = nil
		close(ch)
		g.mu.Unlock()
		g.log.Debug("bundle unloaded", assetcache.Fields{"bundle": name})
	} else {
		g.mu.Unlock()
	}

	for _, d := range deps {
		g.Unload(d)
	}
}

func (g *Graph) loadSync(name string, inc int, path []string) error {
	deps, err := g.resolveDeps(name, path)
	if err != nil {
		return err
	}

	childPath := append(path, name)
	for i, d := range deps {
		if err := g.loadSync(d, 1, childPath); err != nil {
			g.rollback(deps[:i])
			return err
		}
	}

	g.mu.Lock()
	n := g.ensure(name)
	switch n.state {
	case StateLoading, StateUnloading:
		g.mu.Unlock()
		g.rollback(deps)
		g.hooks.BundleConflict(name)
		g.log.Warn("sync load rejected: bundle busy", assetcache.Fields{"bundle": name})
		return ConflictError{Name: name}
	case StateReady:
		n.refCount += inc
		g.mu.Unlock()
		return nil
	}
	n.state = StateLoading
	ch := make(chan struct{})
	n.loading = ch
	g.mu.Unlock()

	asset, ferr := g.be.FetchSync(name)
	return g.finish(n, ch, asset, ferr, inc, deps)
}

func (g *Graph) loadAsync(ctx context.Context, name string, inc int, path []string) error {
	deps, err := g.resolveDeps(name, path)
	if err != nil {
		return err
	}

	childPath := append(path, name)
	eg, ectx := errgroup.WithContext(ctx)
	for _, d := range deps {
		d := d
		p := append([]string(nil), childPath...) // recursion branches must not share the slice
		eg.Go(func() error {
			return g.loadAsync(ectx, d, 1, p)
		})
	}
	if err := eg.Wait(); err != nil {
		// joined branches that did succeed hold references; drop them
		g.rollback(deps)
		return err
	}

	for {
		g.mu.Lock()
		n := g.ensure(name)
		switch n.state {
		case StateReady:
			n.refCount += inc
			g.mu.Unlock()
			return nil
		case StateLoading, StateUnloading:
			ch := n.loading
			g.mu.Unlock()
			if ch == nil {
				continue
			}
			select {
			case <-ch:
			case <-ctx.Done():
				g.rollback(deps)
				return ctx.Err()
			}
			continue
		}
		n.state = StateLoading
		ch := make(chan struct{})
		n.loading = ch
		g.mu.Unlock()

		asset, ferr := g.be.Fetch(ctx, name)
		return g.finish(n, ch, asset, ferr, inc, deps)
	}
}

// finish settles a fetch begun by loadSync/loadAsync: publishes the asset
// or reverts the node, and wakes anyone waiting on the loading channel.
func (g *Graph) finish(n *node, ch chan struct{}, asset backend.Asset, ferr error, inc int, deps []string) error {
	g.mu.Lock()
	n.loading = nil
	close(ch)
	if ferr != nil {
		n.state = StateUnloaded
		g.mu.Unlock()
		g.rollback(deps)
		if errors.Is(ferr, backend.ErrNotFound) {
			return UnknownBundleError{Name: n.name}
		}
		return LoadError{Name: n.name, Err: ferr}
	}
	n.asset = asset
	n.state = StateReady
	n.refCount += inc
	g.mu.Unlock()
	g.log.Debug("bundle loaded", assetcache.Fields{"bundle": n.name})
	return nil
}

// rollback undoes the acquisition of successfully loaded dependencies
// after a later step failed.
func (g *Graph) rollback(deps []string) {
	for _, d := range deps {
		g.Unload(d)
	}
}

// resolveDeps returns the cached dependency list of name, performing the
// one-time manifest lookup on first use, and guards against manifest
// cycles.
func (g *Graph) resolveDeps(name string, path []string) ([]string, error) {
	for _, seen := range path {
		if seen == name {
			return nil, CycleError{Path: append(append([]string(nil), path...), name)}
		}
	}

	g.mu.Lock()
	if n, ok := g.nodes[name]; ok && n.depsKnown {
		deps := n.deps
		g.mu.Unlock()
		return deps, nil
	}
	g.mu.Unlock()

	deps, err := g.be.Dependencies(name)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, UnknownBundleError{Name: name}
		}
		return nil, LoadError{Name: name, Err: err}
	}

	g.mu.Lock()
	n := g.ensure(name)
	if !n.depsKnown {
		n.deps = append([]string(nil), deps...)
		n.depsKnown = true
	}
	deps = n.deps
	g.mu.Unlock()
	return deps, nil
}

// ensure returns the node for name, creating the Unloaded shell on first
// sight. Callers hold g.mu.
func (g *Graph) ensure(name string) *node {
	n, ok := g.nodes[name]
	if !ok {
		n = &node{name: name}
		g.nodes[name] = n
	}
	return n
}

// NodeInfo is a read-only snapshot of one bundle node.
type NodeInfo struct {
	Name     string
	State    State
	RefCount int
	Pinned   bool
	Deps     []string
}

// Info reports the state of one bundle without affecting it.
func (g *Graph) Info(name string) (NodeInfo, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[name]
	if !ok {
		return NodeInfo{}, false
	}
	return NodeInfo{
		Name:     n.name,
		State:    n.state,
		RefCount: n.refCount,
		Pinned:   n.pinned,
		Deps:     append([]string(nil), n.deps...),
	}, true
}

// Snapshot lists every known node, sorted by name.
func (g *Graph) Snapshot() []NodeInfo {
	g.mu.Lock()
	out := make([]NodeInfo, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, NodeInfo{
			Name:     n.name,
			State:    n.state,
			RefCount: n.refCount,
			Pinned:   n.pinned,
			Deps:     append([]string(nil), n.deps...),
		})
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DOT exports the known graph as Graphviz DOT text.
func (g *Graph) DOT() string {
	snap := g.Snapshot()

	var b strings.Builder
	b.WriteString("digraph bundles {\n")
	b.WriteString("  rankdir=LR;\n")

	aliases := make(map[string]string, len(snap))
	for i, n := range snap {
		alias := fmt.Sprintf("n%d", i)
		aliases[n.Name] = alias
		label := escapeDOT(n.Name) + "\\n" + n.State.String()
		if n.Pinned {
			label += " (pinned)"
		}
		fmt.Fprintf(&b, "  %s [label=\"%s\"];\n", alias, label)
	}
	for _, n := range snap {
		for _, d := range n.Deps {
			to, ok := aliases[d]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "  %s -> %s;\n", aliases[n.Name], to)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

func escapeDOT(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
